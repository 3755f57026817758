package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-turbo/types"
)

// Parser answers dot-path lookups like "server.http.port" on the raw
// document.
type Parser struct {
	data map[string]interface{}
}

func NewParser(data map[string]interface{}) *Parser {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Parser{data: data}
}

// NewParserFromConfig builds the lookup document from a typed config.
func NewParserFromConfig(config *types.ServiceConfig) *Parser {
	data := make(map[string]interface{})

	configBytes, err := yaml.Marshal(config)
	if err != nil {
		return NewParser(data)
	}

	if err = yaml.Unmarshal(configBytes, &data); err != nil {
		return NewParser(make(map[string]interface{}))
	}

	return NewParser(data)
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	value := p.navigateToPath(path)
	if value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value := p.navigateToPath(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}

// GetAllPaths lists every leaf path, sorted.
func (p *Parser) GetAllPaths() []string {
	var paths []string
	collectPaths("", p.data, &paths)
	sort.Strings(paths)
	return paths
}

func collectPaths(prefix string, value interface{}, paths *[]string) {
	m, ok := value.(map[string]interface{})
	if !ok || len(m) == 0 {
		if prefix != "" {
			*paths = append(*paths, prefix)
		}
		return
	}

	for key, child := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		collectPaths(path, child, paths)
	}
}

func (p *Parser) navigateToPath(path string) interface{} {
	if path == "" {
		return p.data
	}

	var current interface{} = p.data

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}

		val, exists := m[part]
		if !exists || val == nil {
			return nil
		}
		current = val
	}

	return current
}
