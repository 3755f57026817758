package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-turbo/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads a YAML file over Defaults and validates the result. The
// raw document is returned too, so sections the typed config does not know
// stay reachable by path.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigInvalidPath, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.Parse(data)
}

// Parse decodes a YAML document over Defaults.
func (l *Loader) Parse(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "turbo",
		Version: "0.1.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "127.0.0.1",
				Port:            4000,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 10,
			},
		},
		Logger: &types.LoggerConfig{
			Type:  "default",
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled:       true,
			Type:          "memory",
			DefaultTTL:    time.Hour,
			SweepInterval: 5 * time.Second,
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Path:      "/metrics",
			Namespace: "turbo",
		},
		Routes: &types.RoutesConfig{
			Dir: "routes",
		},
		Middlewares: &types.MiddlewaresConfig{
			RequestID: &types.MiddlewareItemConfig{
				Enabled: true,
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"log_level": "info",
				},
			},
		},
	}
}
