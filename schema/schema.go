package schema

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

const (
	KeyHeaders = "headers"
	KeyParams  = "params"
	KeyData    = "data"

	schemaURL = "request.json"

	defaultInvalidMessage = "Invalid Request data detected."
)

var printer = message.NewPrinter(language.English)

// Schema is a compiled request shape. It is immutable and safe for
// concurrent use.
type Schema struct {
	headers  map[string]*Field
	params   map[string]*Field
	data     *Field
	compiled *jsonschema.Schema
}

// Compile builds the request schema once. A nil opts yields a permissive
// schema that accepts any headers, params and body.
func Compile(opts *Options) (*Schema, error) {
	if opts == nil {
		opts = &Options{}
	}

	s := &Schema{
		headers: lowerFields(opts.Headers),
		params:  opts.Params,
		data:    opts.Data,
	}

	headerProps, headerRequired := propertiesDocument(s.headers, true)
	paramProps, paramRequired := propertiesDocument(s.params, false)

	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			KeyHeaders: map[string]interface{}{
				"type":       "object",
				"properties": headerProps,
				"required":   headerRequired,
			},
			KeyParams: map[string]interface{}{
				"type":       "object",
				"properties": paramProps,
				"required":   paramRequired,
			},
			KeyData: s.data.document(),
		},
		"required": []interface{}{KeyHeaders, KeyParams, KeyData},
	}

	compiled, err := compileDocument(doc)
	if err != nil {
		return nil, types.WrapError(types.Errorf(types.ErrSchemaInvalid, "%v", err), "compile request schema")
	}

	s.compiled = compiled
	return s, nil
}

func MustCompile(opts *Options) *Schema {
	s, err := Compile(opts)
	if err != nil {
		panic(err)
	}
	return s
}

func compileDocument(doc map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := utils.Marshal(doc)
	if err != nil {
		return nil, err
	}

	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	if err = compiler.AddResource(schemaURL, parsed); err != nil {
		return nil, err
	}

	return compiler.Compile(schemaURL)
}

// Validate checks the {headers, params, data} triple and reports the first
// violation as a validation error naming the dot path of the offending field.
func (s *Schema) Validate(data map[string]interface{}) error {
	err := s.compiled.Validate(normalize(data))
	if err == nil {
		return nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return types.NewValidationError(err.Error())
	}

	return types.NewValidationError(describe(verr))
}

// Sanitize returns a copy of data holding only declared fields. Call it only
// after Validate succeeded.
func (s *Schema) Sanitize(data map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		KeyHeaders: map[string]interface{}{},
		KeyParams:  map[string]interface{}{},
		KeyData:    nil,
	}

	if headers, ok := data[KeyHeaders].(map[string]interface{}); ok {
		out[KeyHeaders] = cleanObject(s.headers, headers)
	}
	if params, ok := data[KeyParams].(map[string]interface{}); ok {
		out[KeyParams] = cleanObject(s.params, params)
	}
	if body, ok := data[KeyData]; ok {
		out[KeyData] = s.data.clean(body)
	}

	return out
}

// normalize turns typed maps coming from the transport into the generic
// shapes the validator understands.
func normalize(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case map[string]string:
			m := make(map[string]interface{}, len(v))
			for k, s := range v {
				m[k] = s
			}
			out[key] = m
		default:
			out[key] = v
		}
	}
	return out
}

type violation struct {
	path   string
	detail string
}

func describe(verr *jsonschema.ValidationError) string {
	var leaves []violation
	collect(verr, &leaves)

	if len(leaves) == 0 {
		return defaultInvalidMessage
	}

	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].path < leaves[j].path
	})

	first := leaves[0]
	if first.path == "" {
		return first.detail
	}
	return fmt.Sprintf("%s: %s", first.path, first.detail)
}

func collect(verr *jsonschema.ValidationError, leaves *[]violation) {
	if verr == nil {
		return
	}

	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			collect(cause, leaves)
		}
		return
	}

	location := append([]string{}, verr.InstanceLocation...)

	var detail string
	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			location = append(location, k.Missing[0])
		}
		detail = "expected property, got undefined"
	case *kind.Type:
		detail = fmt.Sprintf("expected %s, got %s", strings.Join(k.Want, " or "), k.Got)
	default:
		detail = verr.ErrorKind.LocalizedString(printer)
	}

	*leaves = append(*leaves, violation{
		path:   strings.Join(location, "."),
		detail: detail,
	})
}
