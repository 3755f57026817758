package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-turbo/types"
)

func request(headers, params map[string]interface{}, data interface{}) map[string]interface{} {
	if headers == nil {
		headers = map[string]interface{}{}
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return map[string]interface{}{
		KeyHeaders: headers,
		KeyParams:  params,
		KeyData:    data,
	}
}

func TestCompile_Permissive(t *testing.T) {
	t.Parallel()

	s, err := Compile(nil)
	require.NoError(t, err)

	for _, body := range []interface{}{nil, "raw text", map[string]interface{}{"a": 1.0}, []interface{}{1.0, 2.0}} {
		assert.NoError(t, s.Validate(request(map[string]interface{}{"x-any": "1"}, nil, body)))
	}

	body := map[string]interface{}{"keep": "me"}
	out := s.Sanitize(request(nil, nil, body))
	assert.Equal(t, body, out[KeyData])
}

func TestCompile_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := Compile(&Options{Data: &Field{Type: TypeString, Pattern: "("}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSchemaInvalid))
}

func TestSchema_Validate(t *testing.T) {
	t.Parallel()

	s := MustCompile(&Options{
		Headers: map[string]*Field{"Authorization": String()},
		Params:  map[string]*Field{"id": String()},
		Data: Object(map[string]*Field{
			"name": String(),
			"age":  Integer().AsOptional(),
			"tags": Array(String()).AsOptional(),
		}),
	})

	valid := func() (map[string]interface{}, map[string]interface{}) {
		return map[string]interface{}{"authorization": "token"}, map[string]interface{}{"id": "42"}
	}

	tests := []struct {
		name    string
		headers map[string]interface{}
		params  map[string]interface{}
		data    interface{}
		message string
	}{
		{
			name: "ok/minimal",
			data: map[string]interface{}{"name": "a"},
		},
		{
			name: "ok/with optional",
			data: map[string]interface{}{"name": "a", "age": 3.0, "tags": []interface{}{"x"}},
		},
		{
			name: "ok/extra fields accepted",
			data: map[string]interface{}{"name": "a", "extra": 1.0},
		},
		{
			name:    "err/missing name",
			data:    map[string]interface{}{},
			message: "data.name: expected property, got undefined",
		},
		{
			name:    "err/wrong name type",
			data:    map[string]interface{}{"name": true},
			message: "data.name: expected string, got boolean",
		},
		{
			name:    "err/body not object",
			data:    "text",
			message: "data: expected object, got string",
		},
		{
			name:    "err/wrong tag type",
			data:    map[string]interface{}{"name": "a", "tags": []interface{}{"x", true}},
			message: "data.tags.1: expected string, got boolean",
		},
		{
			name:    "err/missing header",
			headers: map[string]interface{}{},
			data:    map[string]interface{}{"name": "a"},
			message: "headers.authorization: expected property, got undefined",
		},
		{
			name:    "err/missing param",
			params:  map[string]interface{}{},
			data:    map[string]interface{}{"name": "a"},
			message: "params.id: expected property, got undefined",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			headers, params := valid()
			if tt.headers != nil {
				headers = tt.headers
			}
			if tt.params != nil {
				params = tt.params
			}

			err := s.Validate(request(headers, params, tt.data))
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindValidation))
			assert.Equal(t, 400, types.AsError(err).StatusCode)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestSchema_ValidateStringParams(t *testing.T) {
	t.Parallel()

	s := MustCompile(&Options{Params: map[string]*Field{"id": String()}})

	data := map[string]interface{}{
		KeyHeaders: map[string]interface{}{},
		KeyParams:  map[string]string{"id": "7"},
		KeyData:    nil,
	}
	assert.NoError(t, s.Validate(data))
}

func TestSchema_Strict(t *testing.T) {
	t.Parallel()

	data := Object(map[string]*Field{"name": String()})
	data.Strict = true
	s := MustCompile(&Options{Data: data})

	err := s.Validate(request(nil, nil, map[string]interface{}{"name": "a", "extra": 1.0}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data")
}

func TestSchema_Sanitize(t *testing.T) {
	t.Parallel()

	s := MustCompile(&Options{
		Headers: map[string]*Field{"X-Token": String()},
		Params:  map[string]*Field{"id": String()},
		Data: Object(map[string]*Field{
			"name": String(),
			"address": Object(map[string]*Field{
				"city": String(),
			}).AsOptional(),
			"items": Array(Object(map[string]*Field{
				"sku": String(),
			})).AsOptional(),
			"meta": Any().AsOptional(),
		}),
	})

	in := request(
		map[string]interface{}{"x-token": "t", "user-agent": "curl"},
		map[string]interface{}{"id": "1", "other": "2"},
		map[string]interface{}{
			"name":    "a",
			"extra":   1.0,
			"address": map[string]interface{}{"city": "Kyiv", "zip": "01001"},
			"items":   []interface{}{map[string]interface{}{"sku": "s1", "qty": 2.0}},
			"meta":    map[string]interface{}{"free": "form"},
		},
	)
	require.NoError(t, s.Validate(in))

	out := s.Sanitize(in)
	assert.Equal(t, map[string]interface{}{"x-token": "t"}, out[KeyHeaders])
	assert.Equal(t, map[string]interface{}{"id": "1"}, out[KeyParams])
	assert.Equal(t, map[string]interface{}{
		"name":    "a",
		"address": map[string]interface{}{"city": "Kyiv"},
		"items":   []interface{}{map[string]interface{}{"sku": "s1"}},
		"meta":    map[string]interface{}{"free": "form"},
	}, out[KeyData])

	assert.Contains(t, in[KeyData], "extra", "input must not be mutated")
}

func TestSchema_SanitizeDropsUnknownBodyField(t *testing.T) {
	t.Parallel()

	s := MustCompile(&Options{Data: Object(map[string]*Field{"name": String()})})

	in := request(nil, nil, map[string]interface{}{"name": "a", "extra": 1.0})
	require.NoError(t, s.Validate(in))
	assert.Equal(t, map[string]interface{}{"name": "a"}, s.Sanitize(in)[KeyData])
}
