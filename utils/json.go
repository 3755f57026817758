package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

type JSONBufferPool struct {
	pool sync.Pool
}

func (p *JSONBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *JSONBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &JSONBufferPool{}

func MarshalToBuffer(data interface{}, buf *bytes.Buffer) error {
	buf.Reset()
	encoder := sonic.ConfigStd.NewEncoder(buf)
	return encoder.Encode(data)
}

// Marshal encodes data without the trailing newline the stream encoder adds.
func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	if err := MarshalToBuffer(data, buf); err != nil {
		return nil, err
	}

	result := make([]byte, len(bytes.TrimRight(buf.Bytes(), "\n")))
	copy(result, buf.Bytes())
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigStd.Unmarshal(data, target)
}

// Decode parses arbitrary JSON into maps, slices and scalars.
func Decode(data []byte) (interface{}, error) {
	var value interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigStd.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigStd.Unmarshal(configBytes, target)
}
