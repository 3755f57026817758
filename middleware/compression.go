package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmDeflate    = "deflate"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 6
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

// CompressionMiddleware compresses the rendered body when the client accepts
// the configured algorithm. It runs as an end hook, after the renderer.
type CompressionMiddleware struct {
	logger            types.Logger
	compressionConfig *CompressionConfig
	name              string
	weight            int
	bufferPool        sync.Pool
	newWriter         func(w io.Writer) (io.WriteCloser, error)
}

type CompressionConfig struct {
	Algorithm    string   `json:"algorithm"`
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*CompressionMiddleware, error) {
	compressionConfig := &CompressionConfig{
		Algorithm: AlgorithmBrotli,
		Level:     DefaultLevel,
		Threshold: DefaultThreshold,
		AllowedTypes: []string{
			"application/json",
			"application/xml",
			"application/javascript",
			"text/*",
		},
	}

	if err := decodeParams(item, compressionConfig); err != nil {
		logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
		return nil, err
	}

	if err := validateCompressionConfig(compressionConfig); err != nil {
		return nil, err
	}

	cm := &CompressionMiddleware{
		name:              "compression",
		weight:            70,
		logger:            logger,
		compressionConfig: compressionConfig,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}

	level := compressionConfig.Level

	switch compressionConfig.Algorithm {
	case AlgorithmGzip:
		cm.newWriter = func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, level)
		}
	case AlgorithmDeflate:
		cm.newWriter = func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		}
	case AlgorithmBrotli:
		cm.newWriter = func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, level), nil
		}
	}

	return cm, nil
}

func validateCompressionConfig(config *CompressionConfig) error {
	if config.Level < -1 || config.Level > 9 {
		return types.NewErrorf("invalid compression level: %d (must be between -1 and 9)", config.Level)
	}

	if config.Threshold < 0 {
		return types.NewErrorf("invalid threshold: %d (must be >= 0)", config.Threshold)
	}

	switch config.Algorithm {
	case AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli:
		return nil
	default:
		return types.NewErrorf("unsupported algorithm: %s", config.Algorithm)
	}
}

func (c *CompressionMiddleware) Name() string { return c.name }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(req *server.Request, res *server.Response) error {
	if !strings.Contains(req.Header("Accept-Encoding"), c.compressionConfig.Algorithm) {
		return nil
	}

	res.OnEnd(c.compressResponse)
	return nil
}

func (c *CompressionMiddleware) compressResponse(res *server.Response) {
	resp := &res.Ctx().Response

	if len(resp.Header.Peek("Content-Encoding")) > 0 {
		return
	}

	if !c.shouldCompress(utils.BytesToString(resp.Header.ContentType())) {
		return
	}

	body := resp.Body()
	if len(body) == 0 || len(body) < c.compressionConfig.Threshold {
		return
	}

	compressed, err := c.compress(body)
	if err != nil {
		c.logger.Warn("Compression failed", zap.Error(err), zap.Int("size", len(body)))
		return
	}

	if 1.0-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return
	}

	resp.Header.Set("Content-Encoding", c.compressionConfig.Algorithm)
	resp.Header.Add("Vary", "Accept-Encoding")
	resp.SetBody(compressed)
}

func (c *CompressionMiddleware) compress(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	writer, err := c.newWriter(buf)
	if err != nil {
		return nil, err
	}

	if _, err = writer.Write(data); err != nil {
		return nil, err
	}

	if err = writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (c *CompressionMiddleware) shouldCompress(contentType string) bool {
	if contentType == "" {
		return false
	}

	if mime, _, found := strings.Cut(contentType, ";"); found {
		contentType = mime
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
