package middleware

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

const (
	ExtraRealIP   = "real_ip"
	ExtraTraceID  = "trace_id"
	ExtraClientID = "client_id"
)

var metadataHeaders = map[string]string{
	"X-Trace-ID":  ExtraTraceID,
	"X-Client-ID": ExtraClientID,
}

// MetadataMiddleware assigns every request an id and copies tracing headers
// into the context extras.
type MetadataMiddleware struct {
	logger         types.Logger
	metadataConfig *MetadataConfig
	name           string
	weight         int
}

type MetadataConfig struct {
	Header            string `json:"header"`
	GenerateRequestID bool   `json:"generate_request_id"`
}

func NewMetadataMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*MetadataMiddleware, error) {
	var metadataConfig = &MetadataConfig{
		Header:            utils.HeaderRequestID,
		GenerateRequestID: true,
	}

	if err := decodeParams(item, metadataConfig); err != nil {
		logger.Error("Failed to unmarshal Metadata middleware config", zap.Error(err))
		return nil, err
	}

	return &MetadataMiddleware{
		name:           "request-id",
		weight:         0,
		logger:         logger,
		metadataConfig: metadataConfig,
	}, nil
}

func (m *MetadataMiddleware) Name() string { return m.name }
func (m *MetadataMiddleware) Weight() int  { return m.weight }

func (m *MetadataMiddleware) Handle(req *server.Request, res *server.Response) error {
	requestID := req.Header(m.metadataConfig.Header)
	if requestID == "" && m.metadataConfig.GenerateRequestID {
		requestID = uuid.NewString()
		req.Ctx().Request.Header.Set(m.metadataConfig.Header, requestID)
	}

	if requestID != "" {
		req.SetExtras(server.ExtraRequestID, requestID)
		res.SetHeader(m.metadataConfig.Header, requestID)
	}

	for header, extra := range metadataHeaders {
		if value := req.Header(header); value != "" {
			req.SetExtras(extra, value)
		}
	}

	req.SetExtras(ExtraRealIP, remoteAddr(req))

	m.logger.Debug("Metadata processed",
		zap.String("request_id", requestID),
		zap.String("path", req.Path()))

	return nil
}
