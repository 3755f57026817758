package middleware

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

const maxLoggedBody = 1000

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

type LoggingMiddleware struct {
	logger        types.Logger
	loggingConfig *LoggingConfig
	name          string
	weight        int
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
	LogBody    bool   `json:"log_body"`
}

func NewLoggingMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*LoggingMiddleware, error) {
	var loggingConfig = &LoggingConfig{
		LogLevel: "info",
	}

	if err := decodeParams(item, loggingConfig); err != nil {
		logger.Error("Failed to unmarshal Logging middleware config", zap.Error(err))
		return nil, err
	}

	return &LoggingMiddleware{
		name:          "logging",
		weight:        10,
		logger:        logger,
		loggingConfig: loggingConfig,
	}, nil
}

func (l *LoggingMiddleware) Name() string { return l.name }
func (l *LoggingMiddleware) Weight() int  { return l.weight }

// Handle logs the request and registers a hook that logs the outcome once
// the response ends.
func (l *LoggingMiddleware) Handle(req *server.Request, res *server.Response) error {
	start := time.Now()

	l.logRequest(req)

	res.OnEnd(func(res *server.Response) {
		l.logResponse(req, res, time.Since(start))
	})

	return nil
}

func (l *LoggingMiddleware) logRequest(req *server.Request) {
	fields := []zap.Field{
		zap.String("method", req.Method()),
		zap.String("path", req.Path()),
		zap.String("remote_addr", remoteAddr(req)),
		zap.String("user_agent", string(req.Ctx().UserAgent())),
	}

	if search := req.Search(); search != "" {
		fields = append(fields, zap.String("query", strings.TrimPrefix(search, "?")))
	}

	if requestID, ok := server.Extra[string](req.Context(), server.ExtraRequestID); ok {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(req)))
	}

	l.logWithLevel("Request started", fields...)
}

func (l *LoggingMiddleware) logResponse(req *server.Request, res *server.Response, duration time.Duration) {
	status := res.StatusCode()

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("method", req.Method()),
		zap.String("path", req.Path()),
		zap.Int("status", status),
	}

	if route := req.Route(); route != nil {
		fields = append(fields, zap.String("route", route.Pattern))
	}

	if requestID, ok := server.Extra[string](req.Context(), server.ExtraRequestID); ok {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if body := res.Ctx().Response.Body(); l.loggingConfig.LogBody && len(body) > 0 {
		if len(body) > maxLoggedBody {
			fields = append(fields,
				zap.String("response", string(body[:maxLoggedBody])+"..."),
				zap.Int("response_body_truncated", len(body)))
		} else {
			fields = append(fields, zap.String("response", string(body)))
		}
	}

	switch {
	case status >= 500:
		l.logger.Error("Request completed", fields...)
	case status >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logWithLevel("Request completed", fields...)
	}
}

func sanitizeHeaders(req *server.Request) map[string]interface{} {
	headers := make(map[string]interface{})
	for key, value := range req.Headers() {
		if sensitiveHeaders[key] {
			headers[key] = "[REDACTED]"
		} else {
			headers[key] = value
		}
	}
	return headers
}

func remoteAddr(req *server.Request) string {
	if forwarded := req.Header("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := req.Header("X-Real-IP"); realIP != "" {
		return realIP
	}

	return req.Ctx().RemoteIP().String()
}

func (l *LoggingMiddleware) logWithLevel(msg string, fields ...zap.Field) {
	switch l.loggingConfig.LogLevel {
	case "debug":
		l.logger.Debug(msg, fields...)
	case "warn":
		l.logger.Warn(msg, fields...)
	case "error":
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
