package middleware

import (
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

type BodyLimitMiddleware struct {
	logger          types.Logger
	bodyLimitConfig *BodyLimitConfig
	name            string
	weight          int
	message         string
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

func NewBodyLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) (*BodyLimitMiddleware, error) {
	var bodyLimitConfig = &BodyLimitConfig{
		MaxBodySize: 1024 * 1024,
	}

	if err := decodeParams(item, bodyLimitConfig); err != nil {
		logger.Error("Failed to unmarshal BodyLimit middleware config", zap.Error(err))
		return nil, err
	}

	return &BodyLimitMiddleware{
		name:            "body-limit",
		weight:          40,
		logger:          logger,
		bodyLimitConfig: bodyLimitConfig,
		message:         fmt.Sprintf("Request body exceeds maximum size of %d bytes", bodyLimitConfig.MaxBodySize),
	}, nil
}

func (bl *BodyLimitMiddleware) Name() string { return bl.name }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(req *server.Request, res *server.Response) error {
	ctx := req.Ctx()

	if !utils.MethodHasBody(ctx.Method()) && string(ctx.Method()) != fasthttp.MethodDelete {
		return nil
	}

	size := int64(ctx.Request.Header.ContentLength())
	if size <= 0 {
		size = int64(len(ctx.PostBody()))
	}

	if size > bl.bodyLimitConfig.MaxBodySize {
		bl.logger.Warn("Request body too large",
			zap.String("path", req.Path()),
			zap.Int64("size", size),
			zap.Int64("max_size", bl.bodyLimitConfig.MaxBodySize))

		ctx.SetConnectionClose()
		return types.NewStatusError(fasthttp.StatusRequestEntityTooLarge, bl.message)
	}

	return nil
}
