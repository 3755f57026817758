package server

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

const DefaultSuccessStatus = "Request successful."

// Renderer formats terminal responses. Both methods must end the response.
type Renderer interface {
	RenderSuccess(res *Response, data interface{}) error
	RenderError(res *Response, err error) error
}

type Envelope struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Status  string      `json:"status"`
	Data    interface{} `json:"data"`
}

// JSONRenderer emits the {success, code, status, data} envelope.
type JSONRenderer struct{}

func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

func (JSONRenderer) RenderSuccess(res *Response, data interface{}) error {
	code := res.StatusCode()
	if extra, ok := res.UseExtras(ExtraCode); ok {
		if c := toStatusCode(extra); c > 0 {
			code = c
		}
	}
	if code <= 0 {
		code = fasthttp.StatusOK
	}

	status := DefaultSuccessStatus
	if extra, ok := Extra[string](res.Context(), ExtraStatus); ok && extra != "" {
		status = extra
	}

	return writeEnvelope(res, Envelope{
		Success: true,
		Code:    code,
		Status:  status,
		Data:    data,
	})
}

func (JSONRenderer) RenderError(res *Response, err error) error {
	terr := types.AsError(err)
	if terr == nil {
		terr = types.NewInternalError(nil)
	}

	return writeEnvelope(res, Envelope{
		Success: false,
		Code:    terr.StatusCode,
		Status:  terr.Message,
		Data:    nil,
	})
}

func writeEnvelope(res *Response, envelope Envelope) error {
	if res.Ended() {
		return types.ErrResponseEnded
	}

	body, err := utils.Marshal(envelope)
	if err != nil {
		return types.WrapError(err, "failed to marshal envelope")
	}

	utils.PrepareJSONResponse(res.Ctx(), envelope.Code)
	return res.End(body)
}

func toStatusCode(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
