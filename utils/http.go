package utils

import "github.com/valyala/fasthttp"

const (
	ContentTypeJSON = "application/json"
	HeaderRequestID = "X-Request-ID"
)

// PrepareJSONResponse sets the headers every envelope carries.
func PrepareJSONResponse(ctx *fasthttp.RequestCtx, statusCode int) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(ContentTypeJSON)

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if requestID := ctx.Request.Header.Peek(HeaderRequestID); len(requestID) > 0 {
		ctx.Response.Header.SetBytesV(HeaderRequestID, requestID)
	}
}

// MethodHasBody reports whether requests of this method conventionally carry
// a payload worth reading.
func MethodHasBody(method []byte) bool {
	switch string(method) {
	case fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodPatch:
		return true
	default:
		return false
	}
}
