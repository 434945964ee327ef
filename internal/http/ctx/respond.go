package ctx

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
)

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

// JSON writes v with the given status code.
func JSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("failed to encode response")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// Error renders err as {"error":{"kind","reason","message"}}. Errors outside
// the taxonomy are reported as a generic infrastructure failure so their
// details stay in the log.
func Error(ctx *fasthttp.RequestCtx, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = &apperr.Error{Kind: apperr.KindInfrastructure, Message: "internal error"}
	}
	JSON(ctx, apperr.HTTPStatus(err), errorBody{Error: e})
}
