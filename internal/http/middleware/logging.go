package middleware

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"loginsight/internal/metrics"
)

// RouteLabel returns the matched route pattern, which keeps metric label
// cardinality bounded. The router must have SaveMatchedRoutePath enabled.
func RouteLabel(ctx *fasthttp.RequestCtx) string {
	if route, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok && route != "" {
		return route
	}
	return "unmatched"
}

// RequestLogger logs method, path, status and duration for every request
// and records the duration histogram.
func RequestLogger(log *zap.Logger, m *metrics.Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			elapsed := time.Since(start)

			m.RequestDuration.WithLabelValues(RouteLabel(ctx), string(ctx.Method())).Observe(elapsed.Seconds())
			log.Info("request",
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", elapsed),
				zap.String("ip", ctx.RemoteIP().String()))
		}
	}
}
