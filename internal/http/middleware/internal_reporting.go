package middleware

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"loginsight/internal/config"
)

// skipReporting lists paths whose traffic is not reported, either because
// reporting them would loop or because they are scraped constantly.
var skipReporting = map[string]bool{
	"/v1/events":  true,
	"/v1/metrics": true,
	"/metrics":    true,
	"/healthz":    true,
}

type internalEvent struct {
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta"`
}

// InternalReporting ingests a log line for each request this instance
// serves into its own bootstrap project. If APP_INTERNAL_API_KEY is not
// set, this middleware does nothing.
func InternalReporting(cfg *config.Config, ingestURL string, log *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if cfg.InternalAPIKey == "" {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return next
		}
	}

	client := &fasthttp.Client{Name: "loginsight-internal"}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			duration := time.Since(start)

			path := string(ctx.Path())
			if skipReporting[path] {
				return
			}

			status := ctx.Response.StatusCode()
			method := string(ctx.Method())
			ev := internalEvent{
				Message:   fmt.Sprintf("%s %s -> %d", method, path, status),
				Timestamp: start.UTC(),
				Meta: map[string]any{
					"env":         "internal",
					"route":       RouteLabel(ctx),
					"status":      status,
					"duration_ms": duration.Milliseconds(),
					"remote_ip":   ctx.RemoteIP().String(),
				},
			}

			go func() {
				body, err := json.Marshal(ev)
				if err != nil {
					return
				}
				req := fasthttp.AcquireRequest()
				defer fasthttp.ReleaseRequest(req)
				resp := fasthttp.AcquireResponse()
				defer fasthttp.ReleaseResponse(resp)

				req.SetRequestURI(ingestURL)
				req.Header.SetMethod(fasthttp.MethodPost)
				req.Header.SetContentType("application/json")
				req.Header.Set("Authorization", "Bearer "+cfg.InternalAPIKey)
				req.SetBody(body)

				if err := client.DoTimeout(req, resp, 2*time.Second); err != nil {
					log.Debug("internal report failed", zap.Error(err))
				}
			}()
		}
	}
}
