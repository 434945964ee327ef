package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
	httpctx "loginsight/internal/http/ctx"
	"loginsight/internal/ingest"
)

// Recorder persists accepted events.
type Recorder interface {
	Record(ctx context.Context, r ingest.Record) (string, error)
}

type ingestRequest struct {
	Message   string         `json:"message"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type ingestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// IngestHandler accepts one event for the project of the authenticated key.
func IngestHandler(rec Recorder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := httpctx.IdentityFromCtx(ctx)
		if !ok {
			httpctx.Error(ctx, apperr.Unauthorized(apperr.ReasonMissingCredentials, "unauthorized"))
			return
		}

		var payload ingestRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			httpctx.Error(ctx, apperr.Validation("invalid JSON body"))
			return
		}

		var ts time.Time
		if payload.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
			if err != nil {
				httpctx.Error(ctx, apperr.Validation("timestamp must be an ISO-8601 date-time"))
				return
			}
			ts = parsed
		}

		eventID, err := rec.Record(ctx, ingest.Record{
			ProjectID: id.ProjectID,
			KeyID:     id.KeyID,
			KeyType:   id.KeyType,
			Message:   payload.Message,
			UserID:    payload.UserID,
			Meta:      payload.Meta,
			Timestamp: ts,
			RemoteIP:  ctx.RemoteIP().String(),
			UserAgent: string(ctx.UserAgent()),
		})
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}

		httpctx.JSON(ctx, fasthttp.StatusOK, ingestResponse{Status: "logged", ID: eventID})
	}
}
