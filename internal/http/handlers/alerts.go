package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
	dbpkg "loginsight/internal/db"
	httpctx "loginsight/internal/http/ctx"
)

// AlertLister reads a project's alerts.
type AlertLister interface {
	ListAlerts(ctx context.Context, projectID, status string, limit int) ([]dbpkg.Alert, error)
}

type alertView struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	EventCount  int64      `json:"eventCount"`
	WindowStart time.Time  `json:"windowStart"`
	WindowEnd   time.Time  `json:"windowEnd"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	Recipients  []string   `json:"recipients,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

const defaultAlertLimit = 100

// AlertsList returns a project's alerts newest first, optionally filtered
// by status.
func AlertsList(alerts AlertLister, members Members) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, err := requireQuery(ctx, "projectId")
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}

		status := string(ctx.QueryArgs().Peek("status"))
		switch status {
		case "", dbpkg.AlertStatusPending, dbpkg.AlertStatusSent, dbpkg.AlertStatusFailed:
		default:
			httpctx.Error(ctx, apperr.Validation("status must be pending, sent or failed"))
			return
		}

		limit := defaultAlertLimit
		if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpctx.Error(ctx, apperr.Validation("limit must be a positive integer"))
				return
			}
			limit = min(n, defaultAlertLimit)
		}

		if _, ok := MustMember(ctx, members, projectID); !ok {
			return
		}

		rows, err := alerts.ListAlerts(ctx, projectID, status, limit)
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}

		views := make([]alertView, len(rows))
		for i, a := range rows {
			views[i] = alertView{
				ID:          a.ID,
				ProjectID:   a.ProjectID,
				Status:      a.Status,
				Message:     a.Message,
				EventCount:  a.EventCount,
				WindowStart: a.WindowStart.UTC(),
				WindowEnd:   a.WindowEnd.UTC(),
				SentAt:      a.SentAt,
				Recipients:  a.Recipients,
				Error:       a.Error,
				CreatedAt:   a.CreatedAt,
			}
		}
		httpctx.JSON(ctx, fasthttp.StatusOK, map[string]any{"alerts": views})
	}
}
