package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"

	"loginsight/internal/apperr"
	dbpkg "loginsight/internal/db"
	httpctx "loginsight/internal/http/ctx"
)

// EventReader loads single events.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (*dbpkg.Event, error)
}

type eventView struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	KeyID     string            `json:"keyId"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	UserID    string            `json:"userId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Meta      datatypes.JSONMap `json:"meta,omitempty"`
	RemoteIP  string            `json:"remoteIp,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

func viewEvent(e *dbpkg.Event) eventView {
	return eventView{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		KeyID:     e.KeyID,
		Type:      e.KeyType,
		Message:   e.Message,
		UserID:    e.UserID,
		Timestamp: e.Timestamp.UTC(),
		Meta:      e.Meta,
		RemoteIP:  e.RemoteIP,
		UserAgent: e.UserAgent,
		ExpiresAt: e.ExpiresAt,
	}
}

// EventDetail returns one event to a member of its project.
func EventDetail(events EventReader, members Members) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := pathParam(ctx, "id")
		if id == "" {
			httpctx.Error(ctx, apperr.Validation("id required"))
			return
		}

		e, err := events.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				httpctx.Error(ctx, apperr.NotFound("event not found"))
				return
			}
			httpctx.Error(ctx, err)
			return
		}

		if _, ok := MustMember(ctx, members, e.ProjectID); !ok {
			return
		}

		httpctx.JSON(ctx, fasthttp.StatusOK, viewEvent(e))
	}
}
