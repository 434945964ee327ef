package handlers

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/apperr"
	"loginsight/internal/config"
	dbpkg "loginsight/internal/db"
	httpctx "loginsight/internal/http/ctx"
)

// Members answers project membership questions for dashboard routes.
type Members interface {
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

// MustUser returns the current user from context, or renders 401 and
// returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		httpctx.Error(ctx, apperr.Unauthorized(apperr.ReasonMissingCredentials, "unauthorized"))
		return nil, false
	}
	return user, true
}

// MustMember checks that the current user belongs to projectID. It renders
// the error and returns false otherwise.
func MustMember(ctx *fasthttp.RequestCtx, members Members, projectID string) (*dbpkg.User, bool) {
	user, ok := MustUser(ctx)
	if !ok {
		return nil, false
	}
	isMember, err := members.IsMember(ctx, projectID, user.ID)
	if err != nil {
		httpctx.Error(ctx, err)
		return nil, false
	}
	if !isMember {
		httpctx.Error(ctx, apperr.AccessDenied("not a member of this project"))
		return nil, false
	}
	return user, true
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

// timeWindow is the trailing range a dashboard query covers.
type timeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Hours float64   `json:"hours"`
}

// maxRangeHours is the longest dashboard window: raw events older than the
// retention period are gone, so ranges stop there.
func maxRangeHours(cfg *config.Config) float64 {
	return float64(cfg.RetentionDays) * 24
}

// parseTimeRange reads "timeRange" in hours (float, e.g. 0.5 or 24) and
// returns the window ending at now. It defaults to one hour and rejects
// anything longer than maxHours.
func parseTimeRange(ctx *fasthttp.RequestCtx, now time.Time, maxHours float64) (timeWindow, error) {
	hours := 1.0
	if raw := string(ctx.QueryArgs().Peek("timeRange")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
			return timeWindow{}, apperr.Validation("timeRange must be a positive number of hours")
		}
		hours = f
	}
	if hours > maxHours {
		return timeWindow{}, apperr.Validation(fmt.Sprintf("timeRange must be at most %g hours", maxHours))
	}
	end := now.UTC()
	return timeWindow{
		Start: end.Add(-time.Duration(hours * float64(time.Hour))),
		End:   end,
		Hours: hours,
	}, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func requireQuery(ctx *fasthttp.RequestCtx, name string) (string, error) {
	v := strings.TrimSpace(string(ctx.QueryArgs().Peek(name)))
	if v == "" {
		return "", apperr.Validation(name + " is required")
	}
	return v, nil
}
