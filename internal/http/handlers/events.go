package handlers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"loginsight/internal/config"
	httpctx "loginsight/internal/http/ctx"
	"loginsight/internal/query"
)

// Querier is the read side the dashboard routes use.
type Querier interface {
	Query(ctx context.Context, projectID string, start, end time.Time, f query.Filters) (*query.Result, error)
	Series(ctx context.Context, projectID string, start, end time.Time) ([]query.Point, error)
}

type eventsResponse struct {
	Events      []eventView `json:"events"`
	Total       int         `json:"total"`
	BucketCount int64       `json:"bucketCount"`
	Truncated   bool        `json:"truncated"`
	Limit       int         `json:"limit"`
	TimeRange   timeWindow  `json:"timeRange"`
}

// EventsQuery lists a project's events over the trailing timeRange hours,
// at most the retention period. "type" takes a comma-separated list of key
// types; "search" is matched case-insensitively against message and meta.
func EventsQuery(q Querier, members Members, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, err := requireQuery(ctx, "projectId")
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		window, err := parseTimeRange(ctx, time.Now(), maxRangeHours(cfg))
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		if _, ok := MustMember(ctx, members, projectID); !ok {
			return
		}

		res, err := q.Query(ctx, projectID, window.Start, window.End, query.Filters{
			Types:  splitList(string(ctx.QueryArgs().Peek("type"))),
			Search: string(ctx.QueryArgs().Peek("search")),
		})
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}

		views := make([]eventView, len(res.Events))
		for i := range res.Events {
			views[i] = viewEvent(&res.Events[i])
		}
		httpctx.JSON(ctx, fasthttp.StatusOK, eventsResponse{
			Events:      views,
			Total:       len(views),
			BucketCount: res.BucketCount,
			Truncated:   res.Truncated,
			Limit:       res.Limit,
			TimeRange:   window,
		})
	}
}

type seriesResponse struct {
	Points    []query.Point `json:"points"`
	TimeRange timeWindow    `json:"timeRange"`
}

// BucketSeries returns per-bucket counts over the trailing timeRange hours.
func BucketSeries(q Querier, members Members, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, err := requireQuery(ctx, "projectId")
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		window, err := parseTimeRange(ctx, time.Now(), maxRangeHours(cfg))
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		if _, ok := MustMember(ctx, members, projectID); !ok {
			return
		}

		points, err := q.Series(ctx, projectID, window.Start, window.End)
		if err != nil {
			httpctx.Error(ctx, err)
			return
		}
		httpctx.JSON(ctx, fasthttp.StatusOK, seriesResponse{Points: points, TimeRange: window})
	}
}
