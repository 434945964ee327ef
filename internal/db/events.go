package db

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// EventFilter selects raw events of one project in [Start, End).
type EventFilter struct {
	ProjectID string
	Start     time.Time
	End       time.Time

	// KeyTypes restricts results to events produced by these key types.
	KeyTypes []string

	// Search is matched case-insensitively as a substring of the message
	// or the serialized meta payload.
	Search string

	Limit int
}

func (s *Store) InsertEvent(ctx context.Context, e *Event) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.wrap("insert event", s.db.WithContext(ctx).Create(e).Error)
}

// ListEvents returns matching events newest first, ties broken by id.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&Event{}).
		Where("project_id = ?", f.ProjectID).
		Where("occurred_at >= ? AND occurred_at < ?", f.Start.UTC(), f.End.UTC())
	if len(f.KeyTypes) > 0 {
		q = q.Where("key_type IN ?", f.KeyTypes)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		term = strings.ToLower(term)
		pattern := "%" + escapeLike(term) + "%"
		metaPattern := "%" + escapeLike(jsonEscape(term)) + "%"
		q = q.Where(`(LOWER(message) LIKE ? ESCAPE '\' OR LOWER(CAST(meta AS TEXT)) LIKE ? ESCAPE '\')`, pattern, metaPattern)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var events []Event
	if err := q.Order("occurred_at DESC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, s.wrap("list events", err)
	}
	return events, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// jsonEscape returns s as it appears inside a serialized meta payload.
// Meta is written with encoding/json, which escapes quotes, backslashes,
// control characters and <, > and &.
func jsonEscape(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw[1 : len(raw)-1])
}

func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var e Event
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, s.wrap("get event", err)
	}
	return &e, nil
}
