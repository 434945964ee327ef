// Package bucket maps timestamps onto fixed-width UTC buckets.
//
// A bucket of width w minutes starts on a minute-of-day that is a multiple
// of w. Widths must divide 1440 so every day starts on a bucket boundary.
package bucket

import (
	"errors"
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

var ErrInvalidWidth = errors.New("bucket width must be a positive divisor of 1440 minutes")

// Address identifies one bucket of one project.
type Address struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Validate checks that widthMinutes is usable as a bucket width.
func Validate(widthMinutes int) error {
	if widthMinutes <= 0 || minutesPerDay%widthMinutes != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, widthMinutes)
	}
	return nil
}

func floor(ts time.Time, widthMinutes int) time.Time {
	ts = ts.UTC()
	minuteOfDay := ts.Hour()*60 + ts.Minute()
	floored := minuteOfDay - minuteOfDay%widthMinutes
	return time.Date(ts.Year(), ts.Month(), ts.Day(), floored/60, floored%60, 0, 0, time.UTC)
}

func format(project string, start time.Time) string {
	return project + "_" + start.Format("20060102") + "_" + start.Format("1504")
}

// ID returns the bucket id for ts, encoded as {project}_{YYYYMMDD}_{HHmm}
// with the floored hour and minute.
func ID(project string, ts time.Time, widthMinutes int) (string, error) {
	if err := Validate(widthMinutes); err != nil {
		return "", err
	}
	return format(project, floor(ts, widthMinutes)), nil
}

// Span returns the half-open interval [start, end) of the bucket holding ts.
func Span(ts time.Time, widthMinutes int) (time.Time, time.Time, error) {
	if err := Validate(widthMinutes); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := floor(ts, widthMinutes)
	return start, start.Add(time.Duration(widthMinutes) * time.Minute), nil
}

// For returns the full address of the bucket holding ts.
func For(project string, ts time.Time, widthMinutes int) (Address, error) {
	start, end, err := Span(ts, widthMinutes)
	if err != nil {
		return Address{}, err
	}
	return Address{ID: format(project, start), Start: start, End: end}, nil
}

// Range returns the buckets from the one containing start up to and
// including every bucket whose start is <= end, in ascending order.
// It is empty only when end is before start.
func Range(project string, start, end time.Time, widthMinutes int) ([]Address, error) {
	if err := Validate(widthMinutes); err != nil {
		return nil, err
	}
	end = end.UTC()
	if end.Before(start) {
		return nil, nil
	}
	step := time.Duration(widthMinutes) * time.Minute
	first := floor(start, widthMinutes)

	out := make([]Address, 0, int(end.Sub(first)/step)+1)
	for s := first; !s.After(end); s = s.Add(step) {
		out = append(out, Address{ID: format(project, s), Start: s, End: s.Add(step)})
	}
	return out, nil
}

// Covering returns the buckets whose span intersects [start, end). It is
// Range without a trailing bucket that begins exactly at end. An empty
// range covers nothing.
func Covering(project string, start, end time.Time, widthMinutes int) ([]Address, error) {
	addrs, err := Range(project, start, end, widthMinutes)
	if err != nil || len(addrs) == 0 {
		return addrs, err
	}
	if !end.After(start) {
		return nil, nil
	}
	if addrs[len(addrs)-1].Start.Equal(end.UTC()) {
		addrs = addrs[:len(addrs)-1]
	}
	return addrs, nil
}

// IDs flattens addresses into their ids.
func IDs(addrs []Address) []string {
	ids := make([]string, len(addrs))
	for i, a := range addrs {
		ids[i] = a.ID
	}
	return ids
}
