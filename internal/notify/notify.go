// Package notify delivers alerts to the targets configured on a project.
//
// Targets are plain strings: http(s) URLs receive a JSON POST, and
// "sms:<number>" targets are forwarded to an SMS gateway when the project
// has SMS alerts enabled.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"loginsight/internal/db"
)

const smsPrefix = "sms:"

var ErrNoTargets = errors.New("no notification targets configured")

// Payload is the JSON body posted to webhook targets.
type Payload struct {
	AlertID     string    `json:"alertId"`
	ProjectID   string    `json:"projectId"`
	Message     string    `json:"message"`
	EventCount  int64     `json:"eventCount"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Webhook posts alerts with a fasthttp client.
type Webhook struct {
	client     *fasthttp.Client
	smsGateway string
	log        *zap.Logger
}

// NewWebhook returns a notifier. smsGateway may be empty, in which case
// SMS targets are skipped.
func NewWebhook(smsGateway string, log *zap.Logger) *Webhook {
	return &Webhook{
		client: &fasthttp.Client{
			Name:                "loginsight-notifier",
			MaxConnsPerHost:     16,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: time.Minute,
		},
		smsGateway: smsGateway,
		log:        log,
	}
}

// Notify sends a to every deliverable target of p. It returns the targets
// that accepted the alert; the error reports the first failure.
func (w *Webhook) Notify(ctx context.Context, a *db.Alert, p *db.Project) ([]string, error) {
	var (
		delivered []string
		firstErr  error
		attempted int
	)

	for _, target := range p.AlertTargets {
		target = strings.TrimSpace(target)
		var err error
		switch {
		case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
			attempted++
			err = w.post(ctx, target, Payload{
				AlertID:     a.ID,
				ProjectID:   a.ProjectID,
				Message:     a.Message,
				EventCount:  a.EventCount,
				WindowStart: a.WindowStart,
				WindowEnd:   a.WindowEnd,
			})
		case strings.HasPrefix(target, smsPrefix):
			if !p.AlertSMSEnabled {
				continue
			}
			if w.smsGateway == "" {
				w.log.Warn("sms target skipped, no gateway configured", zap.String("project", p.ID))
				continue
			}
			attempted++
			err = w.post(ctx, w.smsGateway, smsPayload{
				To:      strings.TrimPrefix(target, smsPrefix),
				Message: fmt.Sprintf("[%s] %s", p.Name, a.Message),
			})
		default:
			w.log.Warn("unsupported alert target", zap.String("project", p.ID), zap.String("target", target))
			continue
		}

		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", target, err)
			}
			continue
		}
		delivered = append(delivered, target)
	}

	if attempted == 0 {
		return nil, ErrNoTargets
	}
	return delivered, firstErr
}

func (w *Webhook) post(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(raw)

	if err := w.client.DoTimeout(req, resp, timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

// Log records alerts in the service log instead of delivering them. It is
// used when outbound delivery is disabled.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, a *db.Alert, p *db.Project) ([]string, error) {
	l.log.Warn("alert",
		zap.String("project", p.ID),
		zap.String("alert_id", a.ID),
		zap.String("message", a.Message),
		zap.Int64("event_count", a.EventCount),
		zap.Strings("targets", p.AlertTargets))
	return []string{"log"}, nil
}
