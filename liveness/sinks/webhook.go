package sinks

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/imtaco/stream-liveness/internal/errors"
	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

const (
	ErrWebhook errors.Code = "webhook_failed"
)

// WebhookSink posts each event as JSON to every configured URL in parallel.
// Deliveries are best effort: there is no retry.
type WebhookSink struct {
	http   *resty.Client
	urls   []string
	logger *log.Logger
}

func NewWebhookSink(cfg WebhookConfig, logger *log.Logger) *WebhookSink {
	return &WebhookSink{
		http: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout),
		urls:   cfg.URLs,
		logger: logger,
	}
}

func (s *WebhookSink) Enabled() bool {
	return len(s.urls) > 0
}

func (s *WebhookSink) Handle(ctx context.Context, ev liveness.Event) error {
	// one broken receiver must not cancel the others
	var g errgroup.Group
	for _, url := range s.urls {
		g.Go(func() error {
			if err := s.post(ctx, url, ev); err != nil {
				webhookFailures.Add(ctx, 1)
				s.logger.Warn("Webhook delivery failed",
					log.String("url", url),
					log.StreamID(ev.StreamID),
					log.Error(err))
				return err
			}
			webhookDeliveries.Add(ctx, 1)
			return nil
		})
	}
	return g.Wait()
}

func (s *WebhookSink) post(ctx context.Context, url string, ev liveness.Event) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("X-Liveness-Event", ev.ID).
		SetBody(ev).
		Post(url)
	if err != nil {
		return errors.Wrapf(ErrWebhook, err, "post %s", url)
	}
	if !resp.IsSuccess() {
		return errors.Wrapf(ErrWebhook, fmt.Errorf("http status %d", resp.StatusCode()), "post %s", url)
	}
	return nil
}
