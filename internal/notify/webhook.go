// Package notify delivers case events to an outbound webhook. Failed
// deliveries land in the dead-letter queue and are replayed later.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/polishcitizenship/portal-core/internal/config"
	"github.com/polishcitizenship/portal-core/internal/metrics"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

// Delivery outcomes recorded in metrics.
const (
	OutcomeSent         = "sent"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeReplayed     = "replayed"
	OutcomeReplayFailed = "replay_failed"
	OutcomeDropped      = "dropped"
)

// Header names set on every delivery.
const (
	HeaderEvent    = "X-Portal-Event"
	HeaderDelivery = "X-Portal-Delivery"
)

const (
	defaultMaxRetries  = 5
	defaultReplayBatch = 100
	defaultTimeout     = 10 * time.Second
	replayBaseDelay    = time.Minute
)

// DLQ is the dead-letter storage the notifier needs.
type DLQ interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Notifier posts events as JSON to a webhook URL with rate limiting, retry
// and a circuit breaker.
type Notifier struct {
	url         string
	client      *http.Client
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	dlq         DLQ
	maxRetries  int
	replayBatch int
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New creates a Notifier. dlq and mt may be nil; without a DLQ failed
// deliveries are logged and dropped.
func New(cfg config.NotifyConfig, dlq DLQ, mt *metrics.Metrics) *Notifier {
	timeout := defaultTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	n := &Notifier{
		url:         cfg.WebhookURL,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, 1),
		retry:       resilience.FromRetryConfig(cfg.Retry),
		breaker:     resilience.NewCircuitBreaker("webhook", resilience.FromCircuitConfig(cfg.Circuit)),
		dlq:         dlq,
		maxRetries:  cfg.DLQMaxRetries,
		replayBatch: cfg.DLQReplayBatch,
		metrics:     mt,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if n.maxRetries <= 0 {
		n.maxRetries = defaultMaxRetries
	}
	if n.replayBatch <= 0 {
		n.replayBatch = defaultReplayBatch
	}
	return n
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Breaker exposes the circuit breaker for health reporting.
func (n *Notifier) Breaker() *resilience.CircuitBreaker { return n.breaker }

// Publish delivers ev, dead-lettering it when delivery fails. It never
// returns an error so callers can publish after committing state.
func (n *Notifier) Publish(ctx context.Context, ev model.Event) {
	if !n.Enabled() {
		return
	}
	err := n.Deliver(ctx, ev)
	if err == nil {
		n.metrics.IncrementNotification(OutcomeSent)
		return
	}

	zap.L().Warn("notify: delivery failed",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("case_id", ev.CaseID),
		zap.Error(err),
	)
	if n.dlq == nil {
		n.metrics.IncrementNotification(OutcomeDropped)
		return
	}

	// The request that triggered the event may already be cancelled.
	dctx := context.WithoutCancel(ctx)
	now := n.now()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		Event:        ev,
		Target:       n.url,
		Error:        err.Error(),
		ErrorType:    classify(err),
		MaxRetries:   n.maxRetries,
		NextRetryAt:  resilience.NextRetry(now, 0, replayBaseDelay),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if qerr := n.dlq.EnqueueDLQ(dctx, entry); qerr != nil {
		zap.L().Error("notify: dead-letter enqueue failed",
			zap.String("event_id", ev.ID),
			zap.Error(qerr),
		)
		n.metrics.IncrementNotification(OutcomeDropped)
		return
	}
	n.metrics.IncrementNotification(OutcomeDeadLettered)
}

// Deliver posts ev to the webhook, retrying transient failures.
func (n *Notifier) Deliver(ctx context.Context, ev model.Event) error {
	if !n.Enabled() {
		return eris.New("notify: webhook url not configured")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	cfg := n.retry
	cfg.OnRetry = resilience.RetryLogger(n.url, string(ev.Type))
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if err := n.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "notify: rate limit wait")
		}
		return n.breaker.Execute(ctx, func(ctx context.Context) error {
			return n.send(ctx, ev, body)
		})
	})
}

func (n *Notifier) send(ctx context.Context, ev model.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderDelivery, ev.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return resilience.StatusError(n.url, resp.StatusCode)
	}
	return nil
}

// ReplayResult summarizes one dead-letter replay pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Replay re-sends due dead-letter entries once each. Delivered entries are
// removed; failures are rescheduled with a longer delay.
func (n *Notifier) Replay(ctx context.Context, filter resilience.DLQFilter) (ReplayResult, error) {
	var res ReplayResult
	if n.dlq == nil {
		return res, eris.New("notify: no dead-letter queue configured")
	}
	if filter.Limit <= 0 {
		filter.Limit = n.replayBatch
	}

	entries, err := n.dlq.DequeueDLQ(ctx, filter)
	if err != nil {
		return res, eris.Wrap(err, "notify: dequeue dead letters")
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notify: replay cancelled")
		}
		res.Attempted++

		if derr := n.Deliver(ctx, e.Event); derr != nil {
			res.Failed++
			n.metrics.IncrementNotification(OutcomeReplayFailed)
			next := resilience.NextRetry(n.now(), e.RetryCount+1, replayBaseDelay)
			if err := n.dlq.IncrementDLQRetry(ctx, e.ID, next, derr.Error()); err != nil {
				return res, eris.Wrapf(err, "notify: reschedule dead letter %s", e.ID)
			}
			zap.L().Warn("notify: replay failed",
				zap.String("dlq_id", e.ID),
				zap.String("event_type", string(e.Event.Type)),
				zap.Int("retry_count", e.RetryCount+1),
				zap.Int("max_retries", e.MaxRetries),
				zap.Error(derr),
			)
			continue
		}

		if err := n.dlq.RemoveDLQ(ctx, e.ID); err != nil {
			return res, eris.Wrapf(err, "notify: remove dead letter %s", e.ID)
		}
		res.Delivered++
		n.metrics.IncrementNotification(OutcomeReplayed)
	}

	zap.L().Info("notify: replay complete",
		zap.Int("attempted", res.Attempted),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// classify treats an open breaker as transient: the receiver may recover.
func classify(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return resilience.ErrorTransient
	}
	return resilience.ClassifyError(err)
}
