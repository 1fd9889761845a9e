package resilience

import (
	"time"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// Error classes stored on DLQ entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is an event whose webhook delivery failed and may be replayed.
type DLQEntry struct {
	ID           string      `json:"id"`
	Event        model.Event `json:"event"`
	Target       string      `json:"target"`
	Error        string      `json:"error"`
	ErrorType    string      `json:"error_type"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	NextRetryAt  time.Time   `json:"next_retry_at"`
	CreatedAt    time.Time   `json:"created_at"`
	LastFailedAt time.Time   `json:"last_failed_at"`
}

// DLQFilter selects entries for replay.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has replays left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetry returns when the entry after retryCount replays becomes due,
// doubling from base and capped at one day.
func NextRetry(now time.Time, retryCount int, base time.Duration) time.Time {
	delay := base
	for i := 0; i < retryCount && delay < 24*time.Hour; i++ {
		delay *= 2
	}
	if delay > 24*time.Hour {
		delay = 24 * time.Hour
	}
	return now.Add(delay)
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
