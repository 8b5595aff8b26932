package resilience

import (
	"context"
	"time"

	"github.com/harunnryd/khata/pkg/errorsx"
)

// RetryPolicy retries transient failures with bounded exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Transient decides if an error is worth retrying. Defaults to
	// IsTransient.
	Transient func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		MaxBackoff: 5 * time.Second,
	}
}

// IsTransient reports whether the failure class tends to clear on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	switch errorsx.Reason(err) {
	case errorsx.ReasonLLMRateLimit, errorsx.ReasonSTTConnect, errorsx.ReasonSTTSend, errorsx.ReasonTransportSend, errorsx.ReasonSMSSend:
		return true
	}
	return false
}

// Do runs fn until it succeeds, the error is permanent, retries are
// exhausted, or ctx ends.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	transient := r.Transient
	if transient == nil {
		transient = IsTransient
	}
	backoff := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries || !transient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
		if r.MaxBackoff > 0 && backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}
	return err
}
