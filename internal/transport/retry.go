package transport

import (
	"log"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// Retrying wraps a Transport and retries failed sends a bounded number of
// times with a fixed backoff before surfacing the error. Transient I/O
// failures never crash the transmitting stage; the caller records the
// final outcome as a failed sample.
type Retrying struct {
	inner    Transport
	attempts int
	backoff  time.Duration
	logger   *log.Logger
}

// RetryConfig configures a Retrying wrapper.
type RetryConfig struct {
	// Attempts is the total number of tries per send. Default 3.
	Attempts int
	// Backoff is the fixed delay between tries. Default 100ms.
	Backoff time.Duration
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// WithRetry wraps inner with bounded fixed-backoff retries.
func WithRetry(inner Transport, cfg RetryConfig) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Retrying{
		inner:    inner,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
	}
}

// Connect passes through to the wrapped transport.
func (t *Retrying) Connect() error { return t.inner.Connect() }

// Send tries the wrapped Send up to the configured attempt count. The
// returned duration covers all attempts including backoff, which is the
// latency the pipeline actually paid.
func (t *Retrying) Send(r telemetry.Reading) (time.Duration, error) {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		if _, err := t.inner.Send(r); err != nil {
			lastErr = err
			t.logger.Printf("transport: send attempt %d/%d failed: %v", attempt, t.attempts, err)
			if attempt < t.attempts {
				time.Sleep(t.backoff)
			}
			continue
		}
		return time.Since(start), nil
	}
	return time.Since(start), lastErr
}

// ReceiveFeedback passes through to the wrapped transport.
func (t *Retrying) ReceiveFeedback() (telemetry.Feedback, error) {
	return t.inner.ReceiveFeedback()
}

// Close passes through to the wrapped transport.
func (t *Retrying) Close() error { return t.inner.Close() }
