// Package retry runs operations against Postgres, S3, SQS and Redis with
// exponential backoff, and classifies which of their errors are transient.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; 0.1 spreads each delay by +/-10%
}

// DefaultConfig returns defaults for database and queue operations
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do executes fn with exponential backoff retry logic
// Returns nil on success, or last error after all retries exhausted
// Respects context cancellation during wait periods
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(applyJitter(delay, cfg.JitterFactor)):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// Import job errors implement this interface to mark malformed input as permanent.
type RetryableError interface {
	error
	IsRetryable() bool
}

// AWS error codes S3 and SQS return for throttling and server-side faults.
var retryableAPICodes = map[string]bool{
	"ThrottlingException":                       true,
	"Throttling":                                true,
	"RequestThrottled":                          true,
	"RequestThrottledException":                 true,
	"SlowDown":                                  true,
	"RequestTimeout":                            true,
	"ServiceUnavailable":                        true,
	"InternalError":                             true,
	"KMS.ThrottlingException":                   true,
	"AWS.SimpleQueueService.ServiceUnavailable": true,
}

// Postgres error codes worth another attempt.
var retryablePgCodes = map[string]bool{
	pgerrcode.SerializationFailure:                    true,
	pgerrcode.DeadlockDetected:                        true,
	pgerrcode.TooManyConnections:                      true,
	pgerrcode.CannotConnectNow:                        true,
	pgerrcode.AdminShutdown:                           true,
	pgerrcode.ConnectionFailure:                       true,
	pgerrcode.ConnectionException:                     true,
	pgerrcode.SQLClientUnableToEstablishSQLConnection: true,
}

// Lowercase fragments of transient network and Redis errors that carry no type.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"loading redis is loading the dataset",
	"tryagain",
}

// IsRetryable determines if an error is transient and worth retrying.
// Permanent failures (missing blobs, bad input, constraint violations) are not.
//
// The error chain is checked in this order:
//  1. RetryableError decides for itself.
//  2. Context cancellation is permanent; the caller gave up.
//  3. Postgres and AWS API errors are matched by code, network errors by Timeout.
//  4. Untyped errors fall back to message patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCodes[pgErr.Code]
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableAPICodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
