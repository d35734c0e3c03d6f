package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"net"
	nethttp "net/http"
	"strings"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates authentication/authorization failure (403, expired token)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (500, 502, 503, throttling)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors that should not be retried (400, 404, invalid request)
	ErrorTypeFatal
)

// Config holds retry parameters for ExecuteWithRetry.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 10)
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff (default: 200ms)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 15s)
	MaxDelay time.Duration
	// CredentialRefresh is an optional function to refresh credentials before each attempt
	CredentialRefresh func(context.Context) error
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns the retry parameters used by the archive mirror.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   10,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     15 * time.Second,
	}
}

// storeCodes are the S3 and Azure Blob error codes a mirror upload can
// see, matched case-insensitively and ignoring spaces against typed error
// codes and, as a last resort, the error text.
var storeCodes = []struct {
	code  string
	class ErrorType
}{
	{"expiredtoken", ErrorTypeCredential},
	{"invalidaccesskeyid", ErrorTypeCredential},
	{"signaturedoesnotmatch", ErrorTypeCredential},
	{"authenticationfailed", ErrorTypeCredential},
	{"slowdown", ErrorTypeRetryable},
	{"requesttimeout", ErrorTypeRetryable},
	{"internalerror", ErrorTypeRetryable},
	{"serviceunavailable", ErrorTypeRetryable},
	{"serverbusy", ErrorTypeRetryable},
	{"operationtimedout", ErrorTypeRetryable},
	{"nosuchbucket", ErrorTypeFatal},
	{"containernotfound", ErrorTypeFatal},
	{"accessdenied", ErrorTypeFatal},
}

func codeClass(s string) (ErrorType, bool) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, c := range storeCodes {
		if strings.Contains(s, c.code) {
			return c.class, true
		}
	}
	return ErrorTypeFatal, false
}

func statusClass(status int) ErrorType {
	switch {
	case status == nethttp.StatusUnauthorized || status == nethttp.StatusForbidden:
		return ErrorTypeCredential
	case status == nethttp.StatusRequestTimeout || status == nethttp.StatusTooManyRequests || status >= 500:
		return ErrorTypeRetryable
	default:
		return ErrorTypeFatal
	}
}

// ClassifyError sorts a mirror upload error into a retry class. Typed
// Azure and AWS errors are classified by service code, then HTTP status;
// local and cancellation errors are fatal; transport failures are network
// errors. Anything else is fatal.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fs.ErrNotExist) {
		return ErrorTypeFatal
	}

	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		if class, ok := codeClass(azErr.ErrorCode); ok {
			return class
		}
		return statusClass(azErr.StatusCode)
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		if class, ok := codeClass(coded.ErrorCode()); ok {
			return class
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		return statusClass(status.HTTPStatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorTypeNetwork
	}

	if class, ok := codeClass(err.Error()); ok {
		return class
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "timeout"} {
		if strings.Contains(msg, s) {
			return ErrorTypeNetwork
		}
	}
	return ErrorTypeFatal
}

// CalculateBackoff returns random(0, min(maxDelay, initialDelay * 2^attempt)).
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}

	// Exponential: 2^attempt * initialDelay
	base := time.Duration(1<<uint(attempt)) * initialDelay

	// Cap at maxDelay
	if base > maxDelay {
		base = maxDelay
	}

	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// ExecuteWithRetry runs operation until it succeeds, fails fatally or
// config.MaxRetries attempts are used up.
//
//   - Credential errors: retried after a short pause, refreshing first if
//     CredentialRefresh is set
//   - Network and retryable errors: exponential backoff with full jitter
//   - Fatal errors: returned at once
//
// Sleeps end early when ctx is cancelled, and a backoff that would run
// past the ctx deadline returns the last error instead.
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if config.CredentialRefresh != nil {
			if err := config.CredentialRefresh(ctx); err != nil {
				return fmt.Errorf("credential refresh failed: %w", err)
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType == ErrorTypeFatal {
			return err
		}
		if attempt == config.MaxRetries-1 {
			break
		}

		wait := time.Second
		if errType != ErrorTypeCredential {
			wait = CalculateBackoff(attempt, config.InitialDelay, config.MaxDelay)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return fmt.Errorf("deadline too close to retry: %w", err)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, errType)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
