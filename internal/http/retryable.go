package http

import (
	nethttp "net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/simchain/internal/logging"
)

// retryLogger adapts retryablehttp's leveled logger to zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// NewRetryingClient wraps base with retryablehttp: 5xx and connection
// errors are retried with exponential backoff up to retries times.
func NewRetryingClient(base *nethttp.Client, retries int, logger *logging.Logger) *nethttp.Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = &retryLogger{logger: logger}
	return rc.StandardClient()
}
