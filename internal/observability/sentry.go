package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err to Sentry and the structured log under event.
func CaptureError(logger *Logger, event string, err error, fields map[string]any) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)

	payload := map[string]any{"error": err.Error()}
	for k, v := range fields {
		payload[k] = v
	}
	logger.Error(event, payload)
}
