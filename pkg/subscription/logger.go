package subscription

import "time"

// Field represents a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with fields.
	Debug(msg string, fields ...Field)

	// Info logs an info message with fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning message with fields.
	Warn(msg string, fields ...Field)

	// Error logs an error message with fields.
	Error(msg string, fields ...Field)
}

// NoopLogger is a no-op implementation of the Logger interface.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}

// LogObserver returns an observer that writes every outcome to logger.
// Payment failures are logged at warn level, unknown customers at error level.
func LogObserver(logger Logger) Observer {
	return func(o *Outcome) {
		fields := []Field{
			{Key: "event_id", Value: o.EventID},
			{Key: "event_type", Value: o.EventType},
			{Key: "customer_id", Value: o.CustomerID},
			{Key: "outcome", Value: string(o.Kind)},
			{Key: "duration_ms", Value: o.Duration.Milliseconds()},
		}
		if o.Status != "" {
			fields = append(fields, Field{Key: "status", Value: string(o.Status)})
		}
		if o.ExpiresAt != nil {
			fields = append(fields, Field{Key: "expires_at", Value: o.ExpiresAt.UTC().Format(time.RFC3339)})
		}
		if o.PriceID != nil {
			fields = append(fields, Field{Key: "price_id", Value: *o.PriceID})
		}
		if o.Err != nil {
			fields = append(fields, Field{Key: "error", Value: o.Err.Error()})
		}

		switch o.Kind {
		case OutcomeApplied:
			logger.Info("subscription reconciled", fields...)
		case OutcomeLogged:
			logger.Warn("payment failed for customer", fields...)
		case OutcomeStale:
			logger.Info("stale subscription event skipped", fields...)
		case OutcomeNotFound:
			logger.Error("no profile for customer", fields...)
		default:
			logger.Error("subscription reconciliation failed", fields...)
		}
	}
}
