package audit

import (
	"context"

	"go.uber.org/zap"
)

// Recorder appends lifecycle events to a Ledger. Its Record method matches
// the service's event dispatch callback.
type Recorder struct {
	ledger Ledger
	logger *zap.Logger
}

// NewRecorder creates a Recorder writing to ledger.
func NewRecorder(ledger Ledger, logger *zap.Logger) *Recorder {
	return &Recorder{ledger: ledger, logger: logger}
}

// Record appends the event, using payload["id"] as the subject. The state
// change has already been committed, so a failed append is logged rather
// than returned.
func (r *Recorder) Record(ctx context.Context, eventType string, payload map[string]string) {
	if _, err := r.ledger.Append(ctx, payload["id"], eventType, payload); err != nil {
		r.logger.Error("audit: append failed",
			zap.String("action", eventType),
			zap.String("subject", payload["id"]),
			zap.Error(err),
		)
	}
}
