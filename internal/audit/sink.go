package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink is anything that durably receives audit records. Implementations
// must not block the caller indefinitely; a slow or unavailable sink
// should drop and log rather than stall the Controller's write path.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Recorder stamps a Record with timestamp and correlation id and fans it
// out to one or more sinks, logging (but not propagating) sink failures
// since the audit trail is best-effort relative to the write it
// describes.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder writing to every given sink in order.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger, now: time.Now}
}

// Record stamps and dispatches rec to every configured sink.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = uuid.NewString()
	}
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, rec); err != nil {
			r.logger.Warn("audit sink write failed",
				"outcome", rec.Outcome,
				"element_ref", rec.ElementRef.String(),
				"error", err,
			)
		}
	}
}

// StdoutSink emits each record as a structured slog line.
type StdoutSink struct {
	logger *slog.Logger
}

// NewStdoutSink builds a StdoutSink. A nil logger falls back to
// slog.Default.
func NewStdoutSink(logger *slog.Logger) *StdoutSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdoutSink{logger: logger}
}

func (s *StdoutSink) Write(_ context.Context, rec Record) error {
	s.logger.Info("audit",
		"timestamp", rec.Timestamp,
		"direction", rec.Direction,
		"node_ref", rec.NodeRef.String(),
		"element_ref", rec.ElementRef.String(),
		"prior_value", rec.PriorValue,
		"new_value", rec.NewValue,
		"user_id", rec.UserID,
		"outcome", rec.Outcome,
		"reject_reason", rec.RejectReason,
		"correlation_id", rec.CorrelationID,
	)
	return nil
}
