package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// Fanout delivers every record to each sink in order.
type Fanout []ports.TelemetrySink

// Record implements ports.TelemetrySink.
func (f Fanout) Record(ctx context.Context, rec domain.TurnRecord) {
	for _, s := range f {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

// LogSink writes one log line per turn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at Info level. Fallback turns and turns
// with an error code are logged at Warn.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements ports.TelemetrySink.
func (s *LogSink) Record(ctx context.Context, rec domain.TurnRecord) {
	level := slog.LevelInfo
	if rec.Fallback || rec.ErrorCode != "" {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("turn_id", rec.TurnID),
		slog.String("workspace_id", rec.WorkspaceID),
		slog.String("conversation_id", rec.ConversationID),
		slog.String("route", string(rec.Route)),
		slog.Int("bucket", rec.Bucket),
		slog.Float64("confidence", rec.Confidence),
		slog.String("next_action", string(rec.NextAction)),
		slog.String("fsm_state", string(rec.FSMState)),
	}
	if rec.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", string(rec.ErrorCode)))
	}
	if rec.Retries > 0 {
		attrs = append(attrs, slog.Int("retries", rec.Retries))
	}
	latency := make([]any, 0, len(rec.Latency))
	for stage, d := range rec.Latency {
		latency = append(latency, slog.Duration(string(stage), d))
	}
	attrs = append(attrs, slog.Group("latency", latency...))
	s.logger.LogAttrs(ctx, level, "turn handled", attrs...)
}

// Recorder keeps the last N records in memory.
type Recorder struct {
	mu      sync.Mutex
	size    int
	records []domain.TurnRecord
}

// NewRecorder creates a recorder holding up to size records.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 100
	}
	return &Recorder{size: size}
}

// Record implements ports.TelemetrySink.
func (r *Recorder) Record(_ context.Context, rec domain.TurnRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if over := len(r.records) - r.size; over > 0 {
		r.records = append(r.records[:0:0], r.records[over:]...)
	}
}

// Records returns a copy of the held records, oldest first.
func (r *Recorder) Records() []domain.TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TurnRecord(nil), r.records...)
}
