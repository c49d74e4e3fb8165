// Package events defines the notification contract between the job state
// machine and whatever transport delivers notices to the user.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"omegaclaw/pkg/logx"
)

// Kind identifies what happened.
type Kind string

const (
	JobStarted   Kind = "job.started"
	JobProgress  Kind = "job.progress"
	JobBlocked   Kind = "job.blocked"
	JobAnswered  Kind = "job.answered"
	JobCompleted Kind = "job.completed"
	JobFailed    Kind = "job.failed"
	JobPaused    Kind = "job.paused"
	JobStalled   Kind = "job.stalled"
	JobHandoff   Kind = "job.handoff"
	ReportReady  Kind = "report.ready"
	GUIAlert     Kind = "gui.alert"
)

// Event is one notification. UserID is zero for broadcast to the operator.
type Event struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	JobID   string            `json:"job_id,omitempty"`
	UserID  int64             `json:"user_id,omitempty"`
	Time    time.Time         `json:"time"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// New creates an event with a fresh id and the current time.
func New(kind Kind, jobID, message string) Event {
	return Event{
		ID:      uuid.New().String(),
		Kind:    kind,
		JobID:   jobID,
		Time:    time.Now().UTC(),
		Message: message,
	}
}

// With returns a copy of e carrying an extra field.
func (e Event) With(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, ev Event) error

// Emit calls f.
func (f Func) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Emit delivers to all sinks even when some fail.
func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event to a logger.
type LogSink struct {
	Logger *logx.Logger
}

// Emit logs the event.
func (s LogSink) Emit(_ context.Context, ev Event) error {
	s.Logger.Info("📣 %s %s: %s", ev.Kind, ev.JobID, firstLine(ev.Message))
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event.
func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns recorded events of one kind in emission order.
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	return len(r.OfKind(kind))
}
