// Package metrics records dispatcher activity as Prometheus metrics and
// queries aggregated per-job totals back from a Prometheus server.
package metrics

import "time"

// Recorder defines the interface for recording job and cycle metrics.
type Recorder interface {
	// ObserveCycle records one script cycle: the parsed action kind, prompt
	// tokens sent and the brain round-trip duration.
	ObserveCycle(jobID, action string, promptTokens int, duration time.Duration)

	// ObserveBrain records one backend call.
	ObserveBrain(backend string, success bool, duration time.Duration)

	// IncJob counts a job status transition.
	IncJob(status string)

	// IncRelayed counts a message relayed to the user (report, blocker, event).
	IncRelayed(kind string)

	// IncHandoff counts a usage-limit handoff between vectors.
	IncHandoff(from, to string)

	// SetActiveSessions reports the number of tracked sessions per state.
	SetActiveSessions(state string, n int)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveCycle does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveCycle(_, _ string, _ int, _ time.Duration) {}

// ObserveBrain does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveBrain(_ string, _ bool, _ time.Duration) {}

// IncJob does nothing in the no-op recorder.
func (n *NoopRecorder) IncJob(_ string) {}

// IncRelayed does nothing in the no-op recorder.
func (n *NoopRecorder) IncRelayed(_ string) {}

// IncHandoff does nothing in the no-op recorder.
func (n *NoopRecorder) IncHandoff(_, _ string) {}

// SetActiveSessions does nothing in the no-op recorder.
func (n *NoopRecorder) SetActiveSessions(_ string, _ int) {}
