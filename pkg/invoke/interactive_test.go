package invoke

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/mailbox"
)

func requirePTY(t *testing.T) {
	t.Helper()
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	_ = tty.Close()
	_ = ptmx.Close()
}

// shellSession runs script under /bin/sh in place of the assistant. $OUT
// names a file that receives everything typed into the terminal.
func shellSession(t *testing.T, script string) (*Interactive, string) {
	t.Helper()
	requirePTY(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "typed.txt")
	require.NoError(t, os.WriteFile(out, nil, 0o644))
	it := NewInteractive("/bin/sh", dir, "-c", "OUT="+out+"\n"+script)
	it.tick = 20 * time.Millisecond
	return it, out
}

func interactiveSettings() Settings {
	s := fastSettings()
	s.MaxIdle = 5 * time.Second
	s.Heartbeat = time.Hour
	return s
}

// captureInput copies terminal input into $OUT in the background.
const captureInput = "exec 3<&0\ncat <&3 >\"$OUT\" &\n"

func TestInteractivePhaseThenComplete(t *testing.T) {
	s, rec := newTestSession(t, interactiveSettings())
	it, _ := shellSession(t, `echo "PHASE_COMPLETE: planning"
echo "JOB_COMPLETE"
sleep 5`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 1, res.Cycle)
	assert.Equal(t, 1, rec.Count(events.JobProgress))

	reports, _ := s.Mailbox.ListReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "planning", reports[0].Phase)
	assert.Equal(t, mailbox.ReportInProgress, reports[0].Status)
}

func TestInteractiveSendsInstruction(t *testing.T) {
	s, _ := newTestSession(t, interactiveSettings())
	it, out := shellSession(t, captureInput+`while ! grep -q "AUTONOMOUS PROTOCOL" "$OUT"; do sleep 0.05; done
echo JOB_COMPLETE
sleep 5`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)

	typed, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(typed), "AUTONOMOUS PROTOCOL")
	assert.Contains(t, string(typed), s.Job.Path)
}

func TestInteractiveBlockerRoundTrip(t *testing.T) {
	s, rec := newTestSession(t, interactiveSettings())
	it, out := shellSession(t, captureInput+`echo "BLOCKED: need the Stripe key"
while ! grep -q sk_test_123 "$OUT"; do sleep 0.05; done
echo JOB_COMPLETE
sleep 5`)

	answered := answerWhenBlocked(t, s, "sk_test_123")
	res, err := it.Start(context.Background(), s)
	<-answered
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 1, rec.Count(events.JobAnswered))
	assert.False(t, s.Mailbox.HasOpenBlocker(s.Job.ID))

	typed, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(typed), "sk_test_123\r")
}

func TestInteractiveAutoApprovesPermission(t *testing.T) {
	s, _ := newTestSession(t, interactiveSettings())
	it, _ := shellSession(t, captureInput+`echo "Allow edit to main.go? [Y/n]"
while [ "$(tail -c 2 "$OUT")" != "$(printf 'y\r')" ]; do sleep 0.05; done
echo JOB_COMPLETE
sleep 5`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.False(t, s.Mailbox.HasOpenBlocker(s.Job.ID))
}

func TestInteractiveManualPermissionBecomesBlocker(t *testing.T) {
	s, rec := newTestSession(t, interactiveSettings())
	s.Autonomy = func() string { return "manual" }
	it, _ := shellSession(t, captureInput+`echo "Run npm install? (y/n)"
while [ "$(tail -c 2 "$OUT")" != "$(printf 'n\r')" ]; do sleep 0.05; done
echo JOB_COMPLETE
sleep 5`)

	answered := answerWhenBlocked(t, s, "no thanks")
	res, err := it.Start(context.Background(), s)
	<-answered
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 1, rec.Count(events.JobAnswered))
}

func TestInteractiveEOFWithoutCompletionFails(t *testing.T) {
	s, _ := newTestSession(t, interactiveSettings())
	it, _ := shellSession(t, `echo "working on it"`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "session ended", res.Summary)
}

func TestInteractiveUsageLimitHandsOff(t *testing.T) {
	s, _ := newTestSession(t, interactiveSettings())
	it, _ := shellSession(t, `echo "Claude usage limit reached. Resets at 5pm"
sleep 5`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandoff, res.Outcome)
}

func TestInteractiveIdleTimeout(t *testing.T) {
	settings := interactiveSettings()
	settings.MaxIdle = 300 * time.Millisecond
	s, _ := newTestSession(t, settings)
	it, _ := shellSession(t, `sleep 5`)

	began := time.Now()
	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "no output", res.Summary)
	assert.Less(t, time.Since(began), 4*time.Second, "the child must be terminated, not waited for")
}

func TestInteractiveHeartbeat(t *testing.T) {
	settings := interactiveSettings()
	settings.Heartbeat = 50 * time.Millisecond
	s, _ := newTestSession(t, settings)
	it, _ := shellSession(t, `sleep 0.4
echo JOB_COMPLETE
sleep 5`)

	res, err := it.Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)

	progress, err := s.Mailbox.ReadProgress(s.Job.ID)
	require.NoError(t, err)
	assert.Contains(t, progress, "heartbeat: session alive")
}

func TestInteractiveCancel(t *testing.T) {
	s, _ := newTestSession(t, interactiveSettings())
	it, _ := shellSession(t, `sleep 5`)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	res, err := it.Start(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestInteractiveMissingBinary(t *testing.T) {
	requirePTY(t)
	s, _ := newTestSession(t, interactiveSettings())
	it := NewInteractive(filepath.Join(t.TempDir(), "no-such-assistant"), t.TempDir())

	res, err := it.Start(context.Background(), s)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestIsAffirmative(t *testing.T) {
	for _, a := range []string{"y", "Yes", " ok ", "allow"} {
		assert.True(t, isAffirmative(a), a)
	}
	for _, a := range []string{"n", "no", "", "maybe"} {
		assert.False(t, isAffirmative(a), a)
	}
}
