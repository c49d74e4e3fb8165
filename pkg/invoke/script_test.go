package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/brain"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/mailbox"
)

func newTestSession(t *testing.T, settings Settings) (*Session, *events.Recorder) {
	t.Helper()
	mb, err := mailbox.Open(t.TempDir())
	require.NoError(t, err)
	job, err := mb.CreateJob(mailbox.NewJob{
		Name:     "Todo App",
		Audience: "Small teams",
		Kit:      "web",
		Mode:     mailbox.ModeJustBuild,
		Details:  "Build a todo app",
	})
	require.NoError(t, err)
	require.NoError(t, mb.InitProgress(job.ID, job.Mode))

	rec := &events.Recorder{}
	s := NewSession(job, mb, rec, settings)
	s.RunID = "run-test"
	return s, rec
}

func fastSettings() Settings {
	return Settings{
		MaxCycles:      50,
		ReportEvery:    5,
		AnswerTimeout:  time.Minute,
		AnswerRenotify: 2,
		AnswerPoll:     5 * time.Millisecond,
		KillGrace:      100 * time.Millisecond,
	}
}

// answerWhenBlocked answers the job's blocker as soon as it appears.
func answerWhenBlocked(t *testing.T, s *Session, answer string) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if s.State() == mailbox.SessionBlocked && s.Mailbox.HasOpenBlocker(s.Job.ID) {
				if err := s.Mailbox.WriteAnswer(s.Job.ID, answer); err != nil {
					t.Errorf("WriteAnswer: %v", err)
				}
				s.Wake()
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		t.Errorf("job never blocked")
	}()
	return done
}

func TestScriptCycleHappyPath(t *testing.T) {
	s, rec := newTestSession(t, fastSettings())
	workDir := t.TempDir()

	b := brain.NewMockBrain("mock", []string{
		"```phase:production\n```",
		"```bash\necho hello\n```",
		"```write:app/main.go\npackage main\n```",
		"```complete\nSUMMARY: built the todo app\n```",
	}, nil)
	executor := &exec.MockExecutor{Handler: func(_ context.Context, cmd []string, opts *exec.Opts) (exec.Result, error) {
		return exec.Result{Stdout: "hello\n"}, nil
	}}

	res, err := NewScriptCycle(b, executor, workDir).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, "SUMMARY: built the todo app", res.Summary)
	assert.Equal(t, 4, res.Cycle)

	calls := executor.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"bash", "-c", "echo hello"}, calls[0].Cmd)
	assert.Equal(t, workDir, calls[0].Opts.WorkDir)
	assert.Equal(t, 120*time.Second, calls[0].Opts.Timeout)

	prompts := b.Prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[1], "## Current Phase: production")
	assert.Contains(t, prompts[2], "## Last Result\nhello")
	assert.Contains(t, prompts[2], "- Ran: echo hello...")
	assert.Contains(t, prompts[3], "Successfully wrote 13 bytes to "+filepath.Join(workDir, "app", "main.go"))

	data, err := os.ReadFile(filepath.Join(workDir, "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	audit, err := s.Mailbox.ReadAudit(s.Job.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "bash", audit[0].Type)
	assert.Equal(t, "echo hello", audit[0].Command)
	assert.Equal(t, "write", audit[1].Type)
	assert.FileExists(t, s.Mailbox.ExecutionLogPath(s.Job.ID))

	cp, err := s.Mailbox.LoadCheckpoint(s.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Cycle)
	assert.Equal(t, "run-test", cp.RunID)
	assert.Zero(t, rec.Count(events.JobBlocked))
}

func TestScriptCycleDenylistNeverShellsOut(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"```bash\nrm -rf /\n```",
		"```complete\nSUMMARY: gave up\n```",
	}, nil)
	executor := exec.NewMockExecutor("")

	res, err := NewScriptCycle(b, executor, t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Empty(t, executor.Calls())

	prompts := b.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "BLOCKED: Dangerous command rejected: rm -rf /")
}

func TestScriptCycleBashTimeoutAndTruncation(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"```bash\nsleep 999\n```",
		"```bash\nyes | head -c 5000\n```",
		"```complete\nSUMMARY: ok\n```",
	}, nil)
	executor := &exec.MockExecutor{Handler: func(_ context.Context, cmd []string, _ *exec.Opts) (exec.Result, error) {
		if strings.HasPrefix(cmd[2], "sleep") {
			return exec.Result{ExitCode: -1, TimedOut: true}, fmt.Errorf("%w after 2m0s: bash", exec.ErrTimeout)
		}
		return exec.Result{Stdout: strings.Repeat("y", 5000)}, nil
	}}

	_, err := NewScriptCycle(b, executor, t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)

	prompts := b.Prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[1], "## Last Result\nERROR: Command timed out")
	assert.Contains(t, prompts[2], strings.Repeat("y", 500))
	assert.NotContains(t, prompts[2], strings.Repeat("y", 501))

	audit, err := s.Mailbox.ReadAudit(s.Job.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Len(t, audit[1].Output, 500)
}

func TestScriptCycleAuditsSpawnErrors(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"```bash\nls\n```",
		"```complete\nSUMMARY: ok\n```",
	}, nil)
	executor := &exec.MockExecutor{Handler: func(context.Context, []string, *exec.Opts) (exec.Result, error) {
		return exec.Result{ExitCode: -1}, errors.New("chdir /missing: no such file or directory")
	}}

	_, err := NewScriptCycle(b, executor, t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, b.Prompts()[1], "ERROR: chdir /missing")

	audit, err := s.Mailbox.ReadAudit(s.Job.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "bash", audit[0].Type)
	assert.Equal(t, "ls", audit[0].Command)
	assert.Equal(t, -1, audit[0].ReturnCode)
	assert.Equal(t, 1, audit[0].Cycle)
}

func TestScriptCyclePausedReportIsMarkedDelivered(t *testing.T) {
	settings := fastSettings()
	settings.MaxCycles = 10
	s, _ := newTestSession(t, settings)
	var delivered []int
	s.Delivered = func(cycle int) {
		reports, _ := s.Mailbox.ListReports()
		for _, r := range reports {
			assert.NotEqual(t, cycle, r.Cycle, "marked before the report is written")
		}
		delivered = append(delivered, cycle)
	}
	b := brain.NewMockBrain("mock", []string{"still thinking"}, nil)
	b.Repeat = true

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, res.Outcome)
	assert.Equal(t, []int{10}, delivered, "periodic reports stay relayable")
}

func TestReportKeepsIDsUnique(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	assert.Equal(t, 5, s.Report(5, "build", mailbox.ReportInProgress, nil, ""))
	assert.Equal(t, 6, s.Notice(5, "build", mailbox.ReportStalled, nil, ""))
	assert.Equal(t, 7, s.Report(6, "build", mailbox.ReportInProgress, nil, ""))

	reports, _ := s.Mailbox.ListReports()
	require.Len(t, reports, 3)
	assert.Equal(t, mailbox.ReportStalled, reports[1].Status)
}

func TestScriptCycleRefusesEscapingWrites(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"```write:../outside.txt\nnope\n```",
		"```complete\nSUMMARY: ok\n```",
	}, nil)
	workDir := t.TempDir()

	_, err := NewScriptCycle(b, exec.NewMockExecutor(""), workDir).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, b.Prompts()[1], "ERROR writing file")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(workDir), "outside.txt"))
}

func TestScriptCycleInertResponse(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"I am not sure what to do.",
		"```complete\nSUMMARY: ok\n```",
	}, nil)

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Contains(t, b.Prompts()[1], "Claude said: I am not sure what to do....")
	assert.Contains(t, b.Prompts()[1], "- (No action extracted)")
}

func TestScriptCycleCapPausesAfterFiftyCycles(t *testing.T) {
	s, rec := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{"still thinking"}, nil)
	b.Repeat = true

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, res.Outcome)
	assert.Equal(t, 50, res.Cycle)
	assert.Len(t, b.Prompts(), 50)
	assert.Equal(t, mailbox.SessionPaused, s.State())

	reports, errs := s.Mailbox.ListReports()
	require.Empty(t, errs)
	require.Len(t, reports, 10)
	for i, r := range reports {
		assert.Equal(t, (i+1)*5, r.Cycle)
	}
	// Cycle 50 carries only the PAUSED report, not a periodic one.
	assert.Equal(t, mailbox.ReportPaused, reports[9].Status)
	assert.Equal(t, mailbox.ReportInProgress, reports[8].Status)
	assert.Contains(t, reports[9].Content, "/resume "+s.Job.ID)
	assert.Equal(t, 9, rec.Count(events.JobProgress))
	assert.FileExists(t, s.Mailbox.ExecutionLogPath(s.Job.ID))
}

func TestScriptCycleBlockerRoundTrip(t *testing.T) {
	s, rec := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", []string{
		"```blocked\nREASON: need the Stripe key\n```",
		"```complete\nSUMMARY: wired payments\n```",
	}, nil)

	answered := answerWhenBlocked(t, s, "sk_test_123")
	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	<-answered
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)

	prompts := b.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "User provided: sk_test_123")

	assert.False(t, s.Mailbox.HasOpenBlocker(s.Job.ID))
	assert.False(t, s.Mailbox.HasAnswer(s.Job.ID))
	assert.Equal(t, 1, rec.Count(events.JobAnswered))
	assert.Equal(t, mailbox.SessionRunning, s.State())
}

func TestScriptCycleAnswerTimeoutStalls(t *testing.T) {
	settings := fastSettings()
	settings.AnswerTimeout = 20 * time.Millisecond
	s, rec := newTestSession(t, settings)
	b := brain.NewMockBrain("mock", []string{"```blocked\nREASON: pick a colour\n```"}, nil)

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStalled, res.Outcome)
	assert.Equal(t, mailbox.SessionStalled, s.State())

	reminders := rec.OfKind(events.JobBlocked)
	require.Len(t, reminders, 2)
	assert.Contains(t, reminders[0].Message, "Reminder 1/2")
	assert.Contains(t, reminders[1].Message, "pick a colour")
	assert.Equal(t, 1, rec.Count(events.JobStalled))

	reports, _ := s.Mailbox.ListReports()
	require.Len(t, reports, 1)
	assert.Equal(t, mailbox.ReportStalled, reports[0].Status)

	// The blocker stays open so a late answer can still resume the job.
	assert.True(t, s.Mailbox.HasOpenBlocker(s.Job.ID))
}

func TestScriptCycleResumesPendingBlocker(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	require.NoError(t, s.Mailbox.RaiseBlocker(s.Job.ID, "which region?", 3))
	s.Checkpoint = &mailbox.Checkpoint{JobID: s.Job.ID, Phase: "build", Cycle: 3, Actions: []string{"Ran: ls..."}}
	b := brain.NewMockBrain("mock", []string{"```complete\nSUMMARY: deployed\n```"}, nil)

	answered := answerWhenBlocked(t, s, "eu-west-1")
	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	<-answered
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 4, res.Cycle)

	prompt := b.Prompts()[0]
	assert.Contains(t, prompt, "## Current Phase: build")
	assert.Contains(t, prompt, "- Ran: ls...")
	assert.Contains(t, prompt, "User provided: eu-west-1")
}

func TestSessionRejectsSecondBlocker(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	require.NoError(t, s.Mailbox.RaiseBlocker(s.Job.ID, "first question", 1))

	answered := answerWhenBlocked(t, s, "first answer")
	answer, err := s.Block(context.Background(), "second question", 2)
	<-answered
	require.NoError(t, err)
	assert.Equal(t, "first answer", answer)

	progress, err := s.Mailbox.ReadProgress(s.Job.ID)
	require.NoError(t, err)
	assert.Contains(t, progress, "second question")

	err = s.Mailbox.RaiseBlocker(s.Job.ID, "third", 3)
	require.NoError(t, err, "a new blocker is accepted once the first is answered")
	err = s.Mailbox.RaiseBlocker(s.Job.ID, "fourth", 3)
	assert.True(t, errors.Is(err, mailbox.ErrBlockerOpen))
}

func TestScriptCycleUsageLimitHandsOff(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock", nil, []error{fmt.Errorf("cli: %w", brain.ErrUsageLimit)})

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandoff, res.Outcome)
}

func TestScriptCycleBrainErrorIsFedBack(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	b := brain.NewMockBrain("mock",
		[]string{"", "```complete\nSUMMARY: ok\n```"},
		[]error{errors.New("connection reset"), nil})

	res, err := NewScriptCycle(b, exec.NewMockExecutor(""), t.TempDir()).Start(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Contains(t, b.Prompts()[1], "ERROR: connection reset")
}

func TestScriptCycleCancelled(t *testing.T) {
	s, _ := newTestSession(t, fastSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewScriptCycle(brain.NewMockBrain("mock", nil, nil), exec.NewMockExecutor(""), t.TempDir()).Start(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}
