package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"omegaclaw/pkg/events"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/utils"
)

// Terminal geometry for interactive sessions.
const (
	ptyRows       = 50
	ptyCols       = 200
	readChunkSize = 4096
	loopTick      = 10 * time.Second
)

// Interactive drives the assistant through a pseudo-terminal, answering
// permission prompts and reacting to the protocol markers it prints.
type Interactive struct {
	claudePath string
	workDir    string
	args       []string
	tick       time.Duration
}

// NewInteractive creates the PTY strategy. args are passed to the assistant
// before the session starts; the instruction is typed into the terminal.
func NewInteractive(claudePath, workDir string, args ...string) *Interactive {
	if claudePath == "" {
		claudePath = "claude"
	}
	return &Interactive{claudePath: claudePath, workDir: workDir, args: args, tick: loopTick}
}

// Name implements Strategy.
func (it *Interactive) Name() string { return "interactive" }

// ptySession is one running child attached to a terminal.
type ptySession struct {
	cmd    *osexec.Cmd
	ptmx   *os.File
	chunks chan string
	done   chan struct{}
	stop   chan struct{}
	err    error
}

func (it *Interactive) spawn() (*ptySession, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	// Raw mode turns off echo so typed input never reads back as output.
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("failed to set pty raw mode: %w", err)
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: ptyRows, Cols: ptyCols}); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("failed to size pty: %w", err)
	}

	cmd := osexec.Command(it.claudePath, it.args...)
	cmd.Dir = it.workDir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("failed to start %s: %w", it.claudePath, err)
	}
	// The child holds its own copy of the slave side.
	_ = tty.Close()

	ps := &ptySession{
		cmd:    cmd,
		ptmx:   ptmx,
		chunks: make(chan string, 64),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go func() {
		ps.err = cmd.Wait()
		close(ps.done)
	}()
	go ps.read()
	return ps, nil
}

// read forwards terminal output until EOF. On Linux the master returns EIO
// once the child side is gone, which is treated as EOF.
func (ps *ptySession) read() {
	defer close(ps.chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := ps.ptmx.Read(buf)
		if n > 0 {
			select {
			case ps.chunks <- string(buf[:n]):
			case <-ps.stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (ps *ptySession) send(text string) error {
	_, err := io.WriteString(ps.ptmx, text)
	return err
}

// shutdown terminates the child's process group, escalating to SIGKILL
// after grace, and releases the terminal.
func (ps *ptySession) shutdown(grace time.Duration) {
	exec.TerminateGroup(ps.cmd.Process.Pid, ps.done, grace)
	<-ps.done
	close(ps.stop)
	_ = ps.ptmx.Close()
}

// Start implements Strategy.
func (it *Interactive) Start(ctx context.Context, s *Session) (Result, error) {
	ps, err := it.spawn()
	if err != nil {
		return Result{Outcome: OutcomeFailed, Summary: "could not start the assistant"}, err
	}
	defer ps.shutdown(s.Settings.KillGrace)

	prompt := BuildInteractivePrompt(s.Job.ID, s.Job.Path, s.Mailbox.ProgressPath(s.Job.ID))
	if err := ps.send(prompt + "\r"); err != nil {
		return Result{Outcome: OutcomeFailed, Summary: "could not send the instruction"}, fmt.Errorf("failed to write instruction: %w", err)
	}
	s.Logger.Info("Interactive session started for %s (pid %d)", s.Job.ID, ps.cmd.Process.Pid)

	watchdog := NewIdleWatchdog(s.Settings.MaxIdle, nil)
	watchdog.Start()
	defer watchdog.Stop()

	ticker := time.NewTicker(it.tick)
	defer ticker.Stop()
	lastBeat := time.Now()

	detector := NewMarkerDetector()
	var phases []string

	handle := func(det Detection) (Result, bool, error) {
		switch det.Marker {
		case MarkerPermission:
			return it.permission(ctx, s, ps, watchdog, len(phases))
		case MarkerBlocked:
			reason := det.Detail
			if reason == "" {
				reason = "Unknown blocker"
			}
			watchdog.Pause()
			answer, err := s.Block(ctx, reason, len(phases))
			watchdog.Resume()
			if res, stop := answerOutcome(err, len(phases)); stop {
				return res, true, nil
			}
			if err := ps.send(answer + "\r"); err != nil {
				return Result{Outcome: OutcomeFailed, Summary: "session closed"}, true, err
			}
		case MarkerPhaseComplete:
			phases = append(phases, "Completed: "+det.Detail)
			s.SetCycle(len(phases))
			s.Report(len(phases), det.Detail, mailbox.ReportInProgress, recent(phases, reportActions), "Continuing build...")
			s.Emit(ctx, events.JobProgress, fmt.Sprintf("📊 **Progress**: %s\n\nPhase complete: %s", s.Job.ID, det.Detail))
		case MarkerJobComplete:
			return Result{Outcome: OutcomeComplete, Summary: "Job completed in interactive session", Cycle: len(phases)}, true, nil
		case MarkerUsageLimit:
			return Result{Outcome: OutcomeHandoff, Summary: "usage limit", Cycle: len(phases)}, true, nil
		}
		return Result{}, false, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeCancelled, Summary: "cancelled", Cycle: len(phases)}, nil

		case <-watchdog.IdleCh():
			s.Logger.Warn("No output from %s for %s, terminating", s.Job.ID, s.Settings.MaxIdle)
			return Result{Outcome: OutcomeFailed, Summary: "no output", Cycle: len(phases)}, nil

		case <-ticker.C:
			if time.Since(lastBeat) >= s.Settings.Heartbeat {
				lastBeat = time.Now()
				it.heartbeat(s, watchdog.IdleFor())
			}

		case chunk, ok := <-ps.chunks:
			if !ok {
				for _, det := range detector.Flush() {
					if res, stop, err := handle(det); stop {
						return res, err
					}
				}
				// Reaching EOF means no completion marker was seen.
				<-ps.done
				s.Logger.Warn("Interactive session for %s ended without completion: %v", s.Job.ID, ps.err)
				return Result{Outcome: OutcomeFailed, Summary: "session ended", Cycle: len(phases)}, nil
			}
			watchdog.RecordActivity()
			for _, det := range detector.Feed(chunk) {
				s.Logger.Debug("Marker %s in %s: %s", det.Marker, s.Job.ID, utils.Truncate(det.Detail, 80))
				if res, stop, err := handle(det); stop {
					return res, err
				}
			}
		}
	}
}

// permission answers a confirmation prompt according to the user's autonomy
// mode. Manual mode turns the prompt into a blocker.
func (it *Interactive) permission(ctx context.Context, s *Session, ps *ptySession, w *IdleWatchdog, cycle int) (Result, bool, error) {
	switch s.autonomy() {
	case "manual":
		w.Pause()
		answer, err := s.Block(ctx, "The assistant is asking for permission. Reply y to allow or n to deny.", cycle)
		w.Resume()
		if res, stop := answerOutcome(err, cycle); stop {
			return res, true, nil
		}
		reply := "n"
		if isAffirmative(answer) {
			reply = "y"
		}
		if err := ps.send(reply + "\r"); err != nil {
			return Result{Outcome: OutcomeFailed, Summary: "session closed"}, true, err
		}
	case "security":
		s.Logger.Warn("⚠️ Auto-approving permission prompt for %s", s.Job.ID)
		fallthrough
	default:
		if err := ps.send("y\r"); err != nil {
			return Result{Outcome: OutcomeFailed, Summary: "session closed"}, true, err
		}
	}
	return Result{}, false, nil
}

func (it *Interactive) heartbeat(s *Session, idle time.Duration) {
	line := fmt.Sprintf("\n- %s heartbeat: session alive, idle %s\n",
		time.Now().UTC().Format(time.RFC3339), idle.Truncate(time.Second))
	if err := s.Mailbox.AppendProgress(s.Job.ID, line); err != nil {
		s.Logger.Warn("Failed to append heartbeat for %s: %v", s.Job.ID, err)
	}
}

// answerOutcome maps an AwaitAnswer error to a terminal result.
func answerOutcome(err error, cycle int) (Result, bool) {
	switch {
	case err == nil:
		return Result{}, false
	case errors.Is(err, ErrStalled):
		return Result{Outcome: OutcomeStalled, Summary: "no answer", Cycle: cycle}, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{Outcome: OutcomeCancelled, Summary: "cancelled", Cycle: cycle}, true
	default:
		return Result{Outcome: OutcomeFailed, Summary: "could not raise blocker", Cycle: cycle}, true
	}
}

func isAffirmative(answer string) bool {
	switch strings.ToLower(utils.OneLine(answer)) {
	case "y", "yes", "allow", "ok":
		return true
	}
	return false
}
