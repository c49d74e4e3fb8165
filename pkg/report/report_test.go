package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
)

func newMailbox(t *testing.T) *mailbox.Mailbox {
	t.Helper()
	mb, err := mailbox.Open(t.TempDir())
	require.NoError(t, err)
	return mb
}

func createJob(t *testing.T, mb *mailbox.Mailbox, name string) *mailbox.Job {
	t.Helper()
	job, err := mb.CreateJob(mailbox.NewJob{Name: name, Kit: "api", Mode: mailbox.ModeJustBuild})
	require.NoError(t, err)
	return job
}

func TestHiveFromBoard(t *testing.T) {
	mb := newMailbox(t)
	board := strings.Repeat("x", 700)
	require.NoError(t, os.WriteFile(filepath.Join(mb.Root(), BoardFile), []byte(board), 0o644))

	out := New(mb, nil).Hive()
	assert.Contains(t, out, "🐝 **Hive Status**")
	assert.Contains(t, out, strings.Repeat("x", 600))
	assert.NotContains(t, out, strings.Repeat("x", 601))
}

func TestHiveFromMailboxCounts(t *testing.T) {
	mb := newMailbox(t)
	r := New(mb, nil)
	assert.Contains(t, r.Hive(), "Idle")

	a := createJob(t, mb, "Alpha")
	createJob(t, mb, "Beta")
	require.NoError(t, mb.SetStatus(a.ID, mailbox.StatusBuilding))
	require.NoError(t, mb.RaiseBlocker(a.ID, "need API key", 3))

	out := r.Hive()
	assert.Contains(t, out, "PENDING: 1")
	assert.Contains(t, out, "BUILDING: 1")
	assert.Contains(t, out, "COMPLETE: 0")
	assert.Contains(t, out, "Open blockers: 1 (1 not yet relayed)")
}

func TestJobsFromStore(t *testing.T) {
	mb := newMailbox(t)
	store, err := persistence.Open(filepath.Join(t.TempDir(), "omegaclaw.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := New(mb, store)
	assert.Equal(t, "📋 **Job History**: No jobs recorded yet.", r.Jobs())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range []string{persistence.StatusComplete, persistence.StatusFailed, persistence.StatusBuilding} {
		require.NoError(t, store.UpsertJob(&persistence.Job{
			ID:        "JOB-00" + string(rune('1'+i)),
			Name:      "App " + st,
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	out := r.Jobs()
	assert.Contains(t, out, "(last 3)")
	assert.Contains(t, out, "✅ **JOB-001**")
	assert.Contains(t, out, "❌ **JOB-002**")
	assert.Less(t, strings.Index(out, "JOB-003"), strings.Index(out, "JOB-001"), "newest first")
}

func TestJobsFallsBackToMailbox(t *testing.T) {
	mb := newMailbox(t)
	for i := 0; i < 12; i++ {
		createJob(t, mb, "App")
	}
	out := New(mb, nil).Jobs()
	assert.Contains(t, out, "(last 10)")
	assert.Contains(t, out, "⏳ **JOB-012**")
	assert.NotContains(t, out, "JOB-002")
}

func TestInbox(t *testing.T) {
	mb := newMailbox(t)
	r := New(mb, nil)
	assert.Contains(t, r.Inbox(), "No pending jobs")

	a := createJob(t, mb, "Alpha")
	createJob(t, mb, "Beta")
	require.NoError(t, mb.SetStatus(a.ID, mailbox.StatusBuilding))

	out := r.Inbox()
	assert.Contains(t, out, "(1 jobs)")
	assert.Contains(t, out, "• JOB-002 Beta")
	assert.NotContains(t, out, "Alpha")
}

func TestFull(t *testing.T) {
	r := New(newMailbox(t), nil)
	r.now = func() time.Time { return time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC) }
	out := r.Full()
	assert.True(t, strings.HasPrefix(out, "📊 **Full Report** (09:30 04/03/2026)"))
	assert.Contains(t, out, "Hive")
	assert.Contains(t, out, "Job History")
}
