package onboard

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/persistence"
)

func newTestOnboarding(t *testing.T) (*Onboarding, *mailbox.Mailbox, *persistence.Store) {
	t.Helper()
	mb, err := mailbox.Open(t.TempDir())
	require.NoError(t, err)
	store, err := persistence.Open(filepath.Join(t.TempDir(), "omegaclaw.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(mb, store), mb, store
}

func TestDialogueCreatesPendingJob(t *testing.T) {
	o, mb, store := newTestOnboarding(t)
	const user = int64(42)

	reply, err := o.Start(user)
	require.NoError(t, err)
	assert.Contains(t, reply, "Step 1/4")
	assert.True(t, o.Active(user))

	steps := []struct {
		answer string
		next   string
	}{
		{"Todo*App!", "Step 2/4"},
		{"Busy parents tracking chores", "Step 3/4"},
		{"web-app", "Step 4/4"},
	}
	for _, s := range steps {
		reply, err = o.Handle(user, s.answer)
		require.NoError(t, err)
		assert.Contains(t, reply, s.next)
	}

	reply, err = o.Handle(user, "2")
	require.NoError(t, err)
	assert.Contains(t, reply, "JOB-001 Dispatched")
	assert.Contains(t, reply, "**Project**: TodoApp")
	assert.Contains(t, reply, `**Kit**: web-app`)
	assert.Contains(t, reply, "QUICK START")
	assert.False(t, o.Active(user))

	job, err := mb.ReadJob("JOB-001")
	require.NoError(t, err)
	assert.Equal(t, mailbox.StatusPending, job.Status)
	assert.Equal(t, "TodoApp", job.Name)
	assert.Equal(t, "web-app", job.Kit)
	assert.Equal(t, mailbox.ModeQuickStart, job.Mode)
	assert.Equal(t, "Busy parents tracking chores", job.Audience)
	assert.Equal(t, user, job.UserID)
	assert.Contains(t, job.Content, "**STATUS**: PENDING")

	stored, err := store.GetJob("JOB-001")
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPending, stored.Status)
	assert.Equal(t, user, stored.UserID)
}

func TestCancelMidway(t *testing.T) {
	o, mb, _ := newTestOnboarding(t)
	_, err := o.Start(1)
	require.NoError(t, err)
	_, err = o.Handle(1, "Shop")
	require.NoError(t, err)

	reply, err := o.Handle(1, "abort")
	require.NoError(t, err)
	assert.Equal(t, CancelledMessage, reply)
	assert.False(t, o.Active(1))

	jobs, errs := mb.ListJobs()
	assert.Empty(t, errs)
	assert.Empty(t, jobs)
}

func TestInvalidNameCreatesNoJob(t *testing.T) {
	o, mb, _ := newTestOnboarding(t)
	_, err := o.Start(1)
	require.NoError(t, err)
	for _, a := range []string{"!!!", "anyone", "api"} {
		_, err = o.Handle(1, a)
		require.NoError(t, err)
	}
	reply, err := o.Handle(1, "3")
	require.NoError(t, err)
	assert.Contains(t, reply, "Invalid project name")
	assert.False(t, o.Active(1))

	jobs, _ := mb.ListJobs()
	assert.Empty(t, jobs)
}

func TestUsersAreIndependent(t *testing.T) {
	o, _, _ := newTestOnboarding(t)
	_, err := o.Start(1)
	require.NoError(t, err)
	assert.True(t, o.Active(1))
	assert.False(t, o.Active(2))

	_, err = o.Handle(2, "hello")
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Todo App", "Todo App"},
		{"  my_app-2 ", "my_app-2"},
		{"rm -rf /; echo", "rm -rf  echo"},
		{"<script>", "script"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
		{"ünïcode", "ncode"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1", mailbox.ModeFullDiscovery},
		{"Full discovery please", mailbox.ModeFullDiscovery},
		{"2", mailbox.ModeQuickStart},
		{"quick", mailbox.ModeQuickStart},
		{"3", mailbox.ModeJustBuild},
		{"just do it", mailbox.ModeJustBuild},
		{"whatever", mailbox.ModeQuickStart},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMode(tt.in), tt.in)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b \*c\* \[d\]`, EscapeMarkdown("a_b *c* [d]"))
}
