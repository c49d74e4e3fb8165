package wizard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/persistence"
)

func newTestWizard(t *testing.T) (*Wizard, *persistence.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.Open(filepath.Join(dir, "omegaclaw.db"), "wizard-pass")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	w := New(store, nil, filepath.Join(dir, "mcps"), filepath.Join(dir, ".env"))
	return w, store, dir
}

func TestDefaultBlueprints(t *testing.T) {
	bps := DefaultBlueprints()
	assert.Equal(t, []string{"github", "supabase"}, bps.IDs())
	assert.Len(t, bps["supabase"].Questions, 2)
	assert.Equal(t, "SUPABASE_URL", bps["supabase"].Questions[0].Key)

	id, ok := bps.Match("please install the Supabase mcp")
	assert.True(t, ok)
	assert.Equal(t, "supabase", id)
	_, ok = bps.Match("install postgres")
	assert.False(t, ok)
}

func TestSupabaseFlow(t *testing.T) {
	w, store, dir := newTestWizard(t)
	const user = int64(7)

	reply, err := w.Start(user, "supabase")
	require.NoError(t, err)
	assert.Contains(t, reply, "Supabase Setup (1/2)")
	assert.Contains(t, reply, "cancel")
	assert.True(t, w.Active(user))

	reply, err = w.Handle(user, "  https://xyz.supabase.co ")
	require.NoError(t, err)
	assert.Contains(t, reply, "Supabase Setup (2/2)")

	state, err := store.LoadWizardState(user)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Step)
	assert.Equal(t, "https://xyz.supabase.co", state.Answers["SUPABASE_URL"])

	reply, err = w.Handle(user, "service-key-o'neil")
	require.NoError(t, err)
	assert.Contains(t, reply, "Supabase PostgreSQL MCP configured")
	assert.False(t, w.Active(user))

	raw, err := os.ReadFile(filepath.Join(dir, "mcps", "supabase-mcp.json"))
	require.NoError(t, err)
	var cfg struct {
		MCPServers map[string]struct {
			Command string            `json:"command"`
			Args    []string          `json:"args"`
			Env     map[string]string `json:"env"`
		} `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(raw, &cfg))
	server := cfg.MCPServers["supabase"]
	assert.Equal(t, "npx", server.Command)
	assert.Equal(t, []string{"-y", "@supabase/mcp", "start"}, server.Args)
	assert.Equal(t, "https://xyz.supabase.co", server.Env["SUPABASE_URL"])
	assert.Equal(t, "service-key-o'neil", server.Env["SUPABASE_SERVICE_ROLE_KEY"])

	env, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "# Auto-configured by supabase MCP wizard")
	assert.Contains(t, string(env), "SUPABASE_URL='https://xyz.supabase.co'\n")
	assert.Contains(t, string(env), `SUPABASE_KEY='service-key-o'\''neil'`)
}

func TestCancelWords(t *testing.T) {
	for _, word := range []string{"cancel", " STOP ", "Abort"} {
		t.Run(word, func(t *testing.T) {
			w, _, dir := newTestWizard(t)
			_, err := w.Start(1, "github")
			require.NoError(t, err)

			reply, err := w.Handle(1, word)
			require.NoError(t, err)
			assert.Equal(t, CancelledMessage, reply)
			assert.False(t, w.Active(1))
			_, statErr := os.Stat(filepath.Join(dir, "mcps", "github-mcp.json"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestStartUnknownBlueprint(t *testing.T) {
	w, _, _ := newTestWizard(t)
	_, err := w.Start(1, "postgres")
	assert.Error(t, err)
	assert.False(t, w.Active(1))
}

func TestHandleWithoutDialogue(t *testing.T) {
	w, _, _ := newTestWizard(t)
	_, err := w.Handle(1, "hello")
	assert.Error(t, err)
}

func TestAnswersAreSealedAtRest(t *testing.T) {
	w, store, _ := newTestWizard(t)
	_, err := w.Start(3, "github")
	require.NoError(t, err)
	_, err = w.Handle(3, "ghp_secretvalue123")
	require.NoError(t, err)

	// Completed dialogues leave nothing behind.
	_, err = store.LoadWizardState(3)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	_, err = w.Start(3, "supabase")
	require.NoError(t, err)
	_, err = w.Handle(3, "https://secret.supabase.co")
	require.NoError(t, err)

	var answers string
	require.NoError(t, store.DB().QueryRow(`SELECT answers FROM wizard_state WHERE user_id = 3`).Scan(&answers))
	assert.False(t, strings.Contains(answers, "secret.supabase.co"), "answers must be encrypted in the database")
}

func TestLoadBlueprintsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: stripe
  questions:
    - key: STRIPE_KEY
      prompt: "Stripe key?"
  template:
    mcpServers:
      stripe:
        command: npx
        env:
          STRIPE_SECRET_KEY: "{STRIPE_KEY}"
`), 0o644))

	bps, err := LoadBlueprints(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "stripe", "supabase"}, bps.IDs())
	assert.Equal(t, "stripe", bps["stripe"].Name)

	require.NoError(t, os.WriteFile(path, []byte("- id: broken\n"), 0o644))
	_, err = LoadBlueprints(path)
	assert.Error(t, err)
}
