package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/dispatch"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/gui"
	"omegaclaw/pkg/runner"
	"omegaclaw/pkg/telegram"
)

func TestStrategyFactory(t *testing.T) {
	cfg := testConfig(t, "")
	f := newStrategyFactory(cfg, exec.NewMockExecutor(""), nil)

	for _, mode := range []string{config.ModeSimple, config.ModeInteractive, config.ModeScript} {
		s, err := f.Strategy(mode)
		require.NoError(t, err, mode)
		assert.Equal(t, mode, s.Name())
	}

	_, err := f.Strategy(runner.ModeGUI)
	assert.ErrorIs(t, err, errGUIDisabled)

	_, err = f.Strategy("telepathy")
	assert.Error(t, err)
}

func TestStrategyFactoryGUI(t *testing.T) {
	cfg := testConfig(t, "")
	controller := gui.NewController(gui.NewFakeActuator(), nil, gui.Options{})
	f := newStrategyFactory(cfg, exec.NewMockExecutor(""), controller)

	s, err := f.Strategy(runner.ModeGUI)
	require.NoError(t, err)
	assert.Equal(t, "gui", s.Name())
}

func TestScriptStrategyNeedsBrain(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")
	cfg := testConfig(t, "brain:\n  backends: [anthropic]\n")
	f := newStrategyFactory(cfg, exec.NewMockExecutor(""), nil)

	_, err := f.Strategy(config.ModeScript)
	require.Error(t, err)

	s, err := f.Strategy(config.ModeSimple)
	require.NoError(t, err)
	assert.Equal(t, "simple", s.Name())
}

func TestGUIControllerDisabledByDefault(t *testing.T) {
	cfg := testConfig(t, "")
	c, err := newGUIController(cfg, exec.NewMockExecutor(""))
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg = testConfig(t, "gui:\n  enabled: true\n")
	c, err = newGUIController(cfg, exec.NewMockExecutor(""))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestDaemonRoutesTelegramMessages(t *testing.T) {
	cfg := testConfig(t, "")
	d, err := newDaemon(cfg)
	require.NoError(t, err)
	defer d.close()

	reply, err := d.handle(context.Background(), telegram.Incoming{UserID: 42, ChatID: 42, Text: "/help"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.HelpText, reply)

	entries, err := d.store.RecentCommands(42, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/help", entries[0].Message)
}

func TestLoadSecrets(t *testing.T) {
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })

	cfg := testConfig(t, "")
	require.NoError(t, loadSecrets(cfg), "no secrets file is fine")

	require.NoError(t, config.EncryptSecretsFile(cfg.WorkDir, "hunter2", map[string]string{"OPENAI_API_KEY": "sk-test"}))
	cfg.Database.Passphrase = ""
	assert.Error(t, loadSecrets(cfg), "a secrets file needs a passphrase")

	cfg.Database.Passphrase = "wrong"
	assert.ErrorIs(t, loadSecrets(cfg), config.ErrDecrypt)

	cfg.Database.Passphrase = "hunter2"
	require.NoError(t, loadSecrets(cfg))
	got, err := config.GetSecret("OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got)
}
