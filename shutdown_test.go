package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/config"
)

// testConfig writes a minimal config rooted in a temp dir and loads it.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "omegaclaw.yaml")
	body := "work_dir: " + filepath.Join(dir, "hive") + "\n" +
		"project_dir: " + dir + "\n" +
		"invoker:\n  mode: script\n  poll_interval: 50ms\n" +
		"telegram:\n  allowed_users: [42]\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestGracefulShutdown(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(t, "admin:\n  addr: "+addr+"\n")

	d, err := newDaemon(cfg)
	require.NoError(t, err)
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx, false) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz") //nolint:noctx // test probe
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}

	_, err = http.Get("http://" + addr + "/healthz") //nolint:noctx // test probe
	assert.Error(t, err, "admin server should be closed")
}
