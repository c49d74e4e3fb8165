package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omegaclaw/pkg/events"
)

func TestWriteMultipleEvents(t *testing.T) {
	tempDir := t.TempDir()

	writer, err := NewWriter(tempDir)
	require.NoError(t, err)
	defer writer.Close()

	ctx := context.Background()
	require.NoError(t, writer.Emit(ctx, events.New(events.JobStarted, "JOB-001", "started")))
	require.NoError(t, writer.Emit(ctx, events.New(events.JobBlocked, "JOB-001", "need a key").With("cycle", "3")))
	require.NoError(t, writer.Emit(ctx, events.New(events.JobCompleted, "JOB-001", "done")))

	got, err := ReadEvents(writer.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, events.JobStarted, got[0].Kind)
	assert.Equal(t, "3", got[1].Fields["cycle"])
	assert.Equal(t, "done", got[2].Message)
}

func TestDailyRotation(t *testing.T) {
	tempDir := t.TempDir()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	writer, err := NewWriter(tempDir)
	require.NoError(t, err)
	defer writer.Close()
	writer.now = func() time.Time { return day }

	ctx := context.Background()
	require.NoError(t, writer.Emit(ctx, events.New(events.JobProgress, "JOB-001", "before midnight")))
	first := writer.CurrentLogFile()

	day = day.Add(2 * time.Minute)
	require.NoError(t, writer.Emit(ctx, events.New(events.JobProgress, "JOB-001", "after midnight")))
	second := writer.CurrentLogFile()

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(tempDir, "events-2026-03-01.jsonl"), first)
	assert.Equal(t, filepath.Join(tempDir, "events-2026-03-02.jsonl"), second)

	files, err := ListLogFiles(tempDir)
	require.NoError(t, err)
	// The file opened at construction uses the real clock, so at least the two dated files exist.
	assert.GreaterOrEqual(t, len(files), 2)

	got, err := ReadEvents(second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "after midnight", got[0].Message)
}

func TestReadEmptyFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "events-2026-01-01.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	got, err := ReadEvents(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadCorruptLine(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "events-2026-01-01.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0644))

	_, err := ReadEvents(path)
	assert.Error(t, err)
}

func TestWriterClose(t *testing.T) {
	tempDir := t.TempDir()

	writer, err := NewWriter(tempDir)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	assert.Empty(t, writer.CurrentLogFile())
	require.NoError(t, writer.Close(), "closing twice should be harmless")
}

func TestConcurrentWrites(t *testing.T) {
	tempDir := t.TempDir()

	writer, err := NewWriter(tempDir)
	require.NoError(t, err)
	defer writer.Close()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ev := events.New(events.JobProgress, fmt.Sprintf("JOB-%03d", w), fmt.Sprintf("cycle %d", i))
				if err := writer.Emit(context.Background(), ev); err != nil {
					t.Errorf("emit failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := ReadEvents(writer.CurrentLogFile())
	require.NoError(t, err)
	assert.Len(t, got, workers*perWorker)
}

func TestWriterIsSink(t *testing.T) {
	var _ events.Sink = (*Writer)(nil)
}
