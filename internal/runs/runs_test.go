package runs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func TestIndexLookupByTSPrefersSessionsOverJobs(t *testing.T) {
	root := t.TempDir()
	sessionsDir := filepath.Join(root, "sessions")
	jobsDir := filepath.Join(root, "jobs")

	rootPID := 100
	writeJSON(t, filepath.Join(sessionsDir, "sess-1", "meta.json"), sessionMeta{
		SessionID: "sess-1",
		StartedAt: "2026-01-01T00:00:00Z",
		RootPID:   &rootPID,
	})
	writeJSON(t, filepath.Join(jobsDir, "job-1", "input.json"), jobInput{
		JobID:     "job-1",
		StartedAt: "2026-01-01T00:00:00Z",
	})

	idx := NewIndex(sessionsDir, jobsDir, 1.0)
	idx.ForceRefresh()

	sessionID, jobID := idx.LookupByTS(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	require.Equal(t, "sess-1", sessionID)
	require.Equal(t, "", jobID)
}

func TestIndexLookupByTSFallsBackToJob(t *testing.T) {
	root := t.TempDir()
	jobsDir := filepath.Join(root, "jobs")
	writeJSON(t, filepath.Join(jobsDir, "job-1", "input.json"), jobInput{
		JobID:     "job-1",
		StartedAt: "2026-01-01T00:00:00Z",
	})

	idx := NewIndex(filepath.Join(root, "sessions"), jobsDir, 1.0)
	idx.ForceRefresh()

	sessionID, jobID := idx.LookupByTS(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	require.Equal(t, "unknown", sessionID)
	require.Equal(t, "job-1", jobID)
}

func TestIndexLookupByTSUnattributedBeforeAnyRun(t *testing.T) {
	root := t.TempDir()
	idx := NewIndex(filepath.Join(root, "sessions"), filepath.Join(root, "jobs"), 1.0)
	idx.ForceRefresh()

	sessionID, jobID := idx.LookupByTS(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "unknown", sessionID)
	require.Equal(t, "", jobID)
}

func TestIndexLookupByRootPIDPrefersNewerJobOverOlderSession(t *testing.T) {
	root := t.TempDir()
	sessionsDir := filepath.Join(root, "sessions")
	jobsDir := filepath.Join(root, "jobs")

	pid := 200
	writeJSON(t, filepath.Join(sessionsDir, "sess-old", "meta.json"), sessionMeta{
		SessionID: "sess-old",
		StartedAt: "2026-01-01T00:00:00Z",
		RootPID:   &pid,
	})
	writeJSON(t, filepath.Join(jobsDir, "job-new", "input.json"), jobInput{
		JobID:     "job-new",
		StartedAt: "2026-01-01T00:05:00Z",
		RootPID:   &pid,
	})

	idx := NewIndex(sessionsDir, jobsDir, 1.0)
	idx.ForceRefresh()

	run, ok, isSession := idx.LookupByRootPID(pid)
	require.True(t, ok)
	require.False(t, isSession)
	require.Equal(t, "job-new", run.ID)
}

func TestLoadSessionsSkipsUnparseableEntries(t *testing.T) {
	root := t.TempDir()
	sessionsDir := filepath.Join(root, "sessions")
	require.NoError(t, os.MkdirAll(filepath.Join(sessionsDir, "bad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionsDir, "bad", "meta.json"), []byte("not json"), 0o644))

	out := loadSessions(sessionsDir)
	require.Empty(t, out)
}
