package auditfilter

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/jsonl"
)

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

func readRows(t *testing.T, path string) []jsonl.Row {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var rows []jsonl.Row
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		row, err := jsonl.Decode(sc.Bytes())
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

// TestRunBatchParentInheritedExecAttribution covers scenario S1: a child
// process whose own uid does not match the agent-ownership gate still gets
// attributed because its parent pid was already owned.
func TestRunBatchParentInheritedExecAttribution(t *testing.T) {
	root := t.TempDir()
	auditLog := filepath.Join(root, "audit.log")
	outputJSONL := filepath.Join(root, "filtered.jsonl")

	raw := `type=SYSCALL msg=audit(1700000000.000:1): arch=c000003e syscall=59 success=yes exit=0 ppid=1 pid=100 uid=1000 gid=1000 comm="bash" exe="/bin/bash" key="exec_key"
type=EXECVE msg=audit(1700000000.000:1): argc=1 a0="bash"
type=SYSCALL msg=audit(1700000001.000:2): arch=c000003e syscall=59 success=yes exit=0 ppid=100 pid=101 uid=2000 gid=2000 comm="sh" exe="/bin/sh" key="exec_key"
type=EXECVE msg=audit(1700000001.000:2): argc=1 a0="sh"
`
	require.NoError(t, os.WriteFile(auditLog, []byte(raw), 0o644))

	var cfg Config
	cfg.Input.AuditLog = auditLog
	cfg.Output.JSONL = outputJSONL
	cfg.SessionsDir = filepath.Join(root, "sessions")
	cfg.JobsDir = filepath.Join(root, "jobs")
	cfg.Exec.IncludeKeys = []string{"exec_key"}
	uid := 1000
	cfg.AgentOwnership.UID = &uid

	log := collectorlog.New("test", discardWriteCloser{})
	f := New(cfg, false, 0, log)
	require.NoError(t, f.Run(context.Background()))

	rows := readRows(t, outputJSONL)
	require.Len(t, rows, 2)

	first, ok := rows[0].GetBool("agent_owned")
	require.True(t, ok)
	assert.True(t, first)

	second, ok := rows[1].GetBool("agent_owned")
	require.True(t, ok)
	assert.True(t, second, "child pid should inherit ownership from its already-owned parent")

	comm, _ := rows[1].GetString("comm")
	assert.Equal(t, "sh", comm)
}

// TestRunBatchNonAgentUIDWithoutOwnedParentIsDropped covers the negative
// side of S1/S4: an exec from an unrelated uid with no owned parent never
// appears in the output.
func TestRunBatchNonAgentUIDWithoutOwnedParentIsDropped(t *testing.T) {
	root := t.TempDir()
	auditLog := filepath.Join(root, "audit.log")
	outputJSONL := filepath.Join(root, "filtered.jsonl")

	raw := `type=SYSCALL msg=audit(1700000000.000:1): arch=c000003e syscall=59 success=yes exit=0 ppid=1 pid=200 uid=9999 gid=9999 comm="bash" exe="/bin/bash" key="exec_key"
type=EXECVE msg=audit(1700000000.000:1): argc=1 a0="bash"
`
	require.NoError(t, os.WriteFile(auditLog, []byte(raw), 0o644))

	var cfg Config
	cfg.Input.AuditLog = auditLog
	cfg.Output.JSONL = outputJSONL
	cfg.SessionsDir = filepath.Join(root, "sessions")
	cfg.JobsDir = filepath.Join(root, "jobs")
	cfg.Exec.IncludeKeys = []string{"exec_key"}
	uid := 1000
	cfg.AgentOwnership.UID = &uid

	log := collectorlog.New("test", discardWriteCloser{})
	f := New(cfg, false, 0, log)
	require.NoError(t, f.Run(context.Background()))

	rows := readRows(t, outputJSONL)
	assert.Empty(t, rows)
}
