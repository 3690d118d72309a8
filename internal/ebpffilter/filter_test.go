package ebpffilter

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
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

// TestRunBatchOnlyEmitsBootstrapOwnedPID covers scenario S4: an unrelated
// pid (no agent ownership established by the bootstrap audit sweep) is
// held in the pending buffer and never reaches the output in batch mode.
func TestRunBatchOnlyEmitsBootstrapOwnedPID(t *testing.T) {
	root := t.TempDir()
	auditLog := filepath.Join(root, "audit.log")
	ebpfLog := filepath.Join(root, "ebpf.jsonl")
	outputJSONL := filepath.Join(root, "filtered.jsonl")

	auditRaw := `type=SYSCALL msg=audit(1700000000.000:1): arch=c000003e syscall=59 success=yes exit=0 ppid=1 pid=100 uid=1000 gid=1000 comm="bash" exe="/bin/bash" key="exec_key"
type=EXECVE msg=audit(1700000000.000:1): argc=1 a0="bash"
`
	require.NoError(t, os.WriteFile(auditLog, []byte(auditRaw), 0o644))

	ebpfRaw := strings.Join([]string{
		`{"event_type":"net_connect","pid":100,"ts":"2026-01-01T00:00:01.000Z","comm":"bash","net":{"dst_ip":"10.0.0.1","dst_port":443,"protocol":"tcp"}}`,
		`{"event_type":"net_connect","pid":999,"ts":"2026-01-01T00:00:01.000Z","comm":"other","net":{"dst_ip":"10.0.0.2","dst_port":443,"protocol":"tcp"}}`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(ebpfLog, []byte(ebpfRaw), 0o644))

	var cfg Config
	cfg.Input.AuditLog = auditLog
	cfg.Input.EBPFLog = ebpfLog
	cfg.Output.JSONL = outputJSONL
	cfg.SessionsDir = filepath.Join(root, "sessions")
	cfg.JobsDir = filepath.Join(root, "jobs")
	cfg.Ownership.ExecKeys = []string{"exec_key"}
	uid := 1000
	cfg.Ownership.UID = &uid
	cfg.PendingBuffer.Enabled = true

	log := collectorlog.New("test", discardWriteCloser{})
	f := New(cfg, false, 0, log)
	require.NoError(t, f.Run(context.Background()))

	rows := readRows(t, outputJSONL)
	require.Len(t, rows, 1)
	pid, ok := rows[0].GetInt("pid")
	require.True(t, ok)
	assert.Equal(t, 100, pid)
	source, ok := rows[0].GetString("source")
	require.True(t, ok)
	assert.Equal(t, "ebpf", source)
	assert.Equal(t, true, rows[0]["agent_owned"])
}
