package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottmaran/lux-collector/internal/jsonl"
)

func TestNormalizeSplitsCommonFieldsAndDetails(t *testing.T) {
	m := New(Config{})
	row := jsonl.Row{
		"pid":   float64(10),
		"comm":  "bash",
		"cmd":   "pwd",
		"ts":    "2026-01-01T00:00:00.000Z",
		"path":  "/tmp/x",
	}
	out, ts := m.normalize(row, "audit")
	assert.Equal(t, "audit", out["source"])
	assert.Equal(t, float64(10), out["pid"])
	details, ok := out.GetMap("details")
	require.True(t, ok)
	assert.Equal(t, "pwd", details["cmd"])
	assert.Equal(t, "/tmp/x", details["path"])
	assert.False(t, ts.IsZero())
}

func TestNormalizeKeepsExplicitSourceOverDefault(t *testing.T) {
	m := New(Config{})
	row := jsonl.Row{"source": "ebpf"}
	out, _ := m.normalize(row, "audit")
	assert.Equal(t, "ebpf", out["source"])
}

func TestLessSortsBySourceThenPIDOnTieWhenConfigured(t *testing.T) {
	m := New(Config{})
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []mergedRow{
		{row: jsonl.Row{"source": "ebpf", "pid": float64(2)}, ts: ts, seq: 1},
		{row: jsonl.Row{"source": "audit", "pid": float64(5)}, ts: ts, seq: 2},
	}
	less := m.less(rows)
	assert.True(t, less(1, 0), "audit/pid5 should sort before ebpf/pid2 on a tied timestamp")
}

func TestLessFallsBackToInsertionOrderForTSStrategy(t *testing.T) {
	var cfg Config
	cfg.Sorting.Strategy = SortTS
	m := New(cfg)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []mergedRow{
		{row: jsonl.Row{"source": "zzz"}, ts: ts, seq: 1},
		{row: jsonl.Row{"source": "aaa"}, ts: ts, seq: 2},
	}
	less := m.less(rows)
	assert.True(t, less(0, 1), "ts-only strategy should preserve arrival order on a tie, ignoring source")
}
