// Package timeline implements the Timeline Merger (C6): normalizing
// filtered audit and eBPF-summary rows into a common shape and producing
// one totally-ordered, stably-sorted output stream.
package timeline

import (
	"bufio"
	"os"
	"sort"
	"time"

	"github.com/scottmaran/lux-collector/internal/jsonl"
	"github.com/scottmaran/lux-collector/internal/schemaevt"
)

// commonFields lists the top-level keys a normalized row retains; every
// other input key is moved under a `details` sub-object.
var commonFields = map[string]bool{
	"schema_version": true,
	"session_id":     true,
	"job_id":         true,
	"ts":             true,
	"source":         true,
	"event_type":     true,
	"pid":            true,
	"ppid":           true,
	"uid":            true,
	"gid":            true,
	"comm":           true,
	"exe":            true,
	"agent_owned":    true,
}

type Merger struct {
	cfg Config
}

func New(cfg Config) *Merger {
	return &Merger{cfg: cfg}
}

func (m *Merger) schemaVersion() string {
	if m.cfg.SchemaVersion != "" {
		return m.cfg.SchemaVersion
	}
	return schemaevt.TimelineFilteredSchema
}

type mergedRow struct {
	row jsonl.Row
	ts  time.Time
	seq int
}

// Run reads every configured input file, normalizes each row, sorts the
// combined stream, and writes it atomically to the configured output.
func (m *Merger) Run() error {
	var merged []mergedRow
	seq := 0

	for _, in := range m.cfg.Inputs {
		f, err := os.Open(in.Path)
		if err != nil {
			// A missing upstream file contributes nothing rather than
			// failing the merge; C3/C4/C5 may not have run yet in a
			// partial pipeline invocation.
			continue
		}
		r := bufio.NewReader(f)
		for {
			line, rerr := r.ReadString('\n')
			if len(line) > 0 {
				if row, err := jsonl.Decode([]byte(line)); err == nil {
					norm, ts := m.normalize(row, in.Source)
					seq++
					merged = append(merged, mergedRow{row: norm, ts: ts, seq: seq})
				}
			}
			if rerr != nil {
				break
			}
		}
		f.Close()
	}

	sort.SliceStable(merged, m.less(merged))

	rows := make([]interface{}, len(merged))
	for i, mr := range merged {
		rows[i] = mr.row
	}
	return jsonl.WriteBatch(m.cfg.Output.JSONL, rows)
}

// normalize splits row into its common fields plus a details sub-object,
// defaulting `source` to defaultSource when absent, and returns the row's
// parsed ts (the zero time if unparseable, which sorts first).
func (m *Merger) normalize(row jsonl.Row, defaultSource string) (jsonl.Row, time.Time) {
	out := jsonl.Row{"schema_version": m.schemaVersion()}
	details := map[string]interface{}{}
	for k, v := range row {
		if k == "schema_version" {
			continue
		}
		if commonFields[k] {
			out[k] = v
		} else {
			details[k] = v
		}
	}
	if _, ok := out["source"]; !ok || out["source"] == "" {
		out["source"] = defaultSource
	}
	out["details"] = details

	ts := time.Time{}
	if tsStr, ok := out.GetString("ts"); ok {
		if parsed, err := time.Parse(schemaevt.TimeLayout, tsStr); err == nil {
			ts = parsed
		} else if parsed, err := time.Parse(time.RFC3339Nano, tsStr); err == nil {
			ts = parsed
		}
	}
	return out, ts
}

func (m *Merger) less(rows []mergedRow) func(i, j int) bool {
	bySourcePID := m.cfg.Sorting.Strategy != SortTS
	return func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		if bySourcePID {
			as, _ := a.row.GetString("source")
			bs, _ := b.row.GetString("source")
			if as != bs {
				return as < bs
			}
			ap, _ := a.row.GetInt("pid")
			bp, _ := b.row.GetInt("pid")
			if ap != bp {
				return ap < bp
			}
		}
		return a.seq < b.seq
	}
}
