// Package ebpffilter implements the eBPF Filter (C4): reading the
// JSON-lines eBPF stream, gating by Ownership State (C2) primed from a
// bootstrap audit sweep, applying exclusions, resolving attribution via
// the Run Index (C1), and reordering late-arriving events through a
// PendingBuffer.
package ebpffilter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/follow"
	"github.com/scottmaran/lux-collector/internal/jsonl"
	"github.com/scottmaran/lux-collector/internal/ownership"
	"github.com/scottmaran/lux-collector/internal/runs"
	"github.com/scottmaran/lux-collector/internal/schemaevt"
)

type Filter struct {
	cfg Config
	log *collectorlog.Logger

	idx     *runs.Index
	state   *ownership.State
	pending *ownership.PendingBuffer

	includeTypes map[string]bool
	excludeComm  map[string]bool
	excludeUnix  map[string]bool
	excludeIPs   map[string]bool
	excludePorts map[int]bool

	follow       bool
	pollInterval time.Duration
}

func toSetInt(items []int) map[int]bool {
	m := make(map[int]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func toSetStr(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func New(cfg Config, followMode bool, pollInterval time.Duration, log *collectorlog.Logger) *Filter {
	var pb *ownership.PendingBuffer
	if cfg.PendingBuffer.Enabled {
		pb = ownership.NewPendingBuffer(cfg.PendingBuffer.MaxPerPID, cfg.PendingBuffer.MaxTotal, cfg.PendingBuffer.TTLSec)
	}
	return &Filter{
		cfg:          cfg,
		log:          log,
		idx:          runs.NewIndex(cfg.SessionsDir, cfg.JobsDir, 1.0),
		state:        ownership.NewState(cfg.Ownership.UID, cfg.Ownership.RootComm, cfg.Ownership.PIDTTLSec),
		pending:      pb,
		includeTypes: toSetStr(cfg.Include.EventTypes),
		excludeComm:  toSetStr(cfg.Exclude.Comm),
		excludeUnix:  toSetStr(cfg.Exclude.UnixPaths),
		excludeIPs:   toSetStr(cfg.Exclude.NetDstIPs),
		excludePorts: toSetInt(cfg.Exclude.NetDstPorts),
		follow:       followMode,
		pollInterval: pollInterval,
	}
}

func (f *Filter) Run(ctx context.Context) error {
	f.idx.ForceRefresh()

	execKeys := toSetStr(f.cfg.Ownership.ExecKeys)
	shellComm := toSetStr(f.cfg.Exec.ShellComm)
	shellFlag := f.cfg.Exec.ShellCmdFlag
	if shellFlag == "" {
		shellFlag = "-lc"
	}
	if err := bootstrapOwnership(f.cfg.Input.AuditLog, execKeys, shellComm, shellFlag, f.state, f.idx); err != nil {
		return fmt.Errorf("ebpffilter: bootstrap sweep: %w", err)
	}

	if f.follow {
		return f.runFollow(ctx)
	}
	return f.runBatch()
}

func (f *Filter) runBatch() error {
	file, err := os.Open(f.cfg.Input.EBPFLog)
	if err != nil {
		return fmt.Errorf("ebpffilter: open input: %w", err)
	}
	defer file.Close()

	var rows []interface{}
	emit := func(row jsonl.Row) { rows = append(rows, row) }

	r := bufio.NewReader(file)
	for {
		line, rerr := r.ReadString('\n')
		if len(line) > 0 {
			f.handleLine(line, emit)
		}
		if rerr != nil {
			break
		}
	}
	return jsonl.WriteBatch(f.cfg.Output.JSONL, rows)
}

func (f *Filter) runFollow(ctx context.Context) error {
	app, err := jsonl.OpenAppender(f.cfg.Output.JSONL)
	if err != nil {
		return err
	}
	defer app.Close()

	emit := func(row jsonl.Row) {
		if err := app.Append(row); err != nil {
			f.log.Errorf("write output row: %v", err)
		}
	}

	t := follow.NewTailer(f.cfg.Input.EBPFLog, follow.Options{Follow: true, PollInterval: f.pollInterval})
	return t.Lines(ctx, func(line string) error {
		f.handleLine(line, emit)
		return nil
	})
}

func (f *Filter) handleLine(line string, emit func(jsonl.Row)) {
	row, err := jsonl.Decode([]byte(line))
	if err != nil {
		return
	}
	f.handleRow(row, emit)
}

// handleRow runs the per-event policy: include filter, ts parse, ownership
// gate (buffering when not yet owned), exclusion checks, attribution, and
// pending replay.
func (f *Filter) handleRow(row jsonl.Row, emit func(jsonl.Row)) {
	eventType, _ := row.GetString("event_type")
	if len(f.includeTypes) > 0 && !f.includeTypes[eventType] {
		return
	}
	tsStr, _ := row.GetString("ts")
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return
	}
	pid, hasPID := row.GetInt("pid")
	if !hasPID {
		return
	}

	if _, owned := f.state.IsOwned(pid); !owned {
		if f.pending != nil {
			f.pending.Push(pid, ts, row)
		}
		return
	}

	f.resolveAndEmit(row, pid, ts, emit)

	if f.pending != nil {
		for _, item := range f.pending.Drain(pid) {
			if buffered, ok := item.Row.(jsonl.Row); ok {
				f.resolveAndEmit(buffered, item.PID, item.TS, emit)
			}
		}
	}
}

// resolveAndEmit applies exclusions, attributes via C1, and emits a
// normalized row, given that pid is already known-owned.
func (f *Filter) resolveAndEmit(row jsonl.Row, pid int, ts time.Time, emit func(jsonl.Row)) {
	eventType, _ := row.GetString("event_type")
	comm, _ := row.GetString("comm")
	if f.excludeComm[comm] {
		return
	}
	if eventType == schemaevt.EventUnixConnect {
		if u, ok := row.GetMap("unix"); ok {
			if p, ok := u["path"].(string); ok && f.excludeUnix[p] {
				return
			}
		}
	}
	if eventType == schemaevt.EventNetConnect || eventType == schemaevt.EventNetSend {
		if n, ok := row.GetMap("net"); ok {
			if ip, ok := n["dst_ip"].(string); ok && f.excludeIPs[ip] {
				return
			}
			if port, ok := n["dst_port"].(float64); ok && f.excludePorts[int(port)] {
				return
			}
		}
	}

	sessionID, jobID := f.idx.LookupByTS(ts)

	out := row.Clone()
	out["schema_version"] = f.schemaVersion()
	out["source"] = schemaevt.SourceEBPF
	out["session_id"] = sessionID
	if jobID != "" {
		out["job_id"] = jobID
	}
	out["pid"] = pid
	out["agent_owned"] = true

	if f.cfg.Linking.AttachCmdToNet {
		if cmd, ok := f.state.LastExecCmd(pid); ok && cmd != "" {
			out["cmd"] = cmd
		}
	}
	emit(out)
}

func (f *Filter) schemaVersion() string {
	if f.cfg.SchemaVersion != "" {
		return f.cfg.SchemaVersion
	}
	return schemaevt.EBPFFilteredSchema
}
