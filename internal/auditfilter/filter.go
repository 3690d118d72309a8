// Package auditfilter implements the Audit Filter (C3): grouping raw
// audit records by sequence number and synthesizing exec/fs FilteredEvent
// rows, gated by Ownership State (C2) and attributed by the Run Index
// (C1).
package auditfilter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/scottmaran/lux-collector/internal/auditrec"
	"github.com/scottmaran/lux-collector/internal/collectorlog"
	"github.com/scottmaran/lux-collector/internal/follow"
	"github.com/scottmaran/lux-collector/internal/jsonl"
	"github.com/scottmaran/lux-collector/internal/ownership"
	"github.com/scottmaran/lux-collector/internal/runs"
	"github.com/scottmaran/lux-collector/internal/schemaevt"
)

// Filter holds the mutable state for one run of the audit filter: the
// ownership cache, run index, current syscall group accumulator, and
// (in follow mode) the pending-holdback queue.
type Filter struct {
	cfg Config
	log *collectorlog.Logger

	idx   *runs.Index
	state *ownership.State

	groupSeq     int
	haveSeq      bool
	groupRecords []auditrec.Record

	includeExec map[string]bool
	includeFS   map[string]bool
	shellComm   map[string]bool
	helperComm  map[string]bool

	follow       bool
	pollInterval time.Duration
	pending      []pendingEvent
}

type pendingEvent struct {
	row      jsonl.Row
	ts       time.Time
	enqueued time.Time
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// New builds a Filter from cfg. followMode must match the CLI's --follow
// flag since the holdback/flush discipline only applies there. pollInterval
// governs the tailer's poll cadence in follow mode; a zero value leaves the
// tailer's own default in place.
func New(cfg Config, followMode bool, pollInterval time.Duration, log *collectorlog.Logger) *Filter {
	cfg.Exec.ShellCmdFlag = defaultShellCmdFlag(cfg.Exec.ShellCmdFlag)
	return &Filter{
		cfg:          cfg,
		log:          log,
		idx:          runs.NewIndex(cfg.SessionsDir, cfg.JobsDir, 1.0),
		state:        ownership.NewState(cfg.AgentOwnership.UID, cfg.AgentOwnership.RootComm, 0),
		includeExec:  toSet(cfg.Exec.IncludeKeys),
		includeFS:    toSet(cfg.FS.IncludeKeys),
		shellComm:    toSet(cfg.Exec.ShellComm),
		helperComm:   toSet(cfg.Exec.HelperExcludeComm),
		follow:       followMode,
		pollInterval: pollInterval,
	}
}

// Run reads raw audit lines from the configured input and writes
// FilteredEvent rows to the configured output, respecting batch vs.
// follow-mode atomicity.
func (f *Filter) Run(ctx context.Context) error {
	f.idx.ForceRefresh()

	if f.follow {
		return f.runFollow(ctx)
	}
	return f.runBatch()
}

func (f *Filter) runBatch() error {
	file, err := os.Open(f.cfg.Input.AuditLog)
	if err != nil {
		return fmt.Errorf("auditfilter: open input: %w", err)
	}
	defer file.Close()

	var rows []interface{}
	emit := func(row jsonl.Row, ts time.Time) {
		sessionID, jobID := f.idx.LookupByTS(ts)
		row["session_id"] = sessionID
		if jobID != "" {
			row["job_id"] = jobID
		}
		rows = append(rows, row)
	}

	r := bufio.NewReader(file)
	if err := auditrec.ScanLines(r, f.consume(emit)); err != nil {
		return err
	}
	f.flushGroup(emit)

	return jsonl.WriteBatch(f.cfg.Output.JSONL, rows)
}

func (f *Filter) runFollow(ctx context.Context) error {
	app, err := jsonl.OpenAppender(f.cfg.Output.JSONL)
	if err != nil {
		return err
	}
	defer app.Close()

	emit := func(row jsonl.Row, ts time.Time) {
		sessionID, jobID := f.idx.LookupByTS(ts)
		if sessionID == "unknown" && jobID == "" {
			f.pending = append(f.pending, pendingEvent{row: row, ts: ts, enqueued: time.Now()})
			f.flushPending(app)
			return
		}
		row["session_id"] = sessionID
		if jobID != "" {
			row["job_id"] = jobID
		}
		if err := app.Append(row); err != nil {
			f.log.Errorf("write output row: %v", err)
		}
	}

	t := follow.NewTailer(f.cfg.Input.AuditLog, follow.Options{Follow: true, PollInterval: f.pollInterval})
	err = t.Lines(ctx, func(line string) error {
		rec, ok := auditrec.ParseLine(line)
		if !ok {
			return nil
		}
		f.handleRecord(rec, emit)
		f.flushPending(app)
		return nil
	})
	f.flushGroup(emit)
	f.flushPending(app)
	return err
}

func (f *Filter) flushPending(app *jsonl.Appender) {
	if len(f.pending) == 0 {
		return
	}
	now := time.Now()
	var remaining []pendingEvent
	for _, pe := range f.pending {
		sessionID, jobID := f.idx.LookupByTS(pe.ts)
		if sessionID != "unknown" || jobID != "" {
			pe.row["session_id"] = sessionID
			if jobID != "" {
				pe.row["job_id"] = jobID
			}
			if err := app.Append(pe.row); err != nil {
				f.log.Errorf("write output row: %v", err)
			}
			continue
		}
		if now.Sub(pe.enqueued).Seconds() >= pendingDelaySec {
			f.idx.ForceRefresh()
			sessionID, jobID = f.idx.LookupByTS(pe.ts)
			pe.row["session_id"] = sessionID
			if jobID != "" {
				pe.row["job_id"] = jobID
			}
			if err := app.Append(pe.row); err != nil {
				f.log.Errorf("write output row: %v", err)
			}
			continue
		}
		remaining = append(remaining, pe)
	}
	f.pending = remaining
}

type emitFunc func(row jsonl.Row, ts time.Time)

func (f *Filter) consume(emit emitFunc) func(auditrec.Record) error {
	return func(rec auditrec.Record) error {
		f.handleRecord(rec, emit)
		return nil
	}
}

func (f *Filter) handleRecord(rec auditrec.Record, emit emitFunc) {
	if !f.haveSeq {
		f.groupSeq = rec.Seq
		f.haveSeq = true
	}
	if rec.Seq != f.groupSeq {
		f.flushGroup(emit)
		f.groupRecords = nil
		f.groupSeq = rec.Seq
	}
	f.groupRecords = append(f.groupRecords, rec)
}

func (f *Filter) flushGroup(emit emitFunc) {
	if len(f.groupRecords) == 0 {
		return
	}
	if row, ts, ok := f.buildEvent(f.groupRecords); ok {
		emit(row, ts)
	}
	f.groupRecords = nil
}

// buildEvent synthesizes at most one FilteredEvent from a completed
// SyscallGroup.
func (f *Filter) buildEvent(records []auditrec.Record) (jsonl.Row, time.Time, bool) {
	var syscall *auditrec.Record
	for i := range records {
		if records[i].Type == "SYSCALL" {
			syscall = &records[i]
			break
		}
	}
	if syscall == nil {
		return nil, time.Time{}, false
	}
	fields := syscall.Fields
	auditKey := auditrec.SanitizeKey(fields["key"])
	if !f.includeExec[auditKey] && !f.includeFS[auditKey] {
		return nil, time.Time{}, false
	}

	pid, hasPID := auditrec.ParseInt(fields["pid"])
	ppid, _ := auditrec.ParseInt(fields["ppid"])
	uid, hasUID := auditrec.ParseInt(fields["uid"])
	gid, _ := auditrec.ParseInt(fields["gid"])
	comm := fields["comm"]
	exe := fields["exe"]
	var sidPtr *int
	if sid, ok := auditrec.ParseInt(fields["ses"]); ok {
		sidPtr = &sid
	}

	var cwd string
	for _, r := range records {
		if r.Type == "CWD" {
			cwd = r.Fields["cwd"]
			break
		}
	}

	schemaVersion := f.cfg.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = schemaevt.AuditFilteredSchema
	}

	base := jsonl.Row{
		"schema_version": schemaVersion,
		"session_id":     schemaevt.UnknownSessionID,
		"ts":             syscall.TSIso,
		"source":         schemaevt.SourceAudit,
		"pid":            pid,
		"ppid":           ppid,
		"uid":            uid,
		"gid":            gid,
		"comm":           comm,
		"exe":            exe,
		"audit_seq":      syscall.Seq,
		"audit_key":      auditKey,
	}
	if cwd != "" {
		base["cwd"] = cwd
	}

	if f.includeExec[auditKey] {
		return f.buildExecEvent(records, fields, base, pid, hasPID, ppid, uid, hasUID, sidPtr, comm, syscall.TS)
	}
	return f.buildFSEvent(records, base, auditKey, pid, hasPID, syscall.TS)
}

func (f *Filter) buildExecEvent(
	records []auditrec.Record, fields map[string]string, base jsonl.Row,
	pid int, hasPID bool, ppid, uid int, hasUID bool, sid *int, comm string, ts time.Time,
) (jsonl.Row, time.Time, bool) {
	var execve []auditrec.Record
	for _, r := range records {
		if r.Type == "EXECVE" {
			execve = append(execve, r)
		}
	}
	argv := auditrec.ParseExecveArgs(execve)
	cmd := auditrec.DeriveCmd(argv, comm, f.shellComm, f.cfg.Exec.ShellCmdFlag)

	success := fields["success"]
	if success == "no" {
		exitCode, _ := auditrec.ParseInt(fields["exit"])
		owned := false
		if hasPID {
			_, owned = f.state.IsOwned(pid)
		}
		row := base.Clone()
		row["event_type"] = schemaevt.EventExec
		row["cmd"] = cmd
		row["agent_owned"] = owned
		row["exec_success"] = false
		row["exec_exit"] = exitCode
		row["exec_errno_name"] = schemaevt.ErrnoName(exitCode)
		if path, ok := f.selectAttemptedPath(records); ok {
			row["exec_attempted_path"] = path
		}
		return row, ts, true
	}

	if hasPID {
		f.state.MarkOwned(pid, ppid, sid, uid, hasUID, comm, ts, f.idx)
	}
	if !hasPID {
		return nil, time.Time{}, false
	}
	if _, owned := f.state.IsOwned(pid); !owned {
		return nil, time.Time{}, false
	}

	excluded := f.helperComm[comm]
	if !excluded && auditrec.ArgvPrefixMatch(argv, f.cfg.Exec.HelperExcludeArgvPrefix) {
		excluded = true
	}
	if excluded {
		return nil, time.Time{}, false
	}

	row := base.Clone()
	row["event_type"] = schemaevt.EventExec
	row["cmd"] = cmd
	row["agent_owned"] = true

	if f.cfg.Linking.AttachCmdToFS {
		f.state.RecordExecCmd(pid, cmd)
	}
	return row, ts, true
}

// selectAttemptedPath picks the PATH record that names the executable the
// failed exec attempted to run (nametype UNKNOWN or NORMAL).
func (f *Filter) selectAttemptedPath(records []auditrec.Record) (string, bool) {
	for _, r := range records {
		if r.Type != "PATH" {
			continue
		}
		nt := r.Fields["nametype"]
		if nt == "UNKNOWN" || nt == "NORMAL" {
			name := r.Fields["name"]
			if name != "" && name != "(null)" {
				return name, true
			}
		}
	}
	return "", false
}

func (f *Filter) buildFSEvent(records []auditrec.Record, base jsonl.Row, auditKey string, pid int, hasPID bool, ts time.Time) (jsonl.Row, time.Time, bool) {
	if !hasPID {
		return nil, time.Time{}, false
	}
	if _, owned := f.state.IsOwned(pid); !owned {
		return nil, time.Time{}, false
	}

	var paths []auditrec.PathRecord
	nametypes := make(map[string]bool)
	for _, r := range records {
		if r.Type != "PATH" {
			continue
		}
		nt := r.Fields["nametype"]
		paths = append(paths, auditrec.PathRecord{Name: r.Fields["name"], NameType: nt})
		if nt != "" {
			nametypes[nt] = true
		}
	}

	eventType := auditrec.DeriveFSEventType(auditKey, nametypes, fsMetaKey)
	preferred := ""
	switch eventType {
	case schemaevt.EventFSCreate, schemaevt.EventFSRename:
		preferred = "CREATE"
	case schemaevt.EventFSUnlink:
		preferred = "DELETE"
	}
	path, ok := auditrec.SelectPath(paths, preferred)
	if !ok {
		return nil, time.Time{}, false
	}
	if len(f.cfg.FS.IncludePathsPrefix) > 0 {
		match := false
		for _, prefix := range f.cfg.FS.IncludePathsPrefix {
			if strings.HasPrefix(path, prefix) {
				match = true
				break
			}
		}
		if !match {
			return nil, time.Time{}, false
		}
	}

	row := base.Clone()
	row["event_type"] = eventType
	row["path"] = path
	row["agent_owned"] = true

	if f.cfg.Linking.AttachCmdToFS {
		if cmd, ok := f.state.LastExecCmd(pid); ok && cmd != "" {
			row["cmd"] = cmd
		}
	}
	return row, ts, true
}
