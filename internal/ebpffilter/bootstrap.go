package ebpffilter

import (
	"bufio"
	"os"

	"github.com/scottmaran/lux-collector/internal/auditrec"
	"github.com/scottmaran/lux-collector/internal/ownership"
	"github.com/scottmaran/lux-collector/internal/runs"
)

// bootstrapOwnership sweeps the raw audit log once, grouping by seq and
// classifying each group's SYSCALL key against ownership.exec_keys, to
// seed the ownership map before any eBPF row is processed. It is the
// eBPF filter's equivalent of the audit filter's exec path, without
// producing any audit output of its own.
func bootstrapOwnership(path string, execKeys map[string]bool, shellComm map[string]bool, shellFlag string, state *ownership.State, idx *runs.Index) error {
	f, err := os.Open(path)
	if err != nil {
		// A missing audit log at bootstrap is not fatal to the eBPF
		// filter: it simply starts with an empty ownership map, the
		// same as if the audit stream hadn't produced anything yet.
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var groupSeq int
	haveSeq := false
	var group []auditrec.Record

	flush := func() {
		if len(group) == 0 {
			return
		}
		classifyBootstrapGroup(group, execKeys, shellComm, shellFlag, state, idx)
		group = nil
	}

	r := bufio.NewReader(f)
	err = auditrec.ScanLines(r, func(rec auditrec.Record) error {
		if !haveSeq {
			groupSeq = rec.Seq
			haveSeq = true
		}
		if rec.Seq != groupSeq {
			flush()
			groupSeq = rec.Seq
		}
		group = append(group, rec)
		return nil
	})
	flush()
	return err
}

func classifyBootstrapGroup(records []auditrec.Record, execKeys, shellComm map[string]bool, shellFlag string, state *ownership.State, idx *runs.Index) {
	var syscall *auditrec.Record
	for i := range records {
		if records[i].Type == "SYSCALL" {
			syscall = &records[i]
			break
		}
	}
	if syscall == nil {
		return
	}
	fields := syscall.Fields
	key := auditrec.SanitizeKey(fields["key"])
	if !execKeys[key] {
		return
	}
	pid, hasPID := auditrec.ParseInt(fields["pid"])
	if !hasPID {
		return
	}
	ppid, _ := auditrec.ParseInt(fields["ppid"])
	uid, hasUID := auditrec.ParseInt(fields["uid"])
	comm := fields["comm"]
	var sid *int
	if s, ok := auditrec.ParseInt(fields["ses"]); ok {
		sid = &s
	}

	owned := state.MarkOwned(pid, ppid, sid, uid, hasUID, comm, syscall.TS, idx)
	if !owned {
		return
	}

	var execve []auditrec.Record
	for _, r := range records {
		if r.Type == "EXECVE" {
			execve = append(execve, r)
		}
	}
	argv := auditrec.ParseExecveArgs(execve)
	cmd := auditrec.DeriveCmd(argv, comm, shellComm, shellFlag)
	state.RecordExecCmd(pid, cmd)
}
