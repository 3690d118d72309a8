// Package ownership implements the Ownership State (C2): per-PID run
// assignment with parent inheritance, an optional TTL, and the
// startup-race root-PID/SID override that lets a freshly created run claim
// a PID before any parent-chain evidence exists.
package ownership

import (
	"time"

	"github.com/scottmaran/lux-collector/internal/runs"
)

// Owner identifies the run a PID has been assigned to. AssignedTS is the
// instant used to decide "newer" when two candidate owners compete for
// the same PID (the owning run's start when known via root-PID/SID
// override, or the attributing event's own timestamp when assigned
// through the agent-UID time-window gate).
type Owner struct {
	SessionID  string
	JobID      string
	AssignedTS time.Time
}

type entry struct {
	owner    Owner
	lastSeen time.Time
}

// State is the process-local PID ownership cache. It is not safe for
// concurrent use; each stage owns one State on its own goroutine.
type State struct {
	AgentUID  *int
	RootComm  map[string]bool
	PIDTTLSec float64

	owned       map[int]entry
	lastExecCmd map[int]string
	maxSeenTS   time.Time
}

// NewState constructs an empty ownership cache. agentUID may be nil to
// disable the UID gate entirely (no PID is ever attributed by UID alone).
func NewState(agentUID *int, rootComm []string, pidTTLSec float64) *State {
	rc := make(map[string]bool, len(rootComm))
	for _, c := range rootComm {
		rc[c] = true
	}
	return &State{
		AgentUID:    agentUID,
		RootComm:    rc,
		PIDTTLSec:   pidTTLSec,
		owned:       make(map[int]entry),
		lastExecCmd: make(map[int]string),
	}
}

// prune drops entries older than PIDTTLSec relative to the most recently
// observed timestamp across any call into this State. A non-positive TTL
// disables pruning; the audit filter always passes 0, and the eBPF filter
// passes 0 when pid_ttl_sec is left out of its config.
func (s *State) prune() {
	if s.PIDTTLSec <= 0 || s.maxSeenTS.IsZero() {
		return
	}
	cutoff := s.maxSeenTS.Add(-time.Duration(s.PIDTTLSec * float64(time.Second)))
	for pid, e := range s.owned {
		if e.lastSeen.Before(cutoff) {
			delete(s.owned, pid)
			delete(s.lastExecCmd, pid)
		}
	}
}

func (s *State) bumpClock(ts time.Time) {
	if ts.After(s.maxSeenTS) {
		s.maxSeenTS = ts
	}
}

// IsOwned reports whether pid is currently a cached owner, after pruning.
func (s *State) IsOwned(pid int) (Owner, bool) {
	s.prune()
	e, ok := s.owned[pid]
	return e.owner, ok
}

// LastExecCmd returns the most recent exec cmd recorded for pid, used to
// attach `cmd` to a later fs/net row when `linking.attach_cmd_to_*` is
// enabled.
func (s *State) LastExecCmd(pid int) (string, bool) {
	c, ok := s.lastExecCmd[pid]
	return c, ok
}

// RecordExecCmd remembers cmd as pid's most recent exec command.
func (s *State) RecordExecCmd(pid int, cmd string) {
	s.lastExecCmd[pid] = cmd
}

func ownerFromRun(r runs.Run, isSession bool) Owner {
	o := Owner{AssignedTS: r.Start}
	if isSession {
		o.SessionID = r.ID
	} else {
		o.SessionID = "unknown"
		o.JobID = r.ID
	}
	return o
}

// MarkOwned applies the C2 policy in order: root-PID/SID override, parent
// inheritance, agent-UID time-window gate. sid is the kernel audit
// login-session id (may be nil when the record doesn't carry one); it is
// unrelated to the collector's own session_id concept and is used only
// for the root_sid override lookup.
func (s *State) MarkOwned(pid, ppid int, sid *int, uid int, hasUID bool, comm string, ts time.Time, idx *runs.Index) bool {
	s.bumpClock(ts)
	s.prune()

	if owner, ok := s.resolveRootOverride(pid, ppid, sid, idx); ok {
		s.owned[pid] = entry{owner: owner, lastSeen: ts}
		s.owned[ppid] = entry{owner: owner, lastSeen: ts}
		return true
	}

	if parent, ok := s.owned[ppid]; ok {
		s.owned[pid] = entry{owner: parent.owner, lastSeen: ts}
		return true
	}

	if s.AgentUID != nil && hasUID && uid == *s.AgentUID {
		if len(s.RootComm) > 0 && !s.RootComm[comm] {
			return false
		}
		sessionID, jobID := idx.LookupByTS(ts)
		s.owned[pid] = entry{owner: Owner{SessionID: sessionID, JobID: jobID, AssignedTS: ts}, lastSeen: ts}
		return true
	}

	return false
}

// resolveRootOverride returns the best candidate run matched via root PID
// or root SID, provided it is strictly newer than whatever is already
// cached for pid or ppid.
func (s *State) resolveRootOverride(pid, ppid int, sid *int, idx *runs.Index) (Owner, bool) {
	best, haveBest, bestIsSession := idx.LookupByRootPID(pid)
	if sid != nil {
		if r, ok, isSession := idx.LookupByRootSID(*sid); ok {
			if !haveBest || r.Start.After(best.Start) || (r.Start.Equal(best.Start) && isSession && !bestIsSession) {
				best, haveBest, bestIsSession = r, true, isSession
			}
		}
	}
	if !haveBest {
		return Owner{}, false
	}

	cachedPID, hasPID := s.owned[pid]
	cachedPPID, hasPPID := s.owned[ppid]
	if hasPID && !best.Start.After(cachedPID.owner.AssignedTS) {
		return Owner{}, false
	}
	if hasPPID && !best.Start.After(cachedPPID.owner.AssignedTS) {
		return Owner{}, false
	}
	return ownerFromRun(best, bestIsSession), true
}
