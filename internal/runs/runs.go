// Package runs implements the Run Index (C1): loading and refreshing
// session/job metadata from the filesystem and answering timestamp and
// PID/SID lineage lookups for ownership attribution.
package runs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Run is a Session or a Job: a start instant, an optional end, and
// optional root PID/SID markers used for startup-race attribution.
type Run struct {
	ID      string
	Start   time.Time
	End     *time.Time
	RootPID *int
	RootSID *int
}

func (r Run) covers(ts time.Time) bool {
	if ts.Before(r.Start) {
		return false
	}
	return r.End == nil || !ts.After(*r.End)
}

type sessionMeta struct {
	SessionID string  `json:"session_id"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
	RootPID   *int    `json:"root_pid"`
	RootSID   *int    `json:"root_sid"`
}

type jobInput struct {
	JobID       string `json:"job_id"`
	StartedAt   string `json:"started_at"`
	SubmittedAt string `json:"submitted_at"`
	RootPID     *int   `json:"root_pid"`
	RootSID     *int   `json:"root_sid"`
}

type jobStatus struct {
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

func parseISO(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// loadSessions reads every <dir>/<id>/meta.json under sessionsDir into a
// Run, skipping entries that are missing, unparseable, or lack a
// started_at: these are never fatal.
func loadSessions(sessionsDir string) []Run {
	var out []Run
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return out
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(sessionsDir, ent.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m sessionMeta
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		start, ok := parseISO(m.StartedAt)
		if !ok {
			continue
		}
		id := m.SessionID
		if id == "" {
			id = ent.Name()
		}
		r := Run{ID: id, Start: start, RootPID: m.RootPID, RootSID: m.RootSID}
		if end, ok := parseISO(m.EndedAt); ok {
			r.End = &end
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// loadJobs reads every <dir>/<id>/input.json (plus optional status.json)
// under jobsDir into a Run.
func loadJobs(jobsDir string) []Run {
	var out []Run
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		return out
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		dir := filepath.Join(jobsDir, ent.Name())
		b, err := os.ReadFile(filepath.Join(dir, "input.json"))
		if err != nil {
			continue
		}
		var in jobInput
		if err := json.Unmarshal(b, &in); err != nil {
			continue
		}
		id := in.JobID
		if id == "" {
			id = ent.Name()
		}
		start, hasStart := parseISO(in.StartedAt)
		if !hasStart {
			start, hasStart = parseISO(in.SubmittedAt)
		}
		rootPID, rootSID := in.RootPID, in.RootSID

		var st jobStatus
		if sb, err := os.ReadFile(filepath.Join(dir, "status.json")); err == nil {
			_ = json.Unmarshal(sb, &st)
		}
		if s, ok := parseISO(st.StartedAt); ok {
			start, hasStart = s, true
		}
		if !hasStart {
			continue
		}
		r := Run{ID: id, Start: start, RootPID: rootPID, RootSID: rootSID}
		if end, ok := parseISO(st.EndedAt); ok {
			r.End = &end
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Index is the process-local cache of session and job runs, refreshed
// from the filesystem at a bounded cadence.
type Index struct {
	SessionsDir string
	JobsDir     string
	RefreshSec  float64

	sessions    []Run
	jobs        []Run
	lastRefresh time.Time
}

// NewIndex constructs an Index with the reference default refresh cadence
// of 1.0s when refreshSec <= 0.
func NewIndex(sessionsDir, jobsDir string, refreshSec float64) *Index {
	if refreshSec <= 0 {
		refreshSec = 1.0
	}
	return &Index{SessionsDir: sessionsDir, JobsDir: jobsDir, RefreshSec: refreshSec}
}

// MaybeRefresh reloads both lists iff the refresh cadence has elapsed.
func (idx *Index) MaybeRefresh() {
	if time.Since(idx.lastRefresh).Seconds() < idx.RefreshSec && !idx.lastRefresh.IsZero() {
		return
	}
	idx.ForceRefresh()
}

// ForceRefresh reloads both lists unconditionally; used by the audit
// filter's follow-mode pending holdback when a lookup stays unattributed.
func (idx *Index) ForceRefresh() {
	idx.sessions = loadSessions(idx.SessionsDir)
	idx.jobs = loadJobs(idx.JobsDir)
	idx.lastRefresh = time.Now()
}

func matchByTS(items []Run, ts time.Time) (Run, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if ts.Before(item.Start) {
			continue
		}
		if item.End == nil || !ts.After(*item.End) {
			return item, true
		}
	}
	return Run{}, false
}

// LookupByTS resolves (session_id, job_id) by scanning runs in descending
// start order: sessions are checked first, then jobs.
func (idx *Index) LookupByTS(ts time.Time) (sessionID string, jobID string) {
	idx.MaybeRefresh()
	if s, ok := matchByTS(idx.sessions, ts); ok {
		return s.ID, ""
	}
	if j, ok := matchByTS(idx.jobs, ts); ok {
		return "unknown", j.ID
	}
	return "unknown", ""
}

// LookupByRootPID returns the most recently started run whose root_pid
// equals pid, sessions outranking jobs on a tie, along with whether it is
// a session (as opposed to a job).
func (idx *Index) LookupByRootPID(pid int) (Run, bool, bool) {
	return lookupByRoot(idx.sessions, idx.jobs, func(r Run) bool {
		return r.RootPID != nil && *r.RootPID == pid
	})
}

// LookupByRootSID returns the most recently started run whose root_sid
// equals sid, with the same session-precedence rule as LookupByRootPID.
func (idx *Index) LookupByRootSID(sid int) (Run, bool, bool) {
	return lookupByRoot(idx.sessions, idx.jobs, func(r Run) bool {
		return r.RootSID != nil && *r.RootSID == sid
	})
}

func lookupByRoot(sessions, jobs []Run, match func(Run) bool) (Run, bool, bool) {
	var bestSession, bestJob Run
	haveSession, haveJob := false, false
	for _, r := range sessions {
		if match(r) && (!haveSession || r.Start.After(bestSession.Start)) {
			bestSession, haveSession = r, true
		}
	}
	for _, r := range jobs {
		if match(r) && (!haveJob || r.Start.After(bestJob.Start)) {
			bestJob, haveJob = r, true
		}
	}
	if haveSession && (!haveJob || !bestJob.Start.After(bestSession.Start)) {
		return bestSession, true, true
	}
	if haveJob {
		return bestJob, true, false
	}
	return Run{}, false, false
}
