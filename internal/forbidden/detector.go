// Package forbidden implements the Forbidden-Action Detector (C7):
// compiling a policy into matchable Rules and evaluating each against
// timeline-shaped rows to produce alert rows.
package forbidden

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scottmaran/lux-collector/internal/fileconfig"
	"github.com/scottmaran/lux-collector/internal/jsonl"
	"github.com/scottmaran/lux-collector/internal/schemaevt"
)

type Detector struct {
	cfg        Config
	policyName string
	rules      []Rule
}

// New loads and compiles the policy file named by cfg.Policy. A missing
// policy file is fatal (exit 2).
func New(cfg Config) (*Detector, error) {
	var p Policy
	if err := fileconfig.Load(cfg.Policy, &p); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, policyName: p.PolicyName, rules: Compile(p)}, nil
}

func (d *Detector) schemaVersion() string {
	if d.cfg.SchemaVersion != "" {
		return d.cfg.SchemaVersion
	}
	return schemaevt.ForbiddenAlertSchema
}

type alertRow struct {
	row    jsonl.Row
	ts     time.Time
	ruleID string
	pid    int
	seq    int
}

// Run evaluates every configured input row against the compiled policy
// and writes matched alert rows to the configured output.
func (d *Detector) Run() error {
	var alerts []alertRow
	seq := 0

	for _, in := range d.cfg.Inputs {
		f, err := os.Open(in.Path)
		if err != nil {
			continue
		}
		r := bufio.NewReader(f)
		for {
			line, rerr := r.ReadString('\n')
			if len(line) > 0 {
				if row, err := jsonl.Decode([]byte(line)); err == nil {
					for _, alert := range d.evaluate(row) {
						seq++
						ts, _ := time.Parse(schemaevt.TimeLayout, alert.ts)
						ruleID, _ := alert.row.GetString("rule_id")
						pid, _ := alert.row.GetInt("pid")
						alerts = append(alerts, alertRow{row: alert.row, ts: ts, ruleID: ruleID, pid: pid, seq: seq})
					}
				}
			}
			if rerr != nil {
				break
			}
		}
		f.Close()
	}

	sort.SliceStable(alerts, d.less(alerts))

	rows := make([]interface{}, len(alerts))
	for i, a := range alerts {
		rows[i] = a.row
	}
	return jsonl.WriteBatch(d.cfg.Output.JSONL, rows)
}

type alertBuild struct {
	row jsonl.Row
	ts  string
}

// evaluate returns an alert for every enabled rule that matches row: a
// rule matches iff all of its configured predicates return true. A rule
// with no match predicates matches nothing.
func (d *Detector) evaluate(row jsonl.Row) []alertBuild {
	var out []alertBuild
	for _, rule := range d.rules {
		if !rule.Enabled {
			continue
		}
		if !rule.eventTypeMatches(row) || !rule.sourceMatches(row) {
			continue
		}
		matches, ok := rule.evalAll(row)
		if !ok {
			continue
		}
		out = append(out, d.buildAlert(row, rule, matches))
	}
	return out
}

func (r Rule) eventTypeMatches(row jsonl.Row) bool {
	if len(r.EventTypeAny) == 0 {
		return true
	}
	et, _ := row.GetString("event_type")
	return r.EventTypeAny[et]
}

func (r Rule) sourceMatches(row jsonl.Row) bool {
	if len(r.SourceAny) == 0 {
		return true
	}
	src, _ := row.GetString("source")
	return r.SourceAny[src]
}

// evalAll requires every compiled predicate to match, recording the
// first matching value for each.
func (r Rule) evalAll(row jsonl.Row) ([]Match, bool) {
	if len(r.predicates) == 0 {
		return nil, false
	}
	var matches []Match
	for _, p := range r.predicates {
		value, pattern, ok := p.eval(row)
		if !ok {
			return nil, false
		}
		matches = append(matches, Match{Field: p.field, Value: value, Pattern: pattern})
	}
	return matches, true
}

func (d *Detector) buildAlert(row jsonl.Row, rule Rule, matches []Match) alertBuild {
	ts, _ := row.GetString("ts")
	sessionID, _ := row.GetString("session_id")
	eventType, _ := row.GetString("event_type")
	source, _ := row.GetString("source")

	out := jsonl.Row{
		"schema_version":     d.schemaVersion(),
		"session_id":         sessionID,
		"ts":                 ts,
		"source":             schemaevt.SourcePolicy,
		"event_type":         schemaevt.EventAlert,
		"rule_id":            rule.ID,
		"rule_description":   rule.Description,
		"severity":           rule.Severity,
		"action":             rule.Action,
		"trigger_source":     source,
		"trigger_event_type": eventType,
		"trigger_subject":    triggerSubject(row, eventType),
		"matched":            matches,
		"policy_name":        d.policyName,
	}
	if jobID, ok := row.GetString("job_id"); ok {
		out["job_id"] = jobID
	}
	for _, f := range []string{"pid", "ppid", "uid", "gid", "comm", "exe"} {
		if v, ok := fieldValue(row, f); ok {
			if n, err := strconv.Atoi(v); err == nil && (f == "pid" || f == "ppid" || f == "uid" || f == "gid") {
				out[f] = n
			} else {
				out[f] = v
			}
		}
	}
	return alertBuild{row: out, ts: ts}
}

// triggerSubject picks the most identifying value for the triggering
// event, by event type.
func triggerSubject(row jsonl.Row, eventType string) string {
	switch eventType {
	case schemaevt.EventExec:
		for _, f := range []string{"cmd", "exec_attempted_path", "exe", "comm"} {
			if v, ok := fieldValue(row, f); ok && v != "" {
				return v
			}
		}
	case schemaevt.EventFSCreate, schemaevt.EventFSWrite, schemaevt.EventFSUnlink, schemaevt.EventFSRename, schemaevt.EventFSMeta:
		for _, f := range []string{"path", "cmd", "exe"} {
			if v, ok := fieldValue(row, f); ok && v != "" {
				return v
			}
		}
	case schemaevt.EventNetSummary:
		if names, ok := fieldValues(row, "dns_names"); ok && len(names) > 0 {
			return strings.Join(names, ",")
		}
		ip, hasIP := fieldValue(row, "dst_ip")
		port, hasPort := fieldValue(row, "dst_port")
		if hasIP && hasPort {
			return ip + ":" + port
		}
		if hasIP {
			return ip
		}
		return ""
	}
	return eventType
}

func (d *Detector) less(alerts []alertRow) func(i, j int) bool {
	byRulePID := d.cfg.Sorting.Strategy != SortTS
	return func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		if byRulePID {
			if a.ruleID != b.ruleID {
				return a.ruleID < b.ruleID
			}
			if a.pid != b.pid {
				return a.pid < b.pid
			}
		}
		return a.seq < b.seq
	}
}
