// Package netsummary implements the Net Summarizer (C5): collapsing
// bursty net_connect/net_send rows into net_summary rows, enriching them
// with recently observed DNS names, suppressing low-signal bursts, and
// passing unix_connect rows through with only schema_version restamped.
package netsummary

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/scottmaran/lux-collector/internal/jsonl"
	"github.com/scottmaran/lux-collector/internal/schemaevt"
)

const dnsPort = 53

type groupKey struct {
	sessionID string
	jobID     string
	pid       int
	dstIP     string
	dstPort   int
}

type group struct {
	key            groupKey
	connectCount   int
	sendCount      int
	bytesSentTotal int
	protocol       string
	tsFirst        time.Time
	tsLast         time.Time
	seq            int
}

type dnsName struct {
	name string
	ts   time.Time
}

type pidIPKey struct {
	pid int
	ip  string
}

// Summarizer holds the burst-aggregation and DNS-enrichment state for one
// run of the net summarizer.
type Summarizer struct {
	cfg Config

	groups     map[groupKey]*group
	dnsByPidIP map[pidIPKey][]dnsName
	maxSeenTS  time.Time
	seq        int

	out []outputRow
}

type outputRow struct {
	row jsonl.Row
	ts  time.Time
	seq int
}

func New(cfg Config) *Summarizer {
	return &Summarizer{
		cfg:        cfg,
		groups:     make(map[groupKey]*group),
		dnsByPidIP: make(map[pidIPKey][]dnsName),
	}
}

func (s *Summarizer) schemaVersion() string {
	if s.cfg.SchemaVersion != "" {
		return s.cfg.SchemaVersion
	}
	return schemaevt.EBPFSummarySchema
}

// Run reads filtered eBPF rows from the configured input and writes
// summary rows to the configured output (batch mode only; the summarizer
// consumes an already-filtered stream, not a live one).
func (s *Summarizer) Run() error {
	f, err := os.Open(s.cfg.Input.JSONL)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadString('\n')
		if len(line) > 0 {
			if row, err := jsonl.Decode([]byte(line)); err == nil {
				s.Ingest(row)
			}
		}
		if rerr != nil {
			break
		}
	}
	s.CloseAll()
	return jsonl.WriteBatch(s.cfg.Output.JSONL, s.sortedRows())
}

// Ingest processes one filtered eBPF row, accumulating bursts, recording
// DNS answers, or passing unix_connect through with only schema_version
// restamped.
func (s *Summarizer) Ingest(row jsonl.Row) {
	tsStr, _ := row.GetString("ts")
	ts, err := time.Parse(schemaevt.TimeLayout, tsStr)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return
		}
	}
	if ts.After(s.maxSeenTS) {
		s.maxSeenTS = ts
	}

	eventType, _ := row.GetString("event_type")
	switch eventType {
	case schemaevt.EventUnixConnect:
		s.passthrough(row, ts)
	case schemaevt.EventDNSResponse:
		s.recordDNSResponse(row, ts)
	case schemaevt.EventNetConnect, schemaevt.EventNetSend:
		s.accumulate(row, eventType, ts)
	}
}

func (s *Summarizer) passthrough(row jsonl.Row, ts time.Time) {
	out := row.Clone()
	out["schema_version"] = s.schemaVersion()
	s.emit(out, ts)
}

func (s *Summarizer) emit(row jsonl.Row, ts time.Time) {
	s.seq++
	s.out = append(s.out, outputRow{row: row, ts: ts, seq: s.seq})
}

// recordDNSResponse records every query_name in the response against each
// answer IP for (pid, ip), canonicalizing names through miekg/dns so
// later suffix/case comparisons in the forbidden detector see a
// consistent form.
func (s *Summarizer) recordDNSResponse(row jsonl.Row, ts time.Time) {
	pid, hasPID := row.GetInt("pid")
	if !hasPID {
		return
	}
	dnsObj, ok := row.GetMap("dns")
	if !ok {
		return
	}
	names, _ := jsonl.Row(dnsObj).GetStringSlice("query_names")
	answers, _ := jsonl.Row(dnsObj).GetStringSlice("answer_ips")
	for _, ip := range answers {
		key := pidIPKey{pid: pid, ip: ip}
		for _, n := range names {
			if _, ok := dns.IsDomainName(n); !ok {
				continue
			}
			canon := strings.TrimSuffix(strings.ToLower(dns.CanonicalName(n)), ".")
			s.dnsByPidIP[key] = append(s.dnsByPidIP[key], dnsName{name: canon, ts: ts})
		}
	}
}

// dnsNamesFor returns the sorted, deduplicated set of names observed for
// (pid, ip) within dns_lookback_sec of ts.
func (s *Summarizer) dnsNamesFor(pid int, ip string, ts time.Time) []string {
	key := pidIPKey{pid: pid, ip: ip}
	entries := s.dnsByPidIP[key]
	if len(entries) == 0 {
		return nil
	}
	var cutoff time.Time
	if s.cfg.DNSLookbackSec > 0 {
		cutoff = ts.Add(-time.Duration(s.cfg.DNSLookbackSec * float64(time.Second)))
	}
	seen := make(map[string]bool)
	var kept []dnsName
	for _, e := range entries {
		if s.cfg.DNSLookbackSec > 0 && e.ts.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
		seen[e.name] = true
	}
	s.dnsByPidIP[key] = kept

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Summarizer) accumulate(row jsonl.Row, eventType string, ts time.Time) {
	sessionID, _ := row.GetString("session_id")
	jobID, _ := row.GetString("job_id")
	pid, _ := row.GetInt("pid")
	net, ok := row.GetMap("net")
	if !ok {
		return
	}
	netRow := jsonl.Row(net)
	dstIP, _ := netRow.GetString("dst_ip")
	dstPort, hasPort := netRow.GetInt("dst_port")
	if !hasPort || dstPort == dnsPort {
		return
	}
	protocol, _ := netRow.GetString("protocol")

	key := groupKey{sessionID: sessionID, jobID: jobID, pid: pid, dstIP: dstIP, dstPort: dstPort}
	g, exists := s.groups[key]
	if exists && ts.Sub(g.tsLast).Seconds() > s.cfg.BurstGapSec {
		s.closeGroup(g)
		exists = false
	}
	if !exists {
		s.seq++
		g = &group{key: key, tsFirst: ts, tsLast: ts, protocol: protocol, seq: s.seq}
		s.groups[key] = g
	}
	g.tsLast = ts
	bytesSent, _ := netRow.GetInt("bytes_sent")
	switch eventType {
	case schemaevt.EventNetConnect:
		g.connectCount++
	case schemaevt.EventNetSend:
		g.sendCount++
		g.bytesSentTotal += bytesSent
	}
}

// closeGroup finalizes and (subject to suppression) emits a burst group.
func (s *Summarizer) closeGroup(g *group) {
	delete(s.groups, g.key)
	if g.sendCount < s.cfg.MinSendCount && g.bytesSentTotal < s.cfg.MinBytesSentTotal {
		return
	}
	row := jsonl.Row{
		"schema_version":   s.schemaVersion(),
		"session_id":       g.key.sessionID,
		"ts":               g.tsFirst.UTC().Format(schemaevt.TimeLayout),
		"source":           schemaevt.SourceEBPF,
		"event_type":       schemaevt.EventNetSummary,
		"pid":              g.key.pid,
		"dst_ip":           g.key.dstIP,
		"dst_port":         g.key.dstPort,
		"protocol":         g.protocol,
		"connect_count":    g.connectCount,
		"send_count":       g.sendCount,
		"bytes_sent_total": g.bytesSentTotal,
		"ts_first":         g.tsFirst.UTC().Format(schemaevt.TimeLayout),
		"ts_last":          g.tsLast.UTC().Format(schemaevt.TimeLayout),
	}
	if g.key.jobID != "" {
		row["job_id"] = g.key.jobID
	}
	if names := s.dnsNamesFor(g.key.pid, g.key.dstIP, g.tsLast); len(names) > 0 {
		row["dns_names"] = names
	}
	s.out = append(s.out, outputRow{row: row, ts: g.tsFirst, seq: g.seq})
}

// CloseAll flushes every still-open burst group, called once the input
// stream is exhausted.
func (s *Summarizer) CloseAll() {
	var keys []groupKey
	for k := range s.groups {
		keys = append(keys, k)
	}
	for _, k := range keys {
		s.closeGroup(s.groups[k])
	}
}

func (s *Summarizer) sortedRows() []interface{} {
	sort.SliceStable(s.out, func(i, j int) bool {
		if !s.out[i].ts.Equal(s.out[j].ts) {
			return s.out[i].ts.Before(s.out[j].ts)
		}
		return s.out[i].seq < s.out[j].seq
	})
	rows := make([]interface{}, len(s.out))
	for i, o := range s.out {
		rows[i] = o.row
	}
	return rows
}
