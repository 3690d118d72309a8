package forbidden

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/scottmaran/lux-collector/internal/jsonl"
)

// Match is one matched predicate, recorded onto an alert for audit: every
// matched field contributes its own {field, value, pattern} entry.
type Match struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Pattern string `json:"pattern"`
}

type predicate struct {
	field string
	eval  func(row jsonl.Row) (value, pattern string, ok bool)
}

// Rule is a compiled policy entry.
type Rule struct {
	ID          string
	Description string
	Severity    string
	Action      string
	Enabled     bool
	EventTypeAny map[string]bool
	SourceAny    map[string]bool

	predicates []predicate
}

// Compile turns a policy file's raw rules into Rules, applying policy
// defaults and skipping rules with no id. Invalid regexes are logged to
// stderr with the rule id and field, and that single pattern is omitted
// from its predicate; the rest of the rule still compiles. A predicate
// left with no valid pattern never matches.
func Compile(p Policy) []Rule {
	var out []Rule
	for _, raw := range p.Rules {
		if raw.ID == "" {
			continue
		}
		r := Rule{
			ID:          raw.ID,
			Description: raw.Description,
			Severity:    firstNonEmpty(raw.Severity, p.Defaults.Severity),
			Action:      firstNonEmpty(raw.Action, p.Defaults.Action),
			Enabled:     p.Defaults.Enabled,
		}
		if raw.Enabled != nil {
			r.Enabled = *raw.Enabled
		}
		r.EventTypeAny = toSet(firstNonEmptyList(scalarOrList(raw.EventTypeAny), scalarOrList(raw.EventType)))
		r.SourceAny = toSet(firstNonEmptyList(scalarOrList(raw.SourceAny), scalarOrList(raw.Source)))
		r.predicates = compileMatch(raw.ID, raw.Match)
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// firstNonEmptyList prefers the `_any` plural form over the singular
// fallback, matching the reference policy's accepted shapes.
func firstNonEmptyList(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func compileMatch(ruleID string, m RawMatch) []predicate {
	var preds []predicate

	if len(m.CommAny.Values) > 0 {
		preds = append(preds, exactAny("comm", m.CommAny.Values))
	}
	if len(m.ExeAny.Values) > 0 {
		preds = append(preds, exactAny("exe", m.ExeAny.Values))
	}
	if len(m.ProtocolAny.Values) > 0 {
		preds = append(preds, exactAny("protocol", m.ProtocolAny.Values))
	}
	if len(m.DstIPAny.Values) > 0 {
		preds = append(preds, exactAny("dst_ip", m.DstIPAny.Values))
	}
	if len(m.DstPort.Values) > 0 {
		preds = append(preds, numericAny("dst_port", m.DstPort.Values))
	}
	if len(m.CmdContains.Values) > 0 {
		preds = append(preds, substringAny("cmd", m.CmdContains.Values))
	}
	if len(m.CmdRegex.Values) > 0 {
		preds = append(preds, regexAny(ruleID, "cmd", m.CmdRegex.Values))
	}
	if len(m.PathRegex.Values) > 0 {
		preds = append(preds, regexAny(ruleID, "path", m.PathRegex.Values))
	}
	if len(m.DNSRegex.Values) > 0 {
		preds = append(preds, regexAnyList(ruleID, "dns_names", m.DNSRegex.Values))
	}
	if len(m.PathPrefix.Values) > 0 {
		preds = append(preds, prefixAny("path", m.PathPrefix.Values))
	}
	if len(m.PathGlob.Values) > 0 {
		preds = append(preds, globAny(ruleID, "path", m.PathGlob.Values))
	}
	if len(m.DNSSuffix.Values) > 0 {
		preds = append(preds, suffixAnyList("dns_names", m.DNSSuffix.Values))
	}
	return preds
}

func fieldValue(row jsonl.Row, field string) (string, bool) {
	if v, ok := row.GetString(field); ok {
		return v, true
	}
	if n, ok := row.GetInt(field); ok {
		return strconv.Itoa(n), true
	}
	if details, ok := row.GetMap("details"); ok {
		d := jsonl.Row(details)
		if v, ok := d.GetString(field); ok {
			return v, true
		}
		if n, ok := d.GetInt(field); ok {
			return strconv.Itoa(n), true
		}
	}
	return "", false
}

func fieldValues(row jsonl.Row, field string) ([]string, bool) {
	if v, ok := row.GetStringSlice(field); ok {
		return v, true
	}
	if details, ok := row.GetMap("details"); ok {
		if v, ok := jsonl.Row(details).GetStringSlice(field); ok {
			return v, true
		}
	}
	return nil, false
}

func exactAny(field string, candidates []string) predicate {
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		v, ok := fieldValue(row, field)
		if !ok {
			return "", "", false
		}
		for _, c := range candidates {
			if v == c {
				return v, c, true
			}
		}
		return "", "", false
	}}
}

func numericAny(field string, candidates []int) predicate {
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		n, ok := row.GetInt(field)
		if !ok {
			if details, dok := row.GetMap("details"); dok {
				n, ok = jsonl.Row(details).GetInt(field)
			}
		}
		if !ok {
			return "", "", false
		}
		for _, c := range candidates {
			if n == c {
				return strconv.Itoa(n), strconv.Itoa(c), true
			}
		}
		return "", "", false
	}}
}

func substringAny(field string, candidates []string) predicate {
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		v, ok := fieldValue(row, field)
		if !ok {
			return "", "", false
		}
		for _, c := range candidates {
			if strings.Contains(v, c) {
				return v, c, true
			}
		}
		return "", "", false
	}}
}

func prefixAny(field string, prefixes []string) predicate {
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		v, ok := fieldValue(row, field)
		if !ok {
			return "", "", false
		}
		for _, p := range prefixes {
			if strings.HasPrefix(v, p) {
				return v, p, true
			}
		}
		return "", "", false
	}}
}

// suffixAnyList implements dns_suffix: case-insensitive suffix match
// against each of a list-valued field's entries.
func suffixAnyList(field string, suffixes []string) predicate {
	lowered := make([]string, len(suffixes))
	for i, s := range suffixes {
		lowered[i] = strings.ToLower(s)
	}
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		values, ok := fieldValues(row, field)
		if !ok {
			return "", "", false
		}
		for _, v := range values {
			lv := strings.ToLower(v)
			for i, suf := range lowered {
				if strings.HasSuffix(lv, suf) {
					return v, suffixes[i], true
				}
			}
		}
		return "", "", false
	}}
}

func regexAny(ruleID, field string, patterns []string) predicate {
	compiled := compilePatterns(ruleID, field, patterns)
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		v, ok := fieldValue(row, field)
		if !ok {
			return "", "", false
		}
		for i, re := range compiled {
			if re != nil && re.MatchString(v) {
				return v, patterns[i], true
			}
		}
		return "", "", false
	}}
}

func regexAnyList(ruleID, field string, patterns []string) predicate {
	compiled := compilePatterns(ruleID, field, patterns)
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		values, ok := fieldValues(row, field)
		if !ok {
			return "", "", false
		}
		for _, v := range values {
			for i, re := range compiled {
				if re != nil && re.MatchString(v) {
					return v, patterns[i], true
				}
			}
		}
		return "", "", false
	}}
}

// compilePatterns compiles each regex, logging and omitting (nil slot)
// any that fail: the rule stays enabled for its other fields, with the
// invalid pattern simply omitted.
func compilePatterns(ruleID, field string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "forbidden-detector: rule %s: invalid regex for %s: %v\n", ruleID, field, err)
			continue
		}
		out[i] = re
	}
	return out
}

// globAny implements the supplemental path_glob predicate: shell-glob
// matching over path, for policies that find glob patterns easier to
// author than an equivalent regex.
func globAny(ruleID, field string, patterns []string) predicate {
	compiled := make([]glob.Glob, len(patterns))
	for i, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			fmt.Fprintf(os.Stderr, "forbidden-detector: rule %s: invalid glob for %s: %v\n", ruleID, field, err)
			continue
		}
		compiled[i] = g
	}
	return predicate{field: field, eval: func(row jsonl.Row) (string, string, bool) {
		v, ok := fieldValue(row, field)
		if !ok {
			return "", "", false
		}
		for i, g := range compiled {
			if g != nil && g.Match(v) {
				return v, patterns[i], true
			}
		}
		return "", "", false
	}}
}
