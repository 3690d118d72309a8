package forbidden

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottmaran/lux-collector/internal/jsonl"
)

func boolPtr(b bool) *bool { return &b }

func TestCompileSkipsRulesWithoutID(t *testing.T) {
	p := Policy{Rules: []RawRule{{ID: ""}, {ID: "ok"}}}
	rules := Compile(p)
	require.Len(t, rules, 1)
	assert.Equal(t, "ok", rules[0].ID)
}

func TestCompileAppliesPolicyDefaultsWithRuleOverride(t *testing.T) {
	p := Policy{
		Rules: []RawRule{{ID: "a"}, {ID: "b", Severity: "critical"}},
	}
	p.Defaults.Severity = "low"
	p.Defaults.Enabled = true
	rules := Compile(p)
	require.Len(t, rules, 2)
	assert.Equal(t, "low", rules[0].Severity)
	assert.Equal(t, "critical", rules[1].Severity)
	assert.True(t, rules[0].Enabled)
}

func TestCompileRespectsExplicitEnabledOverride(t *testing.T) {
	p := Policy{Rules: []RawRule{{ID: "a", Enabled: boolPtr(false)}}}
	p.Defaults.Enabled = true
	rules := Compile(p)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
}

func TestRuleEvalAllRequiresEveryPredicate(t *testing.T) {
	p := Policy{Rules: []RawRule{{
		ID: "curl-to-4444",
		Match: RawMatch{
			CommAny: AnyList{Values: []string{"curl"}},
			DstPort: AnyInts{Values: []int{4444}},
		},
	}}}
	rules := Compile(p)
	require.Len(t, rules, 1)
	rule := rules[0]

	matchRow := jsonl.Row{"comm": "curl", "dst_port": float64(4444)}
	matches, ok := rule.evalAll(matchRow)
	require.True(t, ok)
	assert.Len(t, matches, 2)

	partialRow := jsonl.Row{"comm": "curl", "dst_port": float64(80)}
	_, ok = rule.evalAll(partialRow)
	assert.False(t, ok)
}

func TestRuleEvalAllFallsBackToDetailsSubObject(t *testing.T) {
	p := Policy{Rules: []RawRule{{
		ID:    "path-check",
		Match: RawMatch{PathPrefix: StrList{Values: []string{"/etc/"}}},
	}}}
	rule := Compile(p)[0]

	row := jsonl.Row{"details": map[string]interface{}{"path": "/etc/passwd"}}
	_, ok := rule.evalAll(row)
	assert.True(t, ok)
}

func TestDNSSuffixMatchIsCaseInsensitiveOverList(t *testing.T) {
	p := Policy{Rules: []RawRule{{
		ID:    "bad-dns",
		Match: RawMatch{DNSSuffix: StrList{Values: []string{".evil.example"}}},
	}}}
	rule := Compile(p)[0]

	row := jsonl.Row{"dns_names": []interface{}{"HOST.EVIL.EXAMPLE"}}
	_, ok := rule.evalAll(row)
	assert.True(t, ok)
}

func TestEventTypeAndSourceFilterRule(t *testing.T) {
	p := Policy{Rules: []RawRule{{
		ID:        "exec-only",
		EventType: "exec",
		Source:    "audit",
	}}}
	rule := Compile(p)[0]

	assert.True(t, rule.eventTypeMatches(jsonl.Row{"event_type": "exec"}))
	assert.False(t, rule.eventTypeMatches(jsonl.Row{"event_type": "fs_write"}))
	assert.True(t, rule.sourceMatches(jsonl.Row{"source": "audit"}))
	assert.False(t, rule.sourceMatches(jsonl.Row{"source": "ebpf"}))
}

func TestInvalidRegexIsOmittedNotFatal(t *testing.T) {
	p := Policy{Rules: []RawRule{{
		ID:    "bad-regex",
		Match: RawMatch{CmdRegex: StrList{Values: []string{"(unterminated"}}},
	}}}
	rule := Compile(p)[0]
	require.Len(t, rule.predicates, 1)

	_, ok := rule.evalAll(jsonl.Row{"cmd": "anything"})
	assert.False(t, ok, "an all-invalid predicate set should never match")
}
