package forbidden

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// RawRule is one policy rule as written in the YAML/JSON policy file,
// before compilation.
type RawRule struct {
	ID           string      `yaml:"id" json:"id"`
	Description  string      `yaml:"description" json:"description"`
	Severity     string      `yaml:"severity" json:"severity"`
	Action       string      `yaml:"action" json:"action"`
	Enabled      *bool       `yaml:"enabled" json:"enabled"`
	EventType    interface{} `yaml:"event_type" json:"event_type"`
	EventTypeAny interface{} `yaml:"event_type_any" json:"event_type_any"`
	Source       interface{} `yaml:"source" json:"source"`
	SourceAny    interface{} `yaml:"source_any" json:"source_any"`
	Match        RawMatch    `yaml:"match" json:"match"`
}

// RawMatch is the per-field predicate block of one rule. Each field
// accepts the shapes the reference policy format uses: `any: [...]` for
// exact/numeric matches, a bare list/string for contains/regex/prefix/
// suffix/glob predicates. The exact-match fields are wire-named without
// the `_any` suffix (`comm`, `exe`, `protocol`, `dst_ip`) — `_any` is only
// the compiled Rule's internal naming, not a policy key.
type RawMatch struct {
	CommAny     AnyList `yaml:"comm" json:"comm"`
	ExeAny      AnyList `yaml:"exe" json:"exe"`
	ProtocolAny AnyList `yaml:"protocol" json:"protocol"`
	DstIPAny    AnyList `yaml:"dst_ip" json:"dst_ip"`
	DstPort     AnyInts `yaml:"dst_port" json:"dst_port"`
	CmdContains StrList `yaml:"cmd_contains" json:"cmd_contains"`
	CmdRegex    StrList `yaml:"cmd_regex" json:"cmd_regex"`
	PathRegex   StrList `yaml:"path_regex" json:"path_regex"`
	DNSRegex    StrList `yaml:"dns_regex" json:"dns_regex"`
	PathPrefix  StrList `yaml:"path_prefix" json:"path_prefix"`
	PathGlob    StrList `yaml:"path_glob" json:"path_glob"`
	DNSSuffix   StrList `yaml:"dns_suffix" json:"dns_suffix"`
}

// AnyList unmarshals either a bare scalar, a list, or `{any: [...]}` into
// a flat string list, matching the reference policy's scalar-or-list
// sugar.
type AnyList struct {
	Values []string
}

type anyListWire struct {
	Any []string `yaml:"any" json:"any"`
}

func (a *AnyList) UnmarshalYAML(node *yaml.Node) error {
	var wire anyListWire
	if err := node.Decode(&wire); err == nil && len(wire.Any) > 0 {
		a.Values = wire.Any
		return nil
	}
	var list []string
	if err := node.Decode(&list); err == nil {
		a.Values = list
		return nil
	}
	var scalar string
	if err := node.Decode(&scalar); err == nil && scalar != "" {
		a.Values = []string{scalar}
	}
	return nil
}

func (a *AnyList) UnmarshalJSON(b []byte) error {
	var wire anyListWire
	if err := json.Unmarshal(b, &wire); err == nil && len(wire.Any) > 0 {
		a.Values = wire.Any
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		a.Values = list
		return nil
	}
	var scalar string
	if err := json.Unmarshal(b, &scalar); err == nil && scalar != "" {
		a.Values = []string{scalar}
	}
	return nil
}

// AnyInts is the integer analogue of AnyList (used for dst_port).
type AnyInts struct {
	Values []int
}

type anyIntsWire struct {
	Any []int `yaml:"any" json:"any"`
}

func (a *AnyInts) UnmarshalYAML(node *yaml.Node) error {
	var wire anyIntsWire
	if err := node.Decode(&wire); err == nil && len(wire.Any) > 0 {
		a.Values = wire.Any
		return nil
	}
	var list []int
	if err := node.Decode(&list); err == nil {
		a.Values = list
		return nil
	}
	var scalar int
	if err := node.Decode(&scalar); err == nil {
		a.Values = []int{scalar}
	}
	return nil
}

func (a *AnyInts) UnmarshalJSON(b []byte) error {
	var wire anyIntsWire
	if err := json.Unmarshal(b, &wire); err == nil && len(wire.Any) > 0 {
		a.Values = wire.Any
		return nil
	}
	var list []int
	if err := json.Unmarshal(b, &list); err == nil {
		a.Values = list
		return nil
	}
	var scalar int
	if err := json.Unmarshal(b, &scalar); err == nil {
		a.Values = []int{scalar}
	}
	return nil
}

// StrList unmarshals a bare string or a list of strings.
type StrList struct {
	Values []string
}

func (s *StrList) UnmarshalYAML(node *yaml.Node) error {
	var list []string
	if err := node.Decode(&list); err == nil {
		s.Values = list
		return nil
	}
	var scalar string
	if err := node.Decode(&scalar); err == nil && scalar != "" {
		s.Values = []string{scalar}
	}
	return nil
}

func (s *StrList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		s.Values = list
		return nil
	}
	var scalar string
	if err := json.Unmarshal(b, &scalar); err == nil && scalar != "" {
		s.Values = []string{scalar}
	}
	return nil
}

// Policy is the top-level forbidden-action policy file.
type Policy struct {
	PolicyName string  `yaml:"policy_name" json:"policy_name"`
	Defaults   struct {
		Severity string `yaml:"severity" json:"severity"`
		Action   string `yaml:"action" json:"action"`
		Enabled  bool   `yaml:"enabled" json:"enabled"`
	} `yaml:"defaults" json:"defaults"`
	Rules []RawRule `yaml:"rules" json:"rules"`
}

// UnmarshalYAML decodes a policy, taking defaults.enabled as true when the
// policy file leaves it out.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	type plain Policy
	var raw plain
	raw.Defaults.Enabled = true
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = Policy(raw)
	return nil
}

// Config is the forbidden detector's on-disk configuration.
type Config struct {
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`
	Policy        string `yaml:"policy" json:"policy"`

	Inputs []struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"inputs" json:"inputs"`

	Output struct {
		JSONL string `yaml:"jsonl" json:"jsonl"`
	} `yaml:"output" json:"output"`

	Sorting struct {
		Strategy string `yaml:"strategy" json:"strategy"`
	} `yaml:"sorting" json:"sorting"`
}

const (
	SortTSRulePID = "ts_rule_pid"
	SortTS        = "ts"
)

func scalarOrList(v interface{}) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return []string{x}
	case []string:
		return x
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
