package auditfilter

// Config is the audit filter's on-disk configuration. Field names match
// the YAML/JSON keys the harness writes.
type Config struct {
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`

	Input struct {
		AuditLog string `yaml:"audit_log" json:"audit_log"`
	} `yaml:"input" json:"input"`

	Output struct {
		JSONL string `yaml:"jsonl" json:"jsonl"`
	} `yaml:"output" json:"output"`

	SessionsDir string `yaml:"sessions_dir" json:"sessions_dir"`
	JobsDir     string `yaml:"jobs_dir" json:"jobs_dir"`

	Grouping struct {
		Strategy string `yaml:"strategy" json:"strategy"`
	} `yaml:"grouping" json:"grouping"`

	AgentOwnership struct {
		UID      *int     `yaml:"uid" json:"uid"`
		RootComm []string `yaml:"root_comm" json:"root_comm"`
	} `yaml:"agent_ownership" json:"agent_ownership"`

	Exec struct {
		IncludeKeys            []string   `yaml:"include_keys" json:"include_keys"`
		ShellComm              []string   `yaml:"shell_comm" json:"shell_comm"`
		ShellCmdFlag           string     `yaml:"shell_cmd_flag" json:"shell_cmd_flag"`
		HelperExcludeComm      []string   `yaml:"helper_exclude_comm" json:"helper_exclude_comm"`
		HelperExcludeArgvPrefix [][]string `yaml:"helper_exclude_argv_prefix" json:"helper_exclude_argv_prefix"`
	} `yaml:"exec" json:"exec"`

	FS struct {
		IncludeKeys       []string `yaml:"include_keys" json:"include_keys"`
		IncludePathsPrefix []string `yaml:"include_paths_prefix" json:"include_paths_prefix"`
	} `yaml:"fs" json:"fs"`

	Linking struct {
		AttachCmdToFS bool `yaml:"attach_cmd_to_fs" json:"attach_cmd_to_fs"`
	} `yaml:"linking" json:"linking"`
}

// pendingDelaySec is hard-coded rather than read from Config: the
// reference implementation never exposed it on the config surface either,
// so a follow-mode unattributed row is always held this long before one
// forced Run Index refresh and a final flush, attributed if that refresh
// resolved it and as unattributed otherwise.
const pendingDelaySec = 2.0

func defaultShellCmdFlag(v string) string {
	if v == "" {
		return "-lc"
	}
	return v
}

// fsMetaKey is the literal audit rule key (`-k fs_meta` in auditctl)
// that marks a filesystem syscall with no CREATE/DELETE path evidence as
// fs_meta rather than fs_write.
const fsMetaKey = "fs_meta"
