package ebpffilter

// Config is the eBPF filter's on-disk configuration.
type Config struct {
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`

	Input struct {
		AuditLog string `yaml:"audit_log" json:"audit_log"`
		EBPFLog  string `yaml:"ebpf_log" json:"ebpf_log"`
	} `yaml:"input" json:"input"`

	Output struct {
		JSONL string `yaml:"jsonl" json:"jsonl"`
	} `yaml:"output" json:"output"`

	SessionsDir string `yaml:"sessions_dir" json:"sessions_dir"`
	JobsDir     string `yaml:"jobs_dir" json:"jobs_dir"`

	Ownership struct {
		UID       *int     `yaml:"uid" json:"uid"`
		RootComm  []string `yaml:"root_comm" json:"root_comm"`
		PIDTTLSec float64  `yaml:"pid_ttl_sec" json:"pid_ttl_sec"`
		ExecKeys  []string `yaml:"exec_keys" json:"exec_keys"`
	} `yaml:"ownership" json:"ownership"`

	Exec struct {
		ShellComm    []string `yaml:"shell_comm" json:"shell_comm"`
		ShellCmdFlag string   `yaml:"shell_cmd_flag" json:"shell_cmd_flag"`
	} `yaml:"exec" json:"exec"`

	Include struct {
		EventTypes []string `yaml:"event_types" json:"event_types"`
	} `yaml:"include" json:"include"`

	Exclude struct {
		Comm       []string `yaml:"comm" json:"comm"`
		UnixPaths  []string `yaml:"unix_paths" json:"unix_paths"`
		NetDstPorts []int   `yaml:"net_dst_ports" json:"net_dst_ports"`
		NetDstIPs  []string `yaml:"net_dst_ips" json:"net_dst_ips"`
	} `yaml:"exclude" json:"exclude"`

	Linking struct {
		AttachCmdToNet bool `yaml:"attach_cmd_to_net" json:"attach_cmd_to_net"`
	} `yaml:"linking" json:"linking"`

	PendingBuffer struct {
		Enabled   bool    `yaml:"enabled" json:"enabled"`
		TTLSec    float64 `yaml:"ttl_sec" json:"ttl_sec"`
		MaxPerPID int     `yaml:"max_per_pid" json:"max_per_pid"`
		MaxTotal  int     `yaml:"max_total" json:"max_total"`
	} `yaml:"pending_buffer" json:"pending_buffer"`
}
