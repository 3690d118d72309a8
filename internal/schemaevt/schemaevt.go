// Package schemaevt holds the schema-version, event-type and source
// constants, the on-disk time layout and the errno name table shared by
// every collector stage, so that the audit filter, eBPF filter,
// summarizer, merger and forbidden detector agree on what a row looks like
// without importing each other.
package schemaevt

// Schema versions, one per on-disk output contract.
const (
	AuditFilteredSchema   = "auditd.filtered.v1"
	EBPFFilteredSchema    = "ebpf.filtered.v1"
	EBPFSummarySchema     = "ebpf.summary.v1"
	TimelineFilteredSchema = "timeline.filtered.v1"
	ForbiddenAlertSchema  = "forbidden.alert.v1"
)

// Event type tokens.
const (
	EventExec        = "exec"
	EventFSCreate     = "fs_create"
	EventFSWrite      = "fs_write"
	EventFSUnlink     = "fs_unlink"
	EventFSRename     = "fs_rename"
	EventFSMeta       = "fs_meta"
	EventNetConnect   = "net_connect"
	EventNetSend      = "net_send"
	EventNetSummary   = "net_summary"
	EventDNSQuery     = "dns_query"
	EventDNSResponse  = "dns_response"
	EventUnixConnect  = "unix_connect"
	EventAlert        = "alert"
)

// Source tokens.
const (
	SourceAudit  = "audit"
	SourceEBPF   = "ebpf"
	SourcePolicy = "policy"
)

// UnknownSessionID is the literal session_id value used for an
// unattributed row: `session_id = "unknown"` with no job_id means
// "unattributed", permitted only transitionally.
const UnknownSessionID = "unknown"

// TimeLayout is the collector's on-disk timestamp format: millisecond
// precision RFC3339 with a literal Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// errnoNames maps a negated syscall return value to its POSIX errno
// mnemonic, used for exec_errno_name on a failed SYSCALL record.
// Table covers the errno values a sandboxed agent exec is plausible to hit;
// an unmapped code renders as "UNKNOWN" (see ErrnoName).
var errnoNames = map[int]string{
	1:   "EPERM",
	2:   "ENOENT",
	3:   "ESRCH",
	4:   "EINTR",
	5:   "EIO",
	6:   "ENXIO",
	7:   "E2BIG",
	8:   "ENOEXEC",
	9:   "EBADF",
	10:  "ECHILD",
	11:  "EAGAIN",
	12:  "ENOMEM",
	13:  "EACCES",
	14:  "EFAULT",
	16:  "EBUSY",
	17:  "EEXIST",
	18:  "EXDEV",
	19:  "ENODEV",
	20:  "ENOTDIR",
	21:  "EISDIR",
	22:  "EINVAL",
	23:  "ENFILE",
	24:  "EMFILE",
	26:  "ETXTBSY",
	28:  "ENOSPC",
	30:  "EROFS",
	31:  "EMLINK",
	32:  "EPIPE",
	36:  "ENAMETOOLONG",
	38:  "ENOSYS",
	40:  "ELOOP",
	110: "ETIMEDOUT",
}

// ErrnoName renders a negative syscall exit code as a POSIX errno
// mnemonic, falling back to "UNKNOWN" when the code isn't in the table.
func ErrnoName(exitCode int) string {
	code := exitCode
	if code < 0 {
		code = -code
	}
	if name, ok := errnoNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}
