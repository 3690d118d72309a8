package timeline

// InputSpec names one upstream JSONL file and the source token to default
// onto rows from it when they don't carry their own `source`.
type InputSpec struct {
	Path   string `yaml:"path" json:"path"`
	Source string `yaml:"source" json:"source"`
}

// Config is the timeline merger's on-disk configuration.
type Config struct {
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`

	Inputs []InputSpec `yaml:"inputs" json:"inputs"`

	Output struct {
		JSONL string `yaml:"jsonl" json:"jsonl"`
	} `yaml:"output" json:"output"`

	Sorting struct {
		Strategy string `yaml:"strategy" json:"strategy"`
	} `yaml:"sorting" json:"sorting"`
}

const (
	SortTSSourcePID = "ts_source_pid"
	SortTS          = "ts"
)
