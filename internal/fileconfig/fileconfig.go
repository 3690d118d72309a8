// Package fileconfig loads stage configuration files. It mirrors the shape
// of the ingest pipeline's own config loader (size-capped read, single
// unmarshal call) but targets YAML with a JSON fallback, per the
// collector's documented configuration contract.
package fileconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// maxConfigSize mirrors the ingest pipeline's own config-file size ceiling;
// these files are hand-written and never expected to approach it.
const maxConfigSize = 4 * 1024 * 1024

// ErrConfigTooLarge is returned when a config file exceeds maxConfigSize.
var ErrConfigTooLarge = errors.New("fileconfig: config file is too large")

// ErrMissing wraps the stat/open failure for a config path so callers can
// distinguish "missing config" (fatal, exit 2) from other decode
// failures.
type ErrMissing struct {
	Path string
	Err  error
}

func (e *ErrMissing) Error() string {
	return fmt.Sprintf("fileconfig: cannot open %s: %v", e.Path, e.Err)
}

func (e *ErrMissing) Unwrap() error { return e.Err }

// Load reads the file at path and unmarshals it into out. It tries YAML
// first; if that fails it retries as JSON, matching the reference
// implementation's "PyYAML or else json" fallback.
func Load(path string, out interface{}) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &ErrMissing{Path: path, Err: err}
	}
	if fi.Size() > maxConfigSize {
		return ErrConfigTooLarge
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return &ErrMissing{Path: path, Err: err}
	}
	if yerr := yaml.Unmarshal(b, out); yerr == nil {
		return nil
	}
	if jerr := json.Unmarshal(b, out); jerr == nil {
		return nil
	} else {
		return fmt.Errorf("fileconfig: %s is neither valid YAML nor valid JSON: %w", path, jerr)
	}
}

// EnvOverride replaces *dst with the value of the named environment
// variable when it is set and non-empty. This is the Go shape of the
// reference scripts' `os.getenv(...) or cfg...` pattern, built into a
// reusable helper used by cmd/* to let the merge and summary stages
// chain without editing config between runs.
func EnvOverride(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}
