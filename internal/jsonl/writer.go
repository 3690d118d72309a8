package jsonl

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

// WriteBatch renders rows (already in their final sort order) to path as
// compact JSONL using write-temp-then-rename, so a reader never observes
// a partially-written batch file.
func WriteBatch(path string, rows []interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("jsonl: create directory for %s: %w", path, err)
	}
	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("jsonl: open temp file for %s: %w", path, err)
	}
	defer t.Cleanup()

	w := bufio.NewWriter(t)
	for _, row := range rows {
		b, err := Encode(row)
		if err != nil {
			return fmt.Errorf("jsonl: encode row for %s: %w", path, err)
		}
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("jsonl: write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("jsonl: flush %s: %w", path, err)
	}
	return t.CloseAtomicallyReplace()
}

// Appender is a follow-mode output sink: it appends one line at a time to
// path and flushes after every write, holding an advisory lock for the
// lifetime of the process so two instances of the same stage can't
// interleave writes to the same file.
type Appender struct {
	lock *flock.Flock
	f    *os.File
	w    *bufio.Writer
}

// OpenAppender opens (creating if necessary) path for append and takes an
// exclusive advisory lock on a sibling ".lock" file. It fails fast if
// another process already holds the lock rather than blocking, since a
// second collector instance on the same output is a misconfiguration, not
// a transient condition to wait out.
func OpenAppender(path string) (*Appender, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("jsonl: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("jsonl: %s is already locked by another writer", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("jsonl: create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	return &Appender{lock: lock, f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one row and flushes immediately, so a downstream tailer
// following this file in real time never waits on a buffered write.
func (a *Appender) Append(row interface{}) error {
	b, err := Encode(row)
	if err != nil {
		return err
	}
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	return a.w.Flush()
}

func (a *Appender) Close() error {
	ferr := a.f.Close()
	lerr := a.lock.Unlock()
	if ferr != nil {
		return ferr
	}
	return lerr
}
