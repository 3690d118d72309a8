package collectorlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufCloser struct{ *bytes.Buffer }

func (bufCloser) Close() error { return nil }

func TestOutputfRawModeIncludesAppnameAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("test-app", bufCloser{buf})
	l.raw = true

	l.Infof("hello %s", "world")

	line := buf.String()
	assert.Contains(t, line, "test-app")
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "hello world")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestOutputfGatesBelowConfiguredLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("test-app", bufCloser{buf})
	l.SetLevel(WARN)

	l.Debugf("should not appear")
	l.Infof("also should not appear")
	assert.Empty(t, buf.String())

	l.Warnf("this one should appear")
	assert.Contains(t, buf.String(), "this one should appear")
}

func TestCloseIsIdempotentlyRejectedAfterFirstClose(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("test-app", bufCloser{buf})
	require.NoError(t, l.Close())
	assert.Equal(t, ErrNotOpen, l.Close())
}

func TestOutputfAfterCloseIsANoop(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("test-app", bufCloser{buf})
	require.NoError(t, l.Close())
	l.Infof("dropped")
	assert.Empty(t, buf.String())
}

func TestGenRFCProducesNonRawStructuredLine(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New("test-app", bufCloser{buf})
	l.raw = false

	l.Errorf("boom")
	line := buf.String()
	assert.Contains(t, line, "test-app")
	assert.Contains(t, line, "boom")
}
