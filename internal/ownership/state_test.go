package ownership

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottmaran/lux-collector/internal/runs"
)

func newIndex(t *testing.T) *runs.Index {
	t.Helper()
	root := t.TempDir()
	idx := runs.NewIndex(filepath.Join(root, "sessions"), filepath.Join(root, "jobs"), 1.0)
	idx.ForceRefresh()
	return idx
}

func TestMarkOwnedParentInheritance(t *testing.T) {
	idx := newIndex(t)
	uid := 1000
	s := NewState(&uid, nil, 0)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := s.MarkOwned(10, 1, nil, uid, true, "bash", ts, idx)
	require.True(t, ok)

	childOK := s.MarkOwned(11, 10, nil, 999, true, "sh", ts.Add(time.Second), idx)
	require.True(t, childOK)

	owner, isOwned := s.IsOwned(11)
	require.True(t, isOwned)
	parentOwner, _ := s.IsOwned(10)
	assert.Equal(t, parentOwner, owner)
}

func TestMarkOwnedAgentUIDGateRejectsOtherUID(t *testing.T) {
	idx := newIndex(t)
	uid := 1000
	s := NewState(&uid, nil, 0)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := s.MarkOwned(20, 1, nil, 2000, true, "bash", ts, idx)
	assert.False(t, ok)
	_, isOwned := s.IsOwned(20)
	assert.False(t, isOwned)
}

func TestMarkOwnedAgentUIDGateRequiresRootComm(t *testing.T) {
	idx := newIndex(t)
	uid := 1000
	s := NewState(&uid, []string{"agent-init"}, 0)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := s.MarkOwned(30, 1, nil, uid, true, "bash", ts, idx)
	assert.False(t, ok, "comm not in root_comm should not be claimed via the uid gate")

	ok = s.MarkOwned(31, 1, nil, uid, true, "agent-init", ts, idx)
	assert.True(t, ok)
}

func TestIsOwnedPrunesAfterTTL(t *testing.T) {
	idx := newIndex(t)
	uid := 1000
	s := NewState(&uid, nil, 10)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, s.MarkOwned(40, 1, nil, uid, true, "bash", t0, idx))

	_, stillOwned := s.IsOwned(40)
	assert.True(t, stillOwned)

	// bump the clock far enough that pid 40's last-seen falls outside the TTL window
	require.True(t, s.MarkOwned(41, 1, nil, uid, true, "bash", t0.Add(time.Hour), idx))

	_, owned := s.IsOwned(40)
	assert.False(t, owned)
}

func TestLastExecCmdRoundTrip(t *testing.T) {
	s := NewState(nil, nil, 0)
	_, ok := s.LastExecCmd(1)
	assert.False(t, ok)

	s.RecordExecCmd(1, "pwd")
	cmd, ok := s.LastExecCmd(1)
	require.True(t, ok)
	assert.Equal(t, "pwd", cmd)
}
