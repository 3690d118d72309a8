package ownership

import (
	"time"
)

// PendingItem is one buffered eBPF row awaiting ownership resolution.
type PendingItem struct {
	PID      int
	TS       time.Time
	Enqueued time.Time
	Row      interface{}

	seq int64 // internal arrival id; Row may hold an uncomparable map, so
	          // eviction bookkeeping keys off this instead of struct equality
}

// PendingBuffer is a bounded per-PID FIFO of PendingItems with a total
// cap, used by the eBPF filter to hold events that arrive before the
// owning PID has been resolved. Exceeding either cap drops the oldest
// entry (per-PID oldest, or buffer-wide oldest respectively); a TTL
// relative to the newest observed ts expires stale entries outright.
type PendingBuffer struct {
	MaxPerPID int
	MaxTotal  int
	TTLSec    float64

	byPID   map[int][]PendingItem
	order   []PendingItem // global arrival order, for the total cap and TTL sweep
	maxSeen time.Time
	nextSeq int64
}

func NewPendingBuffer(maxPerPID, maxTotal int, ttlSec float64) *PendingBuffer {
	return &PendingBuffer{
		MaxPerPID: maxPerPID,
		MaxTotal:  maxTotal,
		TTLSec:    ttlSec,
		byPID:     make(map[int][]PendingItem),
	}
}

// Push enqueues row for pid, evicting the oldest entry for this PID if
// MaxPerPID is exceeded, then evicting the oldest entry buffer-wide if
// MaxTotal is exceeded.
func (b *PendingBuffer) Push(pid int, ts time.Time, row interface{}) {
	if ts.After(b.maxSeen) {
		b.maxSeen = ts
	}
	item := PendingItem{PID: pid, TS: ts, Enqueued: ts, Row: row, seq: b.nextSeq}
	b.nextSeq++

	b.byPID[pid] = append(b.byPID[pid], item)
	if b.MaxPerPID > 0 && len(b.byPID[pid]) > b.MaxPerPID {
		b.dropOldestForPID(pid)
	}
	b.order = append(b.order, item)
	if b.MaxTotal > 0 && len(b.order) > b.MaxTotal {
		b.dropOldestGlobal()
	}
}

func (b *PendingBuffer) dropOldestForPID(pid int) {
	items := b.byPID[pid]
	if len(items) == 0 {
		return
	}
	dropped := items[0]
	b.byPID[pid] = items[1:]
	b.removeFromOrderBySeq(dropped.seq)
}

func (b *PendingBuffer) dropOldestGlobal() {
	if len(b.order) == 0 {
		return
	}
	dropped := b.order[0]
	b.order = b.order[1:]
	b.removeFromPIDBySeq(dropped.PID, dropped.seq)
}

func (b *PendingBuffer) removeFromOrderBySeq(seq int64) {
	for i, it := range b.order {
		if it.seq == seq {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *PendingBuffer) removeFromPIDBySeq(pid int, seq int64) {
	items := b.byPID[pid]
	for i, it := range items {
		if it.seq == seq {
			b.byPID[pid] = append(items[:i], items[i+1:]...)
			break
		}
	}
}

// pruneExpired drops entries older than TTLSec relative to the newest
// observed ts. A non-positive TTL disables expiry.
func (b *PendingBuffer) pruneExpired() {
	if b.TTLSec <= 0 || b.maxSeen.IsZero() {
		return
	}
	cutoff := b.maxSeen.Add(-time.Duration(b.TTLSec * float64(time.Second)))
	var kept []PendingItem
	for _, it := range b.order {
		if it.TS.Before(cutoff) {
			b.removeFromPIDBySeq(it.PID, it.seq)
			continue
		}
		kept = append(kept, it)
	}
	b.order = kept
}

// Drain removes and returns the buffered backlog for pid in arrival
// order, called when pid transitions to owned so its held-back events can
// be replayed through the normal gate/exclude/resolve/emit pipeline.
func (b *PendingBuffer) Drain(pid int) []PendingItem {
	b.pruneExpired()
	items := b.byPID[pid]
	if len(items) == 0 {
		return nil
	}
	delete(b.byPID, pid)
	remaining := b.order[:0:0]
	for _, it := range b.order {
		if it.PID != pid {
			remaining = append(remaining, it)
		}
	}
	b.order = remaining
	return items
}

// Len reports the total number of buffered items, after pruning expired
// entries.
func (b *PendingBuffer) Len() int {
	b.pruneExpired()
	return len(b.order)
}
