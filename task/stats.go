package task

import (
	"math"
	"sync"
	"time"
)

// InputStats counts the data received on one input slot. Sequence gaps count as drops and
// repeated sequence numbers as duplicates.
type InputStats struct {
	mu           sync.Mutex
	messages     uint64
	bytes        uint64
	drops        uint64
	dupes        uint64
	lastSequence uint32
	seen         bool
	since        time.Time
}

// InputSnapshot is a copy of InputStats with rates computed since the last reset.
type InputSnapshot struct {
	Messages    uint64
	Bytes       uint64
	Drops       uint64
	Dupes       uint64
	MessageRate float64
	ByteRate    float64
}

func newInputStats() *InputStats {
	return &InputStats{since: time.Now()}
}

func (s *InputStats) record(sequence uint32, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen {
		// sequences wrap; a gap past half the range is a step back, not a drop
		switch gap := sequence - s.lastSequence; {
		case gap == 0:
			s.dupes++
		case gap > 1 && gap <= math.MaxInt32:
			s.drops += uint64(gap - 1)
		}
	}
	s.seen = true
	s.lastSequence = sequence
	s.messages++
	s.bytes += uint64(size)
}

// Reset zeroes the counters and restarts the rate window.
func (s *InputStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages, s.bytes, s.drops, s.dupes = 0, 0, 0, 0
	s.seen = false
	s.since = time.Now()
}

func (s *InputStats) Snapshot() InputSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := InputSnapshot{Messages: s.messages, Bytes: s.bytes, Drops: s.drops, Dupes: s.dupes}
	if elapsed := time.Since(s.since).Seconds(); elapsed > 0 {
		snap.MessageRate = float64(s.messages) / elapsed
		snap.ByteRate = float64(s.bytes) / elapsed
	}
	return snap
}
