package controller

import (
	"sync"
	"time"
)

// processingStats accumulates the time spent by the algorithm per data message.
type processingStats struct {
	mu       sync.Mutex
	count    int64
	total    time.Duration
	min, max time.Duration
}

func (s *processingStats) add(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.count++
	s.total += d
}

func (s *processingStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count, s.total, s.min, s.max = 0, 0, 0, 0
}

// snapshot returns the average, minimum and maximum processing times.
func (s *processingStats) snapshot() (avg, lo, hi time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, 0, 0
	}
	return s.total / time.Duration(s.count), s.min, s.max
}
