package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
)

// Stats tracks remote call timings and uploaded bytes for reporting.
type Stats struct {
	sum           time.Duration
	finishedCalls int64
	bytes         int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful remote call duration and the bytes it carried.
func (s *Stats) Update(d time.Duration, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedCalls++
	s.bytes += bytes
}

// Average returns the average duration of completed calls.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedCalls == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedCalls)
}

// FinishedCount returns the number of completed calls.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedCalls
}

// TotalDuration returns the sum of all call durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// Bytes returns the number of payload bytes sent by completed calls.
func (s *Stats) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Summary describes the completed calls in a log friendly form.
func (s *Stats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var average time.Duration
	if s.finishedCalls > 0 {
		average = s.sum / time.Duration(s.finishedCalls)
	}
	return fmt.Sprintf("%d call(s), %s sent, %s per call", s.finishedCalls,
		units.HumanSizeWithPrecision(float64(s.bytes), 3), average.Round(time.Millisecond))
}
