package scheduler

import (
	"sync"
	"time"
)

// Timer is a one-shot timer that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive timers by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerEntry struct {
	timer Timer
	gen   uint64
}

// TimerSet tracks at most one armed timer per task id.
type TimerSet struct {
	mu     sync.Mutex
	clock  Clock
	timers map[string]timerEntry
	gen    uint64
}

func NewTimerSet(clock Clock) *TimerSet {
	return &TimerSet{
		clock:  clock,
		timers: make(map[string]timerEntry),
	}
}

// Arm schedules f after d, replacing any timer already armed for id.
// The entry removes itself before f runs.
func (s *TimerSet) Arm(id string, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if cur, ok := s.timers[id]; ok && cur.gen == gen {
			delete(s.timers, id)
		}
		s.mu.Unlock()
		f()
	})
	s.timers[id] = timerEntry{timer: t, gen: gen}
}

// Disarm stops the timer for id. It reports whether one was armed.
func (s *TimerSet) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.timers[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, id)
	return true
}

func (s *TimerSet) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *TimerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// IDs returns the ids with an armed timer.
func (s *TimerSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	return ids
}

// DisarmAll stops every timer and returns how many were armed.
func (s *TimerSet) DisarmAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.timers)
	for id, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, id)
	}
	return n
}
