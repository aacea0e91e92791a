package campaign

import (
	"sync"
	"time"
)

// Scheduler arms one-shot timers keyed by job id.
type Scheduler interface {
	// Arm schedules a single firing for jobID after delay, replacing any
	// timer already pending for that job.
	Arm(jobID string, delay time.Duration)
}

type timerEntry struct {
	timer *time.Timer
	ver   uint64
}

// TimerScheduler keeps at most one pending timer per job. A firing removes
// its entry before invoking fire, so the callee is free to re-arm.
type TimerScheduler struct {
	fire func(jobID string)

	mu      sync.Mutex
	timers  map[string]timerEntry
	ver     uint64
	stopped bool
}

// NewTimerScheduler returns a scheduler that calls fire from the timer's
// goroutine.
func NewTimerScheduler(fire func(jobID string)) *TimerScheduler {
	return &TimerScheduler{
		fire:   fire,
		timers: make(map[string]timerEntry),
	}
}

// Arm implements Scheduler. It is a no-op after Stop.
func (s *TimerScheduler) Arm(jobID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[jobID]; ok {
		prev.timer.Stop()
	}

	s.ver++
	ver := s.ver
	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.timers[jobID]
		if !ok || cur.ver != ver || s.stopped {
			// replaced, disarmed or stopped meanwhile
			s.mu.Unlock()
			return
		}
		delete(s.timers, jobID)
		s.mu.Unlock()

		s.fire(jobID)
	})
	s.timers[jobID] = timerEntry{timer: t, ver: ver}
}

// disarm cancels the pending timer for jobID, if any.
func (s *TimerScheduler) disarm(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[jobID]; ok {
		e.timer.Stop()
		delete(s.timers, jobID)
	}
}

// pending reports whether a timer is armed for jobID.
func (s *TimerScheduler) pending(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[jobID]
	return ok
}

// Stop cancels every pending timer and rejects further Arm calls.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
}
