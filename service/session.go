package service

import (
	"sync"
	"time"
)

// VotingSession gates vote casting. A session ends when End is called or its
// deadline passes, whichever comes first.
type VotingSession struct {
	startTime time.Time
	endTime   time.Time
	isActive  bool
	mu        sync.RWMutex
}

// NewVotingSession opens a session. A duration of zero or less means no deadline.
func NewVotingSession(duration time.Duration) *VotingSession {
	now := time.Now()
	s := &VotingSession{
		startTime: now,
		isActive:  true,
	}
	if duration > 0 {
		s.endTime = now.Add(duration)
	}
	return s
}

func (vs *VotingSession) IsActive() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if !vs.isActive {
		return false
	}
	return vs.endTime.IsZero() || time.Now().Before(vs.endTime)
}

func (vs *VotingSession) End() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.isActive = false
}

func (vs *VotingSession) StartedAt() time.Time {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.startTime
}

// EndsAt returns the deadline, or the zero time if there is none.
func (vs *VotingSession) EndsAt() time.Time {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.endTime
}
