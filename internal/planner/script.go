package planner

import (
	"context"
	"sync"
	"time"
)

// Turn is one scripted planner response.
type Turn struct {
	// Phase, when set, must match the requested phase or the turn is
	// answered with ErrEmpty.
	Phase    string        `yaml:"phase,omitempty"`
	Proposal any           `yaml:"proposal"`
	Delay    time.Duration `yaml:"delay,omitempty"`
	Err      error         `yaml:"-"`
}

// Script is a planner that replays a fixed sequence of turns. It records
// every request it receives.
type Script struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request
}

// NewScript creates a scripted planner.
func NewScript(turns ...Turn) *Script {
	return &Script{turns: turns}
}

// Proposals is shorthand for a script of undelayed proposals.
func Proposals(proposals ...any) *Script {
	turns := make([]Turn, len(proposals))
	for i, p := range proposals {
		turns[i] = Turn{Proposal: p}
	}
	return NewScript(turns...)
}

// Propose returns the next scripted turn. An exhausted script returns
// ErrEmpty.
func (s *Script) Propose(ctx context.Context, req Request) (any, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.turns) {
		s.mu.Unlock()
		return nil, ErrEmpty
	}
	turn := s.turns[s.next]
	s.next++
	s.mu.Unlock()

	if turn.Delay > 0 {
		timer := time.NewTimer(turn.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if turn.Phase != "" && turn.Phase != req.Phase {
		return nil, ErrEmpty
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return turn.Proposal, nil
}

// Requests returns the requests received so far.
func (s *Script) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request.
func (s *Script) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}

// Remaining returns the number of unplayed turns.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.next
}
