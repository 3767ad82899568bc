package environment

import (
	"context"
	"sync"
	"time"

	"github.com/boristopalov/toolgym/pkg/agent"
	"github.com/boristopalov/toolgym/pkg/core"
)

// Environment defines the rules and mechanics of one episode
type Environment interface {
	// Play drives the agent until a solution is submitted (or the episode is
	// cut short) and returns the persisted record. It never fails.
	Play(ctx context.Context, ag agent.Agent) core.EpisodeResult
	// GetState returns a snapshot of the episode state
	GetState() State
}

// State is a read-only snapshot of an episode
type State struct {
	EpisodeID   string
	Status      string
	Round       int
	Step        int
	Solution    map[string]any
	Correctness bool
	Timestamp   time.Time
}

const (
	StatusIdle     = "idle"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// EpisodeState holds the one field the episode turns on: the solution moves
// from nil to a fixed mapping at most once.
type EpisodeState struct {
	episodeID   string
	status      string
	round       int
	step        int
	solution    map[string]any
	submitted   bool
	correctness bool
	timestamp   time.Time
	mu          sync.RWMutex
}

func NewEpisodeState(episodeID string) *EpisodeState {
	return &EpisodeState{
		episodeID: episodeID,
		status:    StatusIdle,
		timestamp: time.Now(),
	}
}

func (s *EpisodeState) EpisodeID() string {
	return s.episodeID
}

// Submit records the solution unless one is already set. It reports whether
// this call set it.
func (s *EpisodeState) Submit(solution map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return false
	}
	if solution == nil {
		solution = map[string]any{}
	}
	s.solution = solution
	s.submitted = true
	s.timestamp = time.Now()
	return true
}

func (s *EpisodeState) Submitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submitted
}

func (s *EpisodeState) Solution() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.solution
}

func (s *EpisodeState) advance(status string, round, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.round = round
	s.step = step
	s.timestamp = time.Now()
}

func (s *EpisodeState) finish(correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFinished
	s.correctness = correct
	s.timestamp = time.Now()
}

func (s *EpisodeState) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		EpisodeID:   s.episodeID,
		Status:      s.status,
		Round:       s.round,
		Step:        s.step,
		Solution:    s.solution,
		Correctness: s.correctness,
		Timestamp:   s.timestamp,
	}
}
