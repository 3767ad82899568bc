package messaging

import (
	"time"
)

// EventKind names a diagnosable occurrence inside an episode
type EventKind string

const (
	GenerationFailed   EventKind = "generation_failed"
	ActFailed          EventKind = "act_failed"
	ToolSkipped        EventKind = "tool_skipped"
	ActionFailed       EventKind = "action_failed"
	RenderFailed       EventKind = "render_failed"
	VerificationFailed EventKind = "verification_failed"
	SolutionSubmitted  EventKind = "solution_submitted"
	EpisodeFinished    EventKind = "episode_finished"
)

// Event is published for failures the episode absorbs instead of returning
type Event struct {
	Kind      EventKind
	EpisodeID string // empty for agent-level events not tied to a game
	Detail    string
	Err       error
	Timestamp time.Time
}

// Publisher accepts events
type Publisher interface {
	Publish(evt Event) error
}

// Broker fans events out to subscribers
type Broker interface {
	Publisher
	// Subscribe registers a receiver channel under id
	Subscribe(id string, ch chan<- Event) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}

// Emit publishes evt on p if p is non-nil, stamping the time when unset.
func Emit(p Publisher, evt Event) {
	if p == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	_ = p.Publish(evt)
}
