package core

import (
	"context"
)

// CompletionClient returns a single assistant turn for a conversation
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Message, error)
}

// Experiment coordinates the running of many episodes
type Experiment interface {
	// Run executes one episode per input record
	Run(ctx context.Context) error
	// GetStatus returns current experiment status
	GetStatus() ExperimentStatus
}
