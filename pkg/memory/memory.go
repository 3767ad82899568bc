package memory

import (
	"sync"

	"github.com/boristopalov/toolgym/pkg/core"
)

// Memory is the ordered, append-only conversation of one episode
type Memory struct {
	messages []core.Message
	mu       sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		messages: make([]core.Message, 0, 16),
	}
}

// GetAllMessages returns a copy of all messages in memory
func (m *Memory) GetAllMessages() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modifications
	messages := make([]core.Message, len(m.messages))
	copy(messages, m.messages)
	return messages
}

// Store appends a message. Tool calls are copied so later edits by the caller
// don't leak into the log.
func (m *Memory) Store(msg core.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ToolCalls != nil {
		calls := make([]core.ToolCall, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		msg.ToolCalls = calls
	}
	m.messages = append(m.messages, msg)
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
