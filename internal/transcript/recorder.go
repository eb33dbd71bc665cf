package transcript

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"go.uber.org/zap"
)

// Recorder buffers call transcripts in LangChainGo conversation buffers,
// one per session, bounded by capacity and idle ttl.
type Recorder struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *memory.ConversationBuffer]
	logger   *zap.Logger
}

// NewRecorder creates a recorder holding at most capacity transcripts.
func NewRecorder(capacity int, ttl time.Duration, logger *zap.Logger) *Recorder {
	return &Recorder{
		sessions: expirable.NewLRU[string, *memory.ConversationBuffer](capacity, nil, ttl),
		logger:   logger,
	}
}

func (r *Recorder) buffer(sessionID string) *memory.ConversationBuffer {
	if mem, ok := r.sessions.Get(sessionID); ok {
		return mem
	}
	mem := memory.NewConversationBuffer()
	r.sessions.Add(sessionID, mem)
	return mem
}

// RecordPrompt appends an agent prompt that was not triggered by caller
// input, such as the opening question.
func (r *Recorder) RecordPrompt(ctx context.Context, sessionID, prompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem := r.buffer(sessionID)
	if err := mem.ChatHistory.AddAIMessage(ctx, prompt); err != nil {
		return fmt.Errorf("failed to add agent message to transcript: %w", err)
	}
	return nil
}

// RecordTurn appends a caller utterance and the agent's reply. Silent
// turns only record the reply.
func (r *Recorder) RecordTurn(ctx context.Context, sessionID, utterance, reply string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem := r.buffer(sessionID)
	if utterance != "" {
		if err := mem.ChatHistory.AddUserMessage(ctx, utterance); err != nil {
			return fmt.Errorf("failed to add caller message to transcript: %w", err)
		}
	}
	if err := mem.ChatHistory.AddAIMessage(ctx, reply); err != nil {
		return fmt.Errorf("failed to add agent message to transcript: %w", err)
	}
	return nil
}

// Entries returns the transcript recorded so far.
func (r *Recorder) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return entries(ctx, mem)
}

// Flush returns the transcript and forgets it.
func (r *Recorder) Flush(ctx context.Context, sessionID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	r.sessions.Remove(sessionID)

	out, err := entries(ctx, mem)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("transcript flushed", zap.String("session_id", sessionID), zap.Int("entries", len(out)))
	return out, nil
}

// ActiveSessions returns the number of transcripts held.
func (r *Recorder) ActiveSessions() int {
	return r.sessions.Len()
}

func entries(ctx context.Context, mem *memory.ConversationBuffer) ([]Entry, error) {
	messages, err := mem.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript messages: %w", err)
	}

	out := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		switch m := msg.(type) {
		case llms.HumanChatMessage:
			out = append(out, Entry{Role: RoleCaller, Content: m.Content})
		case llms.AIChatMessage:
			out = append(out, Entry{Role: RoleAgent, Content: m.Content})
		}
	}
	return out, nil
}
