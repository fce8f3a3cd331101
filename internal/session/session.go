// Package session keeps per-conversation message history in memory.
//
// History is bounded: each conversation keeps at most the configured number
// of recent messages, evicting the oldest first. The store is ephemeral;
// restarting the process clears all conversations.
package session

import (
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// DefaultWindow is the default number of messages kept per conversation.
const DefaultWindow = 50

// Store holds conversation histories, bounded per conversation.
// Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	window int
	convs  map[string]*conversation
}

type conversation struct {
	mu       sync.Mutex
	messages []*ai.Message
}

// NewStore creates a store keeping at most window messages per conversation.
// A non-positive window falls back to DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window: window,
		convs:  make(map[string]*conversation),
	}
}

// conv returns the conversation for id, creating it if needed.
func (s *Store) conv(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		c = &conversation{}
		s.convs[id] = c
	}
	return c
}

// Guard returns the mutex serializing turns for a conversation.
// Callers hold it for the duration of a turn so concurrent requests on the
// same conversation do not interleave their history commits.
func (s *Store) Guard(conversationID string) *sync.Mutex {
	return &s.conv(conversationID).mu
}

// History returns a copy of the conversation's messages, oldest first.
// Returns nil for an unknown conversation.
func (s *Store) History(conversationID string) []*ai.Message {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMessages(c.messages)
}

// Commit appends messages to the conversation atomically and evicts the
// oldest messages beyond the window. A turn commits its user message and
// model response together, so a failed turn leaves no partial history.
//
// Callers already holding the conversation's Guard must use CommitLocked.
func (s *Store) Commit(conversationID string, messages ...*ai.Message) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()
	s.commit(c, messages)
}

// CommitLocked is Commit for callers that already hold the conversation's
// Guard mutex.
func (s *Store) CommitLocked(conversationID string, messages ...*ai.Message) {
	s.commit(s.conv(conversationID), messages)
}

// HistoryLocked is History for callers that already hold the conversation's
// Guard mutex.
func (s *Store) HistoryLocked(conversationID string) []*ai.Message {
	return copyMessages(s.conv(conversationID).messages)
}

func (s *Store) commit(c *conversation, messages []*ai.Message) {
	c.messages = append(c.messages, messages...)
	if over := len(c.messages) - s.window; over > 0 {
		c.messages = append([]*ai.Message(nil), c.messages[over:]...)
	}
}

// Reset removes a conversation's history.
func (s *Store) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
}

// Len reports how many messages a conversation currently holds.
func (s *Store) Len(conversationID string) int {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// copyMessages copies the message slice and each message's content slice,
// so callers cannot mutate stored history through the returned value.
func copyMessages(messages []*ai.Message) []*ai.Message {
	if messages == nil {
		return nil
	}
	out := make([]*ai.Message, len(messages))
	for i, m := range messages {
		clone := *m
		clone.Content = append([]*ai.Part(nil), m.Content...)
		out[i] = &clone
	}
	return out
}
