package session

import (
	"sync"

	"github.com/geova/livementor/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// History is the bounded conversation log of one connection. It keeps at
// most maxMessages entries and evicts from the front while the estimated
// token count exceeds maxTokens. Eviction removes whole user/assistant pairs
// so the log never starts with an orphaned reply.
//
// All methods are safe for concurrent use.
type History struct {
	maxMessages int
	maxTokens   int

	mu            sync.Mutex
	currentTokens int
	messages      []llm.Message
}

// NewHistory returns a log holding at most maxTurns exchanges. A maxTokens of
// zero disables the token bound.
func NewHistory(maxTurns, maxTokens int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{
		maxMessages: maxTurns * 2,
		maxTokens:   maxTokens,
		messages:    make([]llm.Message, 0, maxTurns*2),
	}
}

// Add appends one completed exchange.
func (h *History) Add(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range []llm.Message{
		{Role: llm.RoleUser, Content: user},
		{Role: llm.RoleAssistant, Content: assistant},
	} {
		h.messages = append(h.messages, m)
		h.currentTokens += estimateTokens(m)
	}

	for len(h.messages) > h.maxMessages ||
		(h.maxTokens > 0 && h.currentTokens > h.maxTokens && len(h.messages) > 2) {
		h.dropOldestPair()
	}
}

// Messages returns a copy of the log, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// TokenEstimate returns the current estimated token count.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentTokens
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Reset clears the log.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
	h.currentTokens = 0
}

// dropOldestPair must be called with h.mu held.
func (h *History) dropOldestPair() {
	n := min(2, len(h.messages))
	for _, m := range h.messages[:n] {
		h.currentTokens -= estimateTokens(m)
	}
	h.messages = append(h.messages[:0], h.messages[n:]...)
}

// estimateTokens returns a rough token count for a single message using
// the 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
