package dialog

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// defaultMaxContexts bounds the in-memory context map when the config
// carries no cap.
const defaultMaxContexts = 1000

// defaultMaxHistory bounds per-context history when the config carries no cap.
const defaultMaxHistory = 20

// DialogContext is the mutable in-memory state of one user's conversation.
// It is mutated only by that user's turn, which the manager serializes, so
// the fields need no locking of their own.
type DialogContext struct {
	UserID       int64
	SessionID    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	MessageCount int
	CurrentAgent models.AgentType
	Metadata     map[string]any

	history    []models.Message
	maxHistory int
}

func newDialogContext(userID int64, maxHistory int) *DialogContext {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	now := time.Now()
	return &DialogContext{
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		Metadata:     make(map[string]any),
		maxHistory:   maxHistory,
	}
}

// Append adds one message to the bounded history, evicting the oldest entry
// when the cap is exceeded.
func (c *DialogContext) Append(message models.Message) {
	c.history = append(c.history, message)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.MessageCount++
	c.LastActiveAt = time.Now()
}

// History returns a copy of the buffered messages, oldest first.
func (c *DialogContext) History() []models.Message {
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Clear drops the buffered history and per-turn state but keeps the context
// registered for the user.
func (c *DialogContext) Clear() {
	c.history = nil
	c.SessionID = ""
	c.CurrentAgent = ""
	c.MessageCount = 0
	c.Metadata = make(map[string]any)
	c.LastActiveAt = time.Now()
}

// contextStore is the LRU map of per-user dialog contexts. Access through
// the store refreshes recency; the least recently used context is evicted
// when the cap is exceeded.
type contextStore struct {
	mu         sync.Mutex
	cache      *lru.Cache[int64, *DialogContext]
	maxHistory int
}

func newContextStore(capacity, maxHistory int) *contextStore {
	if capacity <= 0 {
		capacity = defaultMaxContexts
	}
	// lru.New fails only on a non-positive size, which is guarded above.
	cache, _ := lru.New[int64, *DialogContext](capacity)
	return &contextStore{cache: cache, maxHistory: maxHistory}
}

// getOrCreate returns the user's context, creating and registering a fresh
// one on first contact.
func (s *contextStore) getOrCreate(userID int64) *DialogContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dc, ok := s.cache.Get(userID); ok {
		return dc
	}
	dc := newDialogContext(userID, s.maxHistory)
	s.cache.Add(userID, dc)
	return dc
}

// drop removes the user's context outright.
func (s *contextStore) drop(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(userID)
}

// len reports how many contexts are resident.
func (s *contextStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
