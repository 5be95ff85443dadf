package router

import "sync"

// DefaultHistoryLimit is the number of turns kept per user.
const DefaultHistoryLimit = 20

// History keeps the most recent information turns per user, evicting the oldest first.
type History struct {
	mu    sync.Mutex
	limit int
	turns map[int64][]Turn
}

// NewHistory creates a History holding at most limit turns per user.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, turns: make(map[int64][]Turn)}
}

// Append adds a turn for userID.
func (h *History) Append(userID int64, t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.turns[userID], t)
	if over := len(turns) - h.limit; over > 0 {
		turns = append([]Turn(nil), turns[over:]...)
	}
	h.turns[userID] = turns
}

// Get returns a copy of the turns of userID, oldest first.
func (h *History) Get(userID int64) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.turns[userID]...)
}
