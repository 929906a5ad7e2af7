package responder

import (
	"strings"
	"sync"
	"time"
)

// Thread is the conversation state kept for one sender.
type Thread struct {
	LastResponseID string
	Turns          int
	UpdatedAt      time.Time
}

// Threads tracks per-sender conversation threads.
type Threads struct {
	mu      sync.RWMutex
	entries map[string]Thread
}

func NewThreads() *Threads {
	return &Threads{entries: make(map[string]Thread)}
}

// Record stores responseID as the newest turn of key.
func (t *Threads) Record(key string, responseID string) {
	key = strings.TrimSpace(key)
	responseID = strings.TrimSpace(responseID)
	if key == "" || responseID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	thread := t.entries[key]
	thread.LastResponseID = responseID
	thread.Turns++
	thread.UpdatedAt = time.Now().UTC()
	t.entries[key] = thread
}

// Last returns the newest response id for key, or "".
func (t *Threads) Last(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.entries[key].LastResponseID
}

func (t *Threads) Get(key string) (Thread, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	thread, ok := t.entries[key]
	return thread, ok
}

func (t *Threads) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
}
