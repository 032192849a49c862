package service

import "sync"

// Credentials holds the upstream bearer token the background workers use.
// The token is generation-stamped so a poll response that raced a logout
// can be identified and discarded.
type Credentials struct {
	mu      sync.RWMutex
	token   string
	gen     uint64
	changed chan struct{}
}

func NewCredentials() *Credentials {
	return &Credentials{changed: make(chan struct{})}
}

// Set replaces the token and wakes everyone blocked on Changed
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	c.token = token
	c.gen++
	ch := c.changed
	c.changed = make(chan struct{})
	c.mu.Unlock()
	close(ch)
}

// Clear drops the token; workers fall back to the no-credential state
func (c *Credentials) Clear() {
	c.Set("")
}

// Get returns the current token with its generation stamp
func (c *Credentials) Get() (string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.gen
}

// Generation returns the stamp alone, for staleness checks
func (c *Credentials) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Changed returns a channel closed on the next Set or Clear
func (c *Credentials) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}
