package service

import (
	"sort"
	"sync"

	"github.com/noah-isme/sma-classwall/internal/models"
)

// IdentityListener is called after the identity changes.
type IdentityListener func(prev, next models.Identity)

// IdentityContext holds who is viewing and notifies dependents when that changes.
type IdentityContext struct {
	mu        sync.RWMutex
	current   models.Identity
	nextID    int
	listeners map[int]IdentityListener
}

// NewIdentityContext starts with no viewer.
func NewIdentityContext() *IdentityContext {
	return &IdentityContext{listeners: make(map[int]IdentityListener)}
}

// Current returns the viewer identity. It is zero when nobody is signed in.
func (c *IdentityContext) Current() models.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set replaces the identity and reports whether it changed. Listeners run outside the lock
// in subscription order.
func (c *IdentityContext) Set(next models.Identity) bool {
	c.mu.Lock()
	prev := c.current
	if prev == next {
		c.mu.Unlock()
		return false
	}
	c.current = next
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]IdentityListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
	return true
}

// Clear signs the viewer out.
func (c *IdentityContext) Clear() bool {
	return c.Set(models.Identity{})
}

// Subscribe registers fn and returns a function removing it.
func (c *IdentityContext) Subscribe(fn IdentityListener) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// MembershipChanged reports whether the change requires recomputing memberships.
func MembershipChanged(prev, next models.Identity) bool {
	return prev.ID != next.ID || prev.Role != next.Role
}
