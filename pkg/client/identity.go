package client

import (
	"sync"
	"sync/atomic"
)

// DefaultDisplayName is used until /auth or /rename picks another one.
const DefaultDisplayName = "default"

// Identity holds the display name shared by the command processor and the
// session loops.
type Identity struct {
	mu          sync.RWMutex
	displayName string
}

func NewIdentity(displayName string) *Identity {
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	return &Identity{displayName: displayName}
}

func (i *Identity) DisplayName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.displayName
}

func (i *Identity) SetDisplayName(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.displayName = name
}

// IDCounter hands out message ids starting at 1 and wrapping modulo 2^16.
// The zero value is ready to use.
type IDCounter struct {
	n atomic.Uint32
}

func (c *IDCounter) Next() uint16 {
	return uint16(c.n.Add(1))
}
