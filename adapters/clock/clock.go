// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/entitysdk/ports"
)

// UTC reads the system clock in UTC. Timestamps written by the engine are
// compared and stored as UTC.
type UTC struct{}

// Now returns the current time in UTC.
func (UTC) Now() time.Time {
	return time.Now().UTC()
}

var _ ports.Clock = UTC{}

// Fake is a clock that only moves when told to.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

var _ ports.Clock = (*Fake)(nil)
