package autonumber

import (
	"context"
	"sync"
)

// Memory is an in-process Provider. Counters are lost on restart.
type Memory struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{next: make(map[string]int64)}
}

// ResolveAutoNumber returns the next number for the attribute.
func (m *Memory) ResolveAutoNumber(ctx context.Context, p Params) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	k := key(p)
	n, ok := m.next[k]
	if !ok {
		n = Start(p.Attribute.AutoNumber)
	}
	if p.MarkAsUsed {
		m.next[k] = n + 1
	}
	m.mu.Unlock()

	return Format(p.Attribute.AutoNumber, p.Attribute.Type, n)
}

var _ Provider = (*Memory)(nil)
