// Package idgen provides record id generators.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/entitysdk/ports"
	"github.com/google/uuid"
)

// UUID generates time-ordered UUID v7 ids, so records sort by creation
// when ordered by id.
type UUID struct{}

// New returns a new UUID v7, falling back to v4 if the v7 source fails.
func (UUID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

var _ ports.IDGenerator = UUID{}

// Sequential issues prefix1, prefix2, ... for tests and fixtures.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next id.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset restarts the sequence.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

var _ ports.IDGenerator = (*Sequential)(nil)

// New returns the generator named by kind: "uuid" (the default) or
// "sequential".
func New(kind, prefix string) ports.IDGenerator {
	if kind == "sequential" {
		return NewSequential(prefix)
	}
	return UUID{}
}
