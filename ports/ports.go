// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/ and core/registry.
package ports

import (
	"time"

	"github.com/artpar/entitysdk/core/schema"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique record identifiers.
type IDGenerator interface {
	New() string
}

// Hasher hashes secret attribute values.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// SchemaRegistry is read-only lookup of registered entity schemas.
type SchemaRegistry interface {
	// HasSchema reports whether an entity is registered.
	HasSchema(name string) bool

	// GetSchema returns the schema of an entity.
	GetSchema(name string) (schema.Schema, bool)

	// GetAllSchema returns every registered schema ordered by name.
	GetAllSchema() []schema.Schema
}
