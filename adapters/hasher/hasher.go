// Package hasher hashes secret attribute values.
package hasher

import (
	"github.com/artpar/entitysdk/ports"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes with bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out-of-range costs use the default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash returns the bcrypt hash of plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare reports whether plaintext matches hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// IsHash reports whether value is already a bcrypt hash, so stored secrets
// written back unchanged are not hashed twice.
func IsHash(value []byte) bool {
	_, err := bcrypt.Cost(value)
	return err == nil
}

var _ ports.Hasher = (*Bcrypt)(nil)

// Plain stores secrets as given. Tests only.
type Plain struct{}

// Hash returns plaintext unchanged.
func (Plain) Hash(plaintext string) ([]byte, error) {
	return []byte(plaintext), nil
}

// Compare checks equality.
func (Plain) Compare(hash []byte, plaintext string) bool {
	return string(hash) == plaintext
}

var _ ports.Hasher = Plain{}
