// Package autonumber issues sequential numbers for auto-numbered
// attributes.
//
// A Provider owns contention control: two resolutions with MarkAsUsed set
// never return the same number for the same attribute, even when they run
// concurrently.
package autonumber

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
)

// Params identifies the attribute to number.
type Params struct {
	LogicalName   string
	AttributeName string
	Attribute     schema.Attribute

	// Session is the write session of the request, nil outside one.
	Session storage.Session

	// MarkAsUsed consumes the number. Without it the provider only reports
	// the number the next consuming call would return.
	MarkAsUsed bool
}

// Provider resolves auto-numbers.
type Provider interface {
	ResolveAutoNumber(ctx context.Context, p Params) (any, error)
}

// Start returns the first number issued for cfg.
func Start(cfg *schema.AutoNumber) int64 {
	if cfg == nil || cfg.Start <= 0 {
		return 1
	}
	return cfg.Start
}

// Format renders n for an attribute of type t. Int attributes get the
// number itself; string attributes get the prefixed, zero-padded form.
func Format(cfg *schema.AutoNumber, t schema.Type, n int64) (any, error) {
	switch t {
	case schema.TypeInt:
		return n, nil
	case schema.TypeString:
		var prefix string
		var width int
		if cfg != nil {
			prefix, width = cfg.Prefix, cfg.Width
		}
		digits := strconv.FormatInt(n, 10)
		if pad := width - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		return prefix + digits, nil
	default:
		return nil, fmt.Errorf("attribute type %q cannot be auto-numbered", t)
	}
}

func key(p Params) string {
	return p.LogicalName + "." + p.AttributeName
}
