package schema

// NowSentinel is the default value that resolves to the current time on
// date-typed attributes.
const NowSentinel = "@now"

// Default is a declared attribute default: StaticDefault, ComputedDefault
// or NowDefault.
type Default interface {
	isDefault()
}

// StaticDefault is a literal default value.
type StaticDefault struct {
	Value any
}

// ComputedDefault is produced by calling Fn each time defaults are resolved.
type ComputedDefault struct {
	Fn func() any
}

// NowDefault resolves to the time at which defaults are resolved.
type NowDefault struct{}

func (StaticDefault) isDefault()   {}
func (ComputedDefault) isDefault() {}
func (NowDefault) isDefault()      {}

// Static returns a static default.
func Static(v any) Default { return StaticDefault{Value: v} }

// Computed returns a default computed by fn.
func Computed(fn func() any) Default { return ComputedDefault{Fn: fn} }

// Now returns the current-time default.
func Now() Default { return NowDefault{} }
