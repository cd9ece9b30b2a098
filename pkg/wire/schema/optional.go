package schema

import "github.com/keyguard/keyguardd/pkg/wire/der"

// optionalContext wraps another context whose payload is optional; an
// empty buffer is valid (absence), per spec.md §4.2.
type optionalContext struct {
	inner Context
}

// Optional wraps ctx as OPTIONAL.
func Optional(ctx Context) Context {
	return &optionalContext{inner: ctx}
}

func (o *optionalContext) TagClass() der.Class { return o.inner.TagClass() }
func (o *optionalContext) TagNumber() uint64   { return o.inner.TagNumber() }
func (o *optionalContext) IsConstructed() bool { return o.inner.IsConstructed() }
func (o *optionalContext) IsOptional() bool    { return true }
func (o *optionalContext) IsChoice() bool      { return o.inner.IsChoice() }

func (o *optionalContext) WellFormed(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return o.inner.WellFormed(buf)
}

func (o *optionalContext) Validate(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return o.inner.Validate(buf)
}

// innerContext returns the wrapped context. Explicit detects
// Explicit(Optional(...)) by a type assertion on *optionalContext and does
// not call this.
func (o *optionalContext) innerContext() Context { return o.inner }
