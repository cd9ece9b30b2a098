package schema

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// explicitContext wraps inner with an outer constructed EXPLICIT tag; the
// inner content is unchanged and checked recursively after the outer
// header is stripped.
type explicitContext struct {
	baseContext
	inner Context
}

// Explicit builds an EXPLICIT tag: outer header is (newClass, newTag,
// constructed); inner is validated unchanged inside it. There is no
// default class: the zero Class is Universal, so callers always pass
// newClass explicitly (typically der.ContextSpecific).
//
// Disallowed: Explicit(Optional(...)) — spec.md requires Optional(Explicit(...))
// instead, since OPTIONAL must be the outermost wrapper for absence to be
// detectable before the outer tag is even read.
func Explicit(inner Context, newTag uint64, newClass der.Class) (Context, error) {
	if _, ok := inner.(*optionalContext); ok {
		return nil, fault(keyerrc.InvalidArgument, "Explicit(Optional(...)) is disallowed; use Optional(Explicit(...))")
	}
	return &explicitContext{
		baseContext: baseContext{class: newClass, tagNumber: newTag, isConstructed: true},
		inner:       inner,
	}, nil
}

func (e *explicitContext) WellFormed(buf []byte) error {
	info, err := checkHeader(e, buf)
	if err != nil {
		return err
	}
	return e.inner.WellFormed(buf[info.HeaderSize:info.End()])
}

func (e *explicitContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	return e.inner.Validate(value)
}
