// Package schema layers a compile-time-composed validator over the raw
// der package: a Context describes one position in an ASN.1 grammar (tag
// class/number, constructedness, OPTIONAL, EXPLICIT/IMPLICIT tagging,
// CHOICE, SEQUENCE OF / SET OF) and knows how to check that a buffer is a
// well-formed, valid encoding at that position.
//
// Rust/C++ template specialization becomes a plain Go interface here:
// every construct implements Context. Nesting restrictions are checked at
// construction time rather than at compile time, since Go generics cannot
// encode them in the type system the way a C++ template specialization
// can: Explicit rejects an Optional inner context, and Tagged rejects the
// Universal class and a Tagged inner context. Optional, SequenceOf, SetOf
// and Choice accept any inner context, so Optional(Optional(...)) is not
// rejected.
package schema

import (
	"fmt"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// Context is the trait every schema construct implements.
type Context interface {
	// TagClass, TagNumber, IsConstructed describe the expected DER header.
	// Choice contexts have no tag of their own; callers must not rely on
	// these for a Context whose IsChoice() is true.
	TagClass() der.Class
	TagNumber() uint64
	IsConstructed() bool
	IsOptional() bool
	IsChoice() bool

	// WellFormed checks structural/encoding correctness (DER shape) of buf
	// under this context, recursively.
	WellFormed(buf []byte) error
	// Validate checks type-specific semantic constraints after WellFormed
	// has already accepted buf.
	Validate(buf []byte) error
}

func fault(code keyerrc.Errc, format string, args ...interface{}) error {
	return keyerrc.New(code, fmt.Sprintf(format, args...))
}

// checkHeader implements step 1-2 of the well-formedness protocol shared by
// every non-Choice context.
func checkHeader(c Context, buf []byte) (der.ObjectInfo, error) {
	info, _, err := der.GetObject(buf)
	if err != nil {
		return der.ObjectInfo{}, err
	}
	if info.Class != c.TagClass() {
		return der.ObjectInfo{}, fault(keyerrc.UnknownTag, "class mismatch: want %v got %v", c.TagClass(), info.Class)
	}
	if info.TagNumber != c.TagNumber() {
		return der.ObjectInfo{}, fault(keyerrc.UnknownTag, "tag mismatch: want %d got %d", c.TagNumber(), info.TagNumber)
	}
	if info.IsConstructed != c.IsConstructed() {
		return der.ObjectInfo{}, fault(keyerrc.InvalidInput, "constructed mismatch for tag %d", info.TagNumber)
	}
	if len(buf) != info.End() {
		return der.ObjectInfo{}, fault(keyerrc.InvalidInput, "trailing or missing bytes after object")
	}
	return info, nil
}

// IsWellFormed is the public entry point: check that buf is a well-formed
// DER encoding under ctx.
func IsWellFormed(ctx Context, buf []byte) error {
	return ctx.WellFormed(buf)
}

// IsValid runs WellFormed then Validate, the full two-stage protocol.
func IsValid(ctx Context, buf []byte) error {
	if err := ctx.WellFormed(buf); err != nil {
		return err
	}
	return ctx.Validate(buf)
}
