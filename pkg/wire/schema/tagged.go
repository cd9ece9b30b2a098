package schema

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// taggedContext is an IMPLICIT tag: inner's own tag/class is replaced by
// (newClass, newTag); constructedness is inherited from inner since
// IMPLICIT tagging never changes it.
type taggedContext struct {
	baseContext
	inner Context
}

// Tagged builds an IMPLICIT tag.
//
// Disallowed: Tagged(_, _, Universal) — cannot re-tag as UNIVERSAL.
// Disallowed: Tagged(Tagged(...)) — an inner IMPLICIT tag is meaningless,
// since the inner tag it would replace has itself already been discarded.
func Tagged(inner Context, newTag uint64, newClass der.Class) (Context, error) {
	if newClass == der.Universal {
		return nil, fault(keyerrc.InvalidArgument, "cannot IMPLICIT-tag as Universal class")
	}
	if _, ok := inner.(*taggedContext); ok {
		return nil, fault(keyerrc.InvalidArgument, "Tagged(Tagged(...)) is disallowed")
	}
	return &taggedContext{
		baseContext: baseContext{class: newClass, tagNumber: newTag, isConstructed: inner.IsConstructed()},
		inner:       inner,
	}, nil
}

func (t *taggedContext) WellFormed(buf []byte) error {
	info, err := checkHeader(t, buf)
	if err != nil {
		return err
	}
	// Re-synthesize inner's own header to recurse with the inner context's
	// real tag, by rewriting just the identifier octet(s). Since inner's
	// WellFormed revalidates tag==inner.TagNumber(), we instead check
	// inner's type-specific content directly rather than its own header.
	return wellFormedContentOnly(t.inner, buf[info.HeaderSize:info.End()], info.IsConstructed)
}

func (t *taggedContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	return t.inner.Validate(prependSyntheticHeader(t.inner, value))
}

// wellFormedContentOnly validates value against ctx's type-specific rules
// without re-checking ctx's own tag/class (since IMPLICIT tagging already
// replaced them at the outer level).
func wellFormedContentOnly(ctx Context, value []byte, constructed bool) error {
	switch c := ctx.(type) {
	case *primitiveContext:
		return wellFormedByTag(c.tagNumber, value)
	case *sequenceContext:
		return walkFields(c.fields, value, false)
	case *sequenceOfContext:
		return checkRepeatedElements(c.elem, value, false)
	case *setOfContext:
		return checkRepeatedElements(c.elem, value, true)
	default:
		// Fall back to full re-validation via a synthetic header using the
		// inner context's own declared tag.
		return ctx.WellFormed(prependSyntheticHeader(ctx, value))
	}
}

func prependSyntheticHeader(ctx Context, value []byte) []byte {
	tag := ctx.TagNumber()
	var first byte
	first |= byte(ctx.TagClass()) << 6
	if ctx.IsConstructed() {
		first |= 0x20
	}
	if tag < 0x1F {
		first |= byte(tag)
		return append(encodeLength(len(value), []byte{first}), value...)
	}
	// Long form tag, rarely exercised by our schemas but kept for
	// completeness.
	head := []byte{first | 0x1F}
	head = append(head, encodeBase128(tag)...)
	return append(encodeLength(len(value), head), value...)
}

func encodeLength(n int, head []byte) []byte {
	if n < 0x80 {
		return append(head, byte(n))
	}
	var lenBytes []byte
	v := n
	for v > 0 {
		lenBytes = append([]byte{byte(v & 0xFF)}, lenBytes...)
		v >>= 8
	}
	return append(head, append([]byte{0x80 | byte(len(lenBytes))}, lenBytes...)...)
}

func encodeBase128(tag uint64) []byte {
	if tag == 0 {
		return []byte{0x00}
	}
	var out []byte
	for tag > 0 {
		out = append([]byte{byte(tag & 0x7F)}, out...)
		tag >>= 7
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] |= 0x80
	}
	return out
}
