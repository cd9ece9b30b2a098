package schema

import (
	"bytes"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// baseContext is embedded by every concrete context to answer the trait's
// descriptive methods from fixed fields, leaving WellFormed/Validate to be
// supplied by the concrete type.
type baseContext struct {
	class         der.Class
	tagNumber     uint64
	isConstructed bool
}

func (b baseContext) TagClass() der.Class    { return b.class }
func (b baseContext) TagNumber() uint64      { return b.tagNumber }
func (b baseContext) IsConstructed() bool    { return b.isConstructed }
func (b baseContext) IsOptional() bool       { return false }
func (b baseContext) IsChoice() bool         { return false }

// primitiveContext is a UNIVERSAL primitive type (BOOLEAN, INTEGER, ...)
// with a size/value constraint checked during Validate.
type primitiveContext struct {
	baseContext
	constraint func(value []byte) error
}

func (p *primitiveContext) WellFormed(buf []byte) error {
	info, err := checkHeader(p, buf)
	if err != nil {
		return err
	}
	value := buf[info.HeaderSize:info.End()]
	return wellFormedByTag(p.tagNumber, value)
}

func (p *primitiveContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	if p.constraint != nil {
		return p.constraint(value)
	}
	return nil
}

// wellFormedByTag applies the DER-specific structural rule for the
// well-known universal primitive tags (spec.md §4.2).
func wellFormedByTag(tag uint64, value []byte) error {
	switch tag {
	case der.TagBoolean:
		if len(value) != 1 {
			return fault(keyerrc.InvalidContent, "BOOLEAN must be exactly 1 octet")
		}
		if value[0] != 0x00 && value[0] != 0xFF {
			return fault(keyerrc.InvalidContent, "BOOLEAN value must be 0x00 or 0xFF in DER")
		}
	case der.TagInteger:
		if len(value) == 0 {
			return fault(keyerrc.InvalidContent, "INTEGER must be non-empty")
		}
		if len(value) >= 2 {
			b0, b1 := value[0], value[1]
			if b0 == 0x00 && b1&0x80 == 0 {
				return fault(keyerrc.InvalidContent, "INTEGER has redundant leading 0x00")
			}
			if b0 == 0xFF && b1&0x80 != 0 {
				return fault(keyerrc.InvalidContent, "INTEGER has redundant leading 0xFF")
			}
		}
	case der.TagOctetString, der.TagUTF8String, der.TagPrintableString, der.TagIA5String,
		der.TagNull, der.TagOID, der.TagBitString, der.TagEnumerated, der.TagUTCTime, der.TagGeneralizedTime:
		// No additional DER-shape constraint beyond the shared header check.
	}
	return nil
}

func newPrimitive(tag uint64, constraint func([]byte) error) Context {
	return &primitiveContext{
		baseContext: baseContext{class: der.Universal, tagNumber: tag, isConstructed: false},
		constraint:  constraint,
	}
}

func Boolean() Context     { return newPrimitive(der.TagBoolean, nil) }
func Integer() Context     { return newPrimitive(der.TagInteger, nil) }
func OctetString() Context { return newPrimitive(der.TagOctetString, nil) }
func Null() Context        { return newPrimitive(der.TagNull, nil) }
func ObjectID() Context    { return newPrimitive(der.TagOID, nil) }
func BitString() Context   { return newPrimitive(der.TagBitString, nil) }

// UTF8String enforces an upper bound on decoded length — the kind of
// size/range constraint spec.md §4.2 validity protocol calls out for
// primitives.
func UTF8String(maxLen int) Context {
	return newPrimitive(der.TagUTF8String, func(value []byte) error {
		if maxLen > 0 && len(value) > maxLen {
			return fault(keyerrc.ConstraintCheckFail, "UTF8String exceeds max length %d", maxLen)
		}
		return nil
	})
}

func PrintableString(maxLen int) Context {
	return newPrimitive(der.TagPrintableString, func(value []byte) error {
		if maxLen > 0 && len(value) > maxLen {
			return fault(keyerrc.ConstraintCheckFail, "PrintableString exceeds max length %d", maxLen)
		}
		for _, c := range value {
			if !isPrintableChar(c) {
				return fault(keyerrc.ConstraintCheckFail, "PrintableString contains disallowed character %q", c)
			}
		}
		return nil
	})
}

func isPrintableChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	return bytes.IndexByte([]byte(" '()+,-./:=?"), c) >= 0
}

// Sequence is the default Context<T>: UNIVERSAL class, SEQUENCE tag,
// constructed; its content is a list of field contexts checked in order.
func Sequence(fields ...Context) Context {
	return &sequenceContext{
		baseContext: baseContext{class: der.Universal, tagNumber: der.TagSequence, isConstructed: true},
		fields:      fields,
	}
}

type sequenceContext struct {
	baseContext
	fields []Context
}

func (s *sequenceContext) WellFormed(buf []byte) error {
	info, err := checkHeader(s, buf)
	if err != nil {
		return err
	}
	return walkFields(s.fields, buf[info.HeaderSize:info.End()], false)
}

func (s *sequenceContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	rest := value
	for _, f := range s.fields {
		consumed, err := firstSpanFor(f, rest)
		if err != nil {
			if f.IsOptional() {
				continue
			}
			return err
		}
		if err := f.Validate(consumed); err != nil {
			return err
		}
		rest = rest[len(consumed):]
	}
	return nil
}

// walkFields checks each field context in turn against successive DER
// objects in content. An OPTIONAL field is skipped only when no content is
// left for it or the next object cannot be parsed; an OPTIONAL field that
// is absent while a later field is present is not skipped, and the next
// object is checked against the OPTIONAL field. When checkingSetOrder is
// true the caller is SET OF/SEQUENCE OF's elements and ordering is handled
// by the caller instead.
func walkFields(fields []Context, content []byte, checkingSetOrder bool) error {
	rest := content
	for _, f := range fields {
		if len(rest) == 0 {
			if f.IsOptional() {
				continue
			}
			return fault(keyerrc.InvalidInput, "missing required field")
		}
		span, err := firstSpanFor(f, rest)
		if err != nil {
			if f.IsOptional() {
				continue
			}
			return err
		}
		if err := f.WellFormed(span); err != nil {
			return err
		}
		rest = rest[len(span):]
	}
	if len(rest) != 0 {
		return fault(keyerrc.InvalidInput, "unconsumed trailing content in SEQUENCE")
	}
	return nil
}

// firstSpanFor extracts the next DER object's span from buf for field f to
// consume. Every field kind, CHOICE included, consumes exactly one DER
// object, so this is FirstObject for all of them; a CHOICE picks its
// variant later, in its own WellFormed.
func firstSpanFor(f Context, buf []byte) ([]byte, error) {
	return der.FirstObject(buf)
}
