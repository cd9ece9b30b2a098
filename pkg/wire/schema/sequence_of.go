package schema

import (
	"bytes"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

type sequenceOfContext struct {
	baseContext
	elem Context
}

// SequenceOf builds a SEQUENCE OF elem: UNIVERSAL SEQUENCE tag, constructed,
// each child validated against elem with no ordering constraint.
func SequenceOf(elem Context) Context {
	return &sequenceOfContext{
		baseContext: baseContext{class: der.Universal, tagNumber: der.TagSequence, isConstructed: true},
		elem:        elem,
	}
}

func (s *sequenceOfContext) WellFormed(buf []byte) error {
	info, err := checkHeader(s, buf)
	if err != nil {
		return err
	}
	return checkRepeatedElements(s.elem, buf[info.HeaderSize:info.End()], false)
}

func (s *sequenceOfContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	rest := value
	for len(rest) > 0 {
		span, err := der.FirstObject(rest)
		if err != nil {
			return err
		}
		if err := s.elem.Validate(span); err != nil {
			return err
		}
		rest = rest[len(span):]
	}
	return nil
}

type setOfContext struct {
	baseContext
	elem Context
}

// SetOf builds a SET OF elem: UNIVERSAL SET tag, constructed. DER requires
// the concatenation of child encodings be lexicographically non-decreasing;
// WellFormed enforces that ordering.
func SetOf(elem Context) Context {
	return &setOfContext{
		baseContext: baseContext{class: der.Universal, tagNumber: der.TagSet, isConstructed: true},
		elem:        elem,
	}
}

func (s *setOfContext) WellFormed(buf []byte) error {
	info, err := checkHeader(s, buf)
	if err != nil {
		return err
	}
	return checkRepeatedElements(s.elem, buf[info.HeaderSize:info.End()], true)
}

func (s *setOfContext) Validate(buf []byte) error {
	_, value, err := der.GetObject(buf)
	if err != nil {
		return err
	}
	rest := value
	for len(rest) > 0 {
		span, err := der.FirstObject(rest)
		if err != nil {
			return err
		}
		if err := s.elem.Validate(span); err != nil {
			return err
		}
		rest = rest[len(span):]
	}
	return nil
}

// checkRepeatedElements walks content as a sequence of elem-shaped DER
// objects, optionally enforcing SET OF's non-decreasing byte order.
func checkRepeatedElements(elem Context, content []byte, enforceOrder bool) error {
	rest := content
	var prev []byte
	for len(rest) > 0 {
		span, err := der.FirstObject(rest)
		if err != nil {
			return err
		}
		if err := elem.WellFormed(span); err != nil {
			return err
		}
		if enforceOrder && prev != nil && bytes.Compare(span, prev) < 0 {
			return fault(keyerrc.InvalidInput, "Element order in SET OF violates DER")
		}
		prev = span
		rest = rest[len(span):]
	}
	return nil
}
