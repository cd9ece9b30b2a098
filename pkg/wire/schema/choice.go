package schema

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// choiceContext has no tag of its own; selection among variants is by
// the first-seen tag matching a variant.
//
// The source's UniversalTag::kUndefined sentinel for untagged CHOICEs must
// be checked for *before* any tag comparison — spec.md's Open Questions
// section calls this out explicitly: a nested untagged CHOICE that skips
// this check will misreport every valid alternative as a tag mismatch. We
// encode that by never comparing tags for a choiceContext at all; dispatch
// is purely "does some variant accept this object", handled below.
type choiceContext struct {
	variants []Context
}

// Choice builds an untagged CHOICE over variants.
func Choice(variants ...Context) Context {
	return &choiceContext{variants: variants}
}

func (c *choiceContext) TagClass() der.Class { return der.Universal }
func (c *choiceContext) TagNumber() uint64   { return 0 }
func (c *choiceContext) IsConstructed() bool { return false }
func (c *choiceContext) IsOptional() bool    { return false }
func (c *choiceContext) IsChoice() bool      { return true }

func (c *choiceContext) selected(buf []byte) (Context, error) {
	info, _, err := der.GetObject(buf)
	if err != nil {
		return nil, err
	}
	for _, v := range c.variants {
		if v.IsChoice() {
			// Nested untagged CHOICE: recurse to find a match among its
			// own variants before falling back to a tag comparison.
			if nested, err := v.(*choiceContext).selected(buf); err == nil && nested != nil {
				return v, nil
			}
			continue
		}
		if info.Class == v.TagClass() && info.TagNumber == v.TagNumber() && info.IsConstructed == v.IsConstructed() {
			return v, nil
		}
	}
	return nil, fault(keyerrc.UnknownTag, "no CHOICE variant matches tag %d", info.TagNumber)
}

func (c *choiceContext) WellFormed(buf []byte) error {
	v, err := c.selected(buf)
	if err != nil {
		return err
	}
	return v.WellFormed(buf)
}

func (c *choiceContext) Validate(buf []byte) error {
	v, err := c.selected(buf)
	if err != nil {
		return err
	}
	return v.Validate(buf)
}
