package schema

import (
	"testing"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/wire/der"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceOfIntegerWellFormed(t *testing.T) {
	// spec.md scenario 5: SEQUENCE { INTEGER 1, INTEGER 2 }
	buf := []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02}
	ctx := SequenceOf(Integer())
	assert.NoError(t, IsWellFormed(ctx, buf))
}

func TestSetOfOrderingRejection(t *testing.T) {
	// spec.md scenario 6: SET OF { INTEGER 2, INTEGER 1 } is out of order.
	buf := []byte{0x31, 0x06, 0x02, 0x01, 0x02, 0x02, 0x01, 0x01}
	ctx := SetOf(Integer())
	err := IsWellFormed(ctx, buf)
	require.Error(t, err)
	assert.Equal(t, keyerrc.InvalidInput, keyerrc.CodeOf(err))
}

func TestSetOfOrderingAccepted(t *testing.T) {
	buf := []byte{0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02}
	ctx := SetOf(Integer())
	assert.NoError(t, IsWellFormed(ctx, buf))
}

func TestBooleanStrictness(t *testing.T) {
	ctx := Boolean()
	for _, v := range []byte{0x00, 0xFF} {
		buf := []byte{0x01, 0x01, v}
		assert.NoError(t, IsWellFormed(ctx, buf))
	}
	for v := 1; v < 0xFF; v++ {
		buf := []byte{0x01, 0x01, byte(v)}
		err := IsWellFormed(ctx, buf)
		require.Error(t, err, "value %x should be rejected", v)
	}
}

func TestIntegerUniqueness(t *testing.T) {
	ctx := Integer()
	// Redundant leading 0x00 (top bit of 0x01 clear) must be rejected.
	assert.Error(t, IsWellFormed(ctx, []byte{0x02, 0x02, 0x00, 0x01}))
	// Redundant leading 0xFF (top bit of 0xFE set) must be rejected.
	assert.Error(t, IsWellFormed(ctx, []byte{0x02, 0x02, 0xFF, 0xFE}))
	// Necessary leading 0x00 (top bit of 0x80 set) is fine.
	assert.NoError(t, IsWellFormed(ctx, []byte{0x02, 0x02, 0x00, 0x80}))
	// Single-octet INTEGER is always fine.
	assert.NoError(t, IsWellFormed(ctx, []byte{0x02, 0x01, 0x7F}))
}

func TestOptionalEmptyIsValid(t *testing.T) {
	ctx := Optional(Integer())
	assert.NoError(t, IsWellFormed(ctx, nil))
	assert.NoError(t, IsWellFormed(ctx, []byte{0x02, 0x01, 0x05}))
}

func TestExplicitUnwraps(t *testing.T) {
	ctx, err := Explicit(Integer(), 0, der.ContextSpecific)
	require.NoError(t, err)
	// [0] EXPLICIT INTEGER 5
	buf := []byte{0xA0, 0x03, 0x02, 0x01, 0x05}
	assert.NoError(t, IsWellFormed(ctx, buf))
}

func TestExplicitOfOptionalDisallowed(t *testing.T) {
	_, err := Explicit(Optional(Integer()), 0, der.ContextSpecific)
	require.Error(t, err)
}

func TestTaggedImplicitReplacesTag(t *testing.T) {
	ctx, err := Tagged(Integer(), 1, der.ContextSpecific)
	require.NoError(t, err)
	// [1] IMPLICIT INTEGER 5 -- same primitive content, tag replaced.
	buf := []byte{0x81, 0x01, 0x05}
	assert.NoError(t, IsWellFormed(ctx, buf))
}

func TestTaggedRejectsUniversalRetag(t *testing.T) {
	_, err := Tagged(Integer(), 2, der.Universal)
	require.Error(t, err)
}

func TestTaggedRejectsDoubleTagging(t *testing.T) {
	inner, err := Tagged(Integer(), 1, der.ContextSpecific)
	require.NoError(t, err)
	_, err = Tagged(inner, 2, der.ContextSpecific)
	require.Error(t, err)
}

func TestChoiceDispatchesByTag(t *testing.T) {
	ctx := Choice(Boolean(), Integer())
	assert.NoError(t, IsWellFormed(ctx, []byte{0x01, 0x01, 0xFF}))
	assert.NoError(t, IsWellFormed(ctx, []byte{0x02, 0x01, 0x05}))
	assert.Error(t, IsWellFormed(ctx, []byte{0x04, 0x01, 0x00}))
}

func TestNestedUntaggedChoice(t *testing.T) {
	inner := Choice(Boolean(), Integer())
	outer := Choice(inner, OctetString())
	assert.NoError(t, IsWellFormed(outer, []byte{0x02, 0x01, 0x05}))
	assert.NoError(t, IsWellFormed(outer, []byte{0x04, 0x01, 0xAA}))
}
