package rpc

import (
	"bytes"
	"testing"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizeDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = 0xff, 0xff, 0xff, 0x7f
	buf.Write(hdr[:])

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	require.Equal(t, keyerrc.UnsupportedFormat, keyerrc.CodeOf(err))
}

func TestPrimitivesRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteUint8(7)
	e.WriteUint16(1000)
	e.WriteUint32(100000)
	e.WriteUint64(1 << 40)
	e.WriteBool(true)
	e.WriteString("payload")
	u := types.NewUuid()
	e.WriteUuid(u)

	d := NewDecoder(e.Bytes())
	u8, err := d.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), u8)

	u16, err := d.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(1000), u16)

	u32, err := d.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(100000), u32)

	u64, err := d.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), u64)

	b, err := d.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	s, err := d.ReadString()
	require.NoError(t, err)
	require.Equal(t, "payload", s)

	gotU, err := d.ReadUuid()
	require.NoError(t, err)
	require.Equal(t, u, gotU)
	require.Equal(t, 0, d.Remaining())
}

func TestVectorOptionalPairRoundTrip(t *testing.T) {
	e := NewEncoder()
	WriteVector(e, []uint32{1, 2, 3}, func(e *Encoder, v uint32) { e.WriteUint32(v) })
	var some uint64 = 42
	WriteOptional(e, &some, func(e *Encoder, v uint64) { e.WriteUint64(v) })
	WriteOptional[uint64](e, nil, func(e *Encoder, v uint64) { e.WriteUint64(v) })
	WritePair(e, uint8(9), "pair", func(e *Encoder, v uint8) { e.WriteUint8(v) }, func(e *Encoder, v string) { e.WriteString(v) })

	d := NewDecoder(e.Bytes())
	vec, err := ReadVector(d, func(d *Decoder) (uint32, error) { return d.ReadUint32() })
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, vec)

	opt1, err := ReadOptional(d, func(d *Decoder) (uint64, error) { return d.ReadUint64() })
	require.NoError(t, err)
	require.NotNil(t, opt1)
	require.Equal(t, uint64(42), *opt1)

	opt2, err := ReadOptional(d, func(d *Decoder) (uint64, error) { return d.ReadUint64() })
	require.NoError(t, err)
	require.Nil(t, opt2)

	a, err := d.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(9), a)
	b, err := d.ReadString()
	require.NoError(t, err)
	require.Equal(t, "pair", b)
}

func TestResultRoundTripOkAndErr(t *testing.T) {
	e := NewEncoder()
	WriteResult(e, uint32(99), nil, func(e *Encoder, v uint32) { e.WriteUint32(v) })
	WriteResult(e, uint32(0), keyerrc.New(keyerrc.AccessViolation, "denied"), func(e *Encoder, v uint32) { e.WriteUint32(v) })

	d := NewDecoder(e.Bytes())
	v, err := ReadResult(d, func(d *Decoder) (uint32, error) { return d.ReadUint32() })
	require.NoError(t, err)
	require.Equal(t, uint32(99), v)

	_, err = ReadResult(d, func(d *Decoder) (uint32, error) { return d.ReadUint32() })
	require.Error(t, err)
	require.Equal(t, keyerrc.AccessViolation, keyerrc.CodeOf(err))
}

func TestProxyPointerRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteProxyPointer(types.ProxyId(0x99), true)
	e.WriteProxyPointer(0, false)

	d := NewDecoder(e.Bytes())
	id, present, err := d.ReadProxyPointer()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, types.ProxyId(0x99), id)

	id2, present2, err := d.ReadProxyPointer()
	require.NoError(t, err)
	require.False(t, present2)
	require.Equal(t, types.NullProxyId, id2)
}

func TestEnvelopeRoundTripAndEchoCheck(t *testing.T) {
	env := Envelope{
		BasicTask:   TaskKeyStorage,
		DetailTask:  DetailTask(3),
		TargetProxy: types.ProxyId(7),
		ArgProxies:  []types.ProxyId{1, 2},
	}
	e := NewEncoder()
	WriteEnvelope(e, env)

	d := NewDecoder(e.Bytes())
	got, err := ReadEnvelope(d)
	require.NoError(t, err)
	require.Equal(t, env, got)
	require.True(t, env.EchoMatches(got))

	mismatched := got
	mismatched.DetailTask = DetailTask(4)
	require.False(t, env.EchoMatches(mismatched))
}
