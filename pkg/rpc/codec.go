package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// Encoder builds a payload by position, matching spec.md §4.4's
// self-describing-by-position (not by tag) serialization rule.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) WriteUint8(v uint8) { e.buf.WriteByte(v) }

func (e *Encoder) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// WriteRaw appends already-encoded bytes verbatim, used to splice a
// handler's pre-encoded payload into an enclosing envelope.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf.Write(b)
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// WriteByteSpan writes a u64 length prefix then the raw bytes, the shared
// encoding for strings and byte spans.
func (e *Encoder) WriteByteSpan(b []byte) {
	e.WriteUint64(uint64(len(b)))
	e.buf.Write(b)
}

func (e *Encoder) WriteString(s string) {
	e.WriteByteSpan([]byte(s))
}

func (e *Encoder) WriteUuid(u types.Uuid) {
	e.buf.Write(u[:])
}

// WriteProxyPointer writes the tag_nullptr/tag_normal_pointer discriminant
// followed by the ProxyId when present.
func (e *Encoder) WriteProxyPointer(id types.ProxyId, present bool) {
	if !present || id == types.NullProxyId {
		e.WriteUint8(tagNullptr)
		return
	}
	e.WriteUint8(tagNormalPointer)
	e.WriteUint64(uint64(id))
}

const (
	tagNullptr       = 0
	tagNormalPointer = 1
)

// WriteVector writes a u64 length prefix then each element via elem.
func WriteVector[T any](e *Encoder, items []T, elem func(*Encoder, T)) {
	e.WriteUint64(uint64(len(items)))
	for _, v := range items {
		elem(e, v)
	}
}

// WriteOptional writes the has_value flag then, if present, the value.
func WriteOptional[T any](e *Encoder, v *T, elem func(*Encoder, T)) {
	e.WriteBool(v != nil)
	if v != nil {
		elem(e, *v)
	}
}

// WritePair writes A then B positionally.
func WritePair[A, B any](e *Encoder, a A, b B, ea func(*Encoder, A), eb func(*Encoder, B)) {
	ea(e, a)
	eb(e, b)
}

// WriteResult writes the is_ok flag then either ok's encoded value or the
// SecurityErrc numeric code of err, per spec.md §4.4.
func WriteResult[T any](e *Encoder, v T, err error, ok func(*Encoder, T)) {
	e.WriteBool(err == nil)
	if err == nil {
		ok(e, v)
		return
	}
	e.WriteUint64(uint64(keyerrc.CodeOf(err)))
}

// WriteErr writes an error-only Result (Result<void, E>).
func WriteErr(e *Encoder, err error) {
	e.WriteBool(err == nil)
	if err != nil {
		e.WriteUint64(uint64(keyerrc.CodeOf(err)))
	}
}

// Decoder reads a payload produced by Encoder, positionally.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return keyerrc.New(keyerrc.IncompleteInput, "payload truncated")
	}
	return nil
}

func (d *Decoder) ReadUint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) ReadUint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) ReadUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadUint8()
	if err != nil {
		return false, err
	}
	if v != 0 && v != 1 {
		return false, keyerrc.New(keyerrc.InvalidContent, "bool octet neither 0 nor 1")
	}
	return v == 1, nil
}

func (d *Decoder) ReadByteSpan() ([]byte, error) {
	n, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadByteSpan()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) ReadUuid() (types.Uuid, error) {
	if err := d.need(16); err != nil {
		return types.Uuid{}, err
	}
	var u types.Uuid
	copy(u[:], d.buf[d.pos:d.pos+16])
	d.pos += 16
	return u, nil
}

func (d *Decoder) ReadProxyPointer() (types.ProxyId, bool, error) {
	tag, err := d.ReadUint8()
	if err != nil {
		return 0, false, err
	}
	switch tag {
	case tagNullptr:
		return types.NullProxyId, false, nil
	case tagNormalPointer:
		v, err := d.ReadUint64()
		if err != nil {
			return 0, false, err
		}
		return types.ProxyId(v), true, nil
	default:
		return 0, false, keyerrc.New(keyerrc.InvalidContent, fmt.Sprintf("unknown pointer tag %d", tag))
	}
}

// ReadVector reads the u64 length prefix then decodes length elements via
// elem.
func ReadVector[T any](d *Decoder, elem func(*Decoder) (T, error)) ([]T, error) {
	n, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := elem(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadOptional reads the has_value flag then, if set, the value via elem.
func ReadOptional[T any](d *Decoder, elem func(*Decoder) (T, error)) (*T, error) {
	has, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	v, err := elem(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadResult reads the is_ok flag then either ok's decoded value or the
// SecurityErrc numeric code, returned as a *keyerrc.Fault.
func ReadResult[T any](d *Decoder, ok func(*Decoder) (T, error)) (T, error) {
	var zero T
	isOk, err := d.ReadBool()
	if err != nil {
		return zero, err
	}
	if isOk {
		return ok(d)
	}
	code, err := d.ReadUint64()
	if err != nil {
		return zero, err
	}
	return zero, keyerrc.New(keyerrc.Errc(code), "remote returned an error result")
}

// ReadErr reads an error-only Result (Result<void, E>).
func ReadErr(d *Decoder) error {
	isOk, err := d.ReadBool()
	if err != nil {
		return err
	}
	if isOk {
		return nil
	}
	code, err := d.ReadUint64()
	if err != nil {
		return err
	}
	return keyerrc.New(keyerrc.Errc(code), "remote returned an error result")
}

// Remaining reports how many payload bytes have not yet been consumed; a
// non-zero count after decoding a whole message signals a desync.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
