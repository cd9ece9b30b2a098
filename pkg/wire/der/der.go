// Package der implements a byte-exact Distinguished Encoding Rules decoder:
// a tag/length/value reader with no schema knowledge, coupled to a small
// recursive-descent dispatcher for the constructs the schema package needs
// (see pkg/wire/schema). Every operation here is pure — no I/O. The TLV
// readers return sub-spans of the input buffer rather than copies;
// OidValueToDotted builds a new string.
package der

import (
	"fmt"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
)

// Class is the ASN.1 tag class, carried in the two high bits of the first
// identifier octet.
type Class uint8

const (
	Universal Class = iota
	Application
	ContextSpecific
	Private
)

// Universal tag numbers used throughout the schema layer.
const (
	TagBoolean         = 1
	TagInteger         = 2
	TagBitString       = 3
	TagOctetString     = 4
	TagNull            = 5
	TagOID             = 6
	TagEnumerated      = 10
	TagUTF8String      = 12
	TagSequence        = 16
	TagSet             = 17
	TagPrintableString = 19
	TagIA5String       = 22
	TagUTCTime         = 23
	TagGeneralizedTime = 24
)

// ObjectInfo is the decoded header of a single DER TLV.
type ObjectInfo struct {
	Class         Class
	TagNumber     uint64
	IsConstructed bool
	HeaderSize    int
	ContentLength int
}

// End returns the offset one past the last content octet of this object,
// i.e. HeaderSize+ContentLength.
func (o ObjectInfo) End() int {
	return o.HeaderSize + o.ContentLength
}

func fault(code keyerrc.Errc, format string, args ...interface{}) error {
	return keyerrc.New(code, fmt.Sprintf(format, args...))
}

// GetObject reads one DER header from the front of buf and returns the
// decoded ObjectInfo along with the remainder of buf starting at the first
// content octet (i.e. buf[info.HeaderSize:]).
func GetObject(buf []byte) (ObjectInfo, []byte, error) {
	if len(buf) == 0 {
		return ObjectInfo{}, nil, fault(keyerrc.IncompleteInput, "empty buffer")
	}

	first := buf[0]
	class := Class(first >> 6)
	constructed := first&0x20 != 0
	shortTag := first & 0x1F

	pos := 1
	var tagNumber uint64

	if shortTag != 0x1F {
		tagNumber = uint64(shortTag)
	} else {
		var bitsSeen uint
		more := true
		for more {
			if pos >= len(buf) {
				return ObjectInfo{}, nil, fault(keyerrc.IncompleteInput, "truncated long-form tag")
			}
			b := buf[pos]
			pos++
			bitsSeen += 7
			if bitsSeen > 64 {
				return ObjectInfo{}, nil, fault(keyerrc.UnsupportedNumeric, "tag number exceeds 64 bits")
			}
			// Overflow check: shifting left by 7 must not lose information.
			if tagNumber > (^uint64(0))>>7 {
				return ObjectInfo{}, nil, fault(keyerrc.UnsupportedNumeric, "tag number exceeds 64 bits")
			}
			tagNumber = (tagNumber << 7) | uint64(b&0x7F)
			more = b&0x80 != 0
		}
	}

	if pos >= len(buf) {
		return ObjectInfo{}, nil, fault(keyerrc.IncompleteInput, "truncated length octet")
	}
	lenOctet := buf[pos]
	pos++

	var contentLength int
	if lenOctet < 0x80 {
		contentLength = int(lenOctet)
	} else {
		n := int(lenOctet & 0x7F)
		if n == 0 {
			return ObjectInfo{}, nil, fault(keyerrc.InvalidContent, "indefinite length not permitted in DER")
		}
		if pos+n > len(buf) {
			return ObjectInfo{}, nil, fault(keyerrc.IncompleteInput, "truncated length-of-length octets")
		}
		var length uint64
		for i := 0; i < n; i++ {
			if length > (^uint64(0))>>8 {
				return ObjectInfo{}, nil, fault(keyerrc.UnsupportedNumeric, "content length overflows")
			}
			length = (length << 8) | uint64(buf[pos+i])
		}
		pos += n
		if length > uint64(^uint(0)>>1) {
			return ObjectInfo{}, nil, fault(keyerrc.UnsupportedNumeric, "content length overflows platform int")
		}
		contentLength = int(length)
	}

	headerSize := pos
	// header_size + content_length overflow check (int arithmetic).
	if contentLength < 0 || headerSize > int(^uint(0)>>1)-contentLength {
		return ObjectInfo{}, nil, fault(keyerrc.UnsupportedNumeric, "header+content length overflows")
	}
	total := headerSize + contentLength
	if total > len(buf) {
		return ObjectInfo{}, nil, fault(keyerrc.IncompleteInput, "content extends past buffer")
	}

	info := ObjectInfo{
		Class:         class,
		TagNumber:     tagNumber,
		IsConstructed: constructed,
		HeaderSize:    headerSize,
		ContentLength: contentLength,
	}
	return info, buf[headerSize:total], nil
}

// FirstObject returns the sub-span of buf covering exactly the first DER
// object (header + content), leaving the rest of buf untouched.
func FirstObject(buf []byte) ([]byte, error) {
	info, _, err := GetObject(buf)
	if err != nil {
		return nil, err
	}
	return buf[:info.End()], nil
}

// WithoutHeader strips the TLV header from the first object in buf and
// returns just its value bytes.
func WithoutHeader(buf []byte) ([]byte, error) {
	_, value, err := GetObject(buf)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Builder receives decoded events during a Parse walk. Constructed types
// recurse into their content before Leave fires; primitives only fire
// Primitive.
type Builder interface {
	Enter(info ObjectInfo) error
	Leave(info ObjectInfo) error
	Primitive(info ObjectInfo, value []byte) error
}

// Parse performs a top-level recursive-descent walk of buf, invoking
// Builder callbacks for every element encountered. Constructed objects are
// recursed into automatically; the caller distinguishes SEQUENCE vs SET vs
// an explicit/implicit tag purely from the ObjectInfo it receives — Parse
// itself carries no schema awareness.
func Parse(buf []byte, b Builder) error {
	for len(buf) > 0 {
		info, value, err := GetObject(buf)
		if err != nil {
			return err
		}
		if info.IsConstructed {
			if err := b.Enter(info); err != nil {
				return err
			}
			if err := Parse(value, b); err != nil {
				return err
			}
			if err := b.Leave(info); err != nil {
				return err
			}
		} else {
			if err := b.Primitive(info, value); err != nil {
				return err
			}
		}
		buf = buf[info.End():]
	}
	return nil
}

// OidValueToDotted decodes the value octets of an OBJECT IDENTIFIER (or
// RELATIVE-OID, when isRelative is true) into its dotted-decimal form.
func OidValueToDotted(value []byte, isRelative bool) (string, error) {
	if len(value) == 0 {
		return "", fault(keyerrc.InvalidContent, "empty OID value")
	}

	arcs, err := decodeArcs(value)
	if err != nil {
		return "", err
	}
	if len(arcs) == 0 {
		return "", fault(keyerrc.InvalidContent, "OID has no arcs")
	}

	var out []uint64
	if isRelative {
		out = arcs
	} else {
		first := arcs[0]
		var arc0, arc1 uint64
		if first >= 80 {
			arc0 = 2
			arc1 = first - 80
		} else {
			arc0 = first / 40
			arc1 = first % 40
		}
		out = append([]uint64{arc0, arc1}, arcs[1:]...)
	}

	s := ""
	for i, a := range out {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprintf("%d", a)
	}
	return s, nil
}

func decodeArcs(value []byte) ([]uint64, error) {
	var arcs []uint64
	var current uint64
	var bitsSeen uint
	inArc := false
	for _, b := range value {
		if current > (^uint64(0))>>7 {
			return nil, fault(keyerrc.UnsupportedNumeric, "OID arc exceeds 64 bits")
		}
		current = (current << 7) | uint64(b&0x7F)
		bitsSeen += 7
		inArc = true
		if b&0x80 == 0 {
			arcs = append(arcs, current)
			current = 0
			bitsSeen = 0
			inArc = false
		} else if bitsSeen > 64 {
			return nil, fault(keyerrc.UnsupportedNumeric, "OID arc exceeds 64 bits")
		}
	}
	if inArc {
		return nil, fault(keyerrc.IncompleteInput, "truncated OID arc")
	}
	return arcs, nil
}
