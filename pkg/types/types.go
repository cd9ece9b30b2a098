// Package types holds the identifiers and value objects shared across the
// daemon: the wire-level primitives (Uuid, ProxyId, SlotNumber, UserId) and
// the KeySlot/TrustedContainer metadata the key-storage engine operates on.
package types

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Uuid is a 128-bit opaque identifier compared only for equality, never
// ordered beyond that.
type Uuid [16]byte

// NilUuid is the zero value, used where spec.md says "nil = any".
var NilUuid = Uuid{}

func NewUuid() Uuid {
	var u Uuid
	copy(u[:], uuid.New()[:])
	return u
}

func UuidFromString(s string) (Uuid, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return Uuid{}, err
	}
	var u Uuid
	copy(u[:], parsed[:])
	return u, nil
}

func (u Uuid) String() string {
	return uuid.UUID(u).String()
}

func (u Uuid) IsNil() bool {
	return u == NilUuid
}

// CryptoObjectUid is the (generator, version) pair identifying a concrete
// crypto object. Equality is on the pair; version is bumped on mutation.
type CryptoObjectUid struct {
	Generator Uuid
	Version   uint64
}

func (c CryptoObjectUid) Equal(o CryptoObjectUid) bool {
	return c.Generator == o.Generator && c.Version == o.Version
}

// ProxyId is a 64-bit token identifying a remote object across the IPC
// boundary. Unique per connection for the connection's lifetime.
type ProxyId uint64

const NullProxyId ProxyId = 0

// SlotNumber indexes into the slot table.
type SlotNumber uint64

// InvalidSlotNumber is the reserved "no slot" sentinel.
const InvalidSlotNumber SlotNumber = ^SlotNumber(0)

// UserId and ProcessId are caller-identity values supplied by the
// transport's peer-credential query.
type UserId uint64
type ProcessId uint64

// Operation is the 2-bit access mask from the access-control matrix.
type Operation uint8

const (
	OpNone      Operation = 0b00
	OpRead      Operation = 0b01
	OpWrite     Operation = 0b10
	OpReadWrite Operation = 0b11
)

func (o Operation) Allows(requested Operation) bool {
	return o&requested == requested
}

func (o Operation) String() string {
	switch o {
	case OpNone:
		return "None"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpReadWrite:
		return "ReadWrite"
	default:
		return "Unknown"
	}
}

func ParseOperation(s string) (Operation, bool) {
	switch s {
	case "None":
		return OpNone, true
	case "Read":
		return OpRead, true
	case "Write":
		return OpWrite, true
	case "ReadWrite":
		return OpReadWrite, true
	default:
		return OpNone, false
	}
}

// VersionControlPolicy is a slot prototype's version-control setting (see
// KeySlotPrototypeProps.VersionControl). It is persisted with the slot; the
// engine's COUID version bump on save does not consult it.
type VersionControlPolicy uint8

const (
	VersionControlNone VersionControlPolicy = iota
	VersionControlMonotonic
)

// KeySlotPrototypeProps describe the slot independent of whatever content
// currently occupies it — fixed at slot creation.
type KeySlotPrototypeProps struct {
	ObjectType       ObjectType
	Capacity         uint64
	AllowedAlgId     uint32
	Exportable       bool
	DependencySlotID Uuid
	DependencyType   ObjectType
	VersionControl   VersionControlPolicy
}

// KeySlotContentProps describe the object currently stored in the slot;
// present iff the slot is non-empty.
type KeySlotContentProps struct {
	ObjectType    ObjectType
	Couid         CryptoObjectUid
	DependencyUid CryptoObjectUid
	HasDependency bool
	AllowedUsage  uint32
	BitSize       uint32
	AlgId         uint32
	Exportable    bool
}

// ObjectType enumerates the crypto-object kinds a slot prototype or content
// may carry. The concrete algorithms behind each type are out of scope
// (spec.md §1); only the type tag matters to the storage engine.
type ObjectType uint32

const (
	ObjectTypeUndefined ObjectType = iota
	ObjectTypeSymmetricKey
	ObjectTypePrivateKey
	ObjectTypePublicKey
	ObjectTypeSecretSeed
	ObjectTypeSignature
	ObjectTypeCertificate
)

// KeySlot is the unit of persistent key storage.
type KeySlot struct {
	SlotNumber   SlotNumber
	SlotUid      Uuid
	Owner        UserId
	ProviderUuid Uuid
	Prototype    KeySlotPrototypeProps
	HasContent   bool
	Content      KeySlotContentProps
	Payload      []byte
}

// Empty reports whether the slot currently holds no content.
func (s *KeySlot) Empty() bool {
	return !s.HasContent
}

// PutUint64LE / GetUint64LE encode and decode a little-endian uint64, the
// byte order the rpc codec uses for arithmetic values.
func PutUint64LE(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}

func GetUint64LE(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
