package keystore

import "github.com/keyguard/keyguardd/pkg/types"

// CallContext is the per-request caller identity the transport's
// peer-credential query supplies (spec.md §4.4's call-context registry,
// threaded explicitly here rather than through thread-local state per
// SPEC_FULL.md's supplemented-features note).
type CallContext struct {
	User    types.UserId
	Process types.ProcessId
	ConnID  uint64
}

// TransactionId is monotonic within the process (spec.md §3).
type TransactionId uint64

// Observer receives slot-update notifications for a UserContainer that
// subscribed (spec.md §3 TrustedContainer: UserContainer "may subscribe to
// updates"). At most one observer is registered per connection.
type Observer interface {
	OnSlotUpdated(slot types.SlotNumber)
}

// OnClearCallback lets a crypto provider veto a Clear() on a slot it owns.
// At most one callback is registered per provider uuid. Implementations
// must be non-blocking and must not call back into the engine — reentrancy
// is the caller's responsibility to avoid (spec.md §9 DESIGN NOTES).
type OnClearCallback interface {
	OnClear(slot types.SlotNumber) error
}

// SecurityReporter emits the (user, slot, operation, outcome) security
// events spec.md §4.3 describes, when idsmReporting is enabled.
type SecurityReporter interface {
	Report(user types.UserId, slot types.SlotNumber, operation types.Operation, outcome error)
}

// NoopReporter discards every event — used when idsmReporting is disabled.
type NoopReporter struct{}

func (NoopReporter) Report(types.UserId, types.SlotNumber, types.Operation, error) {}

// ProviderTrust answers can_load_to_crypto_provider: which object types and
// algorithm ids a given crypto provider uuid is willing to load.
type ProviderTrust struct {
	AllowedTypes map[types.ObjectType]bool
	AllowedAlgs  map[uint32]bool
}

func (t ProviderTrust) Accepts(content types.KeySlotContentProps) bool {
	if len(t.AllowedTypes) > 0 && !t.AllowedTypes[content.ObjectType] {
		return false
	}
	if len(t.AllowedAlgs) > 0 && !t.AllowedAlgs[content.AlgId] {
		return false
	}
	return true
}
