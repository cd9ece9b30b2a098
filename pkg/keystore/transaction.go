package keystore

import "github.com/keyguard/keyguardd/pkg/types"

// transactionState is a set of target SlotNumbers and a per-slot shadow
// buffer (spec.md §3). Scope is immutable after begin; staged writes are
// invisible to "user" reads until commit.
type transactionState struct {
	id     TransactionId
	owner  types.UserId
	scope  map[types.SlotNumber]bool
	staged map[types.SlotNumber]*types.KeySlot
}

func newTransaction(id TransactionId, owner types.UserId, scope []types.SlotNumber) *transactionState {
	t := &transactionState{
		id:     id,
		owner:  owner,
		scope:  make(map[types.SlotNumber]bool, len(scope)),
		staged: make(map[types.SlotNumber]*types.KeySlot, len(scope)),
	}
	for _, s := range scope {
		t.scope[s] = true
	}
	return t
}

func (t *transactionState) inScope(slot types.SlotNumber) bool {
	return t.scope[slot]
}
