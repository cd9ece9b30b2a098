package keystore

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// BeginTransaction reserves scope for exclusive staged writes under a new
// transaction id (spec.md §4.3). Every slot in scope must be owned by ctx.User
// and must not already belong to another open transaction; both are
// BusyResource/AccessViolation conditions rather than silently queuing.
func (e *Engine) BeginTransaction(ctx CallContext, scope []types.SlotNumber) (TransactionId, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(scope) == 0 {
		return 0, fault(keyerrc.InvalidArgument, "transaction scope must not be empty")
	}
	seen := make(map[types.SlotNumber]bool, len(scope))
	for _, slot := range scope {
		if seen[slot] {
			return 0, fault(keyerrc.InvalidArgument, "transaction scope contains slot %d more than once", slot)
		}
		seen[slot] = true

		s, err := e.requireSlotLocked(slot)
		if err != nil {
			return 0, err
		}
		if err := e.checkAccess(ctx.User, slot, types.OpReadWrite); err != nil {
			e.report(ctx.User, slot, types.OpReadWrite, err)
			return 0, err
		}
		if s.Owner != ctx.User {
			err := fault(keyerrc.AccessViolation, "user %d is not owner of slot %d", ctx.User, slot)
			e.report(ctx.User, slot, types.OpReadWrite, err)
			return 0, err
		}
		if _, busy := e.slotTxn[slot]; busy {
			err := fault(keyerrc.BusyResource, "slot %d already belongs to an open transaction", slot)
			e.report(ctx.User, slot, types.OpReadWrite, err)
			return 0, err
		}
	}

	e.nextTxnID++
	id := TransactionId(e.nextTxnID)
	txn := newTransaction(id, ctx.User, scope)
	e.txns[id] = txn
	for _, slot := range scope {
		e.slotTxn[slot] = id
	}
	return id, nil
}

func (e *Engine) requireTransactionLocked(ctx CallContext, id TransactionId) (*transactionState, error) {
	txn, ok := e.txns[id]
	if !ok {
		return nil, fault(keyerrc.UnreservedResource, "no open transaction %d", id)
	}
	if txn.owner != ctx.User {
		return nil, fault(keyerrc.AccessViolation, "user %d does not own transaction %d", ctx.User, id)
	}
	return txn, nil
}

func (e *Engine) endTransactionLocked(txn *transactionState) {
	for slot := range txn.scope {
		delete(e.slotTxn, slot)
	}
	delete(e.txns, txn.id)
}

// CommitTransaction applies every staged write in one atomic bbolt update
// (spec.md §4.3, §8: killing the process before commit must leave every
// scope slot at its pre-transaction content on restart — see persistSlots).
// Slots in scope with no staged write are left untouched.
func (e *Engine) CommitTransaction(ctx CallContext, id TransactionId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txn, err := e.requireTransactionLocked(ctx, id)
	if err != nil {
		return err
	}

	changed := make([]*types.KeySlot, 0, len(txn.staged))
	for slot, staged := range txn.staged {
		live := e.slots[slot]
		e.deindexSlotContent(live)
		*live = *staged
		if live.HasContent {
			if err := e.couidIdx.insert(live.Content.Couid, live.Content.ObjectType, slot); err != nil {
				return fault(keyerrc.ResourceFault, "reindex slot %d on commit: %v", slot, err)
			}
		}
		changed = append(changed, live)
	}
	if len(changed) > 0 {
		if err := e.persistSlots(changed...); err != nil {
			return fault(keyerrc.ResourceFault, "persist transaction %d: %v", id, err)
		}
	}
	for _, s := range changed {
		e.notifySubscribers(s.SlotNumber)
	}
	e.endTransactionLocked(txn)
	return nil
}

// RollbackTransaction discards every staged write without touching disk.
func (e *Engine) RollbackTransaction(ctx CallContext, id TransactionId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txn, err := e.requireTransactionLocked(ctx, id)
	if err != nil {
		return err
	}
	e.endTransactionLocked(txn)
	return nil
}
