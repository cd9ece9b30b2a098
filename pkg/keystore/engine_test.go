package keystore

import (
	"path/filepath"
	"testing"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slots.db")
	e, err := Open(path, access.Disabled(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func mustCreateSlot(t *testing.T, e *Engine, owner types.UserId) types.SlotNumber {
	t.Helper()
	n, err := e.CreateSlot(owner, types.NewUuid(), types.KeySlotPrototypeProps{
		ObjectType: types.ObjectTypeSymmetricKey,
		Exportable: true,
	})
	require.NoError(t, err)
	return n
}

// TestIsEmptyOnFreshSlot covers the engine side of spec.md §8 scenario 1:
// is_empty on a freshly created slot reports true. No handshake is
// involved at this level.
func TestIsEmptyOnFreshSlot(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	empty, err := e.IsEmpty(CallContext{User: 1}, slot)
	require.NoError(t, err)
	require.True(t, empty)
}

// TestSaveCopyThenFindObject covers spec.md §8 scenario 2: saving content
// then finding it back by its couid.
func TestSaveCopyThenFindObject(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	couid := types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1}
	content := types.KeySlotContentProps{
		ObjectType: types.ObjectTypeSymmetricKey,
		Couid:      couid,
		Exportable: true,
	}
	require.NoError(t, e.SaveCopy(CallContext{User: 1}, slot, content, []byte("payload")))

	empty, err := e.IsEmpty(CallContext{User: 1}, slot)
	require.NoError(t, err)
	require.False(t, empty)

	found := e.FindObject(couid, types.ObjectTypeSymmetricKey, types.NilUuid, types.InvalidSlotNumber)
	require.Equal(t, slot, found)

	got, err := e.GetContentProps(CallContext{User: 1}, slot)
	require.NoError(t, err)
	require.True(t, got.Exportable)

	// a non-owner caller never sees Exportable even when the content is.
	got, err = e.GetContentProps(CallContext{User: 2}, slot)
	require.NoError(t, err)
	require.False(t, got.Exportable)
}

// TestSaveCopyRejectsDuplicateCouid covers spec.md §8 scenario 3.
func TestSaveCopyRejectsDuplicateCouid(t *testing.T) {
	e := newTestEngine(t)
	slotA := mustCreateSlot(t, e, 1)
	slotB := mustCreateSlot(t, e, 1)

	couid := types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1}
	content := types.KeySlotContentProps{ObjectType: types.ObjectTypeSymmetricKey, Couid: couid, Exportable: true}
	require.NoError(t, e.SaveCopy(CallContext{User: 1}, slotA, content, nil))

	err := e.SaveCopy(CallContext{User: 1}, slotB, content, nil)
	require.Error(t, err)
	require.Equal(t, keyerrc.ContentDuplication, keyerrc.CodeOf(err))
}

// TestTransactionRollbackLeavesSlotsUntouched covers spec.md §8 scenario 4:
// a transaction that begins, stages writes, then rolls back must leave
// every scope slot at its pre-transaction content.
func TestTransactionRollbackLeavesSlotsUntouched(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	ctx := CallContext{User: 1}
	txn, err := e.BeginTransaction(ctx, []types.SlotNumber{slot})
	require.NoError(t, err)

	content := types.KeySlotContentProps{
		ObjectType: types.ObjectTypeSymmetricKey,
		Couid:      types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1},
		Exportable: true,
	}
	require.NoError(t, e.SaveCopy(ctx, slot, content, []byte("staged")))

	// The staged write is invisible to reads before commit.
	empty, err := e.IsEmpty(ctx, slot)
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, e.RollbackTransaction(ctx, txn))

	empty, err = e.IsEmpty(ctx, slot)
	require.NoError(t, err)
	require.True(t, empty)

	found := e.FindObject(content.Couid, content.ObjectType, types.NilUuid, types.InvalidSlotNumber)
	require.Equal(t, types.InvalidSlotNumber, found)
}

func TestTransactionCommitAppliesStagedWrites(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	ctx := CallContext{User: 1}
	txn, err := e.BeginTransaction(ctx, []types.SlotNumber{slot})
	require.NoError(t, err)

	content := types.KeySlotContentProps{
		ObjectType: types.ObjectTypeSymmetricKey,
		Couid:      types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1},
		Exportable: true,
	}
	require.NoError(t, e.SaveCopy(ctx, slot, content, []byte("staged")))
	require.NoError(t, e.CommitTransaction(ctx, txn))

	empty, err := e.IsEmpty(ctx, slot)
	require.NoError(t, err)
	require.False(t, empty)

	found := e.FindObject(content.Couid, content.ObjectType, types.NilUuid, types.InvalidSlotNumber)
	require.Equal(t, slot, found)

	// the transaction id no longer exists once resolved.
	require.Error(t, e.CommitTransaction(ctx, txn))
}

// TestBeginTransactionRejectsDuplicateScope covers spec.md line 170: scope
// must contain no duplicates.
func TestBeginTransactionRejectsDuplicateScope(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	ctx := CallContext{User: 1}
	_, err := e.BeginTransaction(ctx, []types.SlotNumber{slot, slot})
	require.Error(t, err)
	require.Equal(t, keyerrc.InvalidArgument, keyerrc.CodeOf(err))
}

// TestOwnerContainerExclusivity covers spec.md §4.3's "exclusive read/write"
// invariant on OwnerContainer.
func TestOwnerContainerExclusivity(t *testing.T) {
	e := newTestEngine(t)
	slot := mustCreateSlot(t, e, 1)

	ctx := CallContext{User: 1}
	c1, err := e.OpenAsOwner(ctx, slot)
	require.NoError(t, err)

	_, err = e.OpenAsOwner(ctx, slot)
	require.Error(t, err)
	require.Equal(t, keyerrc.BusyResource, keyerrc.CodeOf(err))

	c1.Release()
	c2, err := e.OpenAsOwner(ctx, slot)
	require.NoError(t, err)
	c2.Release()
}

// TestAccessControlEnforced covers spec.md §4.5: a restricted matrix must
// reject operations it does not explicitly allow.
func TestAccessControlEnforced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.db")
	matrix, err := access.Load([]byte(`{"userIDs":[{"userID":7,"restrictions":[{"slotNumber":0,"operation":"Read"}]}]}`))
	require.NoError(t, err)

	e, err := Open(path, matrix, nil)
	require.NoError(t, err)
	defer e.Close()

	slot, err := e.CreateSlot(7, types.NewUuid(), types.KeySlotPrototypeProps{ObjectType: types.ObjectTypeSymmetricKey})
	require.NoError(t, err)
	require.Equal(t, types.SlotNumber(0), slot)

	_, err = e.IsEmpty(CallContext{User: 7}, slot)
	require.NoError(t, err)

	err = e.SaveCopy(CallContext{User: 7}, slot, types.KeySlotContentProps{ObjectType: types.ObjectTypeSymmetricKey}, nil)
	require.Error(t, err)
	require.Equal(t, keyerrc.AccessViolation, keyerrc.CodeOf(err))
}

func TestClearVetoedByOnClearCallback(t *testing.T) {
	e := newTestEngine(t)
	provider := types.NewUuid()
	n, err := e.CreateSlot(1, provider, types.KeySlotPrototypeProps{ObjectType: types.ObjectTypeSymmetricKey, Exportable: true})
	require.NoError(t, err)

	content := types.KeySlotContentProps{ObjectType: types.ObjectTypeSymmetricKey, Couid: types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1}}
	require.NoError(t, e.SaveCopy(CallContext{User: 1}, n, content, nil))

	e.RegisterOnClearCallback(provider, vetoingCallback{})
	err = e.Clear(CallContext{User: 1}, n)
	require.Error(t, err)

	empty, err := e.IsEmpty(CallContext{User: 1}, n)
	require.NoError(t, err)
	require.False(t, empty)
}

type vetoingCallback struct{}

func (vetoingCallback) OnClear(types.SlotNumber) error {
	return keyerrc.New(keyerrc.AccessViolation, "provider forbids clearing this slot")
}

func TestFindReferringSlot(t *testing.T) {
	e := newTestEngine(t)
	base := mustCreateSlot(t, e, 1)
	derived := mustCreateSlot(t, e, 1)

	baseCouid := types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1}
	require.NoError(t, e.SaveCopy(CallContext{User: 1}, base, types.KeySlotContentProps{
		ObjectType: types.ObjectTypeSymmetricKey,
		Couid:      baseCouid,
	}, nil))

	require.NoError(t, e.SaveCopy(CallContext{User: 1}, derived, types.KeySlotContentProps{
		ObjectType:    types.ObjectTypeSymmetricKey,
		Couid:         types.CryptoObjectUid{Generator: types.NewUuid(), Version: 1},
		HasDependency: true,
		DependencyUid: baseCouid,
	}, nil))

	referring, err := e.FindReferringSlot(base, types.InvalidSlotNumber)
	require.NoError(t, err)
	require.Equal(t, derived, referring)
}
