package keystore

import (
	"sort"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// uuidIndexEntry / providerIndexEntry / couidIndexEntry are the three
// orthogonal index entries from spec.md §4.3: slot uid, owning-provider
// uuid, and crypto-object uid, each sorted for range lookup. Go's builtin
// map already gives O(1) slot-number -> *KeySlot access, so unlike the
// C++ original these entries don't need a separate buffer_index — the
// SlotNumber itself is the handle back into Engine.slots.
type uuidIndexEntry struct {
	uuid types.Uuid
	slot types.SlotNumber
}

type providerIndexEntry struct {
	provider types.Uuid
	slot     types.SlotNumber
}

type couidIndexEntry struct {
	couid types.CryptoObjectUid
	typ   types.ObjectType
	slot  types.SlotNumber
}

// uuidIndex, providerIndex and couidIndex are three separate sorted slices,
// each kept in order by insertion with sort.Search. uuidIndex and couidIndex
// reject duplicate keys; providerIndex does not, since many slots share a
// provider.
type uuidIndex struct {
	entries []uuidIndexEntry
}

func (ix *uuidIndex) insert(u types.Uuid, slot types.SlotNumber) error {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return less(ix.entries[i].uuid[:], u[:]) == false
	})
	if i < len(ix.entries) && ix.entries[i].uuid == u {
		return keyerrc.New(keyerrc.ContentDuplication, "slot uuid already indexed")
	}
	ix.entries = append(ix.entries, uuidIndexEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = uuidIndexEntry{uuid: u, slot: slot}
	return nil
}

func (ix *uuidIndex) remove(u types.Uuid) {
	for i, e := range ix.entries {
		if e.uuid == u {
			ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
			return
		}
	}
}

func (ix *uuidIndex) find(u types.Uuid) (types.SlotNumber, bool) {
	for _, e := range ix.entries {
		if e.uuid == u {
			return e.slot, true
		}
	}
	return 0, false
}

type providerIndex struct {
	entries []providerIndexEntry
}

func (ix *providerIndex) insert(provider types.Uuid, slot types.SlotNumber) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		if ix.entries[i].provider != provider {
			return !less(ix.entries[i].provider[:], provider[:])
		}
		return ix.entries[i].slot >= slot
	})
	ix.entries = append(ix.entries, providerIndexEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = providerIndexEntry{provider: provider, slot: slot}
}

func (ix *providerIndex) remove(provider types.Uuid, slot types.SlotNumber) {
	for i, e := range ix.entries {
		if e.provider == provider && e.slot == slot {
			ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
			return
		}
	}
}

func (ix *providerIndex) list(provider types.Uuid) []types.SlotNumber {
	var out []types.SlotNumber
	for _, e := range ix.entries {
		if e.provider == provider {
			out = append(out, e.slot)
		}
	}
	return out
}

type couidIndex struct {
	entries []couidIndexEntry
}

func (ix *couidIndex) insert(couid types.CryptoObjectUid, typ types.ObjectType, slot types.SlotNumber) error {
	for _, e := range ix.entries {
		if e.couid.Equal(couid) && e.typ == typ {
			return keyerrc.New(keyerrc.ContentDuplication, "couid already indexed for this type")
		}
	}
	i := sort.Search(len(ix.entries), func(i int) bool {
		if ix.entries[i].couid.Generator != couid.Generator {
			return !less(ix.entries[i].couid.Generator[:], couid.Generator[:])
		}
		return ix.entries[i].couid.Version >= couid.Version
	})
	ix.entries = append(ix.entries, couidIndexEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = couidIndexEntry{couid: couid, typ: typ, slot: slot}
	return nil
}

func (ix *couidIndex) remove(couid types.CryptoObjectUid, typ types.ObjectType) {
	for i, e := range ix.entries {
		if e.couid.Equal(couid) && e.typ == typ {
			ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
			return
		}
	}
}

// find returns the next matching slot after previousFound (InvalidSlotNumber
// to start from the beginning), the iterator-with-resume protocol
// find_object needs.
func (ix *couidIndex) find(couid types.CryptoObjectUid, typ types.ObjectType, previousFound types.SlotNumber) types.SlotNumber {
	seenPrevious := previousFound == types.InvalidSlotNumber
	for _, e := range ix.entries {
		if !e.couid.Equal(couid) || e.typ != typ {
			continue
		}
		if !seenPrevious {
			if e.slot == previousFound {
				seenPrevious = true
			}
			continue
		}
		return e.slot
	}
	return types.InvalidSlotNumber
}

func less(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
