package keystore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/keyguard/keyguardd/pkg/log"
	"github.com/keyguard/keyguardd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Bucket layout, in the teacher's bbolt style (pkg/storage/boltdb.go): a
// single bucket of slot records keyed by big-endian slot number. There is
// no separate index document; the in-memory indexes are rebuilt from the
// slot records on load.
var (
	bucketSlots = []byte("slots")
)

// slotRecord is the on-disk form of a KeySlot, one flat JSON object (like
// every bucket value in the teacher's storage layer): the slot's identity
// fields, its prototype, and, when HasContent is set, its content props and
// payload. It has no access section; access rights live only in the access
// matrix loaded from its own config file.
type slotRecord struct {
	SlotNumber uint64 `json:"number"`
	SlotUid    string `json:"uuid"`
	Owner      uint64 `json:"owner"`
	Provider   string `json:"provider"`

	Prototype prototypeRecord `json:"prototype"`

	HasContent bool           `json:"hasContent"`
	Content    contentRecord  `json:"content,omitempty"`
	Payload    []byte         `json:"payload,omitempty"`
}

type prototypeRecord struct {
	ObjectType     uint32 `json:"type"`
	Capacity       uint64 `json:"capacity"`
	AllowedAlgId   uint32 `json:"algId"`
	Exportable     bool   `json:"isExportable"`
	DependencySlot string `json:"dependency,omitempty"`
	DependencyType uint32 `json:"dependencyType"`
	VersionControl uint8  `json:"versionControl"`
}

type contentRecord struct {
	ObjectType    uint32 `json:"type"`
	CouidGen      string `json:"couidGenerator"`
	CouidVersion  uint64 `json:"couidVersion"`
	HasDependency bool   `json:"hasDependency"`
	DepGen        string `json:"dependencyGenerator,omitempty"`
	DepVersion    uint64 `json:"dependencyVersion,omitempty"`
	AllowedUsage  uint32 `json:"allowedUsage"`
	BitSize       uint32 `json:"bitSize"`
	AlgId         uint32 `json:"algId"`
	Exportable    bool   `json:"isExportable"`
}

func slotKey(n types.SlotNumber) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func openBoltDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open slot database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSlots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// loadAll reads every slot record and rebuilds the in-memory table plus
// indexes. Any malformed record aborts startup (spec.md §6: "Any malformed
// slot file aborts startup with a precise error rather than proceeding with
// a partial database").
func (e *Engine) loadAll() error {
	count := 0
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		return b.ForEach(func(k, v []byte) error {
			var rec slotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt slot record for key %x: %w", k, err)
			}
			slot, err := recordToSlot(rec)
			if err != nil {
				return err
			}
			if binary.BigEndian.Uint64(k) != uint64(slot.SlotNumber) {
				return fmt.Errorf("slot record key/number mismatch for slot %d", slot.SlotNumber)
			}
			e.slots[slot.SlotNumber] = slot
			if err := e.indexSlot(slot); err != nil {
				return fmt.Errorf("index slot %d: %w", slot.SlotNumber, err)
			}
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}
	persistLog.Info().Int("slots", count).Msg("loaded key slot database")
	return nil
}

func (e *Engine) indexSlot(slot *types.KeySlot) error {
	if err := e.uuidIdx.insert(slot.SlotUid, slot.SlotNumber); err != nil {
		return err
	}
	e.providerIdx.insert(slot.ProviderUuid, slot.SlotNumber)
	if slot.HasContent {
		if err := e.couidIdx.insert(slot.Content.Couid, slot.Content.ObjectType, slot.SlotNumber); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deindexSlotContent(slot *types.KeySlot) {
	if slot.HasContent {
		e.couidIdx.remove(slot.Content.Couid, slot.Content.ObjectType)
	}
}

// persistSlots writes the given slots atomically in a single bbolt
// transaction. This is how commit_transaction gets its all-or-nothing
// guarantee (spec.md §4.3): bbolt's own page-level COW commit is the
// "write shadow, fsync, rename" strategy spec.md §4.3 describes, so there
// is no separate hand-rolled shadow file — see DESIGN.md.
func (e *Engine) persistSlots(slots ...*types.KeySlot) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlots)
		for _, s := range slots {
			rec := slotToRecord(s)
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put(slotKey(s.SlotNumber), data); err != nil {
				return err
			}
			log.WithSlot(uint64(s.SlotNumber)).Debug().Msg("slot persisted")
		}
		return nil
	})
}

func recordToSlot(rec slotRecord) (*types.KeySlot, error) {
	slotUid, err := types.UuidFromString(rec.SlotUid)
	if err != nil {
		return nil, fmt.Errorf("bad slot uuid: %w", err)
	}
	var provider types.Uuid
	if rec.Provider != "" {
		provider, err = types.UuidFromString(rec.Provider)
		if err != nil {
			return nil, fmt.Errorf("bad provider uuid: %w", err)
		}
	}

	slot := &types.KeySlot{
		SlotNumber:   types.SlotNumber(rec.SlotNumber),
		SlotUid:      slotUid,
		Owner:        types.UserId(rec.Owner),
		ProviderUuid: provider,
		Prototype: types.KeySlotPrototypeProps{
			ObjectType:     types.ObjectType(rec.Prototype.ObjectType),
			Capacity:       rec.Prototype.Capacity,
			AllowedAlgId:   rec.Prototype.AllowedAlgId,
			Exportable:     rec.Prototype.Exportable,
			DependencyType: types.ObjectType(rec.Prototype.DependencyType),
			VersionControl: types.VersionControlPolicy(rec.Prototype.VersionControl),
		},
		HasContent: rec.HasContent,
		Payload:    rec.Payload,
	}
	if rec.Prototype.DependencySlot != "" {
		dep, err := types.UuidFromString(rec.Prototype.DependencySlot)
		if err != nil {
			return nil, fmt.Errorf("bad prototype dependency uuid: %w", err)
		}
		slot.Prototype.DependencySlotID = dep
	}
	if rec.HasContent {
		couidGen, err := types.UuidFromString(rec.Content.CouidGen)
		if err != nil {
			return nil, fmt.Errorf("bad content couid generator: %w", err)
		}
		content := types.KeySlotContentProps{
			ObjectType:    types.ObjectType(rec.Content.ObjectType),
			Couid:         types.CryptoObjectUid{Generator: couidGen, Version: rec.Content.CouidVersion},
			HasDependency: rec.Content.HasDependency,
			AllowedUsage:  rec.Content.AllowedUsage,
			BitSize:       rec.Content.BitSize,
			AlgId:         rec.Content.AlgId,
			Exportable:    rec.Content.Exportable,
		}
		if rec.Content.HasDependency {
			depGen, err := types.UuidFromString(rec.Content.DepGen)
			if err != nil {
				return nil, fmt.Errorf("bad content dependency couid: %w", err)
			}
			content.DependencyUid = types.CryptoObjectUid{Generator: depGen, Version: rec.Content.DepVersion}
		}
		slot.Content = content
	}
	return slot, nil
}

func slotToRecord(slot *types.KeySlot) slotRecord {
	rec := slotRecord{
		SlotNumber: uint64(slot.SlotNumber),
		SlotUid:    slot.SlotUid.String(),
		Owner:      uint64(slot.Owner),
		Provider:   slot.ProviderUuid.String(),
		Prototype: prototypeRecord{
			ObjectType:     uint32(slot.Prototype.ObjectType),
			Capacity:       slot.Prototype.Capacity,
			AllowedAlgId:   slot.Prototype.AllowedAlgId,
			Exportable:     slot.Prototype.Exportable,
			DependencySlot: slot.Prototype.DependencySlotID.String(),
			DependencyType: uint32(slot.Prototype.DependencyType),
			VersionControl: uint8(slot.Prototype.VersionControl),
		},
		HasContent: slot.HasContent,
		Payload:    slot.Payload,
	}
	if slot.HasContent {
		rec.Content = contentRecord{
			ObjectType:    uint32(slot.Content.ObjectType),
			CouidGen:      slot.Content.Couid.Generator.String(),
			CouidVersion:  slot.Content.Couid.Version,
			HasDependency: slot.Content.HasDependency,
			AllowedUsage:  slot.Content.AllowedUsage,
			BitSize:       slot.Content.BitSize,
			AlgId:         slot.Content.AlgId,
			Exportable:    slot.Content.Exportable,
		}
		if slot.Content.HasDependency {
			rec.Content.DepGen = slot.Content.DependencyUid.Generator.String()
			rec.Content.DepVersion = slot.Content.DependencyUid.Version
		}
	}
	return rec
}

var persistLog = log.WithComponent("keystore")

// Compact rewrites every slot record through the current marshal format,
// used by the standalone migration tool to normalize records written by an
// older build of the daemon onto the current on-disk schema.
func (e *Engine) Compact() (int, error) {
	e.mu.RLock()
	slots := make([]*types.KeySlot, 0, len(e.slots))
	for _, s := range e.slots {
		slots = append(slots, s)
	}
	e.mu.RUnlock()

	if len(slots) == 0 {
		return 0, nil
	}
	if err := e.persistSlots(slots...); err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}
	return len(slots), nil
}
