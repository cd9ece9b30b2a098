package broker

import (
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/metrics"
	"github.com/keyguard/keyguardd/pkg/rpc"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/keyguard/keyguardd/pkg/wire/der"
)

// Detail tasks under rpc.TaskKeyStorage.
const (
	DetailIsEmpty rpc.DetailTask = iota
	DetailSaveCopy
	DetailClear
	DetailFindObject
	DetailGetContentProps
	DetailBeginTransaction
	DetailCommitTransaction
	DetailRollbackTransaction
)

func HandleIsEmpty(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	slotNum, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	empty, err := s.Engine.IsEmpty(s.CallCtx, types.SlotNumber(slotNum))
	if err != nil {
		return nil, err
	}
	e := rpc.NewEncoder()
	e.WriteBool(empty)
	return e, nil
}

func decodeContentProps(d *rpc.Decoder) (types.KeySlotContentProps, error) {
	var props types.KeySlotContentProps
	objType, err := d.ReadUint32()
	if err != nil {
		return props, err
	}
	genUid, err := d.ReadUuid()
	if err != nil {
		return props, err
	}
	version, err := d.ReadUint64()
	if err != nil {
		return props, err
	}
	hasDep, err := d.ReadBool()
	if err != nil {
		return props, err
	}
	var depGen types.Uuid
	var depVersion uint64
	if hasDep {
		depGen, err = d.ReadUuid()
		if err != nil {
			return props, err
		}
		depVersion, err = d.ReadUint64()
		if err != nil {
			return props, err
		}
	}
	allowedUsage, err := d.ReadUint32()
	if err != nil {
		return props, err
	}
	bitSize, err := d.ReadUint32()
	if err != nil {
		return props, err
	}
	algID, err := d.ReadUint32()
	if err != nil {
		return props, err
	}
	exportable, err := d.ReadBool()
	if err != nil {
		return props, err
	}
	props = types.KeySlotContentProps{
		ObjectType:    types.ObjectType(objType),
		Couid:         types.CryptoObjectUid{Generator: genUid, Version: version},
		HasDependency: hasDep,
		AllowedUsage:  allowedUsage,
		BitSize:       bitSize,
		AlgId:         algID,
		Exportable:    exportable,
	}
	if hasDep {
		props.DependencyUid = types.CryptoObjectUid{Generator: depGen, Version: depVersion}
	}
	return props, nil
}

func encodeContentProps(e *rpc.Encoder, props types.KeySlotContentProps) {
	e.WriteUint32(uint32(props.ObjectType))
	e.WriteUuid(props.Couid.Generator)
	e.WriteUint64(props.Couid.Version)
	e.WriteBool(props.HasDependency)
	if props.HasDependency {
		e.WriteUuid(props.DependencyUid.Generator)
		e.WriteUint64(props.DependencyUid.Version)
	}
	e.WriteUint32(props.AllowedUsage)
	e.WriteUint32(props.BitSize)
	e.WriteUint32(props.AlgId)
	e.WriteBool(props.Exportable)
}

func HandleSaveCopy(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	slotNum, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	props, err := decodeContentProps(d)
	if err != nil {
		return nil, err
	}
	payload, err := d.ReadByteSpan()
	if err != nil {
		return nil, err
	}

	// Certificates are the one content type this daemon can structurally
	// validate on its own (spec.md §4.1/§4.2); other object types are opaque
	// key material whose shape only the owning crypto provider understands.
	if props.ObjectType == types.ObjectTypeCertificate {
		if _, err := der.FirstObject(payload); err != nil {
			metrics.DerParseErrorsTotal.WithLabelValues("save_copy").Inc()
			return nil, err
		}
	}

	timer := metrics.NewTimer()
	err = s.Engine.SaveCopy(s.CallCtx, types.SlotNumber(slotNum), props, payload)
	timer.ObserveDuration(metrics.SaveCopyDuration)
	if err != nil {
		return nil, err
	}
	return rpc.NewEncoder(), nil
}

func HandleClear(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	slotNum, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	err = s.Engine.Clear(s.CallCtx, types.SlotNumber(slotNum))
	timer.ObserveDuration(metrics.ClearDuration)
	if err != nil {
		return nil, err
	}
	return rpc.NewEncoder(), nil
}

func HandleFindObject(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	genUid, err := d.ReadUuid()
	if err != nil {
		return nil, err
	}
	version, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	objType, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	provider, err := d.ReadUuid()
	if err != nil {
		return nil, err
	}
	prevFound, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	couid := types.CryptoObjectUid{Generator: genUid, Version: version}
	found := s.Engine.FindObject(couid, types.ObjectType(objType), provider, types.SlotNumber(prevFound))

	e := rpc.NewEncoder()
	e.WriteUint64(uint64(found))
	return e, nil
}

func HandleGetContentProps(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	slotNum, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	props, err := s.Engine.GetContentProps(s.CallCtx, types.SlotNumber(slotNum))
	if err != nil {
		return nil, err
	}
	e := rpc.NewEncoder()
	encodeContentProps(e, props)
	return e, nil
}

func HandleBeginTransaction(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
	slots, err := rpc.ReadVector(d, func(d *rpc.Decoder) (types.SlotNumber, error) {
		v, err := d.ReadUint64()
		return types.SlotNumber(v), err
	})
	if err != nil {
		return nil, err
	}
	txn, err := s.Engine.BeginTransaction(s.CallCtx, slots)
	if err != nil {
		return nil, err
	}
	e := rpc.NewEncoder()
	e.WriteUint64(uint64(txn))
	return e, nil
}

func HandleCommitTransaction(s *Session, d *rpc.Decoder) error {
	id, err := d.ReadUint64()
	if err != nil {
		return err
	}
	timer := metrics.NewTimer()
	err = s.Engine.CommitTransaction(s.CallCtx, keystore.TransactionId(id))
	timer.ObserveDuration(metrics.TransactionCommitDuration)
	return err
}

func HandleRollbackTransaction(s *Session, d *rpc.Decoder) error {
	id, err := d.ReadUint64()
	if err != nil {
		return err
	}
	err = s.Engine.RollbackTransaction(s.CallCtx, keystore.TransactionId(id))
	if err == nil {
		metrics.TransactionsRolledBackTotal.Inc()
	}
	return err
}
