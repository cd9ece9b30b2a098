package rpc

import "github.com/keyguard/keyguardd/pkg/types"

// BasicTask is the coarse dispatch category (spec.md §4.4).
type BasicTask uint32

const (
	TaskHandshake BasicTask = iota
	TaskKeyStorage
	TaskCryptoProvider
	TaskX509
	TaskObjectControl
)

func (t BasicTask) String() string {
	switch t {
	case TaskHandshake:
		return "Handshake"
	case TaskKeyStorage:
		return "KeyStorage"
	case TaskCryptoProvider:
		return "CryptoProvider"
	case TaskX509:
		return "X509"
	case TaskObjectControl:
		return "ObjectControl"
	default:
		return "Unknown"
	}
}

// DetailTask is the operation within a BasicTask.
type DetailTask uint32

// Handshake detail tasks.
const (
	DetailRegisterCryptoProvider DetailTask = iota
	DetailRegisterKeyStorageProvider
	DetailRegisterX509Provider
)

// Envelope is the common header every request and response carries.
type Envelope struct {
	BasicTask    BasicTask
	DetailTask   DetailTask
	TargetProxy  types.ProxyId
	ArgProxies   []types.ProxyId
}

// WriteEnvelope writes basic_task/detail_task/target_proxy/arg_proxies,
// the header every message shape in spec.md §4.4 begins with.
func WriteEnvelope(e *Encoder, env Envelope) {
	e.WriteUint32(uint32(env.BasicTask))
	e.WriteUint32(uint32(env.DetailTask))
	e.WriteUint64(uint64(env.TargetProxy))
	WriteVector(e, env.ArgProxies, func(e *Encoder, p types.ProxyId) {
		e.WriteUint64(uint64(p))
	})
}

// ReadEnvelope reads the common header; the broker uses BasicTask/DetailTask
// to pick a dispatcher before decoding the rest of the payload.
func ReadEnvelope(d *Decoder) (Envelope, error) {
	basic, err := d.ReadUint32()
	if err != nil {
		return Envelope{}, err
	}
	detail, err := d.ReadUint32()
	if err != nil {
		return Envelope{}, err
	}
	target, err := d.ReadUint64()
	if err != nil {
		return Envelope{}, err
	}
	args, err := ReadVector(d, func(d *Decoder) (types.ProxyId, error) {
		v, err := d.ReadUint64()
		return types.ProxyId(v), err
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		BasicTask:   BasicTask(basic),
		DetailTask:  DetailTask(detail),
		TargetProxy: types.ProxyId(target),
		ArgProxies:  args,
	}, nil
}

// EchoMatches implements the client-side MessageErrorHandler check (spec.md
// §4.4): the response's echoed basic_task/detail_task must match the
// request's, or the caller must treat the connection as desynced.
func (env Envelope) EchoMatches(response Envelope) bool {
	return env.BasicTask == response.BasicTask && env.DetailTask == response.DetailTask
}
