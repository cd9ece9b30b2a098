package broker

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/metrics"
	"github.com/keyguard/keyguardd/pkg/rpc"
)

// taskKey is the two-level dispatch key from spec.md §4.4.
type taskKey struct {
	basic  rpc.BasicTask
	detail rpc.DetailTask
}

// Handler decodes its operation's arguments from d, performs the call, and
// returns the encoded success payload (empty for Result<void, E>). The
// returned error is carried as the Result's Err arm by Dispatch.
type Handler func(s *Session, d *rpc.Decoder) (*rpc.Encoder, error)

// Table is the two-level (basic_task, detail_task) -> fn dispatch table.
// Unknown combinations resolve to Err(RpcUnknownTask), per spec.md §4.4.
type Table struct {
	handlers map[taskKey]Handler
}

func NewTable() *Table {
	return &Table{handlers: make(map[taskKey]Handler)}
}

func (t *Table) Register(basic rpc.BasicTask, detail rpc.DetailTask, h Handler) {
	t.handlers[taskKey{basic, detail}] = h
}

func voidHandler(fn func(*Session, *rpc.Decoder) error) Handler {
	return func(s *Session, d *rpc.Decoder) (*rpc.Encoder, error) {
		if err := fn(s, d); err != nil {
			return nil, err
		}
		return rpc.NewEncoder(), nil
	}
}

// Dispatch resolves env's (BasicTask, DetailTask) and runs the matching
// handler, returning the full response payload: the echoed envelope
// followed by the Result<T, SecurityErrc> wire shape.
func (t *Table) Dispatch(s *Session, env rpc.Envelope, d *rpc.Decoder) []byte {
	timer := metrics.NewTimer()
	resp := rpc.NewEncoder()
	rpc.WriteEnvelope(resp, env)

	h, ok := t.handlers[taskKey{env.BasicTask, env.DetailTask}]
	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues(env.BasicTask.String(), "unknown_task").Inc()
		rpc.WriteErr(resp, keyerrc.New(keyerrc.RpcUnknownTask, "no handler for this task"))
		return resp.Bytes()
	}

	payload, err := h(s, d)
	timer.ObserveDurationVec(metrics.RPCRequestDuration, env.BasicTask.String())
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(env.BasicTask.String(), "error").Inc()
		rpc.WriteErr(resp, err)
		return resp.Bytes()
	}
	metrics.RPCRequestsTotal.WithLabelValues(env.BasicTask.String(), "ok").Inc()
	resp.WriteBool(true)
	resp.WriteRaw(payload.Bytes())
	return resp.Bytes()
}
