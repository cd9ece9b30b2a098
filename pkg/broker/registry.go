// Package broker implements the RPC dispatch layer from spec.md §4.4: the
// handshake protocol, the two-level (basic_task, detail_task) dispatch
// table, and the per-connection proxy registry server objects are mirrored
// through.
package broker

import "github.com/keyguard/keyguardd/pkg/types"

// ProxyRegistry maps a connection's ProxyIds to the server objects the
// client is holding a handle to. Per spec.md §9 DESIGN NOTES: arena-style
// ownership by insertion order rather than shared-pointer cycles; on
// disconnect every entry drops in registration order.
type ProxyRegistry struct {
	objects map[types.ProxyId]interface{}
	order   []types.ProxyId
	nextID  uint64
}

func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{objects: make(map[types.ProxyId]interface{})}
}

// Register installs obj under id, as requested by the client during
// handshake (RegisterCryptoProvider/RegisterKeyStorageProvider carry their
// own proxy_id rather than having the server allocate one).
func (r *ProxyRegistry) Register(id types.ProxyId, obj interface{}) {
	if _, exists := r.objects[id]; !exists {
		r.order = append(r.order, id)
	}
	r.objects[id] = obj
}

// Allocate installs obj under a server-generated ProxyId, used for objects
// handed to the client mid-session (e.g. a key context result).
func (r *ProxyRegistry) Allocate(obj interface{}) types.ProxyId {
	r.nextID++
	id := types.ProxyId(r.nextID)
	r.Register(id, obj)
	return id
}

func (r *ProxyRegistry) Get(id types.ProxyId) (interface{}, bool) {
	obj, ok := r.objects[id]
	return obj, ok
}

// Release drops every registered object, in registration order, the way
// disconnect teardown must per spec.md §4.4.
func (r *ProxyRegistry) Release() []interface{} {
	dropped := make([]interface{}, 0, len(r.order))
	for _, id := range r.order {
		if obj, ok := r.objects[id]; ok {
			dropped = append(dropped, obj)
		}
	}
	r.objects = make(map[types.ProxyId]interface{})
	r.order = nil
	return dropped
}
