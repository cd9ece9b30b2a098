// Package access compiles the access-control configuration file into an
// efficient (UserId, SlotNumber) -> Operation lookup, consulted by the
// key-storage engine on every slot operation (spec.md §4.5).
package access

import (
	"encoding/json"
	"fmt"

	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// restriction is the on-disk shape of one user's slot restrictions, from
// the access-control JSON file (spec.md §6):
//
//	{ "userIDs": [ { "userID": 7, "restrictions": [ {"slotNumber": 3, "operation": "Read"} ] } ] }
type restriction struct {
	SlotNumber uint64 `json:"slotNumber"`
	Operation  string `json:"operation"`
}

type userEntry struct {
	UserID       uint64        `json:"userID"`
	Restrictions []restriction `json:"restrictions"`
}

type configFile struct {
	UserIDs []userEntry `json:"userIDs"`
}

// Matrix is a read-only lookup table, safe for concurrent use once loaded
// (no locking needed, per spec.md §5: read-only after load).
type Matrix struct {
	enabled bool
	table   map[key]types.Operation
}

type key struct {
	user types.UserId
	slot types.SlotNumber
}

// Disabled returns a Matrix that permits every operation — the behavior
// when server.keyAccessControl is false.
func Disabled() *Matrix {
	return &Matrix{enabled: false}
}

// Load parses the access-control JSON file into a compiled Matrix.
func Load(data []byte) (*Matrix, error) {
	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse access-control config: %w", err)
	}
	m := &Matrix{enabled: true, table: make(map[key]types.Operation)}
	for _, u := range cf.UserIDs {
		for _, r := range u.Restrictions {
			op, ok := types.ParseOperation(r.Operation)
			if !ok {
				return nil, fmt.Errorf("access-control config: unknown operation %q for user %d slot %d", r.Operation, u.UserID, r.SlotNumber)
			}
			m.table[key{types.UserId(u.UserID), types.SlotNumber(r.SlotNumber)}] = op
		}
	}
	return m, nil
}

// Enabled reports whether this matrix enforces restrictions at all.
func (m *Matrix) Enabled() bool {
	return m != nil && m.enabled
}

// GetAllowedOperation returns the operation allowed for (user, slot). When
// the matrix is disabled, every operation is permitted. When enabled and no
// entry exists, the default is OpNone.
func (m *Matrix) GetAllowedOperation(user types.UserId, slot types.SlotNumber) types.Operation {
	if !m.Enabled() {
		return types.OpReadWrite
	}
	op, ok := m.table[key{user, slot}]
	if !ok {
		return types.OpNone
	}
	return op
}

// Check returns nil if user is allowed requested on slot, or an
// AccessViolation-classed error otherwise. pkg/keystore calls this from
// every engine operation that takes a CallContext, so those operations
// enforce the matrix identically; the engine's lookup helpers that take no
// CallContext do not call it.
func (m *Matrix) Check(user types.UserId, slot types.SlotNumber, requested types.Operation) error {
	allowed := m.GetAllowedOperation(user, slot)
	if !allowed.Allows(requested) {
		return keyerrc.New(keyerrc.AccessViolation,
			fmt.Sprintf("user %d requested %s on slot %d, allowed %s", user, requested, slot, allowed))
	}
	return nil
}
