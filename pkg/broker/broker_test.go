package broker

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/rpc"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/stretchr/testify/require"
)

type staticProviders map[types.Uuid]bool

func (s staticProviders) Lookup(u types.Uuid) bool { return s[u] }

func newTestSession(t *testing.T) (*keystore.Engine, *Session) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slots.db")
	e, err := keystore.Open(path, access.Disabled(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	s := NewSession(1, keystore.CallContext{User: 1}, e, staticProviders{}, StaticX509Availability(false))
	return e, s
}

// sendRequest writes env+args as one frame and decodes the response
// envelope + result on the other end of conn.
func sendRequest(t *testing.T, conn net.Conn, env rpc.Envelope, args func(*rpc.Encoder)) (*rpc.Decoder, rpc.Envelope) {
	t.Helper()
	e := rpc.NewEncoder()
	rpc.WriteEnvelope(e, env)
	args(e)
	require.NoError(t, rpc.WriteFrame(conn, e.Bytes()))

	payload, err := rpc.ReadFrame(conn)
	require.NoError(t, err)
	d := rpc.NewDecoder(payload)
	respEnv, err := rpc.ReadEnvelope(d)
	require.NoError(t, err)
	return d, respEnv
}

// TestHandshakeThenIsEmptyScenario covers spec.md §8 scenario 1.
func TestHandshakeThenIsEmptyScenario(t *testing.T) {
	e, s := newTestSession(t)
	slot, err := e.CreateSlot(1, types.NewUuid(), types.KeySlotPrototypeProps{ObjectType: types.ObjectTypeSymmetricKey})
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	table := DefaultTable()
	go Serve(serverConn, s, table)
	defer clientConn.Close()

	d, respEnv := sendRequest(t, clientConn, rpc.Envelope{BasicTask: rpc.TaskHandshake, DetailTask: rpc.DetailRegisterKeyStorageProvider}, func(e *rpc.Encoder) {
		e.WriteUint64(0x42)
	})
	require.Equal(t, rpc.DetailRegisterKeyStorageProvider, respEnv.DetailTask)
	require.NoError(t, rpc.ReadErr(d))

	d, respEnv = sendRequest(t, clientConn, rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: DetailIsEmpty}, func(e *rpc.Encoder) {
		e.WriteUint64(uint64(slot))
	})
	require.True(t, respEnv.EchoMatches(rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: DetailIsEmpty}))
	empty, err := rpc.ReadResult(d, func(d *rpc.Decoder) (bool, error) { return d.ReadBool() })
	require.NoError(t, err)
	require.True(t, empty)
}

// TestSaveThenFindScenario covers spec.md §8 scenario 2 and 3.
func TestSaveThenFindScenario(t *testing.T) {
	e, s := newTestSession(t)
	slotA, err := e.CreateSlot(1, types.NewUuid(), types.KeySlotPrototypeProps{ObjectType: types.ObjectTypePublicKey, Exportable: false})
	require.NoError(t, err)
	slotB, err := e.CreateSlot(1, types.NewUuid(), types.KeySlotPrototypeProps{ObjectType: types.ObjectTypePublicKey, Exportable: false})
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	table := DefaultTable()
	go Serve(serverConn, s, table)
	defer clientConn.Close()

	couid := types.CryptoObjectUid{Generator: types.NewUuid(), Version: 0}
	saveArgs := func(slot types.SlotNumber) func(*rpc.Encoder) {
		return func(e *rpc.Encoder) {
			e.WriteUint64(uint64(slot))
			encodeContentProps(e, types.KeySlotContentProps{ObjectType: types.ObjectTypePublicKey, Couid: couid})
			e.WriteByteSpan([]byte{0x30, 0x82})
		}
	}

	d, _ := sendRequest(t, clientConn, rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: DetailSaveCopy}, saveArgs(slotA))
	require.NoError(t, rpc.ReadErr(d))

	d, _ = sendRequest(t, clientConn, rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: DetailFindObject}, func(e *rpc.Encoder) {
		e.WriteUuid(couid.Generator)
		e.WriteUint64(couid.Version)
		e.WriteUint32(uint32(types.ObjectTypePublicKey))
		e.WriteUuid(types.NilUuid)
		e.WriteUint64(uint64(types.InvalidSlotNumber))
	})
	found, err := rpc.ReadResult(d, func(d *rpc.Decoder) (uint64, error) { return d.ReadUint64() })
	require.NoError(t, err)
	require.Equal(t, uint64(slotA), found)

	// duplicate couid on a different slot is rejected.
	d, _ = sendRequest(t, clientConn, rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: DetailSaveCopy}, saveArgs(slotB))
	err = rpc.ReadErr(d)
	require.Error(t, err)
}
