package daemon

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/broker"
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/rpc"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/stretchr/testify/require"
)

type noProviders struct{}

func (noProviders) Lookup(types.Uuid) bool { return false }

func newTestDaemon(t *testing.T, maxConns int) (*Daemon, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "slots.db")
	engine, err := keystore.Open(dbPath, access.Disabled(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	sockPath := filepath.Join(t.TempDir(), "keyguardd.sock")
	d := New(Config{SocketPath: sockPath, MaxConnectionNum: maxConns}, engine, noProviders{}, broker.StaticX509Availability(false))
	return d, sockPath
}

func TestDaemonAcceptsAndServesIsEmpty(t *testing.T) {
	d, sockPath := newTestDaemon(t, 10)

	slotCh := make(chan types.SlotNumber, 1)
	go func() {
		n, _ := d.engine.CreateSlot(1, types.NewUuid(), types.KeySlotPrototypeProps{ObjectType: types.ObjectTypeSymmetricKey})
		slotCh <- n
	}()
	slot := <-slotCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	e := rpc.NewEncoder()
	rpc.WriteEnvelope(e, rpc.Envelope{BasicTask: rpc.TaskKeyStorage, DetailTask: broker.DetailIsEmpty})
	e.WriteUint64(uint64(slot))
	require.NoError(t, rpc.WriteFrame(conn, e.Bytes()))

	payload, err := rpc.ReadFrame(conn)
	require.NoError(t, err)
	d2 := rpc.NewDecoder(payload)
	_, err = rpc.ReadEnvelope(d2)
	require.NoError(t, err)
	empty, err := rpc.ReadResult(d2, func(d *rpc.Decoder) (bool, error) { return d.ReadBool() })
	require.NoError(t, err)
	require.True(t, empty)
}

func TestDaemonRejectsBeyondMaxConnections(t *testing.T) {
	d, sockPath := newTestDaemon(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var first net.Conn
	var err error
	for i := 0; i < 50; i++ {
		first, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer first.Close()

	time.Sleep(50 * time.Millisecond)
	second, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(buf)
	require.Error(t, err)
}
