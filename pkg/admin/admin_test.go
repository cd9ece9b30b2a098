package admin

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fixedConnCounter int

func (f fixedConnCounter) ActiveConnections() int { return int(f) }

func newTestServer(t *testing.T) (*grpc.Server, *bufconn.Listener) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "slots.db")
	engine, err := keystore.Open(dbPath, access.Disabled(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	svc := NewService(engine, fixedConnCounter(3))
	gs := grpc.NewServer()
	RegisterServer(gs, svc)

	lis := bufconn.Listen(1024 * 1024)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)
	return gs, lis
}

func TestHealthAndStatsOverGRPC(t *testing.T) {
	_, lis := newTestServer(t)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := &Client{conn: conn}

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "serving", health.Fields["status"].GetStringValue())
	require.Equal(t, float64(3), health.Fields["activeConnections"].GetNumberValue())
	require.Equal(t, float64(0), health.Fields["slotCount"].GetNumberValue())

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(0), stats.Fields["openTransactions"].GetNumberValue())
}
