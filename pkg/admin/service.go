// Package admin implements the narrow, read-only AdminAPI spec.md's
// operator-facing tooling uses for health and statistics introspection
// (`keyguardd inspect`). It is deliberately separate from the core
// RPC/broker wire protocol in pkg/rpc and pkg/broker, which is the custom
// length-prefixed binary codec spec.md §4.4 mandates verbatim — this
// package exists to give the gRPC/protobuf dependency a genuine home
// without touching that codec.
package admin

import (
	"context"
	"time"

	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var adminLog = log.WithComponent("admin")

// ConnectionCounter is satisfied by *daemon.Daemon; kept as an interface so
// this package does not import pkg/daemon.
type ConnectionCounter interface {
	ActiveConnections() int
}

// Service implements Server (see server.go) against a live engine and daemon.
type Service struct {
	Engine    *keystore.Engine
	Conns     ConnectionCounter
	StartedAt time.Time
}

func NewService(engine *keystore.Engine, conns ConnectionCounter) *Service {
	return &Service{Engine: engine, Conns: conns, StartedAt: time.Now()}
}

// Health reports whether the daemon is serving and a handful of top-level
// gauges an operator dashboard polls at low frequency.
func (s *Service) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	adminLog.Debug().Msg("admin Health called")
	return structpb.NewStruct(map[string]interface{}{
		"status":            "serving",
		"uptimeSeconds":     time.Since(s.StartedAt).Seconds(),
		"activeConnections": float64(s.Conns.ActiveConnections()),
		"slotCount":         float64(s.Engine.SlotCount()),
		"openTransactions":  float64(s.Engine.OpenTransactionCount()),
	})
}

// Stats reports the slot count, open transaction count and active
// connection count for a one-shot `keyguardd inspect` snapshot — Health's
// gauges without its status and uptime fields; kept distinct from Health
// so the two response shapes can change independently.
func (s *Service) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	adminLog.Debug().Msg("admin Stats called")
	return structpb.NewStruct(map[string]interface{}{
		"slotCount":         float64(s.Engine.SlotCount()),
		"openTransactions":  float64(s.Engine.OpenTransactionCount()),
		"activeConnections": float64(s.Conns.ActiveConnections()),
	})
}
