// Package daemon runs the accept loop the broker's per-connection Sessions
// are served from: one reactor accepting on a unix socket, each connection
// demultiplexed into its own goroutine and served serially, per spec.md
// §4.4/§5.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/keyguard/keyguardd/pkg/broker"
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/log"
	"github.com/keyguard/keyguardd/pkg/metrics"
)

var daemonLog = log.WithComponent("daemon")

// Config is the subset of the daemon's JSON configuration the accept loop
// consults (spec.md §4.5 Server section).
type Config struct {
	SocketPath       string
	MaxConnectionNum int
}

// Daemon owns the listening socket and every active broker.Session.
type Daemon struct {
	cfg       Config
	engine    *keystore.Engine
	table     *broker.Table
	providers broker.ProviderFactory
	x509      broker.X509Availability

	listener net.Listener
	active   int64
	nextConn uint64
	wg       sync.WaitGroup
}

func New(cfg Config, engine *keystore.Engine, providers broker.ProviderFactory, x509 broker.X509Availability) *Daemon {
	if cfg.MaxConnectionNum <= 0 {
		cfg.MaxConnectionNum = 10
	}
	return &Daemon{
		cfg:       cfg,
		engine:    engine,
		table:     broker.DefaultTable(),
		providers: providers,
		x509:      x509,
	}
}

// Run listens on cfg.SocketPath and accepts connections until ctx is
// canceled, at which point it stops accepting and waits for every in-flight
// session to drain (spec.md §5's graceful shutdown).
func (d *Daemon) Run(ctx context.Context) error {
	_ = os.Remove(d.cfg.SocketPath)
	l, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.SocketPath, err)
	}
	d.listener = l
	daemonLog.Info().Str("socket", d.cfg.SocketPath).Int("maxConnections", d.cfg.MaxConnectionNum).Msg("daemon listening")

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				d.wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		d.handleConn(conn)
	}
}

func (d *Daemon) handleConn(conn net.Conn) {
	if atomic.AddInt64(&d.active, 1) > int64(d.cfg.MaxConnectionNum) {
		atomic.AddInt64(&d.active, -1)
		metrics.ConnectionsRejectedTotal.Inc()
		daemonLog.Warn().Msg("connection rejected: max connections reached")
		conn.Close()
		return
	}

	connID := atomic.AddUint64(&d.nextConn, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer atomic.AddInt64(&d.active, -1)
		defer conn.Close()

		callCtx := peerCallContext(conn, connID)
		session := broker.NewSession(connID, callCtx, d.engine, d.providers, d.x509)
		if err := broker.Serve(conn, session, d.table); err != nil {
			daemonLog.Debug().Err(err).Uint64("conn", connID).Msg("session ended")
		}
	}()
}

// ActiveConnections reports the current number of in-flight sessions.
func (d *Daemon) ActiveConnections() int {
	return int(atomic.LoadInt64(&d.active))
}
