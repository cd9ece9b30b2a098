package metrics

import (
	"time"

	"github.com/keyguard/keyguardd/pkg/keystore"
)

// ConnectionCounter is satisfied by *daemon.Daemon; kept as an interface so
// this package does not import pkg/daemon.
type ConnectionCounter interface {
	ActiveConnections() int
}

// Collector polls the key storage engine on a fixed interval and updates
// the slot/transaction/connection gauges, mirroring the teacher's
// manager-polling Collector but sampling the engine instead of cluster state.
type Collector struct {
	engine *keystore.Engine
	conns  ConnectionCounter
	stopCh chan struct{}
}

func NewCollector(engine *keystore.Engine, conns ConnectionCounter) *Collector {
	return &Collector{engine: engine, conns: conns, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	SlotsTotal.Set(float64(c.engine.SlotCount()))
	OpenTransactions.Set(float64(c.engine.OpenTransactionCount()))
	if c.conns != nil {
		ActiveConnections.Set(float64(c.conns.ActiveConnections()))
	}
}
