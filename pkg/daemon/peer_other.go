//go:build !linux

package daemon

import (
	"net"

	"github.com/keyguard/keyguardd/pkg/keystore"
)

// peerCallContext has no portable SO_PEERCRED equivalent outside Linux;
// non-Linux builds carry only the connection id.
func peerCallContext(_ net.Conn, connID uint64) keystore.CallContext {
	return keystore.CallContext{ConnID: connID}
}
