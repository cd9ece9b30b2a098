//go:build linux

package daemon

import (
	"net"

	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/types"
	"golang.org/x/sys/unix"
)

// peerCallContext reads SO_PEERCRED off the accepted unix socket, the
// "transport's credential query" spec.md §4.4 stashes into the per-request
// call context.
func peerCallContext(conn net.Conn, connID uint64) keystore.CallContext {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return keystore.CallContext{ConnID: connID}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return keystore.CallContext{ConnID: connID}
	}
	var cred *unix.Ucred
	err = raw.Control(func(fd uintptr) {
		c, e := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if e == nil {
			cred = c
		}
	})
	if err != nil || cred == nil {
		return keystore.CallContext{ConnID: connID}
	}
	return keystore.CallContext{
		User:    types.UserId(cred.Uid),
		Process: types.ProcessId(cred.Pid),
		ConnID:  connID,
	}
}
