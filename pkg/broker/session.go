package broker

import (
	"io"

	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/log"
	"github.com/keyguard/keyguardd/pkg/rpc"
)

var sessionLog = log.WithComponent("broker")

// Session is the per-connection state a dispatch handler operates on:
// the caller's identity, its proxy registry, and the subsystems handlers
// reach into. One Session per accepted connection; its handler functions
// run serialized, per spec.md §4.4's "each connection is demultiplexed ...
// and handled serialized per connection".
type Session struct {
	ID        uint64
	CallCtx   keystore.CallContext
	Proxies   *ProxyRegistry
	Engine    *keystore.Engine
	Providers ProviderFactory
	X509      X509Availability
}

func NewSession(id uint64, callCtx keystore.CallContext, engine *keystore.Engine, providers ProviderFactory, x509 X509Availability) *Session {
	return &Session{
		ID:        id,
		CallCtx:   callCtx,
		Proxies:   NewProxyRegistry(),
		Engine:    engine,
		Providers: providers,
		X509:      x509,
	}
}

// DefaultTable builds the dispatch table wired with the handshake and
// key-storage handlers spec.md §4.4/§4.3 require.
func DefaultTable() *Table {
	t := NewTable()
	t.Register(rpc.TaskHandshake, rpc.DetailRegisterCryptoProvider, voidHandler(HandleRegisterCryptoProvider))
	t.Register(rpc.TaskHandshake, rpc.DetailRegisterKeyStorageProvider, voidHandler(HandleRegisterKeyStorageProvider))
	t.Register(rpc.TaskHandshake, rpc.DetailRegisterX509Provider, voidHandler(HandleRegisterX509Provider))

	t.Register(rpc.TaskKeyStorage, DetailIsEmpty, HandleIsEmpty)
	t.Register(rpc.TaskKeyStorage, DetailSaveCopy, HandleSaveCopy)
	t.Register(rpc.TaskKeyStorage, DetailClear, HandleClear)
	t.Register(rpc.TaskKeyStorage, DetailFindObject, HandleFindObject)
	t.Register(rpc.TaskKeyStorage, DetailGetContentProps, HandleGetContentProps)
	t.Register(rpc.TaskKeyStorage, DetailBeginTransaction, HandleBeginTransaction)
	t.Register(rpc.TaskKeyStorage, DetailCommitTransaction, voidHandler(HandleCommitTransaction))
	t.Register(rpc.TaskKeyStorage, DetailRollbackTransaction, voidHandler(HandleRollbackTransaction))
	return t
}

// Serve reads frames from conn until EOF, a frame read or write error, or
// a malformed envelope, dispatching each through table and writing the
// response frame back.
// On return, every proxy this session registered is released in
// registration order (spec.md §4.4: "On client disconnect, all proxy ids
// for that connection are released").
func Serve(conn io.ReadWriter, s *Session, table *Table) error {
	defer s.Proxies.Release()

	for {
		payload, err := rpc.ReadFrame(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		d := rpc.NewDecoder(payload)
		env, err := rpc.ReadEnvelope(d)
		if err != nil {
			sessionLog.Warn().Err(err).Uint64("session", s.ID).Msg("malformed envelope, dropping connection")
			return err
		}

		respPayload := table.Dispatch(s, env, d)
		if err := rpc.WriteFrame(conn, respPayload); err != nil {
			return err
		}
	}
}
