package broker

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/rpc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// ProviderFactory answers whether a crypto-provider uuid is known to the
// daemon's build/configuration, consulted during RegisterCryptoProvider.
type ProviderFactory interface {
	Lookup(uuid types.Uuid) bool
}

// X509Availability reports whether the X.509 provider is compiled/configured
// in, per spec.md §4.4 step 3.
type X509Availability interface {
	Available() bool
}

type staticX509Availability bool

func (s staticX509Availability) Available() bool { return bool(s) }

// StaticX509Availability builds an X509Availability that always answers the
// same way — the common case when X.509 support is a build-time decision.
func StaticX509Availability(available bool) X509Availability {
	return staticX509Availability(available)
}

// keyStorageSkeleton is installed under the client's requested
// proxy_id by RegisterKeyStorageProvider; a distinct type so dispatch
// handlers can type-assert it out of the registry.
type keyStorageSkeleton struct{}

// cryptoProviderSkeleton is installed by RegisterCryptoProvider.
type cryptoProviderSkeleton struct {
	Provider types.Uuid
}

// x509Skeleton is installed by RegisterX509Provider.
type x509Skeleton struct{}

// HandleRegisterCryptoProvider implements spec.md §4.4 handshake step 1.
func HandleRegisterCryptoProvider(s *Session, d *rpc.Decoder) error {
	provider, err := d.ReadUuid()
	if err != nil {
		return err
	}
	proxyRaw, err := d.ReadUint64()
	if err != nil {
		return err
	}
	proxyID := types.ProxyId(proxyRaw)

	if s.Providers == nil || !s.Providers.Lookup(provider) {
		return keyerrc.New(keyerrc.UnknownIdentifier, "unknown crypto provider")
	}
	s.Proxies.Register(proxyID, cryptoProviderSkeleton{Provider: provider})
	return nil
}

// HandleRegisterKeyStorageProvider implements handshake step 2: installing
// the singleton CompositeKeyStorageProvider skeleton.
func HandleRegisterKeyStorageProvider(s *Session, d *rpc.Decoder) error {
	proxyRaw, err := d.ReadUint64()
	if err != nil {
		return err
	}
	s.Proxies.Register(types.ProxyId(proxyRaw), keyStorageSkeleton{})
	return nil
}

// HandleRegisterX509Provider implements handshake step 3, responding
// Unsupported when X.509 is not available.
func HandleRegisterX509Provider(s *Session, d *rpc.Decoder) error {
	proxyRaw, err := d.ReadUint64()
	if err != nil {
		return err
	}
	if s.X509 == nil || !s.X509.Available() {
		return keyerrc.New(keyerrc.Unsupported, "x509 provider not configured")
	}
	s.Proxies.Register(types.ProxyId(proxyRaw), x509Skeleton{})
	return nil
}
