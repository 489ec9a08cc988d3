package p2p

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
)

// DefaultListenAddrs are used when no listen address is configured.
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/tcp/9000",
	"/ip4/0.0.0.0/udp/9000/quic-v1",
}

// HostConfig holds configuration for creating a libp2p host.
type HostConfig struct {
	PrivateKey  crypto.PrivKey // random secp256k1 key when nil
	ListenAddrs []string
}

// NewHost creates a new libp2p host with the given configuration.
func NewHost(_ context.Context, cfg HostConfig) (host.Host, error) {
	privKey := cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateKeyPairWithReader(crypto.Secp256k1, 256, rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "generate key")
		}
	}

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = DefaultListenAddrs
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddrs...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create host")
	}
	return h, nil
}

// ParseBootnodes parses multiaddr and ENR strings into peer.AddrInfo.
// Entries for the same peer are merged.
func ParseBootnodes(addrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if strings.HasPrefix(addr, "enr:") {
			pi, err := ENRToAddrInfo(addr)
			if err != nil {
				return nil, errors.Wrapf(err, "parse enr %s", addr)
			}
			infos = append(infos, *pi)
			continue
		}
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "parse multiaddr %s", addr)
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, errors.Wrapf(err, "parse peer info %s", addr)
		}
		infos = append(infos, *pi)
	}
	return mergeAddrInfos(infos), nil
}

func mergeAddrInfos(infos []peer.AddrInfo) []peer.AddrInfo {
	index := make(map[peer.ID]int, len(infos))
	var out []peer.AddrInfo
	for _, pi := range infos {
		if i, ok := index[pi.ID]; ok {
			out[i].Addrs = append(out[i].Addrs, pi.Addrs...)
			continue
		}
		index[pi.ID] = len(out)
		out = append(out, pi)
	}
	return out
}
