package p2p

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/p2p/enr"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
)

// ENRToAddrInfo parses an ENR string and returns a libp2p AddrInfo with a
// QUIC multiaddr, or a TCP one when the record carries no QUIC port.
func ENRToAddrInfo(enrStr string) (*peer.AddrInfo, error) {
	node, err := enode.Parse(enode.ValidSchemes, enrStr)
	if err != nil {
		return nil, errors.Wrap(err, "parse enr")
	}

	ip := node.IP()
	if ip == nil {
		return nil, errors.New("enr has no IP")
	}

	var addr ma.Multiaddr
	var quicPort enr.QUIC
	if err := node.Record().Load(&quicPort); err == nil {
		addr, err = ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", ip, quicPort))
		if err != nil {
			return nil, errors.Wrap(err, "build multiaddr")
		}
	} else if node.TCP() != 0 {
		addr, err = ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip, node.TCP()))
		if err != nil {
			return nil, errors.Wrap(err, "build multiaddr")
		}
	} else {
		return nil, errors.New("enr has neither quic nor tcp port")
	}

	pubkey := node.Pubkey()
	if pubkey == nil {
		return nil, errors.New("enr has no public key")
	}
	libp2pKey, err := libp2pcrypto.UnmarshalSecp256k1PublicKey(crypto.CompressPubkey(pubkey))
	if err != nil {
		return nil, errors.Wrap(err, "convert pubkey")
	}
	pid, err := peer.IDFromPublicKey(libp2pKey)
	if err != nil {
		return nil, errors.Wrap(err, "derive peer id")
	}

	return &peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{addr}}, nil
}

// LocalENR builds the signed node record advertising ip and the QUIC port.
func LocalENR(key *ecdsa.PrivateKey, ip net.IP, quicPort int) (*enode.Node, error) {
	db, err := enode.OpenDB("")
	if err != nil {
		return nil, errors.Wrap(err, "open node db")
	}
	defer db.Close()

	local := enode.NewLocalNode(db, key)
	local.SetStaticIP(ip)
	local.Set(enr.QUIC(quicPort))
	return local.Node(), nil
}

// QUICEndpoint returns the IPv4 address and port of the first QUIC address
// in addrs.
func QUICEndpoint(addrs []ma.Multiaddr) (net.IP, int, bool) {
	for _, a := range addrs {
		if _, err := a.ValueForProtocol(ma.P_QUIC_V1); err != nil {
			continue
		}
		ip, err := a.ValueForProtocol(ma.P_IP4)
		if err != nil {
			continue
		}
		portStr, err := a.ValueForProtocol(ma.P_UDP)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		return net.ParseIP(ip), port, true
	}
	return nil, 0, false
}

// LoadOrGenerateNodeKey loads a secp256k1 key from path, generating and
// saving one when the file does not exist. An empty path yields an
// ephemeral key.
func LoadOrGenerateNodeKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return crypto.GenerateKey()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveECDSA(path, key); err != nil {
			return nil, errors.Wrap(err, "save node key")
		}
		return key, nil
	}
	key, err := crypto.LoadECDSA(path)
	if err == nil {
		return key, nil
	}

	// Raw 32 bytes or a marshaled libp2p key.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	if len(data) == 32 {
		return crypto.ToECDSA(data)
	}
	sk, err := libp2pcrypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid key format (hex, binary, or libp2p)")
	}
	raw, err := sk.Raw()
	if err != nil {
		return nil, errors.Wrap(err, "raw key bytes")
	}
	return crypto.ToECDSA(raw)
}

// Libp2pKey converts a secp256k1 key to its libp2p form.
func Libp2pKey(key *ecdsa.PrivateKey) (libp2pcrypto.PrivKey, error) {
	sk, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(crypto.FromECDSA(key))
	if err != nil {
		return nil, errors.Wrap(err, "convert node key")
	}
	return sk, nil
}
