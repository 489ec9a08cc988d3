package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/beaconchain/p2p"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "node.yaml", `
genesis_time: 1704085200
validator_count: 8
validator_indices: [1, 5]
seconds_per_slot: 4
forks:
  - name: phase0
    start_slot: 0
  - name: altair
    start_slot: 10
data_dir: /tmp/beacon
metrics_addr: ":9090"
verify_signatures: true
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(1704085200), cfg.GenesisTime)
	assert.Equal(t, []uint64{1, 5}, cfg.ValidatorIndices)
	assert.Equal(t, uint64(4), cfg.SecondsPerSlot)
	assert.True(t, cfg.VerifySignatures)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep their defaults")
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/9000"}, cfg.ListenAddrs)

	schedule, err := cfg.Schedule()
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, types.Slot(10), schedule[1].StartSlot)
	assert.Equal(t, "altair", schedule[1].Version.Name())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"default", func(*Config) {}, nil},
		{"no validators", func(c *Config) { c.ValidatorCount = 0 }, ErrInvalidConfig},
		{"index out of range", func(c *Config) { c.ValidatorIndices = []uint64{4} }, ErrInvalidConfig},
		{"zero slot duration", func(c *Config) { c.SecondsPerSlot = 0 }, ErrInvalidConfig},
		{"unknown fork", func(c *Config) { c.Forks = []Fork{{Name: "deneb"}} }, ErrInvalidConfig},
		{"no genesis fork", func(c *Config) { c.Forks = []Fork{{Name: "phase0", StartSlot: 3}} }, ErrInvalidConfig},
		{"empty schedule", func(c *Config) { c.Forks = nil }, ErrInvalidConfig},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSchedule_Unsorted(t *testing.T) {
	cfg := Default()
	cfg.Forks = []Fork{{Name: "phase0", StartSlot: 0}, {Name: "altair", StartSlot: 5}, {Name: "phase0", StartSlot: 5}}
	_, err := cfg.Schedule()
	require.ErrorIs(t, err, protocol.ErrUnsortedConfiguration)
}

func testBootnodePeer(t *testing.T) string {
	t.Helper()
	key, err := p2p.LoadOrGenerateNodeKey("")
	require.NoError(t, err)
	sk, err := p2p.Libp2pKey(key)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(sk)
	require.NoError(t, err)
	return id.String()
}

func TestLoadBootnodes(t *testing.T) {
	id := testBootnodePeer(t)
	tcp := "/ip4/127.0.0.1/tcp/9000/p2p/" + id
	quic := "/ip4/10.0.0.1/udp/9000/quic-v1/p2p/" + id

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "multiaddr mappings",
			content: "- multiaddr: " + tcp + "\n- multiaddr: " + quic + "\n",
			want:    []string{tcp, quic},
		},
		{
			name:    "plain strings",
			content: "- " + tcp + "\n- \"  \"\n- " + quic + "\n",
			want:    []string{tcp, quic},
		},
		{
			name:    "mixed",
			content: "- " + tcp + "\n- multiaddr: " + quic + "\n",
			want:    []string{tcp, quic},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadBootnodes(writeFile(t, "nodes.yaml", tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadBootnodes_Errors(t *testing.T) {
	_, err := LoadBootnodes(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadBootnodes(writeFile(t, "nodes.yaml", "[]\n"))
	require.ErrorIs(t, err, ErrNoBootnodes)

	_, err = LoadBootnodes(writeFile(t, "nodes.yaml", ""))
	require.ErrorIs(t, err, ErrNoBootnodes)

	_, err = LoadBootnodes(writeFile(t, "nodes.yaml", "- /ip4/127.0.0.1/tcp/9000\n"))
	require.ErrorIs(t, err, ErrInvalidConfig, "multiaddr without peer id")

	_, err = LoadBootnodes(writeFile(t, "nodes.yaml", "- enr:-not-a-record\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadBootnodes(writeFile(t, "nodes.yaml", "- multiaddr: /ip4/127.0.0.1/tcp/9000\n  enr: enr:-x\n"))
	require.Error(t, err)
}

func TestAllBootnodes(t *testing.T) {
	id := testBootnodePeer(t)
	inline := "/ip4/127.0.0.1/tcp/9000/p2p/" + id
	fromFile := "/ip4/127.0.0.2/tcp/9000/p2p/" + id

	cfg := Default()
	cfg.Bootnodes = []string{inline}
	cfg.BootnodesFile = writeFile(t, "nodes.yaml", "- "+fromFile+"\n")

	got, err := cfg.AllBootnodes()
	require.NoError(t, err)
	assert.Equal(t, []string{inline, fromFile}, got)

	cfg.Bootnodes = []string{"enr:-inline"}
	_, err = cfg.AllBootnodes()
	require.ErrorIs(t, err, ErrInvalidConfig)
}
