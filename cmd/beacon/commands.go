package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/geanlabs/beaconchain/config"
	"github.com/geanlabs/beaconchain/internal/logging"
	"github.com/geanlabs/beaconchain/node"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "beacon",
	Short:         "beacon runs a proof-of-stake beacon chain node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node until interrupted",
	RunE:  runNode,
}

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the genesis block and state roots of the configuration",
	RunE:  printGenesis,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file; devnet defaults when empty")
	withNodeFlags(runCmd)
	withGenesisFlags(runCmd)
	withGenesisFlags(genesisCmd)
	rootCmd.AddCommand(runCmd, genesisCmd, versionCmd)
}

func withGenesisFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("genesis-time", 0, "genesis unix time; now when zero and no genesis file is set")
	cmd.Flags().Uint64("validator-count", 0, "number of interop validators")
	cmd.Flags().String("genesis-file", "", "JSON genesis validator set")
}

func withNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "database directory; in-memory when empty")
	cmd.Flags().StringSlice("listen", nil, "libp2p listen multiaddrs")
	cmd.Flags().StringSlice("bootnodes", nil, "bootnode multiaddrs or ENRs")
	cmd.Flags().UintSlice("validator-indices", nil, "interop validator indices to run duties for")
	cmd.Flags().String("node-key", "", "secp256k1 node key file")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().Bool("verify-signatures", false, "verify BLS signatures")
	cmd.Flags().String("log-level", "", "debug, info, warn or error")
}

// loadConfig reads the configuration file and applies the flags that were
// set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Lookup(name) != nil && f.Changed(name) {
			err = apply()
		}
	}
	set("genesis-time", func() (e error) { cfg.GenesisTime, e = f.GetUint64("genesis-time"); return })
	set("validator-count", func() (e error) { cfg.ValidatorCount, e = f.GetUint64("validator-count"); return })
	set("genesis-file", func() (e error) { cfg.GenesisFile, e = f.GetString("genesis-file"); return })
	set("data-dir", func() (e error) { cfg.DataDir, e = f.GetString("data-dir"); return })
	set("listen", func() (e error) { cfg.ListenAddrs, e = f.GetStringSlice("listen"); return })
	set("bootnodes", func() (e error) { cfg.Bootnodes, e = f.GetStringSlice("bootnodes"); return })
	set("node-key", func() (e error) { cfg.NodeKeyFile, e = f.GetString("node-key"); return })
	set("metrics-addr", func() (e error) { cfg.MetricsAddr, e = f.GetString("metrics-addr"); return })
	set("verify-signatures", func() (e error) { cfg.VerifySignatures, e = f.GetBool("verify-signatures"); return })
	set("log-level", func() (e error) { cfg.Log.Level, e = f.GetString("log-level"); return })
	set("validator-indices", func() error {
		indices, e := f.GetUintSlice("validator-indices")
		cfg.ValidatorIndices = cfg.ValidatorIndices[:0]
		for _, i := range indices {
			cfg.ValidatorIndices = append(cfg.ValidatorIndices, uint64(i))
		}
		return e
	})
	if err != nil {
		return nil, err
	}

	if cfg.GenesisTime == 0 && cfg.GenesisFile == "" {
		cfg.GenesisTime = uint64(time.Now().Unix())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer := logging.New(cfg.Log)
	defer closer.Close()

	n, err := node.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting beacon node", "version", version, "genesis_time", cfg.GenesisTime)
	return n.Run(cmd.Context())
}

func printGenesis(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	state, block, err := node.Genesis(cfg)
	if err != nil {
		return err
	}
	blockRoot, err := block.SigningRoot()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "genesis_time: %d\n", state.GenesisTime)
	fmt.Fprintf(out, "slot:         %d\n", block.GetSlot())
	fmt.Fprintf(out, "kind:         %s\n", block.Kind())
	fmt.Fprintf(out, "validators:   %d\n", len(state.Validators))
	fmt.Fprintf(out, "block_root:   %x\n", blockRoot)
	fmt.Fprintf(out, "state_root:   %x\n", block.GetStateRoot())
	return nil
}
