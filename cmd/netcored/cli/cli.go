// Package cli wires the netcored cobra command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/accountsdata"
	"github.com/empower1/netcore/internal/connpool"
	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/edgestore"
	"github.com/empower1/netcore/internal/metrics"
	"github.com/empower1/netcore/internal/netconfig"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peeractor"
	"github.com/empower1/netcore/internal/router"
	"github.com/empower1/netcore/internal/routingcrypto"
	"github.com/empower1/netcore/internal/routinggraph"
	"github.com/empower1/netcore/internal/routingtable"
)

// NewCLI builds the netcored root command.
func NewCLI() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "netcored",
		Short: "netcored runs the EmPower1 peer-to-peer routing core.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the routing core's control loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "netcored.yaml", "path to the YAML configuration file")

	keygenCmd := &cobra.Command{
		Use:   "keygen [output-path]",
		Short: "Generate a new node signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := routingcrypto.GenerateNodeKey()
			if err != nil {
				return err
			}
			if err := routingcrypto.SaveNodeKeyPEM(key, args[0]); err != nil {
				return err
			}
			did, err := routingcrypto.DIDKey(&key.Priv.PublicKey)
			if err != nil {
				return err
			}
			fmt.Printf("node key written to %s\nnode_id: %s\n", args[0], did)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, keygenCmd)
	return rootCmd
}

func run(ctx context.Context, configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("netcored: build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := netconfig.NewLoader().LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("netcored: load config: %w", err)
	}

	nodeKey, err := routingcrypto.LoadNodeKeyPEM(cfg.NodeKey)
	if err != nil {
		return fmt.Errorf("netcored: load node key: %w", err)
	}
	log.Infow("node identity loaded", "peer_id", nodeKey.PeerID.String())

	store, err := edgestore.Open(cfg.EdgeStorePath, log)
	if err != nil {
		return fmt.Errorf("netcored: open edge store: %w", err)
	}
	defer store.Close()

	recorder := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	keyDirectory := newStaticKeyDirectory()
	graph := routinggraph.New(routinggraph.Config{
		Self:                       nodeKey.PeerID,
		PruneEdgesAfter:            cfg.PruneEdgesAfter,
		PruneUnreachablePeersAfter: cfg.PruneUnreachablePeersAfter,
	}, store, keyDirectory.lookupPeer, log)

	accounts := accountsdata.New(keyDirectory.lookupAccount)
	routingTableView := routingtable.New(graph, accounts, cfg.PruneUnreachablePeersAfter, 64, 4096)

	tier1 := connpool.New(connpool.LimitPendingPeers)
	tier2 := connpool.New(connpool.LimitPendingPeers)

	state := netstate.New(
		cfg, nodeKey.PeerID, nodeKey.Priv,
		tier1, tier2,
		graph, routingTableView, accounts,
		peeractor.TCPDialer{}, nil, // spawner is set below, once the router exists
		recorder, log,
	)

	msgRouter := router.New(state, droppingClient{}, recorder, log)
	spawner := peeractor.New(state, msgRouter, log)
	state.SetSpawner(spawner)

	if cfg.ListenAddr != "" {
		go func() {
			if err := spawner.ListenAndServe(ctx, cfg.ListenAddr, contracts.T2); err != nil {
				log.Errorw("tier2 listener stopped", "error", err)
			}
		}()
	}

	log.Infow("routing core started", "tier1_new_connections_per_tick", cfg.Tier1.NewConnectionsPerTick)
	runControlLoops(ctx, state, cfg, log)
	return nil
}
