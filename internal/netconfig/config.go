// Package netconfig defines and loads the routing core's configuration:
// node identity, pruning windows, and TIER1 validator settings.
package netconfig

import "time"

// Config is the root configuration structure for the routing core.
type Config struct {
	NodeID  string `yaml:"node_id" validate:"required"`
	NodeKey string `yaml:"node_key" validate:"required"` // path to a PEM file holding the ECDSA P-256 private key

	RoutedMessageTTL uint8 `yaml:"routed_message_ttl" validate:"required,min=1"`

	PruneEdgesAfter            time.Duration `yaml:"prune_edges_after"` // 0 disables age-pruning
	PruneUnreachablePeersAfter time.Duration `yaml:"prune_unreachable_peers_after" validate:"required"`

	Tier1     Tier1Config     `yaml:"tier1"`
	Validator ValidatorConfig `yaml:"validator"`

	EdgeStorePath string `yaml:"edge_store_path" validate:"required"`

	// ListenAddr is the TCP address the reference transport accepts inbound
	// TIER2 connections on. Empty disables inbound listening (dial-only node).
	ListenAddr string `yaml:"listen_addr"`
}

// Tier1Config tunes the TIER1 validator-mesh reconciliation loop.
type Tier1Config struct {
	NewConnectionsPerTick int           `yaml:"new_connections_per_tick" validate:"min=0"`
	ReconcileInterval      time.Duration `yaml:"reconcile_interval"`
}

// ValidatorConfig is present iff this node is a TIER1 validator.
type ValidatorConfig struct {
	Signer    string          `yaml:"signer"` // AccountId this node signs accounts-data as, empty if not a validator
	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// EndpointsConfig is a one-of: either a list of trusted STUN-style
// discovery servers, or a fixed list of public peer addresses.
type EndpointsConfig struct {
	TrustedStunServers []string   `yaml:"trusted_stun_servers" validate:"omitempty,dive,required"`
	PublicAddrs        []PeerAddr `yaml:"public_addrs" validate:"omitempty,dive"`
}

// PeerAddr is a dialable peer endpoint, expressed in configuration as a
// did:key peer id plus a list of network addresses.
type PeerAddr struct {
	PeerID    string   `yaml:"peer_id" validate:"required"`
	Addresses []string `yaml:"addresses" validate:"required,min=1,dive,required"`
}

// Defaults returns a Config pre-populated with the routing core's default
// tunables, to be overlaid with values parsed from YAML.
func Defaults() *Config {
	return &Config{
		RoutedMessageTTL:           16,
		PruneUnreachablePeersAfter: 10 * time.Minute,
		Tier1: Tier1Config{
			NewConnectionsPerTick: 1,
			ReconcileInterval:     5 * time.Second,
		},
		EdgeStorePath: "netcore-edges.db",
	}
}
