// Package netstate owns the routing core's long-lived, process-wide
// state — connection pools, the routing graph, the accounts-data cache —
// and implements the operations and TIER1 control loops that sit on top
// of them. A single NetworkState is constructed at startup and torn down
// at shutdown; there is no package-level mutable state.
package netstate

import (
	"context"
	"crypto/ecdsa"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/empower1/netcore/internal/accountsdata"
	"github.com/empower1/netcore/internal/connpool"
	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/metrics"
	"github.com/empower1/netcore/internal/netconfig"
	"github.com/empower1/netcore/internal/routingcrypto"
	"github.com/empower1/netcore/internal/routinggraph"
	"github.com/empower1/netcore/internal/routingtable"
	"github.com/empower1/netcore/internal/routingtypes"
)

type (
	PeerID    = routingtypes.PeerID
	AccountID = routingtypes.AccountID
)

// RequestPeersInterval bounds how often NetworkState re-asks a TIER2 peer
// for its peer list.
const RequestPeersInterval = 60 * time.Second

// ImportantMessageResentCount is how many times an "important" TIER2
// routed message is sent, to tolerate drops without an ack protocol.
const ImportantMessageResentCount = 3

// tier1RecvLimiterQPS/Burst bound inbound TIER1 byte throughput.
const (
	tier1RecvLimiterQPS   = 20 << 20 // 20 MiB/s
	tier1RecvLimiterBurst = 40 << 20 // 40 MiB burst
)

// NetworkState is the routing core's central, shared object.
type NetworkState struct {
	cfg  *netconfig.Config
	self PeerID
	priv *ecdsa.PrivateKey

	Tier1 *connpool.Pool
	Tier2 *connpool.Pool

	Graph        *routinggraph.Graph
	RoutingTable *routingtable.View
	Accounts     *accountsdata.Cache

	dialer  contracts.Dialer
	spawner contracts.Spawner

	recorder metrics.Recorder
	log      *zap.SugaredLogger

	Tier1RecvLimiter *rate.Limiter

	mu                sync.Mutex
	lastPeerRequestAt map[PeerID]time.Time
}

// New constructs a NetworkState rooted at self, wiring every component.
func New(
	cfg *netconfig.Config,
	self PeerID,
	priv *ecdsa.PrivateKey,
	tier1, tier2 *connpool.Pool,
	graph *routinggraph.Graph,
	routingTable *routingtable.View,
	accounts *accountsdata.Cache,
	dialer contracts.Dialer,
	spawner contracts.Spawner,
	recorder metrics.Recorder,
	log *zap.SugaredLogger,
) *NetworkState {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NetworkState{
		cfg:               cfg,
		self:              self,
		priv:              priv,
		Tier1:             tier1,
		Tier2:             tier2,
		Graph:             graph,
		RoutingTable:      routingTable,
		Accounts:          accounts,
		dialer:            dialer,
		spawner:           spawner,
		recorder:          recorder,
		log:               log,
		Tier1RecvLimiter:  rate.NewLimiter(rate.Limit(tier1RecvLimiterQPS), tier1RecvLimiterBurst),
		lastPeerRequestAt: make(map[PeerID]time.Time),
	}
}

// SetSpawner replaces the peer-actor spawner. Exists because the spawner
// commonly needs a Router built from this very NetworkState, creating a
// construction-order cycle that New's fixed argument list can't express.
func (ns *NetworkState) SetSpawner(spawner contracts.Spawner) { ns.spawner = spawner }

// Self returns the local node's PeerId.
func (ns *NetworkState) Self() PeerID { return ns.self }

// PrivateKey returns the local node's signing key, for components (the
// router) that must sign outbound messages on NetworkState's behalf.
func (ns *NetworkState) PrivateKey() *ecdsa.PrivateKey { return ns.priv }

// DefaultTTL returns the configured TTL new outbound routed messages
// start at.
func (ns *NetworkState) DefaultTTL() uint8 { return ns.cfg.RoutedMessageTTL }

// AskForMorePeers re-requests the peer list from every TIER2 connection
// that has not been asked within RequestPeersInterval.
func (ns *NetworkState) AskForMorePeers(now time.Time) {
	snapshot := ns.Tier2.Load()
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for peer := range snapshot.Ready {
		last, asked := ns.lastPeerRequestAt[peer]
		if asked && now.Sub(last) < RequestPeersInterval {
			continue
		}
		if ns.Tier2.SendMessage(peer, peersRequestMessage{}) {
			ns.lastPeerRequestAt[peer] = now
		}
	}
}

// peersRequestMessage is the zero-payload PeersRequest wire variant; it
// carries no fields of its own.
type peersRequestMessage struct{}

// ProposeEdge returns a PartialEdgeInfo for a candidate edge to peer,
// using the caller-supplied nonce if given, else the local edge's next
// nonce (or 1 if no local edge toward peer exists yet), signed with the
// local node key.
func (ns *NetworkState) ProposeEdge(peer PeerID, nonce *uint64) (routingtypes.PartialEdgeInfo, error) {
	key := routingtypes.NewEdgeKey(ns.self, peer)
	n := uint64(1)
	if nonce != nil {
		n = *nonce
	} else if existing, ok := ns.Graph.Load().LocalEdges[key]; ok {
		n = existing.NextNonce()
	}
	return routingtypes.SignPartialEdge(key, n, ns.priv)
}

// Tier1AccountID returns this node's own AccountId iff the local
// validator signing key is present in the current accounts-data
// snapshot.
func (ns *NetworkState) Tier1AccountID() (AccountID, bool) {
	signer := AccountID(ns.cfg.Validator.Signer)
	if signer == "" {
		return "", false
	}
	if !ns.Accounts.ContainsAccountKey(signer, &ns.priv.PublicKey) {
		return "", false
	}
	return signer, true
}

// GetTier1Peer returns a direct TIER1 connection to account's owning
// peer, if one is ready.
func (ns *NetworkState) GetTier1Peer(account AccountID) (PeerID, bool) {
	owner, ok := ns.RoutingTable.AccountOwner(account)
	if !ok {
		return PeerID{}, false
	}
	if _, ready := ns.Tier1.Load().Ready[owner]; ready {
		return owner, true
	}
	return PeerID{}, false
}

// GetTier1Proxy resolves a TIER1 connection usable to reach account,
// preferring a direct connection and falling back to any ready proxy
// announced for that account.
func (ns *NetworkState) GetTier1Proxy(account AccountID) (PeerID, bool) {
	if peer, ok := ns.GetTier1Peer(account); ok {
		return peer, true
	}
	ready := ns.Tier1.Load().Ready
	for _, r := range ns.Accounts.ByAccount(account) {
		for _, proxy := range r.Proxies {
			if _, ok := ready[proxy.PeerID]; ok {
				return proxy.PeerID, true
			}
		}
	}
	return PeerID{}, false
}

// SendMessageToPeer sends a routed message toward target on the given
// tier. Drops and returns false if isSelf reports the target is self. On
// T1, sends directly to target over the TIER1 pool. On T2, sends to the
// first next hop the routing table lists for target, counting the message
// as dropped when there is none. Targets are peer ids only: hash targets
// are not resolved through the route-back cache, and no route-back entry
// is recorded for messages that expect a reply.
func (ns *NetworkState) SendMessageToPeer(tier contracts.Tier, msg any, target PeerID, isSelf bool, now time.Time) bool {
	if isSelf {
		return false
	}
	if tier == contracts.T1 {
		return ns.Tier1.SendMessage(target, msg)
	}
	hop, ok := ns.RoutingTable.FindRoute(target)
	if !ok {
		ns.recorder.MessageDropped("no_route_found")
		return false
	}
	return ns.Tier2.SendMessage(hop, msg)
}

// SendMessageToAccount resolves account's current TIER1 proxy (if the
// body is TIER1-eligible) and its TIER2 owner, sending over both when
// available. Important bodies are sent three times on TIER2.
func (ns *NetworkState) SendMessageToAccount(account AccountID, body any, tier1Eligible, important bool) bool {
	sentAny := false
	if tier1Eligible {
		if proxy, ok := ns.GetTier1Proxy(account); ok {
			if ns.Tier1.SendMessage(proxy, body) {
				sentAny = true
			}
		}
	}
	owner, ok := ns.RoutingTable.AccountOwner(account)
	if !ok {
		ns.recorder.MessageDropped("unknown_account")
		return sentAny
	}
	sends := 1
	if important {
		sends = ImportantMessageResentCount
	}
	for i := 0; i < sends; i++ {
		if ns.Tier2.SendMessage(owner, body) {
			sentAny = true
		}
	}
	return sentAny
}

// Tier1ConnectToMyProxies opens a TIER1 stream and spawns a peer actor
// for every configured public address not already ready or mid-handshake.
func (ns *NetworkState) Tier1ConnectToMyProxies(ctx context.Context) {
	snapshot := ns.Tier1.Load()
	for _, addr := range ns.cfg.Validator.Endpoints.PublicAddrs {
		peer, err := parsePeerID(addr.PeerID)
		if err != nil {
			ns.log.Warnw("tier1: skipping malformed configured proxy", "peer_id", addr.PeerID, "error", err)
			continue
		}
		if _, ready := snapshot.Ready[peer]; ready {
			continue
		}
		if _, handshaking := snapshot.OutboundHandshakes[peer]; handshaking {
			continue
		}
		ns.connectTier1(ctx, peer, addr.Addresses)
	}
}

func (ns *NetworkState) connectTier1(ctx context.Context, peer PeerID, addresses []string) {
	if len(addresses) == 0 {
		return
	}
	ns.Tier1.StartOutboundHandshake(peer)
	stream, err := ns.dialer.Dial(ctx, addresses[0], contracts.T1)
	if err != nil {
		ns.Tier1.FinishOutboundHandshake(peer, connpool.Connection{}, false)
		ns.recorder.Tier1ConnectAttempt(false)
		ns.log.Warnw("tier1: dial failed", "peer", peer, "error", err)
		return
	}
	seed, err := ns.ProposeEdge(peer, nil)
	if err != nil {
		ns.Tier1.FinishOutboundHandshake(peer, connpool.Connection{}, false)
		ns.recorder.Tier1ConnectAttempt(false)
		return
	}
	if err := ns.spawner.Spawn(stream, contracts.T1, &seed); err != nil {
		ns.Tier1.FinishOutboundHandshake(peer, connpool.Connection{}, false)
		ns.recorder.Tier1ConnectAttempt(false)
		ns.log.Warnw("tier1: spawn failed", "peer", peer, "error", err)
		return
	}
	ns.recorder.Tier1ConnectAttempt(true)
}

// Tier1BroadcastMyProxies signs one AccountsData record for epochID (using
// this validator's currently connected proxy addresses), inserts it into
// the accounts-data cache, and broadcasts it on TIER2 if accepted. Only
// the given epoch is announced; other epochs the validator is in are not.
func (ns *NetworkState) Tier1BroadcastMyProxies(epochID string, now time.Time) {
	signer, ok := ns.Tier1AccountID()
	if !ok {
		return
	}

	proxies := ns.currentProxyAddrs()
	record := routingtypes.AccountsDataRecord{
		AccountID: signer,
		EpochID:   epochID,
		PeerID:    ns.self,
		Proxies:   proxies,
		Timestamp: now.UnixNano(),
	}
	if err := record.Sign(ns.priv); err != nil {
		ns.log.Errorw("tier1: failed to sign accounts-data record", "error", err)
		return
	}

	accepted, err := ns.Accounts.Insert([]routingtypes.AccountsDataRecord{record})
	if err != nil {
		ns.log.Errorw("tier1: rejected own accounts-data record", "error", err)
		return
	}
	if len(accepted) == 0 {
		return
	}
	ns.Tier2.BroadcastMessage(syncAccountsDataMessage{Records: accepted})
}

type syncAccountsDataMessage struct {
	Records []routingtypes.AccountsDataRecord
}

func (ns *NetworkState) currentProxyAddrs() []routingtypes.PeerAddr {
	ready := ns.Tier1.Load().Ready
	var out []routingtypes.PeerAddr
	for _, addr := range ns.cfg.Validator.Endpoints.PublicAddrs {
		peer, err := parsePeerID(addr.PeerID)
		if err != nil {
			continue
		}
		if _, ok := ready[peer]; ok {
			out = append(out, routingtypes.PeerAddr{PeerID: peer, Addresses: addr.Addresses})
		}
	}
	return out
}

// Tier1ConnectToOthersProxies periodically reconciles the TIER1 mesh:
// builds indexes over current accounts-data, computes the set of
// connections that are "safe" (a direct or proxy path to an announced
// validator), removes every ready connection not in that set from the
// TIER1 pool (the connection's stream itself is not closed), and — if
// self is itself a TIER1 validator — opens up to
// cfg.Tier1.NewConnectionsPerTick new connections to validators not yet
// safe.
func (ns *NetworkState) Tier1ConnectToOthersProxies(ctx context.Context, now time.Time) {
	records := ns.Accounts.All()

	accountsByPeer := make(map[PeerID]AccountID)   // peer directly IS this account's owner
	accountsByProxy := make(map[PeerID][]AccountID) // peer proxies for these accounts
	proxiesByAccount := make(map[AccountID][]routingtypes.PeerAddr)

	for _, r := range records {
		accountsByPeer[r.PeerID] = r.AccountID
		proxiesByAccount[r.AccountID] = append(proxiesByAccount[r.AccountID], r.Proxies...)
		for _, p := range r.Proxies {
			accountsByProxy[p.PeerID] = append(accountsByProxy[p.PeerID], r.AccountID)
		}
	}

	snapshot := ns.Tier1.Load()
	readyPeers := make([]PeerID, 0, len(snapshot.Ready))
	for p := range snapshot.Ready {
		readyPeers = append(readyPeers, p)
	}
	// Newest-established first, so that the unconditional overwrites below
	// leave the oldest TIER1 connection for each account as the final,
	// winning assignment — mirroring original_source's documented policy of
	// selecting the oldest connection per account.
	sort.Slice(readyPeers, func(i, j int) bool {
		return snapshot.Ready[readyPeers[i]].EstablishedAt.After(snapshot.Ready[readyPeers[j]].EstablishedAt)
	})

	self, isValidator := ns.Tier1AccountID()

	safe := make(map[AccountID]PeerID)
	for _, peer := range readyPeers {
		if acct, ok := accountsByPeer[peer]; ok {
			safe[acct] = peer
		}
	}
	directlySafe := make(map[AccountID]struct{}, len(safe))
	for acct := range safe {
		directlySafe[acct] = struct{}{}
	}
	if isValidator {
		for _, peer := range readyPeers {
			for _, acct := range accountsByProxy[peer] {
				if _, direct := directlySafe[acct]; direct {
					continue
				}
				safe[acct] = peer
			}
		}
	}

	safePeers := make(map[PeerID]struct{}, len(safe))
	for _, peer := range safe {
		safePeers[peer] = struct{}{}
	}
	for _, peer := range readyPeers {
		if _, ok := safePeers[peer]; !ok {
			ns.Tier1.Remove(peer)
		}
	}

	if !isValidator || ns.cfg.Tier1.NewConnectionsPerTick <= 0 {
		return
	}

	accounts := make([]AccountID, 0, len(proxiesByAccount))
	for acct := range proxiesByAccount {
		accounts = append(accounts, acct)
	}
	rand.Shuffle(len(accounts), func(i, j int) { accounts[i], accounts[j] = accounts[j], accounts[i] })

	attempts := 0
	outbound := ns.Tier1.Load().OutboundHandshakes
	for _, acct := range accounts {
		if attempts >= ns.cfg.Tier1.NewConnectionsPerTick {
			break
		}
		if acct == self {
			continue
		}
		if _, ok := safe[acct]; ok {
			continue
		}
		candidates := proxiesByAccount[acct]
		var remaining []routingtypes.PeerAddr
		for _, p := range candidates {
			if _, handshaking := outbound[p.PeerID]; !handshaking {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) == 0 {
			continue
		}
		chosen := remaining[rand.Intn(len(remaining))]
		ns.connectTier1(ctx, chosen.PeerID, chosen.Addresses)
		attempts++
	}
}

func parsePeerID(didKey string) (PeerID, error) {
	pub, err := routingcrypto.ParseDIDKey(didKey)
	if err != nil {
		return PeerID{}, err
	}
	return routingcrypto.PeerIDFromPublicKey(pub)
}
