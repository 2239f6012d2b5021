// Package routinggraph owns the authoritative view of the peer adjacency
// graph: it merges incoming edges, prunes unreachable peers to persistent
// storage, recomputes next hops, and publishes immutable snapshots for
// readers.
package routinggraph

import (
	"crypto/ecdsa"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/empower1/netcore/internal/bfsgraph"
	"github.com/empower1/netcore/internal/edgestore"
	"github.com/empower1/netcore/internal/routingtypes"
)

type (
	PeerID = routingtypes.PeerID
	Edge   = routingtypes.Edge
	EdgeKey = routingtypes.EdgeKey
)

// Config tunes the engine's pruning behaviour; a zero duration disables
// the corresponding prune pass.
type Config struct {
	Self                      PeerID
	PruneEdgesAfter           time.Duration // 0 = never age-prune edges
	PruneUnreachablePeersAfter time.Duration
}

// PublicKeyLookup resolves a peer's current signing key for edge
// verification. The engine never stores key material itself.
type PublicKeyLookup func(PeerID) (*ecdsa.PublicKey, bool)

// Inner holds the mutable state guarded by Graph's mutex: the adjacency
// graph, the authoritative edge map, reachability timestamps, and the
// persistent archive for pruned components.
type Inner struct {
	config Config
	graph  *bfsgraph.Graph
	edges  map[EdgeKey]Edge

	peerReachableAt  map[PeerID]time.Time
	lastPeersPruned  time.Time
	insertedAt       map[EdgeKey]time.Time // local acceptance time per edge, for age-pruning

	store *edgestore.Store
	log   *zap.SugaredLogger
}

// Graph is the routing graph engine: a mutex-serialized Inner plus an
// atomically published snapshot for lock-free readers.
type Graph struct {
	mu    sync.Mutex
	inner *Inner

	snapshot atomic.Pointer[routingtypes.GraphSnapshot]
	unreliable atomic.Pointer[map[PeerID]struct{}]

	lookup PublicKeyLookup
}

// New creates a routing graph engine rooted at cfg.Self, backed by store
// for archived components.
func New(cfg Config, store *edgestore.Store, lookup PublicKeyLookup, log *zap.SugaredLogger) *Graph {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	g := &Graph{
		inner: &Inner{
			config:          cfg,
			graph:           bfsgraph.New(cfg.Self),
			edges:           make(map[EdgeKey]Edge),
			peerReachableAt: make(map[PeerID]time.Time),
			store:           store,
			log:             log,
		},
		lookup: lookup,
	}
	empty := map[PeerID]struct{}{}
	g.unreliable.Store(&empty)
	g.snapshot.Store(&routingtypes.GraphSnapshot{
		Edges:      map[EdgeKey]Edge{},
		LocalEdges: map[EdgeKey]Edge{},
		NextHops:   routingtypes.NextHopTable{},
	})
	return g
}

// Load returns the most recently published snapshot. Safe for concurrent
// use without locking; callers never observe a partially updated graph.
func (g *Graph) Load() routingtypes.GraphSnapshot {
	return *g.snapshot.Load()
}

// SetUnreliablePeers replaces the set of peers whose edges are
// deprioritised (but not excluded) during next-hop computation.
func (g *Graph) SetUnreliablePeers(peers map[PeerID]struct{}) {
	cp := make(map[PeerID]struct{}, len(peers))
	for p := range peers {
		cp[p] = struct{}{}
	}
	g.unreliable.Store(&cp)
}

// Update merges incoming edges into the graph, ages out stale edges,
// recomputes next hops, archives now-unreachable peers, and publishes a
// fresh snapshot. It returns the subset of incoming edges that were
// actually accepted.
func (g *Graph) Update(now time.Time, incoming []Edge) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	unreliable := *g.unreliable.Load()
	accepted, snapshot := g.inner.update(now, incoming, unreliable)
	g.snapshot.Store(&snapshot)
	return accepted
}

// update runs the seven-step merge algorithm and returns the accepted
// incoming edges plus the freshly built snapshot. Callers must hold g.mu.
func (in *Inner) update(now time.Time, incoming []Edge, unreliable map[PeerID]struct{}) ([]Edge, routingtypes.GraphSnapshot) {
	// Step 1: reload components for endpoints not yet known, before merging,
	// so their re-applied edges aren't mistaken for newly-accepted ones.
	var preload []Edge
	seenEndpoint := make(map[PeerID]bool)
	for _, e := range incoming {
		for _, p := range []PeerID{e.Key.Peer0, e.Key.Peer1} {
			if p == in.config.Self || seenEndpoint[p] {
				continue
			}
			seenEndpoint[p] = true
			if _, known := in.peerReachableAt[p]; known {
				continue
			}
			if in.store == nil {
				continue
			}
			archived, err := in.store.PopComponent(p)
			if err != nil {
				in.log.Warnw("edgestore: failed to reload component", "peer", p, "error", err)
				continue
			}
			preload = append(preload, archived...)
		}
	}
	if len(preload) > 0 {
		in.applyAccepted(now, preload)
	}

	// Step 2: merge incoming edges.
	accepted := make([]Edge, 0, len(incoming))
	for _, e := range incoming {
		if in.acceptEdge(now, e) {
			accepted = append(accepted, e)
		}
	}

	// Step 3: age-prune.
	if in.config.PruneEdgesAfter > 0 {
		in.agePruneEdges(now)
	}

	// Step 4: recompute next hops.
	nextHops := in.graph.CalculateDistance(unreliable)

	// Step 5: touch reachability.
	in.peerReachableAt[in.config.Self] = now
	for p := range nextHops {
		in.peerReachableAt[p] = now
	}

	// Step 6: throttled unreachability pruning.
	if in.shouldPruneUnreachable(now) {
		in.pruneUnreachablePeers(now)
	}

	// Step 7: build snapshot.
	snapshot := in.buildSnapshot(nextHops)
	return accepted, snapshot
}

// applyAccepted re-applies already-archived edges to the live graph
// without the acceptance checks update() otherwise performs: these edges
// were valid when archived and must not be treated as newly-seen.
func (in *Inner) applyAccepted(now time.Time, edges []Edge) {
	for _, e := range edges {
		in.edges[e.Key] = e
		in.edgeInsertedAt(e.Key, now)
		if e.State() == routingtypes.EdgeActive {
			in.graph.AddEdge(e.Key.Peer0, e.Key.Peer1)
		} else {
			in.graph.RemoveEdge(e.Key.Peer0, e.Key.Peer1)
		}
	}
}

// acceptEdge applies the merge rule: accept iff (a) no stored edge for the
// same key has a nonce >= the incoming nonce, and (b) prune_edges_after is
// unset or the edge's own CreatedAt is within that window of now — an edge
// gossiped late but created long ago is rejected rather than treated as
// fresh.
func (in *Inner) acceptEdge(now time.Time, e Edge) bool {
	if existing, ok := in.edges[e.Key]; ok && existing.Nonce >= e.Nonce {
		return false
	}
	if in.config.PruneEdgesAfter > 0 && now.Sub(e.CreatedAt) > in.config.PruneEdgesAfter {
		return false
	}
	in.edges[e.Key] = e
	in.edgeInsertedAt(e.Key, now)
	switch e.State() {
	case routingtypes.EdgeActive:
		in.graph.AddEdge(e.Key.Peer0, e.Key.Peer1)
	case routingtypes.EdgeRemoved:
		in.graph.RemoveEdge(e.Key.Peer0, e.Key.Peer1)
	}
	return true
}

func (in *Inner) edgeInsertedAt(key EdgeKey, now time.Time) {
	if in.insertedAt == nil {
		in.insertedAt = make(map[EdgeKey]time.Time)
	}
	in.insertedAt[key] = now
}

func (in *Inner) agePruneEdges(now time.Time) {
	cutoff := now.Add(-in.config.PruneEdgesAfter)
	for key, t := range in.insertedAt {
		if t.After(cutoff) {
			continue
		}
		delete(in.edges, key)
		delete(in.insertedAt, key)
		in.graph.RemoveEdge(key.Peer0, key.Peer1)
	}
}

func (in *Inner) shouldPruneUnreachable(now time.Time) bool {
	if in.config.PruneUnreachablePeersAfter <= 0 {
		return false
	}
	return in.lastPeersPruned.IsZero() || now.Sub(in.lastPeersPruned) >= in.config.PruneUnreachablePeersAfter/2
}

func (in *Inner) pruneUnreachablePeers(now time.Time) {
	cutoff := now.Add(-in.config.PruneUnreachablePeersAfter)
	var stale []PeerID
	for p, at := range in.peerReachableAt {
		if p == in.config.Self {
			continue
		}
		if at.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		in.lastPeersPruned = now
		return
	}

	staleSet := make(map[PeerID]struct{}, len(stale))
	for _, p := range stale {
		staleSet[p] = struct{}{}
		delete(in.peerReachableAt, p)
	}

	var archivedEdges []Edge
	for key, e := range in.edges {
		_, aStale := staleSet[key.Peer0]
		_, bStale := staleSet[key.Peer1]
		if !aStale && !bStale {
			continue
		}
		archivedEdges = append(archivedEdges, e)
		delete(in.edges, key)
		delete(in.insertedAt, key)
		in.graph.RemoveEdge(key.Peer0, key.Peer1)
	}

	if in.store != nil && len(stale) > 0 {
		if err := in.store.PushComponent(stale, archivedEdges); err != nil {
			in.log.Warnw("edgestore: failed to archive unreachable component", "peers", len(stale), "error", err)
		}
	}
	in.lastPeersPruned = now
}

func (in *Inner) buildSnapshot(nextHops routingtypes.NextHopTable) routingtypes.GraphSnapshot {
	all := make(map[EdgeKey]Edge, len(in.edges))
	local := make(map[EdgeKey]Edge)
	for key, e := range in.edges {
		all[key] = e
		if key.Peer0 == in.config.Self || key.Peer1 == in.config.Self {
			local[key] = e
		}
	}
	return routingtypes.GraphSnapshot{
		Edges:      all,
		LocalEdges: local,
		NextHops:   nextHops,
	}
}

// Verify deduplicates edges (keeping the highest nonce per key), drops
// edges that are no longer newer than what's already stored, and verifies
// the remaining signatures concurrently via a bounded work-stealing pool.
// allOK is false iff any input edge failed signature verification —
// callers treat that as a ban signal.
func (g *Graph) Verify(edges []Edge) (verified []Edge, allOK bool) {
	deduped := dedupeHighestNonce(edges)

	g.mu.Lock()
	fresh := make([]Edge, 0, len(deduped))
	for _, e := range deduped {
		if existing, ok := g.inner.edges[e.Key]; ok && existing.Nonce >= e.Nonce {
			continue
		}
		fresh = append(fresh, e)
	}
	g.mu.Unlock()

	if len(fresh) == 0 {
		return nil, true
	}

	results := make([]bool, len(fresh))
	var eg errgroup.Group
	eg.SetLimit(verifyPoolLimit)
	for i, e := range fresh {
		i, e := i, e
		eg.Go(func() error {
			pubA, okA := g.lookup(e.Key.Peer0)
			pubB, okB := g.lookup(e.Key.Peer1)
			results[i] = okA && okB && e.Verify(pubA, pubB)
			return nil
		})
	}
	_ = eg.Wait()

	allOK = true
	for i, ok := range results {
		if ok {
			verified = append(verified, fresh[i])
		} else {
			allOK = false
		}
	}
	return verified, allOK
}

const verifyPoolLimit = 8

func dedupeHighestNonce(edges []Edge) []Edge {
	best := make(map[EdgeKey]Edge, len(edges))
	for _, e := range edges {
		if cur, ok := best[e.Key]; !ok || e.Nonce > cur.Nonce {
			best[e.Key] = e
		}
	}
	out := make([]Edge, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Peer0 != out[j].Key.Peer0 {
			return out[i].Key.Peer0.Less(out[j].Key.Peer0)
		}
		return out[i].Key.Peer1.Less(out[j].Key.Peer1)
	})
	return out
}
