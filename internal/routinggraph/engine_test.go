package routinggraph

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/edgestore"
	"github.com/empower1/netcore/internal/routingtypes"
)

func peer(b byte) PeerID {
	var p PeerID
	p[0] = b
	return p
}

func noopLookup(PeerID) (*ecdsa.PublicKey, bool) { return nil, false }

func openTestStore(t *testing.T) *edgestore.Store {
	t.Helper()
	path := t.TempDir() + "/edges.db"
	s, err := edgestore.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// S2: accept (A,B,1,Active), then (A,B,2,Removed), then re-attempt
// (A,B,1,Active) — the final state stays at nonce=2/Removed and the stale
// replay is rejected.
func TestUpdate_NonceSequenceRejectsStaleReplay(t *testing.T) {
	a, b := peer(1), peer(2)
	store := openTestStore(t)
	g := New(Config{Self: a}, store, noopLookup, nil)

	now := time.Unix(0, 0)
	key := routingtypes.NewEdgeKey(a, b)

	accepted := g.Update(now, []Edge{{Key: key, Nonce: 1}})
	require.Len(t, accepted, 1)
	assert.Contains(t, g.Load().NextHops, b)

	accepted = g.Update(now, []Edge{{Key: key, Nonce: 2}})
	require.Len(t, accepted, 1)
	assert.NotContains(t, g.Load().NextHops, b, "a Removed edge must drop the peer from next hops")

	accepted = g.Update(now, []Edge{{Key: key, Nonce: 1}})
	assert.Empty(t, accepted, "a replay of a stale nonce must be rejected")
	assert.Equal(t, uint64(2), g.Load().Edges[key].Nonce, "stored nonce must remain at the highest accepted value")
}

// Idempotence: calling Update with no incoming edges reproduces an
// equivalent next-hop table.
func TestUpdate_EmptyUpdateIsIdempotentOnNextHops(t *testing.T) {
	a, b, c := peer(1), peer(2), peer(3)
	store := openTestStore(t)
	g := New(Config{Self: a}, store, noopLookup, nil)

	now := time.Unix(0, 0)
	g.Update(now, []Edge{
		{Key: routingtypes.NewEdgeKey(a, b), Nonce: 1},
		{Key: routingtypes.NewEdgeKey(b, c), Nonce: 1},
	})
	first := g.Load().NextHops

	g.Update(now.Add(time.Second), nil)
	second := g.Load().NextHops

	assert.Equal(t, first[b], second[b])
	assert.Equal(t, first[c], second[c])
}

// Merge criterion (b): an edge whose own CreatedAt already falls outside
// prune_edges_after is rejected on arrival, regardless of nonce — gossiped
// late but created long ago is not "fresh".
func TestUpdate_RejectsEdgeOlderThanPruneWindowAtMergeTime(t *testing.T) {
	a, b := peer(1), peer(2)
	store := openTestStore(t)
	cfg := Config{Self: a, PruneEdgesAfter: time.Minute}
	g := New(cfg, store, noopLookup, nil)

	now := time.Unix(1000, 0)
	key := routingtypes.NewEdgeKey(a, b)

	stale := Edge{Key: key, Nonce: 1, CreatedAt: now.Add(-2 * time.Minute)}
	accepted := g.Update(now, []Edge{stale})
	assert.Empty(t, accepted, "an edge created before the prune window must be rejected at merge time")
	assert.NotContains(t, g.Load().NextHops, b)

	fresh := Edge{Key: key, Nonce: 1, CreatedAt: now.Add(-10 * time.Second)}
	accepted = g.Update(now, []Edge{fresh})
	require.Len(t, accepted, 1)
	assert.Contains(t, g.Load().NextHops, b)
}

// S4: star topology A-B, B-C, B-D. B goes silent past
// PruneUnreachablePeersAfter, archiving B, C and D as one component. A later edge
// touching D triggers a PopComponent reload and restores D's reachability.
func TestUpdate_ArchivesUnreachableThenReloadsOnNewEdge(t *testing.T) {
	a, b, c, d := peer(1), peer(2), peer(3), peer(4)
	store := openTestStore(t)
	cfg := Config{Self: a, PruneUnreachablePeersAfter: time.Minute}
	g := New(cfg, store, noopLookup, nil)

	t0 := time.Unix(0, 0)
	g.Update(t0, []Edge{
		{Key: routingtypes.NewEdgeKey(a, b), Nonce: 1},
		{Key: routingtypes.NewEdgeKey(b, c), Nonce: 1},
		{Key: routingtypes.NewEdgeKey(b, d), Nonce: 1},
	})
	require.Contains(t, g.Load().NextHops, c)
	require.Contains(t, g.Load().NextHops, d)

	// Remove the only path to b, c, d; advance well past the prune window
	// across two updates so the throttle (half the window) permits a pass.
	removeKey := routingtypes.NewEdgeKey(a, b)
	t1 := t0.Add(2 * time.Minute)
	g.Update(t1, []Edge{{Key: removeKey, Nonce: 2}})
	t2 := t1.Add(2 * time.Minute)
	g.Update(t2, nil)

	snap := g.Load()
	assert.NotContains(t, snap.NextHops, c)
	assert.NotContains(t, snap.NextHops, d)

	// A fresh edge naming d (previously unknown to a's live graph) triggers
	// reloading its archived component, restoring b-d (and b-c, sharing the
	// same component) to the live edge set.
	t3 := t2.Add(time.Second)
	g.Update(t3, []Edge{{Key: routingtypes.NewEdgeKey(a, d), Nonce: 3}})
	snap = g.Load()
	assert.Contains(t, snap.NextHops, d, "archived component must be reloaded once an endpoint resurfaces")
}

func TestVerify_DeduplicatesAndRejectsUnknownSigners(t *testing.T) {
	a, b := peer(1), peer(2)
	store := openTestStore(t)
	g := New(Config{Self: a}, store, noopLookup, nil)

	key := routingtypes.NewEdgeKey(a, b)
	edges := []Edge{
		{Key: key, Nonce: 1},
		{Key: key, Nonce: 3},
	}

	verified, ok := g.Verify(edges)
	assert.False(t, ok, "signatures cannot be verified without a known public key")
	assert.Empty(t, verified)
}

func TestVerify_SkipsEdgesNotNewerThanStored(t *testing.T) {
	a, b := peer(1), peer(2)
	store := openTestStore(t)
	g := New(Config{Self: a}, store, noopLookup, nil)

	key := routingtypes.NewEdgeKey(a, b)
	now := time.Unix(0, 0)
	g.Update(now, []Edge{{Key: key, Nonce: 5}})

	verified, ok := g.Verify([]Edge{{Key: key, Nonce: 3}})
	assert.True(t, ok, "nothing left to verify means no failures")
	assert.Empty(t, verified)
}
