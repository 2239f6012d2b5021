// Package routebackcache remembers which peer a routed request came from,
// keyed by an opaque message hash, so a reply can be routed back without
// the responder needing to know the full path.
package routebackcache

import (
	"time"

	"github.com/empower1/netcore/internal/routingtypes"
)

type PeerID = routingtypes.PeerID

// Hash is an opaque routed-message identifier, typically a digest of the
// message body.
type Hash [32]byte

type entry struct {
	peer     PeerID
	insertedAt time.Time
}

// Cache is a bounded, TTL-expiring map from request hash to originating
// peer. A peer's entries are capped individually (per-peer fairness) in
// addition to the cache's global capacity.
type Cache struct {
	ttl          time.Duration
	perPeerLimit int
	capacity     int

	byHash map[Hash]entry
	order  []Hash // insertion order, oldest first, for global LRU eviction
	byPeer map[PeerID][]Hash // insertion order per peer, oldest first
}

// New creates a cache with the given TTL, per-peer entry limit, and global
// capacity.
func New(ttl time.Duration, perPeerLimit, capacity int) *Cache {
	return &Cache{
		ttl:          ttl,
		perPeerLimit: perPeerLimit,
		capacity:     capacity,
		byHash:       make(map[Hash]entry),
		byPeer:       make(map[PeerID][]Hash),
	}
}

// Insert records that hash originated from peer at now. If peer is
// already at its per-peer quota, peer's oldest entry is evicted first. If
// the cache is at global capacity, the globally oldest entry is evicted.
func (c *Cache) Insert(hash Hash, peer PeerID, now time.Time) {
	c.compact(now)

	if c.perPeerLimit > 0 && len(c.byPeer[peer]) >= c.perPeerLimit {
		c.evictOldestFor(peer)
	}
	if c.capacity > 0 && len(c.byHash) >= c.capacity {
		c.evictGlobalOldest()
	}

	if _, exists := c.byHash[hash]; exists {
		return
	}
	c.byHash[hash] = entry{peer: peer, insertedAt: now}
	c.order = append(c.order, hash)
	c.byPeer[peer] = append(c.byPeer[peer], hash)
}

// Remove looks up and deletes hash, returning the originating peer. It
// returns (zero, false) if the hash is absent or has expired — entries are
// consumed on lookup, so a second Remove for the same hash always misses.
func (c *Cache) Remove(hash Hash, now time.Time) (PeerID, bool) {
	e, ok := c.byHash[hash]
	if !ok {
		return PeerID{}, false
	}
	c.delete(hash)
	if c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl {
		return PeerID{}, false
	}
	return e.peer, true
}

// Compact drops all expired entries; callers may run this periodically in
// addition to the lazy expiry Remove already performs.
func (c *Cache) Compact(now time.Time) { c.compact(now) }

func (c *Cache) compact(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	cutoff := now.Add(-c.ttl)
	for len(c.order) > 0 {
		h := c.order[0]
		e, ok := c.byHash[h]
		if !ok {
			c.order = c.order[1:]
			continue
		}
		if e.insertedAt.After(cutoff) {
			break
		}
		c.delete(h)
	}
}

func (c *Cache) evictOldestFor(peer PeerID) {
	list := c.byPeer[peer]
	if len(list) == 0 {
		return
	}
	c.delete(list[0])
}

func (c *Cache) evictGlobalOldest() {
	if len(c.order) == 0 {
		return
	}
	c.delete(c.order[0])
}

// delete removes hash from all indexes. It does not enforce TTL.
func (c *Cache) delete(hash Hash) {
	e, ok := c.byHash[hash]
	if !ok {
		return
	}
	delete(c.byHash, hash)

	for i, h := range c.order {
		if h == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	list := c.byPeer[e.peer]
	for i, h := range list {
		if h == hash {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.byPeer, e.peer)
	} else {
		c.byPeer[e.peer] = list
	}
}
