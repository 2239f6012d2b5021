// Package routingtable is the consumer-facing query surface over the
// routing graph engine's published snapshot: finding a next hop toward a
// peer, resolving an account's current owning peer, and the route-back
// bookkeeping used to reply to TIER2 requests.
package routingtable

import (
	"time"

	"github.com/empower1/netcore/internal/accountsdata"
	"github.com/empower1/netcore/internal/routebackcache"
	"github.com/empower1/netcore/internal/routinggraph"
	"github.com/empower1/netcore/internal/routingtypes"
)

type (
	PeerID    = routingtypes.PeerID
	AccountID = routingtypes.AccountID
)

// View is a thin, read-mostly wrapper: it never mutates the graph, only
// queries its latest snapshot and manages the route-back cache.
type View struct {
	graph      *routinggraph.Graph
	accounts   *accountsdata.Cache
	routeBack  *routebackcache.Cache
}

// New builds a routing table view over graph and accounts, with a
// route-back cache sized by ttl/perPeerLimit/capacity.
func New(graph *routinggraph.Graph, accounts *accountsdata.Cache, ttl time.Duration, perPeerLimit, capacity int) *View {
	return &View{
		graph:     graph,
		accounts:  accounts,
		routeBack: routebackcache.New(ttl, perPeerLimit, capacity),
	}
}

// FindRoute returns the first next hop toward target, per the graph's
// current next-hop table's deterministic tie-break order.
func (v *View) FindRoute(target PeerID) (PeerID, bool) {
	hops := v.graph.Load().NextHops[target]
	if len(hops) == 0 {
		return PeerID{}, false
	}
	return hops[0], true
}

// AllRoutes returns every viable next hop toward target, in tie-break
// order, for callers that want to try more than one on failure.
func (v *View) AllRoutes(target PeerID) []PeerID {
	return v.graph.Load().NextHops[target]
}

// AccountOwner resolves account to the PeerId currently announced as its
// owner: the peer id of its accounts-data record with the highest
// timestamp across all epochs (ties broken as AccountsDataRecord.Newer
// does).
func (v *View) AccountOwner(account AccountID) (PeerID, bool) {
	epochs := v.accounts.ByAccount(account)
	var best *routingtypes.AccountsDataRecord
	for epoch := range epochs {
		r := epochs[epoch]
		if best == nil || r.Newer(*best) {
			rr := r
			best = &rr
		}
	}
	if best == nil {
		return PeerID{}, false
	}
	return best.PeerID, true
}

// AddRouteBack records that hash originated from self-as-relay at now, so
// a reply targeting hash can be routed back to self. Must be called before
// sending a message that expects a response.
func (v *View) AddRouteBack(hash routebackcache.Hash, self PeerID, now time.Time) {
	v.routeBack.Insert(hash, self, now)
}

// CompareRouteBack consumes the route-back entry for hash, returning the
// peer that should receive the reply. Returns false if the hash is absent
// or expired.
func (v *View) CompareRouteBack(hash routebackcache.Hash, now time.Time) (PeerID, bool) {
	return v.routeBack.Remove(hash, now)
}
