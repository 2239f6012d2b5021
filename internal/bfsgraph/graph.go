// Package bfsgraph implements the unweighted peer adjacency graph the
// routing engine maintains, and the breadth-first next-hop computation run
// over it after every edge merge.
package bfsgraph

import (
	"sort"

	"github.com/empower1/netcore/internal/routingtypes"
)

// Graph is an adjacency-list view of active edges, keyed by PeerId.
// Neighbours are tracked in insertion order so BFS tie-breaks are
// deterministic regardless of map iteration order.
type Graph struct {
	self PeerID

	neighbours map[PeerID][]PeerID   // insertion-ordered adjacency list
	index      map[PeerID]map[PeerID]int // neighbour -> position in neighbours[peer], for O(1) removal
}

type PeerID = routingtypes.PeerID

// New creates an empty graph rooted at self.
func New(self PeerID) *Graph {
	return &Graph{
		self:       self,
		neighbours: make(map[PeerID][]PeerID),
		index:      make(map[PeerID]map[PeerID]int),
	}
}

// AddEdge marks a and b as connected, appending each to the other's
// neighbour list if not already present. A no-op if the edge already
// exists, so adjacency order only ever reflects first-seen insertion.
func (g *Graph) AddEdge(a, b PeerID) {
	g.addDirected(a, b)
	g.addDirected(b, a)
}

func (g *Graph) addDirected(from, to PeerID) {
	if _, ok := g.index[from]; !ok {
		g.index[from] = make(map[PeerID]int)
	}
	if _, ok := g.index[from][to]; ok {
		return
	}
	g.neighbours[from] = append(g.neighbours[from], to)
	g.index[from][to] = len(g.neighbours[from]) - 1
}

// RemoveEdge disconnects a and b, if connected.
func (g *Graph) RemoveEdge(a, b PeerID) {
	g.removeDirected(a, b)
	g.removeDirected(b, a)
}

func (g *Graph) removeDirected(from, to PeerID) {
	idx, ok := g.index[from][to]
	if !ok {
		return
	}
	list := g.neighbours[from]
	list = append(list[:idx], list[idx+1:]...)
	g.neighbours[from] = list
	delete(g.index[from], to)
	for i := idx; i < len(list); i++ {
		g.index[from][list[i]] = i
	}
	if len(g.neighbours[from]) == 0 {
		delete(g.neighbours, from)
		delete(g.index, from)
	}
}

// TotalActiveEdges returns the number of distinct undirected edges
// currently in the graph.
func (g *Graph) TotalActiveEdges() int {
	total := 0
	for p, ns := range g.neighbours {
		for _, n := range ns {
			if p.Less(n) {
				total++
			}
		}
	}
	return total
}

// bfsResult is one discovered target's distance and the ordered list of
// self's direct neighbours that lie on a shortest path to it.
type bfsResult struct {
	distance int
	viaReliable []PeerID
	viaUnreliable []PeerID
}

// CalculateDistance runs BFS from self and returns, for every reachable
// peer other than self, the ordered set of next hops: self's direct
// neighbours through which a shortest path to that target exists. Next
// hops that are not themselves in unreliable are preferred; a next hop in
// unreliable is only included when no reliable next hop achieves the same
// distance. Only the next hop is checked: peers further along the path
// are not tested against unreliable.
func (g *Graph) CalculateDistance(unreliable map[PeerID]struct{}) routingtypes.NextHopTable {
	dist := map[PeerID]int{g.self: 0}
	order := []PeerID{g.self}
	queue := []PeerID{g.self}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.neighbours[cur] {
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			order = append(order, n)
			queue = append(queue, n)
		}
	}

	results := make(map[PeerID]*bfsResult, len(order))
	for _, t := range order {
		if t == g.self {
			continue
		}
		results[t] = &bfsResult{distance: dist[t]}
	}

	// For each direct neighbour of self, BFS again from that neighbour
	// (excluding self) to find which targets it reaches at dist[t]-1,
	// i.e. lies on a shortest self->t path.
	for _, n := range g.neighbours[g.self] {
		reach := bfsExcluding(g, n, g.self)
		_, unreliableHop := unreliable[n]
		for t, d := range reach {
			want, ok := results[t]
			if !ok || want.distance != d+1 {
				continue
			}
			if unreliableHop {
				want.viaUnreliable = append(want.viaUnreliable, n)
			} else {
				want.viaReliable = append(want.viaReliable, n)
			}
		}
	}

	table := make(routingtypes.NextHopTable)
	for t, r := range results {
		if len(r.viaReliable) > 0 {
			table[t] = r.viaReliable
		} else if len(r.viaUnreliable) > 0 {
			table[t] = r.viaUnreliable
		}
	}
	return table
}

// bfsExcluding runs BFS from start without ever traversing through
// excluded, returning distances reached. Used to probe "how far does
// neighbour n get without going back through self".
func bfsExcluding(g *Graph, start, excluded PeerID) map[PeerID]int {
	dist := map[PeerID]int{start: 0}
	queue := []PeerID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.neighbours[cur] {
			if n == excluded {
				continue
			}
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[cur] + 1
			queue = append(queue, n)
		}
	}
	return dist
}

// sortedPeerIDs returns ids in PeerId order. Nothing in this package calls
// it; next-hop tie-breaking relies solely on insertion order.
func sortedPeerIDs(ids map[PeerID]struct{}) []PeerID {
	out := make([]PeerID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
