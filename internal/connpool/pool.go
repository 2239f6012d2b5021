// Package connpool tracks live and in-progress peer connections for one
// tier (TIER1 or TIER2): which peers are ready, which are mid-handshake,
// and how to reach them for sends and broadcasts.
package connpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/empower1/netcore/internal/routingtypes"
)

type PeerID = routingtypes.PeerID

// LimitPendingPeers bounds concurrent inbound handshakes globally, per
// tier, mirroring the routing core's LIMIT_PENDING_PEERS default.
const LimitPendingPeers = 60

// Sender delivers an already-encoded wire message to one peer. Connection
// handles returned by Load implement this so callers never need the raw
// socket.
type Sender interface {
	SendMessage(msg any) error
}

// Connection is an immutable, cloneable handle to one ready peer. Pools
// hand these out from Load() snapshots; holders never block the pool.
type Connection struct {
	PeerID        PeerID
	Sender        Sender
	EstablishedAt time.Time // when this connection was promoted to ready
}

// Snapshot is an immutable view of pool membership, safe to range over
// without holding the pool's lock.
type Snapshot struct {
	Ready              map[PeerID]Connection
	OutboundHandshakes map[PeerID]struct{}
	InboundHandshakes  map[PeerID]struct{}
}

// Pool tracks one tier's connections. A PeerId is a member of exactly one
// of {ready, outboundHandshakes, inboundHandshakes} at any instant.
type Pool struct {
	mu                 sync.Mutex
	ready              map[PeerID]Connection
	outboundHandshakes map[PeerID]struct{}
	inboundHandshakes  map[PeerID]struct{}

	inboundPermits *semaphore.Weighted
}

// New creates an empty pool whose concurrent inbound handshakes are capped
// at limit (use LimitPendingPeers for the routing core's default).
func New(limit int64) *Pool {
	return &Pool{
		ready:              make(map[PeerID]Connection),
		outboundHandshakes: make(map[PeerID]struct{}),
		inboundHandshakes:  make(map[PeerID]struct{}),
		inboundPermits:     semaphore.NewWeighted(limit),
	}
}

// AcquireInboundPermit blocks until an inbound-handshake slot is free or
// ctx is cancelled. Callers must call the returned release func exactly
// once, on both success and failure paths.
func (p *Pool) AcquireInboundPermit(ctx context.Context) (release func(), err error) {
	if err := p.inboundPermits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("connpool: acquire inbound permit: %w", err)
	}
	return func() { p.inboundPermits.Release(1) }, nil
}

// StartOutboundHandshake marks peer as mid-handshake (outbound).
func (p *Pool) StartOutboundHandshake(peer PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outboundHandshakes[peer] = struct{}{}
}

// FinishOutboundHandshake removes peer from the outbound-handshake set
// and, if ok, promotes it to ready with conn.
func (p *Pool) FinishOutboundHandshake(peer PeerID, conn Connection, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.outboundHandshakes, peer)
	if ok {
		if conn.EstablishedAt.IsZero() {
			conn.EstablishedAt = time.Now()
		}
		p.ready[peer] = conn
	}
}

// StartInboundHandshake marks peer as mid-handshake (inbound).
func (p *Pool) StartInboundHandshake(peer PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inboundHandshakes[peer] = struct{}{}
}

// FinishInboundHandshake removes peer from the inbound-handshake set and,
// if ok, promotes it to ready with conn.
func (p *Pool) FinishInboundHandshake(peer PeerID, conn Connection, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inboundHandshakes, peer)
	if ok {
		if conn.EstablishedAt.IsZero() {
			conn.EstablishedAt = time.Now()
		}
		p.ready[peer] = conn
	}
}

// InsertReady registers an already-established connection directly,
// without the Start*/Finish*Handshake pair; the reference peer actor
// registers every completed handshake this way. Any handshake-tracking
// entry for the peer is cleared, so it stays in exactly one membership
// set. conn.EstablishedAt defaults to now if the caller left it zero.
func (p *Pool) InsertReady(conn Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.outboundHandshakes, conn.PeerID)
	delete(p.inboundHandshakes, conn.PeerID)
	if conn.EstablishedAt.IsZero() {
		conn.EstablishedAt = time.Now()
	}
	p.ready[conn.PeerID] = conn
}

// Remove drops peer from whichever membership set it is in.
func (p *Pool) Remove(peer PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ready, peer)
	delete(p.outboundHandshakes, peer)
	delete(p.inboundHandshakes, peer)
}

// SendMessage looks up peer, clones its handle, releases the lock, then
// sends — so a slow send never holds the pool mutex. Returns false if
// peer is not ready or if its Sender reports an error.
func (p *Pool) SendMessage(peer PeerID, msg any) bool {
	p.mu.Lock()
	conn, ok := p.ready[peer]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return conn.Sender.SendMessage(msg) == nil
}

// BroadcastMessage delivers msg best-effort to every ready peer. Ordering
// between peers is not guaranteed; within one peer, sends are FIFO because
// each peer's Sender serializes its own writes.
func (p *Pool) BroadcastMessage(msg any) {
	p.mu.Lock()
	conns := make([]Connection, 0, len(p.ready))
	for _, c := range p.ready {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Sender.SendMessage(msg)
	}
}

// Load returns an immutable snapshot of pool membership.
func (p *Pool) Load() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := make(map[PeerID]Connection, len(p.ready))
	for k, v := range p.ready {
		ready[k] = v
	}
	outbound := make(map[PeerID]struct{}, len(p.outboundHandshakes))
	for k := range p.outboundHandshakes {
		outbound[k] = struct{}{}
	}
	inbound := make(map[PeerID]struct{}, len(p.inboundHandshakes))
	for k := range p.inboundHandshakes {
		inbound[k] = struct{}{}
	}
	return Snapshot{Ready: ready, OutboundHandshakes: outbound, InboundHandshakes: inbound}
}
