// Package peeractor provides the reference TCP transport binding: a
// contracts.Dialer that opens plain TCP connections and a contracts.Spawner
// that performs the wire handshake, registers the resulting connection with
// the right tier pool, and pumps inbound PeerMessages into the router. It
// is intentionally the thinnest implementation that satisfies the core's
// external collaborator contracts — a production deployment would swap it
// for QUIC, TLS-wrapped TCP, or a libp2p transport without touching the
// routing core itself.
package peeractor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/connpool"
	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/router"
	"github.com/empower1/netcore/internal/routingtypes"
	"github.com/empower1/netcore/internal/wireproto"
)

// dialTimeout bounds how long an outbound TCP dial may take before it is
// treated as a failed connection attempt.
const dialTimeout = 5 * time.Second

// TCPDialer opens outbound streams over plain TCP. Tier is not reflected in
// the dial itself (both tiers share one listener in this reference
// transport); a real deployment would typically bind distinct ports or a
// stream multiplexer per tier.
type TCPDialer struct{}

func (TCPDialer) Dial(ctx context.Context, addr string, _ contracts.Tier) (contracts.Stream, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peeractor: dial %s: %w", addr, err)
	}
	return conn, nil
}

// handshakePayload is the payload carried by a MsgHandshake: the sender's
// PeerId, used to key the connection in the receiving tier's pool, plus the
// partial edge info the dialer proposed (absent on the inbound side until
// it has computed its own).
type handshakePayload struct {
	PeerID routingtypes.PeerID
	Edge   *routingtypes.PartialEdgeInfo
}

// streamSender serializes concurrent writers onto one stream, implementing
// connpool.Sender by framing every message as a PeerMessage before writing
// it, mirroring the teacher transport's buffered, length-prefixed send path.
type streamSender struct {
	mu     sync.Mutex
	w      *bufio.Writer
	stream contracts.Stream
}

func newStreamSender(stream contracts.Stream) *streamSender {
	return &streamSender{w: bufio.NewWriter(stream), stream: stream}
}

// SendMessage accepts either a pre-built wireproto.PeerMessage or an
// arbitrary routed-layer payload, which it wraps as a Routed peer message.
func (s *streamSender) SendMessage(msg any) error {
	pm, ok := msg.(wireproto.PeerMessage)
	if !ok {
		payload, err := wireproto.EncodePayload(msg)
		if err != nil {
			return fmt.Errorf("peeractor: encode outbound payload: %w", err)
		}
		pm = wireproto.PeerMessage{Type: wireproto.MsgRouted, Payload: payload}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := wireproto.WriteMessage(s.stream, pm); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *streamSender) close() { _ = s.stream.Close() }

// Spawner starts a peer actor over an already-dialed or already-accepted
// stream: handshake, pool registration, and the steady-state read loop that
// feeds the router.
type Spawner struct {
	state  *netstate.NetworkState
	router *router.Router
	log    *zap.SugaredLogger
}

// New creates a Spawner bound to state and router.
func New(state *netstate.NetworkState, r *router.Router, log *zap.SugaredLogger) *Spawner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Spawner{state: state, router: r, log: log}
}

// Spawn performs the handshake over stream, registers the resulting
// connection with tier's pool, and starts the background read loop. It
// returns once the handshake completes (success or failure); the read loop
// continues in its own goroutine until the stream closes.
func (s *Spawner) Spawn(stream contracts.Stream, tier contracts.Tier, seed *routingtypes.PartialEdgeInfo) error {
	sender := newStreamSender(stream)

	outbound := handshakePayload{PeerID: s.state.Self(), Edge: seed}
	payload, err := wireproto.EncodePayload(outbound)
	if err != nil {
		sender.close()
		return fmt.Errorf("peeractor: encode handshake: %w", err)
	}
	if err := wireproto.WriteMessage(stream, wireproto.PeerMessage{Type: wireproto.MsgHandshake, Payload: payload}); err != nil {
		sender.close()
		return fmt.Errorf("peeractor: send handshake: %w", err)
	}

	reply, err := wireproto.ReadMessage(stream)
	if err != nil {
		sender.close()
		return fmt.Errorf("peeractor: read handshake reply: %w", err)
	}
	if reply.Type != wireproto.MsgHandshake {
		sender.close()
		return fmt.Errorf("peeractor: expected handshake reply, got %s", reply.Type)
	}
	var remote handshakePayload
	if err := wireproto.DecodePayload(reply.Payload, &remote); err != nil {
		sender.close()
		return fmt.Errorf("peeractor: decode handshake reply: %w", err)
	}

	pool := s.poolFor(tier)
	conn := connpool.Connection{PeerID: remote.PeerID, Sender: sender}
	pool.InsertReady(conn)

	go s.readLoop(stream, sender, pool, remote.PeerID)
	return nil
}

// ListenAndServe accepts inbound TCP connections on addr until ctx is
// cancelled, spawning a peer actor for each on tier. Concurrent in-flight
// handshakes are bounded by tier's pool via AcquireInboundPermit, mirroring
// the teacher transport's accept loop.
func (s *Spawner) ListenAndServe(ctx context.Context, addr string, tier contracts.Tier) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("peeractor: listen on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	pool := s.poolFor(tier)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warnw("peeractor: accept failed", "addr", addr, "error", err)
				continue
			}
		}
		go func() {
			release, err := pool.AcquireInboundPermit(ctx)
			if err != nil {
				_ = conn.Close()
				return
			}
			defer release()
			if err := s.Spawn(conn, tier, nil); err != nil {
				s.log.Debugw("peeractor: inbound handshake failed", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

func (s *Spawner) poolFor(tier contracts.Tier) *connpool.Pool {
	if tier == contracts.T1 {
		return s.state.Tier1
	}
	return s.state.Tier2
}

// readLoop pumps inbound PeerMessages from stream into the router until the
// stream errors, at which point the peer is dropped from its pool.
func (s *Spawner) readLoop(stream contracts.Stream, sender *streamSender, pool *connpool.Pool, peer routingtypes.PeerID) {
	defer func() {
		pool.Remove(peer)
		sender.close()
	}()

	for {
		msg, err := wireproto.ReadMessage(stream)
		if err != nil {
			s.log.Debugw("peeractor: read loop exiting", "peer", peer, "error", err)
			return
		}

		reply, ban := s.router.ReceiveMessage(peer, msg, false)
		if ban != nil {
			s.log.Warnw("peeractor: banning peer", "peer", peer, "reason", ban.Reason)
			return
		}
		if reply == nil {
			continue
		}
		if err := sender.SendMessage(*reply); err != nil {
			s.log.Debugw("peeractor: failed to send reply", "peer", peer, "error", err)
			return
		}
	}
}
