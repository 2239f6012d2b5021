// Package contracts defines the narrow external collaborator interfaces
// the routing core depends on but does not implement: transport dialing,
// peer actor lifecycle, and the inbound application-message client. Real
// implementations (TCP, QUIC, libp2p, a blockchain client) live outside
// this module; the core only needs these shapes.
package contracts

import (
	"context"

	"github.com/empower1/netcore/internal/routingtypes"
)

type PeerID = routingtypes.PeerID

// Tier distinguishes the validator mesh (T1) from the general gossip
// overlay (T2); transports may use different ports or muxing per tier.
type Tier int

const (
	T1 Tier = iota
	T2
)

func (t Tier) String() string {
	if t == T1 {
		return "T1"
	}
	return "T2"
}

// Stream is a bidirectional, ordered byte connection to one peer.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer opens an outbound stream to a peer on the given tier.
type Dialer interface {
	Dial(ctx context.Context, addr string, tier Tier) (Stream, error)
}

// Spawner starts a peer actor over an already-connected stream: it
// performs the handshake, registers with the appropriate connection pool
// on success, and begins delivering inbound messages to the router.
type Spawner interface {
	Spawn(stream Stream, tier Tier, seed *routingtypes.PartialEdgeInfo) error
}

// BanReason explains why a peer was disconnected and banned.
type BanReason struct {
	Reason string
}

// Client is the inbound application-message capability object: one
// method per message kind the client understands. Every method returns
// either a reply payload or a ban reason on peer misbehaviour.
type Client interface {
	OnBlock(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnBlockRequest(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnBlockHeaders(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnBlockHeadersRequest(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnTransaction(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnChallenge(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnTxStatusRequest(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnTxStatusResponse(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnStateRequestHeader(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnStateRequestPart(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnStateResponse(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnBlockApproval(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnForwardTx(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnPartialEncodedChunkRequest(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnPartialEncodedChunkResponse(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnPartialEncodedChunk(from PeerID, payload []byte) (reply []byte, ban *BanReason)
	OnPartialEncodedChunkForward(from PeerID, payload []byte) (reply []byte, ban *BanReason)
}
