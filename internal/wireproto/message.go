// Package wireproto defines the routing core's wire format: a
// length-prefixed, gob-encoded PeerMessage tagged union and the
// RoutedMessage envelope carried inside its Routed variant.
package wireproto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/empower1/netcore/internal/routingtypes"
)

type PeerID = routingtypes.PeerID

// PeerMessageType tags the PeerMessage union.
type PeerMessageType int

const (
	MsgHandshake PeerMessageType = iota
	MsgHandshakeFailure
	MsgPeersRequest
	MsgPeersResponse
	MsgSyncRoutingTable
	MsgRequestUpdateNonce
	MsgSyncAccountsData
	MsgRouted
	MsgBlock
	MsgBlockRequest
	MsgBlockHeaders
	MsgBlockHeadersRequest
	MsgTransaction
	MsgChallenge
)

func (t PeerMessageType) String() string {
	switch t {
	case MsgHandshake:
		return "Handshake"
	case MsgHandshakeFailure:
		return "HandshakeFailure"
	case MsgPeersRequest:
		return "PeersRequest"
	case MsgPeersResponse:
		return "PeersResponse"
	case MsgSyncRoutingTable:
		return "SyncRoutingTable"
	case MsgRequestUpdateNonce:
		return "RequestUpdateNonce"
	case MsgSyncAccountsData:
		return "SyncAccountsData"
	case MsgRouted:
		return "Routed"
	case MsgBlock:
		return "Block"
	case MsgBlockRequest:
		return "BlockRequest"
	case MsgBlockHeaders:
		return "BlockHeaders"
	case MsgBlockHeadersRequest:
		return "BlockHeadersRequest"
	case MsgTransaction:
		return "Transaction"
	case MsgChallenge:
		return "Challenge"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// PeerMessage is the outermost wire envelope: a type tag plus an
// already-gob-encoded payload specific to that type.
type PeerMessage struct {
	Type    PeerMessageType
	Payload []byte
}

// RoutedTargetKind distinguishes a RoutedMessage's target: a concrete peer
// or the opaque hash of the request it is replying to.
type RoutedTargetKind int

const (
	TargetPeerID RoutedTargetKind = iota
	TargetHash
)

// RoutedTarget is a tagged union of PeerId | Hash, matching
// network_protocol::PeerIdOrHash.
type RoutedTarget struct {
	Kind PeerIDOrHashKind
	Peer PeerID
	Hash [32]byte
}

// PeerIDOrHashKind is an alias kept for naming symmetry with RoutedTargetKind.
type PeerIDOrHashKind = RoutedTargetKind

// RoutedMessageBody tags the payload carried inside a RoutedMessage.
type RoutedMessageBody int

const (
	BodyTxStatusRequest RoutedMessageBody = iota
	BodyTxStatusResponse
	BodyStateRequestHeader
	BodyStateRequestPart
	BodyVersionedStateResponse
	BodyBlockApproval
	BodyForwardTx
	BodyPartialEncodedChunkRequest
	BodyPartialEncodedChunkResponse
	BodyVersionedPartialEncodedChunk
	BodyPartialEncodedChunkForward
	BodyReceiptOutcomeRequest
	BodyPing
	BodyPong
)

// Important reports whether this body class is resent three times on
// TIER2, matching the "important message" triple-send policy.
func (b RoutedMessageBody) Important() bool {
	switch b {
	case BodyBlockApproval, BodyForwardTx:
		return true
	default:
		return false
	}
}

// ExpectsResponse reports whether sending this body should record a
// route-back entry before dispatch.
func (b RoutedMessageBody) ExpectsResponse() bool {
	switch b {
	case BodyTxStatusRequest, BodyStateRequestHeader, BodyStateRequestPart,
		BodyPartialEncodedChunkRequest, BodyPing:
		return true
	default:
		return false
	}
}

// RoutedMessage is the payload of a PeerMessage's Routed variant: a
// signed, TTL-bounded envelope addressed to a peer or to the hash of a
// prior request.
type RoutedMessage struct {
	Target    RoutedTarget
	Author    PeerID
	Signature []byte
	TTL       uint8
	Body      RoutedMessageBody
	Payload   []byte
	CreatedAt time.Time
}

// Decremented returns a copy of m with TTL reduced by one, and whether the
// message should still be forwarded (false once TTL has reached zero).
func (m RoutedMessage) Decremented() (RoutedMessage, bool) {
	if m.TTL == 0 {
		return m, false
	}
	out := m
	out.TTL--
	return out, true
}

func init() {
	gob.Register(RoutedMessage{})
}

// EncodePayload gob-encodes an arbitrary payload value for embedding in a
// PeerMessage.
func EncodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wireproto: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload gob-decodes a PeerMessage's payload into v.
func DecodePayload(payload []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("wireproto: decode payload: %w", err)
	}
	return nil
}

// WriteMessage frames msg with a 4-byte big-endian length prefix and
// writes it to w.
func WriteMessage(w io.Writer, msg PeerMessage) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("wireproto: encode message: %w", err)
	}
	bw := bufio.NewWriter(w)
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := bw.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wireproto: write length prefix: %w", err)
	}
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wireproto: write payload: %w", err)
	}
	return bw.Flush()
}

// ReadMessage reads one length-prefixed, gob-encoded PeerMessage from r.
func ReadMessage(r io.Reader) (PeerMessage, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return PeerMessage{}, fmt.Errorf("wireproto: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return PeerMessage{}, fmt.Errorf("wireproto: read message body: %w", err)
	}
	var msg PeerMessage
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return PeerMessage{}, fmt.Errorf("wireproto: decode message: %w", err)
	}
	return msg, nil
}
