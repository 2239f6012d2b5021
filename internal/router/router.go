// Package router implements the Message Router: pure dispatch of inbound
// PeerMessages to the application Client, and reply re-signing. Every
// inbound routed message is dispatched locally whatever its target;
// routed messages are not forwarded and their TTL is not decremented.
package router

import (
	"crypto/sha256"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/metrics"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/routingcrypto"
	"github.com/empower1/netcore/internal/routingtypes"
	"github.com/empower1/netcore/internal/wireproto"
)

type PeerID = routingtypes.PeerID

// Router dispatches inbound wire messages to the application client and
// drives outbound routed-message construction.
type Router struct {
	state    *netstate.NetworkState
	client   contracts.Client
	recorder metrics.Recorder
	log      *zap.SugaredLogger
}

// New creates a Router bound to state and client.
func New(state *netstate.NetworkState, client contracts.Client, recorder metrics.Recorder, log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{state: state, client: client, recorder: recorder, log: log}
}

// ReceiveMessage is a pure dispatcher: it matches on msg's wire variant
// and calls the corresponding client method. A handler that returns a
// BanReason aborts processing and surfaces the reason to the caller,
// which disconnects and bans peer. Unknown variants are logged and
// ignored for forward compatibility.
func (r *Router) ReceiveMessage(peer PeerID, msg wireproto.PeerMessage, wasRequested bool) (*wireproto.PeerMessage, *contracts.BanReason) {
	switch msg.Type {
	case wireproto.MsgBlock:
		return r.dispatch(peer, msg.Payload, wireproto.MsgBlock, r.client.OnBlock)
	case wireproto.MsgBlockRequest:
		return r.dispatch(peer, msg.Payload, wireproto.MsgBlock, r.client.OnBlockRequest)
	case wireproto.MsgBlockHeaders:
		return r.dispatch(peer, msg.Payload, wireproto.MsgBlockHeaders, r.client.OnBlockHeaders)
	case wireproto.MsgBlockHeadersRequest:
		return r.dispatch(peer, msg.Payload, wireproto.MsgBlockHeaders, r.client.OnBlockHeadersRequest)
	case wireproto.MsgTransaction:
		return r.dispatch(peer, msg.Payload, wireproto.MsgTransaction, r.client.OnTransaction)
	case wireproto.MsgChallenge:
		return r.dispatch(peer, msg.Payload, wireproto.MsgChallenge, r.client.OnChallenge)
	case wireproto.MsgRouted:
		return r.receiveRouted(peer, msg, wasRequested)
	default:
		r.log.Debugw("router: ignoring unknown peer message variant", "peer", peer, "type", msg.Type)
		return nil, nil
	}
}

func (r *Router) dispatch(peer PeerID, payload []byte, replyType wireproto.PeerMessageType, handler func(PeerID, []byte) ([]byte, *contracts.BanReason)) (*wireproto.PeerMessage, *contracts.BanReason) {
	reply, ban := handler(peer, payload)
	if ban != nil {
		r.recorder.PeerBanned(ban.Reason)
		return nil, ban
	}
	if reply == nil {
		return nil, nil
	}
	return &wireproto.PeerMessage{Type: replyType, Payload: reply}, nil
}

// receiveRouted decodes a RoutedMessage from msg's payload, matches on its
// body variant, and forwards to the matching client method. If a reply
// body results, it is wrapped into a new RoutedMessage addressed to the
// hash of the incoming request, re-signed with the local key and current
// time, ready for outbound dispatch.
func (r *Router) receiveRouted(peer PeerID, msg wireproto.PeerMessage, wasRequested bool) (*wireproto.PeerMessage, *contracts.BanReason) {
	var routed wireproto.RoutedMessage
	if err := wireproto.DecodePayload(msg.Payload, &routed); err != nil {
		r.recorder.PeerBanned("malformed routed message")
		return nil, &contracts.BanReason{Reason: "malformed routed message"}
	}

	var (
		reply []byte
		ban   *contracts.BanReason
	)
	switch routed.Body {
	case wireproto.BodyTxStatusRequest:
		reply, ban = r.client.OnTxStatusRequest(peer, routed.Payload)
	case wireproto.BodyTxStatusResponse:
		reply, ban = r.client.OnTxStatusResponse(peer, routed.Payload)
	case wireproto.BodyStateRequestHeader:
		reply, ban = r.client.OnStateRequestHeader(peer, routed.Payload)
	case wireproto.BodyStateRequestPart:
		reply, ban = r.client.OnStateRequestPart(peer, routed.Payload)
	case wireproto.BodyVersionedStateResponse:
		reply, ban = r.client.OnStateResponse(peer, routed.Payload)
	case wireproto.BodyBlockApproval:
		reply, ban = r.client.OnBlockApproval(peer, routed.Payload)
	case wireproto.BodyForwardTx:
		reply, ban = r.client.OnForwardTx(peer, routed.Payload)
	case wireproto.BodyPartialEncodedChunkRequest:
		reply, ban = r.client.OnPartialEncodedChunkRequest(peer, routed.Payload)
	case wireproto.BodyPartialEncodedChunkResponse:
		reply, ban = r.client.OnPartialEncodedChunkResponse(peer, routed.Payload)
	case wireproto.BodyVersionedPartialEncodedChunk:
		reply, ban = r.client.OnPartialEncodedChunk(peer, routed.Payload)
	case wireproto.BodyPartialEncodedChunkForward:
		reply, ban = r.client.OnPartialEncodedChunkForward(peer, routed.Payload)
	case wireproto.BodyReceiptOutcomeRequest:
		// No client hook: receipt-outcome requests are silently ignored,
		// matching the upstream router's default-drop behaviour.
		return nil, nil
	case wireproto.BodyPing:
		return r.pongReply(routed), nil
	case wireproto.BodyPong:
		return nil, nil
	default:
		r.log.Debugw("router: ignoring unknown routed body variant", "peer", peer, "body", routed.Body)
		return nil, nil
	}
	if ban != nil {
		r.recorder.PeerBanned(ban.Reason)
		return nil, ban
	}
	if reply == nil {
		return nil, nil
	}
	return r.wrapReply(routed, reply), nil
}

// pongReply answers a Ping with a Pong targeting the request's hash.
func (r *Router) pongReply(request wireproto.RoutedMessage) *wireproto.PeerMessage {
	return r.wrapReply(request, nil)
}

// wrapReply builds the outbound RoutedMessage for a reply to request:
// target is the hash of the request, author is self, signature and
// timestamp are freshly produced.
func (r *Router) wrapReply(request wireproto.RoutedMessage, payload []byte) *wireproto.PeerMessage {
	hash := hashRoutedMessage(request)
	reply := wireproto.RoutedMessage{
		Target:    wireproto.RoutedTarget{Kind: wireproto.TargetHash, Hash: hash},
		Author:    r.state.Self(),
		TTL:       r.state.DefaultTTL(),
		Body:      replyBodyFor(request.Body),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	sig, err := routingcrypto.Sign(r.state.PrivateKey(), signingPayload(reply))
	if err != nil {
		r.log.Errorw("router: failed to sign reply", "error", err)
		return nil
	}
	reply.Signature = sig

	encoded, err := wireproto.EncodePayload(reply)
	if err != nil {
		r.log.Errorw("router: failed to encode reply", "error", err)
		return nil
	}
	return &wireproto.PeerMessage{Type: wireproto.MsgRouted, Payload: encoded}
}

func replyBodyFor(requestBody wireproto.RoutedMessageBody) wireproto.RoutedMessageBody {
	switch requestBody {
	case wireproto.BodyTxStatusRequest:
		return wireproto.BodyTxStatusResponse
	case wireproto.BodyPing:
		return wireproto.BodyPong
	default:
		return requestBody
	}
}

// hashRoutedMessage derives the opaque hash a reply's target references,
// used as the route-back cache key.
func hashRoutedMessage(msg wireproto.RoutedMessage) [32]byte {
	return sha256.Sum256(signingPayload(msg))
}

// signingPayload is the canonical byte encoding a RoutedMessage's
// Signature covers.
func signingPayload(msg wireproto.RoutedMessage) []byte {
	encoded, _ := wireproto.EncodePayload(struct {
		Target    wireproto.RoutedTarget
		Author    PeerID
		TTL       uint8
		Body      wireproto.RoutedMessageBody
		Payload   []byte
		CreatedAt time.Time
	}{msg.Target, msg.Author, msg.TTL, msg.Body, msg.Payload, msg.CreatedAt})
	return encoded
}
