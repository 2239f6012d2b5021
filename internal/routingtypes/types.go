// Package routingtypes defines the wire-shared data model of the routing
// core: peer and account identities, edges between them, and the derived
// snapshot the routing engine publishes for readers.
package routingtypes

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/empower1/netcore/internal/routingcrypto"
)

// PeerID identifies a node in the routing graph: RIPEMD160(SHA256(pubkey)).
type PeerID [20]byte

func (p PeerID) String() string { return hex.EncodeToString(p[:]) }

// Less gives PeerId a total order, used for deterministic edge-key
// canonicalization and tie-breaking.
func (p PeerID) Less(other PeerID) bool { return bytes.Compare(p[:], other[:]) < 0 }

// AccountID identifies a validator account announcing TIER1 proxies. It is
// a human-readable name (mirrors the chain's account-id namespace), kept
// distinct from PeerId because one account can rotate peers.
type AccountID string

// EdgeKey canonically orders the two endpoints of an edge so (a,b) and
// (b,a) hash identically; Peer0 is always the lexicographically smaller
// PeerId.
type EdgeKey struct {
	Peer0 PeerID
	Peer1 PeerID
}

// NewEdgeKey canonicalizes two endpoints into an EdgeKey.
func NewEdgeKey(a, b PeerID) EdgeKey {
	if b.Less(a) {
		a, b = b, a
	}
	return EdgeKey{Peer0: a, Peer1: b}
}

// EdgeState is Active (counts toward the graph) or Removed (a tombstone
// kept so a stale, lower-nonce Active proposal cannot resurrect the edge).
type EdgeState int

const (
	EdgeActive EdgeState = iota
	EdgeRemoved
)

func (s EdgeState) String() string {
	if s == EdgeActive {
		return "active"
	}
	return "removed"
}

// Edge is a signed, nonced statement that two peers are (or were)
// connected. Nonce parity encodes state: odd nonces are Active proposals,
// even nonces are Removed (tombstone) proposals — mirrors the teacher's
// monotonic versioning idiom generalized to a two-party object.
type Edge struct {
	Key       EdgeKey
	Nonce     uint64
	SigA      []byte    // Key.Peer0's signature over (Key, Nonce)
	SigB      []byte    // Key.Peer1's signature over (Key, Nonce)
	CreatedAt time.Time // when this edge proposal was produced; not itself signed
}

// State derives Active/Removed from nonce parity: odd means active.
func (e Edge) State() EdgeState {
	if e.Nonce%2 == 1 {
		return EdgeActive
	}
	return EdgeRemoved
}

// NextNonce returns the next proposal's nonce: always increases by one so
// successive proposals strictly alternate state and never tie.
func (e Edge) NextNonce() uint64 { return e.Nonce + 1 }

// signingPayload is the canonical byte encoding SigA/SigB are computed
// over: Peer0 || Peer1 || big-endian Nonce.
func (k EdgeKey) signingPayload(nonce uint64) []byte {
	buf := make([]byte, 0, 20+20+8)
	buf = append(buf, k.Peer0[:]...)
	buf = append(buf, k.Peer1[:]...)
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(nonce>>(8*uint(i))))
	}
	return buf
}

// Sign attaches this peer's signature to the edge, placing it in SigA or
// SigB depending on which endpoint the signing key corresponds to.
func (e *Edge) Sign(self PeerID, priv *ecdsa.PrivateKey) error {
	sig, err := routingcrypto.Sign(priv, e.Key.signingPayload(e.Nonce))
	if err != nil {
		return err
	}
	switch self {
	case e.Key.Peer0:
		e.SigA = sig
	case e.Key.Peer1:
		e.SigB = sig
	default:
		return fmt.Errorf("routingtypes: %s is not an endpoint of edge %s/%s", self, e.Key.Peer0, e.Key.Peer1)
	}
	return nil
}

// Verify checks both endpoint signatures against their public keys. Both
// must verify for the edge to be accepted into the graph.
func (e Edge) Verify(pubA, pubB *ecdsa.PublicKey) bool {
	payload := e.Key.signingPayload(e.Nonce)
	return routingcrypto.Verify(pubA, payload, e.SigA) && routingcrypto.Verify(pubB, payload, e.SigB)
}

// PartialEdgeInfo is one endpoint's half of a not-yet-mutual edge: a
// proposed nonce and that endpoint's signature, sent in a handshake before
// the peer has countersigned.
type PartialEdgeInfo struct {
	Nonce     uint64
	Signature []byte
}

// PeerAddr is a dialable TIER1 proxy/validator endpoint: a peer id plus
// zero or more addresses it can be reached at.
type PeerAddr struct {
	PeerID    PeerID
	Addresses []string
}

// SignPartialEdge produces this endpoint's half of a not-yet-mutual edge
// proposal: the chosen nonce and this node's signature over (key, nonce).
// Sent in a handshake before the peer has countersigned.
func SignPartialEdge(key EdgeKey, nonce uint64, priv *ecdsa.PrivateKey) (PartialEdgeInfo, error) {
	sig, err := routingcrypto.Sign(priv, key.signingPayload(nonce))
	if err != nil {
		return PartialEdgeInfo{}, err
	}
	return PartialEdgeInfo{Nonce: nonce, Signature: sig}, nil
}

// AccountsDataRecord is a validator's signed announcement of the peer(s)
// proxying TIER1 traffic on its behalf for an epoch.
type AccountsDataRecord struct {
	AccountID AccountID
	EpochID   string
	PeerID    PeerID
	Proxies   []PeerAddr
	Timestamp int64 // unix nanos; highest timestamp wins on conflicting inserts
	Signature []byte
}

// signingPayload is the canonical byte encoding AccountsDataRecord.Signature
// covers: account_id || epoch_id || peer_id || proxies || timestamp.
func (r AccountsDataRecord) signingPayload() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(r.AccountID))
	buf.WriteByte(0)
	buf.WriteString(r.EpochID)
	buf.WriteByte(0)
	buf.Write(r.PeerID[:])
	for _, p := range r.Proxies {
		buf.Write(p.PeerID[:])
		for _, addr := range p.Addresses {
			buf.WriteString(addr)
			buf.WriteByte(0)
		}
	}
	for i := 7; i >= 0; i-- {
		buf.WriteByte(byte(r.Timestamp >> (8 * uint(i))))
	}
	return buf.Bytes()
}

// Sign signs the record with the validator's signing key.
func (r *AccountsDataRecord) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := routingcrypto.Sign(priv, r.signingPayload())
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Verify checks the record's signature against the validator's public key.
func (r AccountsDataRecord) Verify(pub *ecdsa.PublicKey) bool {
	return routingcrypto.Verify(pub, r.signingPayload(), r.Signature)
}

// Newer reports whether r should replace existing under the cache's
// highest-timestamp-wins rule, with a lexicographic PeerId tiebreak for
// exact timestamp ties so Insert is deterministic regardless of arrival
// order.
func (r AccountsDataRecord) Newer(existing AccountsDataRecord) bool {
	if r.Timestamp != existing.Timestamp {
		return r.Timestamp > existing.Timestamp
	}
	return existing.PeerID.Less(r.PeerID)
}

// SortPeerIDs returns a stable, deterministically ordered copy of ids.
func SortPeerIDs(ids []PeerID) []PeerID {
	out := make([]PeerID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// NextHopTable maps a destination PeerId to the ordered set of this node's
// direct neighbours that lie on a shortest path to it (ties broken by
// neighbour-insertion order, see bfsgraph).
type NextHopTable map[PeerID][]PeerID

// GraphSnapshot is the routing graph engine's published, read-only view:
// every known edge, the edges incident to the local node, and the current
// next-hop table. Readers (RoutingTableView) only ever see a fully formed
// snapshot, published atomically.
type GraphSnapshot struct {
	Edges     map[EdgeKey]Edge
	LocalEdges map[EdgeKey]Edge
	NextHops  NextHopTable
}
