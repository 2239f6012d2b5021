// Package routingcrypto derives PeerId identities and signs and
// verifies the routing core's wire objects (edges, accounts-data records,
// routed messages). Keys are ECDSA P-256, the same curve the rest of the
// EmPower1 stack standardizes on.
package routingcrypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrKeyGeneration      = errors.New("routingcrypto: key generation failed")
	ErrInvalidPublicKey   = errors.New("routingcrypto: invalid public key")
	ErrSignatureMismatch  = errors.New("routingcrypto: signature verification failed")
	ErrInvalidDIDKey      = errors.New("routingcrypto: invalid did:key string")
	ErrUnexpectedMulticodec = errors.New("routingcrypto: unexpected multicodec type")
)

const codecSecp256r1PubKeyUncompressed multicodec.Code = 0x1201

const peerIDHashLength = 20 // RIPEMD160(SHA256(pubkey)), mirrors address derivation.

// NodeKey is the local node's signing identity: the private half used to
// sign edges, accounts-data records, and routed messages, plus the derived
// PeerId.
type NodeKey struct {
	Priv   *ecdsa.PrivateKey
	PeerID [peerIDHashLength]byte
}

// GenerateNodeKey creates a fresh ECDSA P-256 identity and derives its PeerId.
func GenerateNodeKey() (*NodeKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return NodeKeyFromPrivate(priv)
}

// NodeKeyFromPrivate derives a NodeKey (and its PeerId) from an existing
// ECDSA private key, e.g. one loaded from a configuration file.
func NodeKeyFromPrivate(priv *ecdsa.PrivateKey) (*NodeKey, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: node key must be a P-256 private key", ErrInvalidPublicKey)
	}
	id, err := PeerIDFromPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &NodeKey{Priv: priv, PeerID: id}, nil
}

// PeerIDFromPublicKey derives a 20-byte PeerId from an uncompressed P-256
// public key: RIPEMD160(SHA256(pubkey)), the same two-stage hash the
// wallet address derivation uses.
func PeerIDFromPublicKey(pub *ecdsa.PublicKey) ([peerIDHashLength]byte, error) {
	var out [peerIDHashLength]byte
	if pub == nil || pub.Curve != elliptic.P256() {
		return out, fmt.Errorf("%w: expected a P-256 public key", ErrInvalidPublicKey)
	}
	raw := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
	sum256 := sha256.Sum256(raw)
	h := ripemd160.New()
	h.Write(sum256[:])
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out, nil
}

// Sign produces an ECDSA signature (ASN.1 DER) over an arbitrary message
// digest. Callers are expected to pass the canonical byte encoding of the
// object being signed (edge key+nonce, accounts-data record, routed
// message header).
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("routingcrypto: sign failed: %w", err)
	}
	return sig, nil
}

// Verify checks an ECDSA signature produced by Sign.
func Verify(pub *ecdsa.PublicKey, msg, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// EncodePublicKey marshals an uncompressed P-256 public key to bytes.
func EncodePublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

// DecodePublicKey parses an uncompressed P-256 public key from bytes.
func DecodePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected 65-byte uncompressed P-256 key", ErrInvalidPublicKey)
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil || y == nil {
		return nil, fmt.Errorf("%w: failed to unmarshal curve point", ErrInvalidPublicKey)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// DIDKey renders a public key as a did:key string (multicodec + multibase
// Base58BTC), used for human-facing peer identity in logs and config.
func DIDKey(pub *ecdsa.PublicKey) (string, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return "", fmt.Errorf("%w: did:key encoding requires a P-256 public key", ErrInvalidPublicKey)
	}
	raw := EncodePublicKey(pub)
	var buf bytes.Buffer
	buf.Write(multicodec.Header(codecSecp256r1PubKeyUncompressed))
	buf.Write(raw)
	enc, err := multibase.Encode(multibase.Base58BTC, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("routingcrypto: multibase encode failed: %w", err)
	}
	return "did:key:" + enc, nil
}

// ParseDIDKey parses a did:key string back into an uncompressed P-256
// public key.
func ParseDIDKey(did string) (*ecdsa.PublicKey, error) {
	const prefix = "did:key:"
	if len(did) <= len(prefix) || did[:len(prefix)] != prefix {
		return nil, ErrInvalidDIDKey
	}
	enc, raw, err := multibase.Decode(did[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDKey, err)
	}
	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: expected Base58BTC encoding", ErrInvalidDIDKey)
	}
	codec, rest, err := multicodec.Consume(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDKey, err)
	}
	if multicodec.Code(codec) != codecSecp256r1PubKeyUncompressed {
		return nil, ErrUnexpectedMulticodec
	}
	return DecodePublicKey(rest)
}
