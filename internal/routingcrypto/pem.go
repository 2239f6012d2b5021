package routingcrypto

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// SerializePrivateKeyToPEM encodes priv as an unencrypted PKCS#8 PEM
// block.
func SerializePrivateKeyToPEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("routingcrypto: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DeserializePrivateKeyFromPEM parses an unencrypted PKCS#8 or SEC1 PEM
// block back into an ECDSA private key.
func DeserializePrivateKeyFromPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrInvalidPublicKey)
	}

	var key any
	var err error
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("routingcrypto: unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("routingcrypto: parse private key: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("routingcrypto: PEM block did not contain an ECDSA private key")
	}
	return priv, nil
}

// LoadNodeKeyPEM loads the node's signing key from an unencrypted PEM
// file at path and derives its PeerId.
func LoadNodeKeyPEM(path string) (*NodeKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routingcrypto: read node key %s: %w", path, err)
	}
	priv, err := DeserializePrivateKeyFromPEM(raw)
	if err != nil {
		return nil, err
	}
	return NodeKeyFromPrivate(priv)
}

// SaveNodeKeyPEM writes key's private key to path in unencrypted PEM
// form, owner-read-write only.
func SaveNodeKeyPEM(key *NodeKey, path string) error {
	pemBytes, err := SerializePrivateKeyToPEM(key.Priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pemBytes, 0600)
}
