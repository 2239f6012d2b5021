package routingtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/routingcrypto"
)

func TestNewEdgeKeyCanonicalizesOrder(t *testing.T) {
	keyA, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	keyB, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	k1 := NewEdgeKey(keyA.PeerID, keyB.PeerID)
	k2 := NewEdgeKey(keyB.PeerID, keyA.PeerID)
	assert.Equal(t, k1, k2)
}

func TestEdgeSignAndVerifyRoundTrip(t *testing.T) {
	keyA, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	keyB, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	edge := Edge{Key: NewEdgeKey(keyA.PeerID, keyB.PeerID), Nonce: 1}
	require.NoError(t, edge.Sign(keyA.PeerID, keyA.Priv))
	require.NoError(t, edge.Sign(keyB.PeerID, keyB.Priv))

	assert.True(t, edge.Verify(&keyA.Priv.PublicKey, &keyB.Priv.PublicKey))
	assert.Equal(t, EdgeActive, edge.State(), "odd nonce is Active")
}

func TestEdgeStateParity(t *testing.T) {
	e := Edge{Nonce: 1}
	assert.Equal(t, EdgeActive, e.State())
	e.Nonce = 2
	assert.Equal(t, EdgeRemoved, e.State())
}

func TestEdgeVerifyFailsOnTamperedSignature(t *testing.T) {
	keyA, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	keyB, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	edge := Edge{Key: NewEdgeKey(keyA.PeerID, keyB.PeerID), Nonce: 1}
	require.NoError(t, edge.Sign(keyA.PeerID, keyA.Priv))
	require.NoError(t, edge.Sign(keyB.PeerID, keyB.Priv))

	edge.Nonce = 3 // tamper after signing
	assert.False(t, edge.Verify(&keyA.Priv.PublicKey, &keyB.Priv.PublicKey))
}

func TestAccountsDataRecordNewerPrefersHigherTimestamp(t *testing.T) {
	older := AccountsDataRecord{Timestamp: 100}
	newer := AccountsDataRecord{Timestamp: 200}
	assert.True(t, newer.Newer(older))
	assert.False(t, older.Newer(newer))
}

func TestAccountsDataRecordSignAndVerify(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	record := AccountsDataRecord{AccountID: "validator.near", EpochID: "epoch-1", PeerID: key.PeerID, Timestamp: 1}
	require.NoError(t, record.Sign(key.Priv))
	assert.True(t, record.Verify(&key.Priv.PublicKey))

	record.Timestamp = 2
	assert.False(t, record.Verify(&key.Priv.PublicKey), "mutating a signed field must invalidate the signature")
}
