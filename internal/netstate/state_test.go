package netstate

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/accountsdata"
	"github.com/empower1/netcore/internal/connpool"
	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/edgestore"
	"github.com/empower1/netcore/internal/metrics"
	"github.com/empower1/netcore/internal/netconfig"
	"github.com/empower1/netcore/internal/routingcrypto"
	"github.com/empower1/netcore/internal/routinggraph"
	"github.com/empower1/netcore/internal/routingtable"
	"github.com/empower1/netcore/internal/routingtypes"
)

type erroringDialer struct{}

func (erroringDialer) Dial(context.Context, string, contracts.Tier) (contracts.Stream, error) {
	return nil, assert.AnError
}

type erroringSpawner struct{}

func (erroringSpawner) Spawn(contracts.Stream, contracts.Tier, *routingtypes.PartialEdgeInfo) error {
	return assert.AnError
}

func noPublicKey(routingtypes.PeerID) (*ecdsa.PublicKey, bool) { return nil, false }
func noAccountKey(routingtypes.AccountID) (*ecdsa.PublicKey, bool) { return nil, false }

func newGraph(t *testing.T, self routingtypes.PeerID) *routinggraph.Graph {
	t.Helper()
	store, err := edgestore.Open(t.TempDir()+"/edges.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return routinggraph.New(routinggraph.Config{Self: self}, store, noPublicKey, nil)
}

func TestProposeEdgeDefaultsNonceToOneWithoutLocalEdge(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	other, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	graph := newGraph(t, key.PeerID)

	cfg := netconfig.Defaults()
	cfg.NodeID = "node-1"
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), connpool.New(1), graph, nil, nil, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	info, err := ns.ProposeEdge(other.PeerID, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Nonce)
}

func TestProposeEdgeUsesLocalEdgeNextNonce(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	other, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	graph := newGraph(t, key.PeerID)
	key2 := routingtypes.NewEdgeKey(key.PeerID, other.PeerID)
	graph.Update(time.Unix(0, 0), []routingtypes.Edge{{Key: key2, Nonce: 5}})

	cfg := netconfig.Defaults()
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), connpool.New(1), graph, nil, nil, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	info, err := ns.ProposeEdge(other.PeerID, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.Nonce, "an active local edge at nonce 5 proposes nonce 6, the next nonce of opposite parity")
}

func TestSelfAndPrivateKeyAndDefaultTTLAccessors(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	cfg := netconfig.Defaults()
	cfg.RoutedMessageTTL = 12

	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), connpool.New(1), nil, nil, nil, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	assert.Equal(t, key.PeerID, ns.Self())
	assert.Equal(t, key.Priv, ns.PrivateKey())
	assert.Equal(t, uint8(12), ns.DefaultTTL())
}

func TestTier1AccountIDRequiresNonEmptySigner(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	accounts := accountsdata.New(noAccountKey)

	cfg := netconfig.Defaults()
	cfg.Validator.Signer = ""
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), connpool.New(1), nil, nil, accounts, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	_, ok := ns.Tier1AccountID()
	assert.False(t, ok, "empty signer must never resolve to a validator identity")
}

type recordingSender struct{ sent []any }

func (r *recordingSender) SendMessage(msg any) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestAskForMorePeersThrottlesWithinRequestInterval(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	peerKey, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	tier2 := connpool.New(1)
	sender := &recordingSender{}
	tier2.InsertReady(connpool.Connection{PeerID: peerKey.PeerID, Sender: sender})

	cfg := netconfig.Defaults()
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), tier2, nil, nil, nil, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	now := time.Unix(0, 0)
	ns.AskForMorePeers(now)
	assert.Len(t, sender.sent, 1)

	ns.AskForMorePeers(now.Add(time.Second))
	assert.Len(t, sender.sent, 1, "a second ask within RequestPeersInterval must be suppressed")

	ns.AskForMorePeers(now.Add(RequestPeersInterval + time.Second))
	assert.Len(t, sender.sent, 2)
}

func TestGetTier1PeerRequiresReadyConnection(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	graph := newGraph(t, key.PeerID)
	accounts := accountsdata.New(noAccountKey)
	table := routingtable.New(graph, accounts, time.Minute, 4, 16)

	cfg := netconfig.Defaults()
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), connpool.New(1), graph, table, accounts, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	_, ok := ns.GetTier1Peer("validator.near")
	assert.False(t, ok)
}

// S5: two ready TIER1 connections both proxy the same account. The older
// connection must be kept as the account's safe route and the newer,
// redundant one dropped, per original_source's "select the oldest TIER1
// connection for each account" policy.
func TestTier1ConnectToOthersProxiesKeepsOldestConnectionPerAccount(t *testing.T) {
	selfKey, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	otherKey, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	p1Key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	p2Key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	lookup := func(acct routingtypes.AccountID) (*ecdsa.PublicKey, bool) {
		switch acct {
		case "self.near":
			return &selfKey.Priv.PublicKey, true
		case "other.near":
			return &otherKey.Priv.PublicKey, true
		}
		return nil, false
	}
	accounts := accountsdata.New(lookup)

	selfRecord := routingtypes.AccountsDataRecord{AccountID: "self.near", EpochID: "e1", PeerID: selfKey.PeerID, Timestamp: 1}
	require.NoError(t, selfRecord.Sign(selfKey.Priv))

	otherRecord := routingtypes.AccountsDataRecord{
		AccountID: "other.near",
		EpochID:   "e1",
		Proxies: []routingtypes.PeerAddr{
			{PeerID: p1Key.PeerID, Addresses: []string{"p1:1"}},
			{PeerID: p2Key.PeerID, Addresses: []string{"p2:1"}},
		},
		Timestamp: 1,
	}
	require.NoError(t, otherRecord.Sign(otherKey.Priv))

	_, err = accounts.Insert([]routingtypes.AccountsDataRecord{selfRecord, otherRecord})
	require.NoError(t, err)

	tier1 := connpool.New(1)
	older := time.Unix(1000, 0)
	newer := older.Add(time.Hour)
	tier1.InsertReady(connpool.Connection{PeerID: p1Key.PeerID, Sender: &recordingSender{}, EstablishedAt: older})
	tier1.InsertReady(connpool.Connection{PeerID: p2Key.PeerID, Sender: &recordingSender{}, EstablishedAt: newer})

	cfg := netconfig.Defaults()
	cfg.Validator.Signer = "self.near"
	cfg.Tier1.NewConnectionsPerTick = 0

	ns := New(cfg, selfKey.PeerID, selfKey.Priv, tier1, connpool.New(1), nil, nil, accounts, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	ns.Tier1ConnectToOthersProxies(context.Background(), newer.Add(time.Minute))

	ready := ns.Tier1.Load().Ready
	assert.Contains(t, ready, p1Key.PeerID, "the oldest TIER1 connection for the account must be kept")
	assert.NotContains(t, ready, p2Key.PeerID, "a newer, redundant TIER1 connection for the same account must be dropped")
}

func TestSendMessageToAccountResendsImportantMessagesThreeTimes(t *testing.T) {
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)
	ownerKey, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	graph := newGraph(t, key.PeerID)
	accounts := accountsdata.New(func(routingtypes.AccountID) (*ecdsa.PublicKey, bool) {
		return &ownerKey.Priv.PublicKey, true
	})
	record := routingtypes.AccountsDataRecord{AccountID: "validator.near", EpochID: "e1", PeerID: ownerKey.PeerID, Timestamp: 1}
	require.NoError(t, record.Sign(ownerKey.Priv))
	_, err = accounts.Insert([]routingtypes.AccountsDataRecord{record})
	require.NoError(t, err)

	table := routingtable.New(graph, accounts, time.Minute, 4, 16)

	tier2 := connpool.New(1)
	sender := &recordingSender{}
	tier2.InsertReady(connpool.Connection{PeerID: ownerKey.PeerID, Sender: sender})

	cfg := netconfig.Defaults()
	ns := New(cfg, key.PeerID, key.Priv, connpool.New(1), tier2, graph, table, accounts, erroringDialer{}, erroringSpawner{}, metrics.Noop{}, nil)

	ok := ns.SendMessageToAccount("validator.near", "payload", false, true)
	assert.True(t, ok)
	assert.Len(t, sender.sent, ImportantMessageResentCount)
}
