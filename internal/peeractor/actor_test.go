package peeractor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/connpool"
	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/metrics"
	"github.com/empower1/netcore/internal/netconfig"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/router"
	"github.com/empower1/netcore/internal/routingcrypto"
	"github.com/empower1/netcore/internal/routingtypes"
	"github.com/empower1/netcore/internal/wireproto"
)

type silentClient struct{}

func (silentClient) OnBlock(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) { return nil, nil }
func (silentClient) OnBlockRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnBlockHeaders(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnBlockHeadersRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnTransaction(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnChallenge(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnTxStatusRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnStateRequestHeader(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnStateRequestPart(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnPartialEncodedChunkRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnTxStatusResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnStateResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnBlockApproval(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnForwardTx(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnPartialEncodedChunkResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnPartialEncodedChunk(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (silentClient) OnPartialEncodedChunkForward(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}

func newTestSpawner(t *testing.T) (*Spawner, *netstate.NetworkState) {
	t.Helper()
	key, err := routingcrypto.GenerateNodeKey()
	require.NoError(t, err)

	cfg := netconfig.Defaults()
	state := netstate.New(cfg, key.PeerID, key.Priv, connpool.New(connpool.LimitPendingPeers), connpool.New(connpool.LimitPendingPeers), nil, nil, nil, nil, nil, metrics.Noop{}, nil)
	r := router.New(state, silentClient{}, metrics.Noop{}, nil)
	s := New(state, r, nil)
	state.SetSpawner(s)
	return s, state
}

func TestSpawnOverPipePerformsHandshakeAndRegistersPeer(t *testing.T) {
	clientSide, clientState := newTestSpawner(t)
	serverSide, serverState := newTestSpawner(t)

	a, b := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() { defer wg.Done(); errA = clientSide.Spawn(a, contracts.T2, nil) }()
	go func() { defer wg.Done(); errB = serverSide.Spawn(b, contracts.T2, nil) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	snapshot := clientState.Tier2.Load()
	assert.Contains(t, snapshot.Ready, serverState.Self())

	snapshot = serverState.Tier2.Load()
	assert.Contains(t, snapshot.Ready, clientState.Self())
}

func TestStreamSenderSendsFramedPeerMessage(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender := newStreamSender(a)
	done := make(chan error, 1)
	go func() { done <- sender.SendMessage(wireproto.PeerMessage{Type: wireproto.MsgPeersRequest}) }()

	msg, err := wireproto.ReadMessage(b)
	require.NoError(t, err)
	assert.Equal(t, wireproto.MsgPeersRequest, msg.Type)
	require.NoError(t, <-done)
}

func TestTCPDialerFailsFastOnUnreachableAddress(t *testing.T) {
	d := TCPDialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := d.Dial(ctx, "127.0.0.1:1", contracts.T2)
	assert.Error(t, err)
}
