package cli

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/contracts"
	"github.com/empower1/netcore/internal/netconfig"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/routingtypes"
)

// keyDirectory resolves the public keys of known peers and validator
// accounts, backing signature verification for the graph and
// accounts-data cache. Keys are added with RememberPeer and
// RememberAccount; nothing in this command calls them, so the directory
// starts empty and every lookup misses.
type keyDirectory struct {
	mu       sync.RWMutex
	peers    map[routingtypes.PeerID]*ecdsa.PublicKey
	accounts map[routingtypes.AccountID]*ecdsa.PublicKey
}

func newStaticKeyDirectory() *keyDirectory {
	return &keyDirectory{
		peers:    make(map[routingtypes.PeerID]*ecdsa.PublicKey),
		accounts: make(map[routingtypes.AccountID]*ecdsa.PublicKey),
	}
}

func (d *keyDirectory) RememberPeer(id routingtypes.PeerID, pub *ecdsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[id] = pub
}

func (d *keyDirectory) RememberAccount(id routingtypes.AccountID, pub *ecdsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[id] = pub
}

func (d *keyDirectory) lookupPeer(id routingtypes.PeerID) (*ecdsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.peers[id]
	return pub, ok
}

func (d *keyDirectory) lookupAccount(id routingtypes.AccountID) (*ecdsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.accounts[id]
	return pub, ok
}

// droppingClient stands in for the real application (a blockchain client),
// which is an external collaborator per the routing core's contract: every
// inbound application message is accepted and silently dropped rather than
// answered.
type droppingClient struct{}

func (droppingClient) OnBlock(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) { return nil, nil }
func (droppingClient) OnBlockRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnBlockHeaders(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnBlockHeadersRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnTransaction(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnChallenge(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnTxStatusRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnStateRequestHeader(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnStateRequestPart(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnPartialEncodedChunkRequest(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnTxStatusResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnStateResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnBlockApproval(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnForwardTx(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnPartialEncodedChunkResponse(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnPartialEncodedChunk(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}
func (droppingClient) OnPartialEncodedChunkForward(routingtypes.PeerID, []byte) ([]byte, *contracts.BanReason) {
	return nil, nil
}

// runControlLoops drives the periodic TIER1 reconciliation and
// peer-discovery tasks until ctx is cancelled, each as its own
// cancellable `{ sleep(tick); reconcile() }` loop.
func runControlLoops(ctx context.Context, state *netstate.NetworkState, cfg *netconfig.Config, log *zap.SugaredLogger) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		periodic(ctx, netstate.RequestPeersInterval, func(now time.Time) {
			state.AskForMorePeers(now)
		})
	}()

	interval := cfg.Tier1.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		periodic(ctx, interval, func(now time.Time) {
			state.Tier1ConnectToMyProxies(ctx)
			state.Tier1BroadcastMyProxies("current", now)
			state.Tier1ConnectToOthersProxies(ctx, now)
		})
	}()

	<-ctx.Done()
	log.Info("shutting down control loops")
	wg.Wait()
}

// periodic runs fn every interval until ctx is cancelled, cancellable at
// the sleep point.
func periodic(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			fn(t)
		}
	}
}
