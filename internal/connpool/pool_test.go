package connpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peer(b byte) PeerID {
	var p PeerID
	p[0] = b
	return p
}

type fakeSender struct {
	fail bool
	sent []any
}

func (f *fakeSender) SendMessage(msg any) error {
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestMembershipIsExclusiveAcrossSets(t *testing.T) {
	p := New(LimitPendingPeers)
	a := peer(1)

	p.StartOutboundHandshake(a)
	snap := p.Load()
	assert.Contains(t, snap.OutboundHandshakes, a)
	assert.NotContains(t, snap.Ready, a)

	p.FinishOutboundHandshake(a, Connection{PeerID: a, Sender: &fakeSender{}}, true)
	snap = p.Load()
	assert.NotContains(t, snap.OutboundHandshakes, a, "promotion to ready must clear the handshake set")
	assert.Contains(t, snap.Ready, a)
}

func TestFinishHandshakeFailureDropsPeerEntirely(t *testing.T) {
	p := New(LimitPendingPeers)
	a := peer(1)

	p.StartInboundHandshake(a)
	p.FinishInboundHandshake(a, Connection{PeerID: a}, false)

	snap := p.Load()
	assert.NotContains(t, snap.Ready, a)
	assert.NotContains(t, snap.InboundHandshakes, a)
}

func TestSendMessageReturnsFalseForUnknownPeer(t *testing.T) {
	p := New(LimitPendingPeers)
	assert.False(t, p.SendMessage(peer(9), "hello"))
}

func TestSendMessageDeliversToReadySender(t *testing.T) {
	p := New(LimitPendingPeers)
	sender := &fakeSender{}
	p.InsertReady(Connection{PeerID: peer(1), Sender: sender})

	ok := p.SendMessage(peer(1), "ping")
	assert.True(t, ok)
	assert.Equal(t, []any{"ping"}, sender.sent)
}

func TestSendMessageReturnsFalseWhenSenderErrors(t *testing.T) {
	p := New(LimitPendingPeers)
	p.InsertReady(Connection{PeerID: peer(1), Sender: &fakeSender{fail: true}})
	assert.False(t, p.SendMessage(peer(1), "ping"))
}

func TestBroadcastMessageReachesAllReadyPeers(t *testing.T) {
	p := New(LimitPendingPeers)
	s1, s2 := &fakeSender{}, &fakeSender{}
	p.InsertReady(Connection{PeerID: peer(1), Sender: s1})
	p.InsertReady(Connection{PeerID: peer(2), Sender: s2})

	p.BroadcastMessage("gossip")

	assert.Equal(t, []any{"gossip"}, s1.sent)
	assert.Equal(t, []any{"gossip"}, s2.sent)
}

func TestRemoveClearsAnyMembership(t *testing.T) {
	p := New(LimitPendingPeers)
	p.StartOutboundHandshake(peer(1))
	p.Remove(peer(1))
	snap := p.Load()
	assert.NotContains(t, snap.OutboundHandshakes, peer(1))
}

func TestAcquireInboundPermitBoundsConcurrency(t *testing.T) {
	p := New(1)

	release1, err := p.AcquireInboundPermit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.AcquireInboundPermit(ctx)
	assert.Error(t, err, "a second permit must not be granted while the only slot is held")

	release1()

	release2, err := p.AcquireInboundPermit(context.Background())
	require.NoError(t, err)
	release2()
}
