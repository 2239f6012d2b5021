package wireproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadMessageRoundTrip(t *testing.T) {
	payload, err := EncodePayload("hello")
	require.NoError(t, err)
	msg := PeerMessage{Type: MsgPeersRequest, Payload: payload}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)

	var s string
	require.NoError(t, DecodePayload(got.Payload, &s))
	assert.Equal(t, "hello", s)
}

func TestReadMessageFailsOnTruncatedStream(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{0, 0}))
	assert.Error(t, err)
}

func TestDecrementedDropsMessageAtZeroTTL(t *testing.T) {
	m := RoutedMessage{TTL: 1}
	next, ok := m.Decremented()
	assert.True(t, ok)
	assert.Equal(t, uint8(0), next.TTL)

	_, ok = next.Decremented()
	assert.False(t, ok, "a zero-TTL message must not be forwarded further")
}

func TestImportantBodyClassification(t *testing.T) {
	assert.True(t, BodyBlockApproval.Important())
	assert.True(t, BodyForwardTx.Important())
	assert.False(t, BodyPing.Important())
}

func TestExpectsResponseClassification(t *testing.T) {
	assert.True(t, BodyPing.ExpectsResponse())
	assert.True(t, BodyTxStatusRequest.ExpectsResponse())
	assert.False(t, BodyPong.ExpectsResponse())
}

func TestRoutedMessageRoundTripsThroughGob(t *testing.T) {
	var peer PeerID
	peer[0] = 7
	original := RoutedMessage{
		Target: RoutedTarget{Kind: TargetPeerID, Peer: peer},
		Author: peer,
		TTL:    3,
		Body:   BodyPing,
	}

	payload, err := EncodePayload(original)
	require.NoError(t, err)

	var decoded RoutedMessage
	require.NoError(t, DecodePayload(payload, &decoded))
	assert.Equal(t, original.TTL, decoded.TTL)
	assert.Equal(t, original.Body, decoded.Body)
	assert.Equal(t, original.Target, decoded.Target)
}
