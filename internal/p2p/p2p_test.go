package p2p

import (
	"bytes"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripPreservesMessageID(t *testing.T) {
	env, err := NewEnvelope(MsgGossipTx, map[string]string{"tx_hash": "abc"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, env))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID(), decoded.MessageID())
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(lenBuf)
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDedupCacheDropsDuplicateWithinTTL(t *testing.T) {
	d := NewDedupCache()
	env, err := NewEnvelope(MsgGossipTx, map[string]string{"tx_hash": "x"})
	require.NoError(t, err)
	id := env.MessageID()

	assert.False(t, d.SeenOrRecord(id))
	assert.True(t, d.SeenOrRecord(id))
}

func TestPeerEntryBackoffLadder(t *testing.T) {
	p := newPeerEntry("1.2.3.4:9000")
	want := []int64{5, 10, 20, 40, 80, 160, 300, 300}
	for _, w := range want {
		p.RecordFailureWithBackoff()
		assert.Equal(t, w, p.BackoffSecs)
	}
}

func TestPeerEntryResetBackoff(t *testing.T) {
	p := newPeerEntry("1.2.3.4:9000")
	p.RecordFailureWithBackoff()
	p.RecordFailureWithBackoff()
	p.ResetBackoff()
	assert.Equal(t, 0, p.Failures)
	assert.Nil(t, p.NextRetry)
	assert.True(t, p.IsReadyForRetry())
}

func TestSelectDiversePicksAtMostOnePerSubnet(t *testing.T) {
	var candidates []*PeerEntry
	for i := 0; i < 4; i++ {
		p := newPeerEntry("10.0.0." + string(rune('1'+i)) + ":9000")
		candidates = append(candidates, p)
	}
	other := newPeerEntry("192.168.1.5:9000")
	candidates = append(candidates, other)

	selected := SelectDiverse(candidates, map[string]bool{}, 10)
	subnets := map[string]int{}
	for _, p := range selected {
		subnets[extractSubnet(p.Addr)]++
	}
	for _, count := range subnets {
		assert.LessOrEqual(t, count, 1)
	}
}

func TestSelectDiverseExcludesExistingAndBanned(t *testing.T) {
	existing := newPeerEntry("10.0.0.1:9000")
	banned := newPeerEntry("10.0.0.2:9000")
	until := time.Now().Add(time.Hour)
	banned.BannedUntil = &until
	fresh := newPeerEntry("10.0.0.3:9000")

	selected := SelectDiverse([]*PeerEntry{existing, banned, fresh}, map[string]bool{"10.0.0.1:9000": true}, 10)
	var addrs []string
	for _, p := range selected {
		addrs = append(addrs, p.Addr)
	}
	assert.Contains(t, addrs, "10.0.0.3:9000")
	assert.NotContains(t, addrs, "10.0.0.1:9000")
	assert.NotContains(t, addrs, "10.0.0.2:9000")
}

func TestIsValidPeerAddress(t *testing.T) {
	assert.True(t, IsValidPeerAddress("127.0.0.1:9000"))
	assert.True(t, IsValidPeerAddress("abcdefghijklmnop.onion:9000"))
	assert.False(t, IsValidPeerAddress("not-an-address"))
}

func TestHandshakeRoundTrip(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clientPub, clientPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverResult := make(chan *PeerInfo, 1)
	serverErr := make(chan error, 1)
	go func() {
		info, err := ServerHandshake(serverConn, "server-node", serverPub, "heavy", nil, []string{"1.2.3.4:9000"})
		serverResult <- info
		serverErr <- err
	}()

	clientInfo, discovered, err := ClientHandshake(clientConn, "client-node", clientPub, clientPriv, "heavy")
	require.NoError(t, err)
	require.NoError(t, <-serverErr)

	serverInfo := <-serverResult
	assert.Equal(t, "client-node", serverInfo.NodeID)
	assert.Equal(t, "server-node", clientInfo.NodeID)
	assert.Contains(t, discovered, "1.2.3.4:9000")
}

func TestHandshakeRejectsUnauthorizedPeer(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = serverPriv
	clientPub, clientPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverErr := make(chan error, 1)
	go func() {
		_, err := ServerHandshake(serverConn, "server-node", serverPub, "heavy", []string{"some-other-node"}, nil)
		// Close as handleInbound does on failure, so the client's
		// pending read returns instead of blocking on the pipe.
		_ = serverConn.Close()
		serverErr <- err
	}()

	_, _, _ = ClientHandshake(clientConn, "client-node", clientPub, clientPriv, "heavy")
	assert.ErrorIs(t, <-serverErr, ErrHandshakeNotAuthorized)
}
