package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/timeutil"
)

func TestNewUDPListener_Defaults(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: ":2368"})
	assert.Equal(t, time.Minute, l.logInterval)
	assert.NotNil(t, l.stats)
	assert.IsType(t, &RealUDPSocketFactory{}, l.socketFactory)
	assert.IsType(t, timeutil.RealClock{}, l.clock)
	assert.Nil(t, l.Conn())
}

func TestUDPListener_DeliversCopiedPackets(t *testing.T) {
	first := []byte{1, 2, 3}
	second := []byte{4, 5}
	sock := newMockUDPSocket(first, second)
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	stats := NewPacketStats()

	got := make(chan parse.Packet, 2)
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		RcvBuf:        4096,
		Stats:         stats,
		Handler:       PacketHandlerFunc(func(p parse.Packet) { got <- p }),
		SocketFactory: &mockUDPSocketFactory{socket: sock},
		Clock:         clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	var pkts []parse.Packet
	for len(pkts) < 2 {
		select {
		case p := <-got:
			pkts = append(pkts, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for packets")
		}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, first, pkts[0].Data)
	assert.Equal(t, second, pkts[1].Data)
	assert.True(t, pkts[0].Stamp.Equal(clock.Now()))
	// The receive buffer is reused, so each packet must own its bytes.
	assert.NotSame(t, &pkts[0].Data[0], &pkts[1].Data[0])

	assert.Equal(t, 4096, sock.readBufferSize)
	assert.True(t, sock.isClosed())
	packets, _ := stats.Totals()
	assert.Equal(t, int64(2), packets)
}

func TestUDPListener_ListenError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		SocketFactory: &mockUDPSocketFactory{err: errors.New("address in use")},
	})
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestUDPListener_BadAddress(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "not an address"})
	require.Error(t, l.Start(context.Background()))
}

func TestUDPListener_ClosedSocketStopsCleanly(t *testing.T) {
	sock := newMockUDPSocket()
	sock.setBufferError = errors.New("no buffer for you")
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		RcvBuf:        1,
		SocketFactory: &mockUDPSocketFactory{socket: sock},
	})

	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background()) }()

	require.Eventually(t, func() bool { return l.Conn() != nil }, time.Second, time.Millisecond)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after Close")
	}
}

func TestUDPListener_ReadErrorContinues(t *testing.T) {
	sock := newMockUDPSocket([]byte{9})
	sock.readError = &net.OpError{Op: "read", Net: "udp", Err: errors.New("connection refused")}
	got := make(chan parse.Packet, 1)
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:2368",
		Handler:       PacketHandlerFunc(func(p parse.Packet) { got <- p }),
		SocketFactory: &mockUDPSocketFactory{socket: sock},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	select {
	case p := <-got:
		assert.Equal(t, []byte{9}, p.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("packet after read error was not delivered")
	}
}
