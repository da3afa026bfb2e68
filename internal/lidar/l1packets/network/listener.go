package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/lidar/l1packets/parse"
	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
	"github.com/banshee-data/velodyne-cloud/internal/timeutil"
)

// DefaultPort is the Velodyne data port.
const DefaultPort = 2368

// readTimeout bounds each socket read so cancellation is noticed promptly.
const readTimeout = 100 * time.Millisecond

// PacketHandler consumes received packets. The packet's Data is owned by
// the handler.
type PacketHandler interface {
	HandlePacket(pkt parse.Packet)
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(pkt parse.Packet)

// HandlePacket calls f(pkt).
func (f PacketHandlerFunc) HandlePacket(pkt parse.Packet) { f(pkt) }

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string // host:port, e.g. ":2368"
	RcvBuf        int
	LogInterval   time.Duration
	Stats         *PacketStats
	Forwarder     *PacketForwarder
	Handler       PacketHandler
	SocketFactory UDPSocketFactory // nil uses real sockets
	Clock         timeutil.Clock   // stamps received packets; nil uses RealClock
}

// UDPListener receives sensor packets, stamps them with their receipt time
// and passes them to a PacketHandler.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	stats         *PacketStats
	forwarder     *PacketForwarder
	handler       PacketHandler
	socketFactory UDPSocketFactory
	clock         timeutil.Clock

	connMu sync.RWMutex
	conn   UDPSocket
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = NewPacketStats()
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = NewRealUDPSocketFactory()
	}
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		stats:         stats,
		forwarder:     config.Forwarder,
		handler:       config.Handler,
		socketFactory: socketFactory,
		clock:         clock,
	}
}

// Start listens until ctx is cancelled or the socket is closed.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes", l.address, l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.startStatsLogging(ctx)

	buffer := make([]byte, 2048) // 1206-byte data packets plus margin
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil && !deadlineErrLogged {
			monitoring.Logf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		l.handlePacket(buffer[:n])
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket copies data out of the shared receive buffer.
func (l *UDPListener) handlePacket(data []byte) {
	l.stats.AddPacket(len(data))
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(data)
	}
	if l.handler == nil {
		return
	}
	pkt := parse.Packet{Stamp: l.clock.Now(), Data: make([]byte, len(data))}
	copy(pkt.Data, data)
	l.handler.HandlePacket(pkt)
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// Conn returns the active socket, or nil before Start.
func (l *UDPListener) Conn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Close closes the socket. It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
