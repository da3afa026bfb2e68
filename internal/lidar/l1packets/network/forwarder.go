package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/velodyne-cloud/internal/monitoring"
)

// forwardQueueSize is the number of packets buffered before dropping.
const forwardQueueSize = 1000

// DropCounter records packets the forwarder had to drop.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder relays raw packets to another UDP address without
// blocking the receive path. Packets that do not fit in the queue are
// dropped and counted.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewPacketForwarder dials addr:port. stats may be nil.
func NewPacketForwarder(addr string, port int, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, strconv.Itoa(port))
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
		done:        make(chan struct{}),
	}, nil
}

// Address returns the destination host:port.
func (f *PacketForwarder) Address() string { return f.address }

// Start runs the send loop until ctx is cancelled or Close is called. Write
// errors are summarised once per log interval. Only the first call starts a
// loop, so packets leave in queue order.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() { f.start(ctx) })
}

func (f *PacketForwarder) start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Logf("Dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet. It never blocks.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	select {
	case <-f.done:
		return
	default:
	}

	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close stops forwarding and closes the connection. It is safe to call more
// than once.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
