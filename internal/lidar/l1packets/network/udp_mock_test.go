package network

import (
	"net"
	"sync"
	"time"
)

// mockUDPSocket implements UDPSocket for testing. Reads past the end of
// Packets report a timeout, as a real socket with a deadline would.
type mockUDPSocket struct {
	mu             sync.Mutex
	packets        [][]byte
	readIndex      int
	closed         bool
	readBufferSize int
	readError      error
	setBufferError error
}

func newMockUDPSocket(packets ...[]byte) *mockUDPSocket {
	return &mockUDPSocket{packets: packets}
}

func (m *mockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if m.readError != nil {
		err := m.readError
		m.readError = nil
		return 0, nil, err
	}
	if m.readIndex >= len(m.packets) {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	n := copy(b, m.packets[m.readIndex])
	m.readIndex++
	return n, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 201), Port: DefaultPort}, nil
}

func (m *mockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setBufferError != nil {
		return m.setBufferError
	}
	m.readBufferSize = bytes
	return nil
}

func (m *mockUDPSocket) SetReadDeadline(time.Time) error { return nil }

func (m *mockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}
}

func (m *mockUDPSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockUDPSocketFactory struct {
	socket *mockUDPSocket
	err    error
}

func (f *mockUDPSocketFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.socket, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
