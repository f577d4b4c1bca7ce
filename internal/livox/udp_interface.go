package livox

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPSocket defines the socket operations the runtime uses.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends b to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDP sockets.
type UDPSocketFactory interface {
	// ListenUDP creates and returns a new UDP socket.
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
// *net.UDPConn satisfies UDPSocket directly.
type RealUDPSocketFactory struct{}

// ListenUDP creates a new UDP socket.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. It is safe for use by
// the runtime's reader goroutines while a test pushes packets.
type MockUDPSocket struct {
	mu sync.Mutex

	packets      []MockUDPPacket
	writes       []MockUDPPacket
	closed       bool
	readBuffer   int
	readDeadline time.Time
	localAddr    *net.UDPAddr

	// OnWrite, when set, runs after each WriteToUDP outside the lock.
	OnWrite func(data []byte, addr *net.UDPAddr)
}

// MockUDPPacket represents a datagram read from or written to a mock socket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a MockUDPSocket bound to laddr.
func NewMockUDPSocket(laddr *net.UDPAddr) *MockUDPSocket {
	return &MockUDPSocket{localAddr: laddr}
}

// Push queues a datagram for ReadFromUDP.
func (m *MockUDPSocket) Push(data []byte, from *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, MockUDPPacket{Data: append([]byte(nil), data...), Addr: from})
}

// ReadFromUDP returns the next queued datagram or a timeout error.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(m.packets) == 0 {
		m.mu.Unlock()
		// Let the reader loop spin at a realistic rate.
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.packets[0]
	m.packets = m.packets[1:]
	m.mu.Unlock()
	return copy(b, pkt.Data), pkt.Addr, nil
}

// WriteToUDP records the datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, net.ErrClosed
	}
	data := append([]byte(nil), b...)
	m.writes = append(m.writes, MockUDPPacket{Data: data, Addr: addr})
	hook := m.OnWrite
	m.mu.Unlock()
	if hook != nil {
		hook(data, addr)
	}
	return len(b), nil
}

// Writes returns the datagrams written so far.
func (m *MockUDPSocket) Writes() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockUDPPacket(nil), m.writes...)
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuffer = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDeadline = t
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LocalAddr returns the bound address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.localAddr
}

// MockUDPSocketFactory hands out one MockUDPSocket per bound port.
type MockUDPSocketFactory struct {
	mu      sync.Mutex
	sockets map[int]*MockUDPSocket

	// FailPort, when non-zero, makes ListenUDP on that port fail.
	FailPort int
}

// NewMockUDPSocketFactory creates an empty MockUDPSocketFactory.
func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{sockets: make(map[int]*MockUDPSocket)}
}

// ListenUDP returns a fresh mock socket for laddr's port.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPort != 0 && laddr.Port == f.FailPort {
		return nil, fmt.Errorf("listen %s %s: address already in use", network, laddr)
	}
	s := NewMockUDPSocket(laddr)
	f.sockets[laddr.Port] = s
	return s, nil
}

// Socket returns the socket bound to port, or nil.
func (f *MockUDPSocketFactory) Socket(port int) *MockUDPSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sockets[port]
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
