// Package transport supplies the two wire carriers §6 names: a reliable
// TCP connection for the client/exchange request-response protocol, and
// a UDP multicast group for the one-to-many market-data streams.
package transport

import (
	"fmt"
	"net"
	"time"

	"lowlatency-exchange/common"
)

// Conn is the minimal send/receive-with-timestamp seam every component
// downstream of the network needs — every Conn also satisfies
// marketdata.Sender, which needs just Send; the order server additionally needs Recv's kernel-adjacent
// receive timestamp to feed the sequencer (§4.5).
type Conn interface {
	Send(b []byte) error
	// Recv reads up to len(b) bytes non-blocking. n==0, err==nil means no
	// data was available right now, matching MSG_DONTWAIT's EAGAIN.
	Recv(b []byte) (n int, recvTime common.Nanos, err error)
	Close() error
}

// TCPConn is the default implementation of the client <-> exchange byte
// stream. Reads are non-blocking via a short deadline, the same
// EAGAIN-equivalent MSG_DONTWAIT behavior the original's raw sockets use,
// so the order-server read loop can poll many connections without
// blocking on any one of them.
type TCPConn struct {
	conn net.Conn
}

// DialTCP connects to addr for the trading side's order-gateway socket.
func DialTCP(addr string) (*TCPConn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &TCPConn{conn: c}, nil
}

// NewTCPConn wraps an already-accepted connection, as the exchange side's
// listener hands one per client.
func NewTCPConn(c net.Conn) *TCPConn { return &TCPConn{conn: c} }

func (t *TCPConn) Send(b []byte) error {
	_, err := t.conn.Write(b)
	return err
}

func (t *TCPConn) Recv(b []byte) (int, common.Nanos, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(time.Microsecond))
	n, err := t.conn.Read(b)
	recvTime := common.Nanos(time.Now().UnixNano())
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, recvTime, nil
		}
		return n, recvTime, err
	}
	return n, recvTime, nil
}

func (t *TCPConn) Close() error { return t.conn.Close() }

// TCPListener wraps net.Listener for the exchange side's order-server
// accept loop.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds the exchange side's order-server listening socket.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next client connection. The order-server calls
// this from a dedicated goroutine, separate from the per-core read loop
// that then polls the accepted set.
func (l *TCPListener) Accept() (*TCPConn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPConn(c), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }

// MulticastConn is the UDP multicast carrier for the market-data streams
// (§6's "Exchange -> World UDP multicast protocols"). A publisher-side
// MulticastConn only ever calls Send; a consumer-side one Joins before
// Recv starts returning datagrams and Leave's to unsubscribe (§4.8's
// "subscribe to the snapshot stream" / "unsubscribe" steps).
type MulticastConn struct {
	group    *net.UDPAddr
	iface    *net.Interface
	pub      *net.UDPConn // publisher socket, bound to an ephemeral local port
	sub      *net.UDPConn // subscriber socket, bound to the group address
	joined   bool
	readOnly bool
}

// NewMulticastPublisher opens a send-only multicast socket targeting
// group:port.
func NewMulticastPublisher(group string, port int, ifaceName string) (*MulticastConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial multicast %s:%d: %w", group, port, err)
	}
	iface, _ := net.InterfaceByName(ifaceName)
	return &MulticastConn{group: addr, iface: iface, pub: conn}, nil
}

// NewMulticastSubscriber opens a receive-only multicast socket bound to
// group:port, without joining the group yet — Join does that, mirroring
// the original's split between Init (create the socket) and Join (IGMP
// subscribe).
func NewMulticastSubscriber(group string, port int, ifaceName string) (*MulticastConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("transport: interface %s: %w", ifaceName, err)
	}
	return &MulticastConn{group: addr, iface: iface, readOnly: true}, nil
}

// Join subscribes to the multicast group (IGMP join), after which Recv
// starts returning datagrams sent to it.
func (m *MulticastConn) Join() error {
	if m.joined {
		return nil
	}
	conn, err := net.ListenMulticastUDP("udp", m.iface, m.group)
	if err != nil {
		return fmt.Errorf("transport: join %s: %w", m.group, err)
	}
	m.sub = conn
	m.joined = true
	return nil
}

// Leave unsubscribes from the multicast group (IGMP leave), per §4.8's
// recovery-exit step.
func (m *MulticastConn) Leave() error {
	if !m.joined {
		return nil
	}
	err := m.sub.Close()
	m.sub = nil
	m.joined = false
	return err
}

func (m *MulticastConn) Send(b []byte) error {
	_, err := m.pub.Write(b)
	return err
}

func (m *MulticastConn) Recv(b []byte) (int, common.Nanos, error) {
	if !m.joined {
		return 0, 0, nil
	}
	_ = m.sub.SetReadDeadline(time.Now().Add(time.Microsecond))
	n, err := m.sub.Read(b)
	recvTime := common.Nanos(time.Now().UnixNano())
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, recvTime, nil
		}
		return n, recvTime, err
	}
	return n, recvTime, nil
}

func (m *MulticastConn) Close() error {
	var err error
	if m.sub != nil {
		err = m.sub.Close()
	}
	if m.pub != nil {
		if e := m.pub.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
