package reactor

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// IOMode selects blocking or non-blocking recv/send semantics for a
// Connection.
type IOMode int

const (
	Blocking IOMode = iota
	NonBlocking
)

type connState int

const (
	connActive connState = iota
	connClosed
)

var (
	// ErrUnsupportedConn is returned when a net.Conn does not expose a
	// raw file descriptor through syscall.Conn.
	ErrUnsupportedConn = errors.New("reactor: connection does not expose a raw file descriptor")
	// ErrConnectTimeout is returned by Connect when the deadline elapses
	// before the connection completes.
	ErrConnectTimeout = errors.New("reactor: connect timeout")
	// ErrPeerClosed is returned by Recv when the peer has closed its
	// half of the connection.
	ErrPeerClosed = errors.New("reactor: peer closed")
)

// Connection is one client, exclusively owned by the Reactor's connection
// table. It pairs a raw, duplicated file descriptor with a receive and a
// send ByteBuffer and enforces the edge-trigger draining discipline the
// event loop depends on: recv loops the read syscall until EAGAIN, send
// writes directly until EAGAIN and appends any unsent tail to SendBuf.
type Connection struct {
	FD      int
	Mode    IOMode
	RecvBuf *ByteBuffer
	SendBuf *ByteBuffer

	// UserData is free for a domain collaborator (the RPC codec, the
	// HTTP parser) to stash per-connection state across READ callbacks;
	// the reactor itself never reads or writes it.
	UserData interface{}

	scratch []byte
	peer    net.Addr

	mu    sync.Mutex
	state connState
}

func newConnection(fd int, mode IOMode) *Connection {
	return &Connection{
		FD:      fd,
		Mode:    mode,
		RecvBuf: &ByteBuffer{},
		SendBuf: &ByteBuffer{},
		scratch: make([]byte, 64*1024),
	}
}

// dupRawFD duplicates the OS file descriptor behind any syscall.Conn
// (a net.Conn or a net.TCPListener both qualify), decoupling the
// descriptor's kernel-level lifecycle from Go's net package lifecycle:
// once duplicated, the net object can be closed and the reactor owns
// the raw fd exclusively.
func dupRawFD(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		newfd, dupErr = unix.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if dupErr != nil {
		return -1, dupErr
	}
	return newfd, nil
}

// Connect dials addr (client role) and returns a blocking-mode Connection
// backed by a duplicated, reactor-owned file descriptor. A zero timeout
// means no deadline.
func Connect(network, addr string, timeout time.Duration) (*Connection, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.Dial(network, addr)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrConnectTimeout
		}
		return nil, err
	}
	sc, ok := nc.(syscall.Conn)
	if !ok {
		nc.Close()
		return nil, ErrUnsupportedConn
	}
	fd, err := dupRawFD(sc)
	peer := nc.RemoteAddr()
	nc.Close()
	if err != nil {
		return nil, err
	}
	// the duplicate shares the Go socket's O_NONBLOCK flag; clear it so
	// Blocking-mode Recv and Send really block
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, err
	}
	conn := newConnection(fd, Blocking)
	conn.peer = peer
	return conn, nil
}

// PeerAddr returns the connection's remote address, if known.
func (c *Connection) PeerAddr() net.Addr { return c.peer }

// Recv reads from the socket. In BLOCKING mode it performs one read of
// up to n bytes. In NONBLOCKING mode it drains the socket into RecvBuf
// until EAGAIN, then returns up to n buffered bytes; EINTR is retried
// transparently in both modes.
func (c *Connection) Recv(n int) ([]byte, bool) {
	if n <= 0 {
		n = len(c.scratch)
	}
	if c.Mode == Blocking {
		buf := make([]byte, n)
		for {
			nr, err := unix.Read(c.FD, buf)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return nil, false
			}
			if nr == 0 {
				c.markClosed()
				return nil, false
			}
			return buf[:nr], true
		}
	}

	for {
		nr, err := unix.Read(c.FD, c.scratch)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			c.markClosed()
			return nil, false
		}
		if nr == 0 {
			c.markClosed()
			break
		}
		c.RecvBuf.Append(c.scratch[:nr])
	}
	if c.RecvBuf.Empty() {
		return nil, !c.isClosed()
	}
	return c.RecvBuf.Drain(n), true
}

// Send writes b to the socket. BLOCKING mode loops until every byte is
// written or a non-EINTR error occurs. NONBLOCKING mode writes directly
// until EAGAIN and appends the unsent tail to SendBuf.
func (c *Connection) Send(b []byte) bool {
	if c.Mode == Blocking {
		total := 0
		for total < len(b) {
			nw, err := unix.Write(c.FD, b[total:])
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return false
			}
			total += nw
		}
		return true
	}

	total := 0
	for total < len(b) {
		nw, err := unix.Write(c.FD, b[total:])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		total += nw
	}
	if total < len(b) {
		c.SendBuf.Append(b[total:])
	}
	return true
}

// flushSendBuf drains as much of SendBuf as the socket accepts without
// blocking. It reports true once SendBuf is empty (IsSendAll becomes
// true) and false if bytes remain queued for the next WRITE readiness.
func (c *Connection) flushSendBuf() bool {
	if c.SendBuf.Empty() {
		return true
	}
	data := c.SendBuf.DrainAll()
	total := 0
	for total < len(data) {
		nw, err := unix.Write(c.FD, data[total:])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
		total += nw
	}
	if total < len(data) {
		c.SendBuf.Append(data[total:])
		return false
	}
	return true
}

// IsSendAll reports whether SendBuf is empty. Only meaningful in
// NONBLOCKING mode.
func (c *Connection) IsSendAll() bool {
	return c.SendBuf.Empty()
}

// Disconnect closes the underlying file descriptor. Safe to call more
// than once.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == connClosed {
		return nil
	}
	c.state = connClosed
	return unix.Close(c.FD)
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	c.state = connClosed
	c.mu.Unlock()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connClosed
}
