package reactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ReadHandler is invoked on a worker-pool goroutine once a connection's
// fd has drained readable data into its RecvBuf. It returns false to
// request that the connection be torn down.
type ReadHandler func(conn *Connection) bool

// WriteHandler is invoked on a worker-pool goroutine once a connection's
// previously-queued SendBuf bytes have fully drained to the socket and
// WRITE interest has been disarmed.
type WriteHandler func(conn *Connection)

// TimeoutHandler is invoked on a worker-pool goroutine for every
// connection the TimerWheel reports expired on a given tick; the
// reactor closes the connection once the callback returns.
type TimeoutHandler func(conn *Connection)

// Config parameterizes a Reactor. UsePoll forces the portable poll
// back-end even on Linux; left false, the reactor picks epoll on Linux
// and poll everywhere else. The back-end is fixed at construction.
type Config struct {
	Addr         string
	MaxTaskNum   int
	MaxPoolSize  int
	IdleTimeout  time.Duration
	TickInterval time.Duration
	UsePoll      bool
	Logger       *logrus.Entry
}

// Reactor is the single-machine event loop: one loop thread owns the
// listener, the multiplexer, the connection table, and the timer heap;
// user I/O callbacks run on a bounded worker pool.
type Reactor struct {
	cfg Config
	log *logrus.Entry

	listener   *net.TCPListener
	listenerFD int

	mux  Multiplexer
	sig  *SignalPipe
	tw   *TimerWheel
	pool *WorkerPool

	connMu sync.Mutex
	conns  map[int]*Connection

	onRead    ReadHandler
	onWrite   WriteHandler
	onTimeout TimeoutHandler

	stopped bool
}

// New constructs a Reactor bound to cfg.Addr. The listener's raw fd is
// duplicated so it survives independently of the *net.TCPListener Go
// allocated to obtain it, the same pattern Connect uses for outbound
// connections.
func New(cfg Config) (*Reactor, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.New())
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	lfd, err := dupRawFD(ln)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := unix.SetNonblock(lfd, true); err != nil {
		ln.Close()
		unix.Close(lfd)
		return nil, err
	}

	mux, err := newDefaultMultiplexer(cfg.UsePoll)
	if err != nil {
		ln.Close()
		unix.Close(lfd)
		return nil, err
	}
	mux.MarkListener(lfd)
	if err := mux.Register(lfd, InterestRead); err != nil {
		ln.Close()
		unix.Close(lfd)
		mux.Close()
		return nil, err
	}

	sig, err := NewSignalPipe()
	if err != nil {
		ln.Close()
		unix.Close(lfd)
		mux.Close()
		return nil, err
	}
	if err := mux.Register(sig.FD(), InterestRead); err != nil {
		ln.Close()
		unix.Close(lfd)
		mux.Close()
		sig.Close()
		return nil, err
	}

	r := &Reactor{
		cfg:        cfg,
		log:        cfg.Logger,
		listener:   ln,
		listenerFD: lfd,
		mux:        mux,
		sig:        sig,
		tw:         NewTimerWheel(),
		pool:       NewWorkerPool(cfg.MaxPoolSize, cfg.MaxTaskNum, cfg.Logger),
		conns:      make(map[int]*Connection),
	}
	return r, nil
}

// OnRead registers the callback invoked once a connection has data
// buffered for the application to consume.
func (r *Reactor) OnRead(h ReadHandler) { r.onRead = h }

// OnWrite registers the callback invoked once a connection's queued
// SendBuf bytes have fully drained to the socket.
func (r *Reactor) OnWrite(h WriteHandler) { r.onWrite = h }

// OnTimeout registers the callback invoked, on a worker-pool goroutine,
// for each connection the TimerWheel reports as idle-expired.
func (r *Reactor) OnTimeout(h TimeoutHandler) { r.onTimeout = h }

// OnSignal registers a user callback for an additional signal beyond the
// four the SignalPipe always funnels (SIGALRM/SIGINT/SIGTERM/SIGPIPE).
func (r *Reactor) OnSignal(sig unix.Signal, cb func()) { r.sig.OnSignal(sig, cb) }

// Run arms the periodic SIGALRM-driven timeout tick and blocks, dispatching
// readiness events until a shutdown signal is observed or mux.Wait returns
// a non-EINTR error.
func (r *Reactor) Run() error {
	seconds := int(r.cfg.TickInterval / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	armAlarm(seconds)
	defer armAlarm(0)

	for {
		events, err := r.mux.Wait(-1)
		if err != nil {
			r.log.WithError(err).Error("multiplexer wait failed")
			return err
		}
		for _, ev := range events {
			r.dispatch(ev)
		}
		if r.stopped {
			return nil
		}
	}
}

// Addr returns the address the listener is bound to, useful when the
// configured port was 0 and the OS picked one.
func (r *Reactor) Addr() net.Addr { return r.listener.Addr() }

// Stop requests a graceful shutdown as if SIGTERM had been delivered:
// a shutdown byte enters the signal pipe and Run exits once the current
// ready batch has been processed.
func (r *Reactor) Stop() { r.sig.RequestShutdown() }

// ShutdownRequested reports whether Run returned because SIGINT/SIGTERM
// was observed, as opposed to an unrecoverable multiplexer error. Callers
// use this to pick the process exit code: 1 for a graceful signal-driven
// stop, same as a fatal init failure, 0 only when no stop
// was ever requested (e.g. Run was never called or was interrupted by
// the caller some other way).
func (r *Reactor) ShutdownRequested() bool { return r.stopped }

func (r *Reactor) dispatch(ev ReadyEvent) {
	switch {
	case ev.FD == r.sig.FD():
		r.handleSignal()
	case ev.Kind == Acceptable:
		r.handleAccept()
	case ev.Kind == ErrorReady:
		r.handleError(ev.FD)
	case ev.Kind == Readable:
		r.handleReadable(ev.FD)
	case ev.Kind == Writable:
		r.handleWritable(ev.FD)
	}
}

// handleAccept drains every pending connection from the listen backlog,
// matching edge-triggered semantics: epoll only re-notifies once the
// backlog transitions from empty to non-empty, so a single ACCEPTABLE
// event can represent more than one waiting connection.
func (r *Reactor) handleAccept() {
	for {
		cfd, _, err := unix.Accept(r.listenerFD)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			r.log.WithError(err).Warn("accept failed")
			return
		}
		if err := unix.SetNonblock(cfd, true); err != nil {
			unix.Close(cfd)
			continue
		}
		conn := newConnection(cfd, NonBlocking)
		r.connMu.Lock()
		r.conns[cfd] = conn
		r.connMu.Unlock()

		if err := r.mux.Register(cfd, InterestRead); err != nil {
			r.removeConnection(conn)
			continue
		}
		r.tw.Add(conn, r.cfg.IdleTimeout)
	}
}

func (r *Reactor) handleSignal() {
	res := r.sig.Drain()
	for _, cb := range res.UserCallbacks {
		cb()
	}
	if res.TimerExpired {
		r.runTimeouts()
		seconds := int(r.cfg.TickInterval / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		armAlarm(seconds)
	}
	if res.ShutdownRequested {
		r.stopped = true
	}
}

// runTimeouts ticks the TimerWheel on the loop thread, then hands each
// expired connection to a worker-pool task that fires onTimeout and
// tears the connection down. Teardown stays inside the same task, after
// the callback, so a slow callback can never observe an fd the loop
// already closed and the kernel re-issued to a fresh accept. If the
// pool is saturated the connection is still closed, just without its
// callback.
func (r *Reactor) runTimeouts() {
	expired := r.tw.Tick(time.Now())
	for _, conn := range expired {
		conn := conn
		submitted := r.pool.Submit(func() {
			if r.onTimeout != nil {
				r.onTimeout(conn)
			}
			r.removeConnection(conn)
		})
		if !submitted {
			r.log.WithField("fd", conn.FD).Warn("worker pool saturated, closing idle connection without callback")
			r.removeConnection(conn)
		}
	}
}

func (r *Reactor) lookupConn(fd int) (*Connection, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	c, ok := r.conns[fd]
	return c, ok
}

// handleReadable enqueues a worker-pool task that invokes onRead. The
// callback itself drains the socket via Connection.Recv, which fills
// RecvBuf to would-block before serving bytes; the reactor must not
// pre-consume those bytes, or the callback would see an empty buffer.
// The idle deadline is re-armed here, on the loop thread, before the
// task is queued: re-arming from inside the task would race a
// concurrent ErrorReady teardown and could resurrect a timer entry for
// a connection already removed. Re-arming WRITE interest after the
// callback runs (when the handler queued an unsent reply) does happen
// inside the task, on the worker goroutine. At most one outstanding
// task touches a given fd's interest at a time under edge-triggered
// dispatch, and both back-ends synchronize Register/Unregister
// internally, so this is race-free in practice; see DESIGN.md.
func (r *Reactor) handleReadable(fd int) {
	conn, ok := r.lookupConn(fd)
	if !ok {
		return
	}
	r.tw.Remove(conn)
	r.tw.Add(conn, r.cfg.IdleTimeout)
	submitted := r.pool.Submit(func() {
		keep := true
		if r.onRead != nil {
			keep = r.onRead(conn)
		}
		if !keep {
			r.removeConnection(conn)
			return
		}
		if !conn.IsSendAll() {
			r.mux.Register(conn.FD, InterestWrite)
		}
	})
	if !submitted {
		r.log.WithField("fd", fd).Warn("worker pool saturated, dropping read dispatch")
	}
}

// handleWritable enqueues a worker-pool task that flushes SendBuf. Once
// the buffer fully drains, WRITE interest is dropped and the user's
// write callback runs. If the callback itself queued another
// reply that did not go out in full, WRITE interest is re-armed so the
// send-buffer invariant (WRITE registered iff SendBuf non-empty) holds
// after the callback returns.
func (r *Reactor) handleWritable(fd int) {
	conn, ok := r.lookupConn(fd)
	if !ok {
		return
	}
	submitted := r.pool.Submit(func() {
		if !conn.flushSendBuf() {
			return
		}
		r.mux.Unregister(conn.FD, InterestWrite)
		if r.onWrite != nil {
			r.onWrite(conn)
		}
		if !conn.IsSendAll() {
			r.mux.Register(conn.FD, InterestWrite)
		}
	})
	if !submitted {
		r.log.WithField("fd", fd).Warn("worker pool saturated, dropping write dispatch")
	}
}

func (r *Reactor) handleError(fd int) {
	conn, ok := r.lookupConn(fd)
	if !ok {
		return
	}
	r.removeConnection(conn)
}

// removeConnection tears conn down exactly once: deregisters it from the
// multiplexer and the timer wheel, closes its fd, and drops it from the
// connection table.
func (r *Reactor) removeConnection(conn *Connection) {
	r.connMu.Lock()
	_, ok := r.conns[conn.FD]
	delete(r.conns, conn.FD)
	r.connMu.Unlock()
	if !ok {
		return
	}
	r.tw.Remove(conn)
	r.mux.Unregister(conn.FD, InterestRead|InterestWrite)
	conn.Disconnect()
}

// Close tears down the reactor's own resources: the listener, the
// multiplexer back-end, the signal pipe, and the worker pool. It does
// not wait for Run to return; callers typically trigger shutdown via
// SIGINT/SIGTERM and let Run observe ShutdownRequested.
func (r *Reactor) Close() error {
	r.pool.Stop()
	r.mux.Close()
	r.sig.Close()
	if err := r.listener.Close(); err != nil {
		return err
	}
	return unix.Close(r.listenerFD)
}

// String reports a short diagnostic summary, used in log lines only.
func (r *Reactor) String() string {
	r.connMu.Lock()
	n := len(r.conns)
	r.connMu.Unlock()
	return fmt.Sprintf("reactor(addr=%s, conns=%d, timers=%d)", r.cfg.Addr, n, r.tw.Len())
}
