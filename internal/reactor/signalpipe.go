package reactor

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// SignalPipe is the "unified event source": a self-pipe that funnels
// SIGALRM, SIGINT, SIGTERM, SIGPIPE, and user-registered signals into a
// single readable descriptor the reactor's Multiplexer can wait on
// alongside ordinary sockets. The classic C shape of this technique
// installs an asynchronous signal handler that does nothing but write
// one byte to the pipe.
//
// Go's runtime does not let user code install a C-style signal handler,
// so the one-byte write happens instead in a small pump goroutine fed by
// os/signal.Notify -- the closest a Go program can get to the same
// contract: every other signal decision (which callback fires, whether
// the loop should stop) still happens synchronously on the reactor's loop
// thread, inside Drain, never inside the pump goroutine itself. Signal
// delivery is process-wide, so only one SignalPipe may exist per process;
// NewSignalPipe enforces that with a package-level guard.
type SignalPipe struct {
	readFD, writeFD int

	notifyCh chan os.Signal
	done     chan struct{}

	mu      sync.Mutex
	userCbs map[unix.Signal]func()
}

var (
	signalPipeMu     sync.Mutex
	signalPipeExists bool

	errSignalPipeAlreadyExists = errors.New("reactor: a SignalPipe already exists in this process")
)

// NewSignalPipe creates the process-singleton signal pipe. It is an
// error to call this more than once per process without Close-ing the
// previous instance first.
func NewSignalPipe() (*SignalPipe, error) {
	signalPipeMu.Lock()
	if signalPipeExists {
		signalPipeMu.Unlock()
		return nil, errSignalPipeAlreadyExists
	}
	signalPipeExists = true
	signalPipeMu.Unlock()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		releaseSignalPipeSlot()
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			releaseSignalPipeSlot()
			return nil, err
		}
	}

	sp := &SignalPipe{
		readFD:   fds[0],
		writeFD:  fds[1],
		notifyCh: make(chan os.Signal, 64),
		done:     make(chan struct{}),
		userCbs:  make(map[unix.Signal]func()),
	}
	signal.Notify(sp.notifyCh, unix.SIGALRM, unix.SIGINT, unix.SIGTERM, unix.SIGPIPE)
	go sp.pump()
	return sp, nil
}

func releaseSignalPipeSlot() {
	signalPipeMu.Lock()
	signalPipeExists = false
	signalPipeMu.Unlock()
}

// pump is the only goroutine that touches the pipe's write end. Per
// signal received from the Go runtime it performs exactly one action: a
// single-byte, non-blocking write of the signal number, matching the
// async-signal-safety contract of the classic self-pipe handler.
func (sp *SignalPipe) pump() {
	for {
		select {
		case sig := <-sp.notifyCh:
			if s, ok := sig.(unix.Signal); ok {
				unix.Write(sp.writeFD, []byte{byte(s)})
			}
		case <-sp.done:
			return
		}
	}
}

// FD returns the read end the reactor registers with its Multiplexer.
func (sp *SignalPipe) FD() int { return sp.readFD }

// OnSignal registers a user callback for sig, to be run synchronously on
// the reactor's loop thread the next time Drain observes it.
func (sp *SignalPipe) OnSignal(sig unix.Signal, cb func()) {
	sp.mu.Lock()
	sp.userCbs[sig] = cb
	sp.mu.Unlock()
	signal.Notify(sp.notifyCh, sig)
}

// RequestShutdown injects a SIGTERM byte into the pipe, letting callers
// trigger the same graceful-stop path a real SIGTERM delivery would take.
func (sp *SignalPipe) RequestShutdown() {
	unix.Write(sp.writeFD, []byte{byte(unix.SIGTERM)})
}

// DrainResult summarizes one call to Drain.
type DrainResult struct {
	TimerExpired      bool
	ShutdownRequested bool
	UserCallbacks     []func()
}

// Drain reads every signal byte currently buffered in the pipe -- looping
// until EAGAIN, since multiple signals delivered between loop turns are
// concatenated into one read -- and classifies them. All of the actual
// signal handling logic runs here, synchronously, on whichever goroutine
// calls Drain (the reactor's loop thread), never inside pump.
func (sp *SignalPipe) Drain() DrainResult {
	var res DrainResult
	buf := make([]byte, 256)
	for {
		n, err := unix.Read(sp.readFD, buf)
		if n <= 0 {
			break
		}
		sp.mu.Lock()
		for i := 0; i < n; i++ {
			sig := unix.Signal(buf[i])
			switch sig {
			case unix.SIGALRM:
				res.TimerExpired = true
			case unix.SIGINT, unix.SIGTERM:
				res.ShutdownRequested = true
			case unix.SIGPIPE:
				// funneled and discarded: dead-peer writes surface as
				// ordinary I/O errors instead.
			default:
				if cb, ok := sp.userCbs[sig]; ok {
					res.UserCallbacks = append(res.UserCallbacks, cb)
				}
			}
		}
		sp.mu.Unlock()
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err != nil {
			break
		}
	}
	return res
}

// Close tears down the pipe and stops the pump goroutine. Safe to call
// once; the process may then construct a new SignalPipe.
func (sp *SignalPipe) Close() error {
	signal.Stop(sp.notifyCh)
	close(sp.done)
	err1 := unix.Close(sp.writeFD)
	err2 := unix.Close(sp.readFD)
	releaseSignalPipeSlot()
	if err1 != nil {
		return err1
	}
	return err2
}
