//go:build linux || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollMultiplexer is the portable, level-triggered back-end: a compact
// {fd, events} array rebuilt each Wait call and handed to poll(2) via
// golang.org/x/sys/unix.Poll, which (unlike the standard library's
// syscall package) exposes Poll uniformly across the supported
// platforms. Acceptable is the special case of READ readiness on the
// marked listener fd.
type pollMultiplexer struct {
	mu         sync.Mutex
	interests  map[int]InterestKind
	listenerFD int
}

// NewPollMultiplexer creates the portable poll back-end.
func NewPollMultiplexer() (Multiplexer, error) {
	return &pollMultiplexer{
		interests:  make(map[int]InterestKind),
		listenerFD: -1,
	}, nil
}

func (p *pollMultiplexer) MarkListener(fd int) {
	p.mu.Lock()
	p.listenerFD = fd
	p.mu.Unlock()
}

func (p *pollMultiplexer) Register(fd int, interest InterestKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interests[fd] |= interest
	return nil
}

func (p *pollMultiplexer) Unregister(fd int, interest InterestKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.interests[fd] &^ interest
	if remaining == 0 {
		delete(p.interests, fd)
		return nil
	}
	p.interests[fd] = remaining
	return nil
}

func (p *pollMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.interests))
	for fd, interest := range p.interests {
		var events int16
		if interest&InterestRead != 0 {
			events |= unix.POLLIN
		}
		if interest&InterestWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	listenerFD := p.listenerFD
	p.mu.Unlock()

	if len(fds) == 0 {
		time.Sleep(minPollIdle(timeout))
		return nil, nil
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]ReadyEvent, 0, n)
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: ErrorReady})
			continue
		}
		if fd == listenerFD && pfd.Revents&unix.POLLIN != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Acceptable})
			continue
		}
		if pfd.Revents&unix.POLLIN != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Readable})
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Writable})
		}
	}
	return ready, nil
}

func (p *pollMultiplexer) Close() error {
	return nil
}

func minPollIdle(timeout time.Duration) time.Duration {
	if timeout < 0 || timeout > 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	return timeout
}
