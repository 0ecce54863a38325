//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollMultiplexer is the Linux fast-path Multiplexer back-end: edge
// triggered, growable event array. Built on golang.org/x/sys/unix's
// epoll wrappers so the portable poll back-end can build against the
// same package (see poller_poll.go).
type epollMultiplexer struct {
	epfd       int
	listenerFD int

	mu        sync.Mutex
	interests map[int]InterestKind

	events []unix.EpollEvent
}

// NewEpollMultiplexer creates the edge-triggered epoll back-end.
func NewEpollMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollMultiplexer{
		epfd:       epfd,
		listenerFD: -1,
		interests:  make(map[int]InterestKind),
		events:     make([]unix.EpollEvent, initialEvents),
	}, nil
}

func (p *epollMultiplexer) MarkListener(fd int) {
	p.mu.Lock()
	p.listenerFD = fd
	p.mu.Unlock()
}

func epollEventsFor(interest InterestKind) uint32 {
	ev := uint32(unix.EPOLLET)
	if interest&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollMultiplexer) Register(fd int, interest InterestKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.interests[fd]
	newInterest := existing | interest
	ev := unix.EpollEvent{Fd: int32(fd), Events: epollEventsFor(newInterest)}

	op := unix.EPOLL_CTL_ADD
	if ok {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return err
	}
	p.interests[fd] = newInterest
	return nil
}

func (p *epollMultiplexer) Unregister(fd int, interest InterestKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.interests[fd]
	if !ok {
		return nil
	}
	newInterest := existing &^ interest
	if newInterest == 0 {
		delete(p.interests, fd)
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.ENOENT {
			return nil
		}
		return err
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: epollEventsFor(newInterest)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.interests[fd] = newInterest
	return nil
}

func (p *epollMultiplexer) Wait(timeout time.Duration) ([]ReadyEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	p.mu.Lock()
	events := p.events
	listenerFD := p.listenerFD
	p.mu.Unlock()

	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]ReadyEvent, 0, n)
	for i := 0; i < n; i++ {
		e := events[i]
		fd := int(e.Fd)
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: ErrorReady})
			continue
		}
		if fd == listenerFD && e.Events&unix.EPOLLIN != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Acceptable})
			continue
		}
		if e.Events&unix.EPOLLIN != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Readable})
		}
		if e.Events&unix.EPOLLOUT != 0 {
			ready = append(ready, ReadyEvent{FD: fd, Kind: Writable})
		}
	}

	// Grow the event array when a turn fully saturates it, up to the cap,
	// so a burst of simultaneously-ready connections is seen in fewer
	// EpollWait round trips on the next turn.
	if n == len(events) {
		p.mu.Lock()
		if len(p.events) < maxEventsCap {
			next := len(p.events) * 2
			if next > maxEventsCap {
				next = maxEventsCap
			}
			p.events = make([]unix.EpollEvent, next)
		}
		p.mu.Unlock()
	}

	return ready, nil
}

func (p *epollMultiplexer) Close() error {
	return unix.Close(p.epfd)
}
