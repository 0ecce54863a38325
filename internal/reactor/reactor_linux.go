//go:build linux

package reactor

import "golang.org/x/sys/unix"

// newDefaultMultiplexer picks the edge-triggered epoll back-end unless
// the caller forced the portable poll back-end.
func newDefaultMultiplexer(usePoll bool) (Multiplexer, error) {
	if usePoll {
		return NewPollMultiplexer()
	}
	return NewEpollMultiplexer()
}

// armAlarm schedules a SIGALRM delivery in seconds via alarm(2); zero
// cancels the outstanding alarm. Called only from the loop thread.
func armAlarm(seconds int) {
	unix.Alarm(uint(seconds))
}
