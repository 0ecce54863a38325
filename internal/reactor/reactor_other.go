//go:build freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// newDefaultMultiplexer: only the level-triggered poll back-end exists
// off Linux, so usePoll is moot.
func newDefaultMultiplexer(usePoll bool) (Multiplexer, error) {
	return NewPollMultiplexer()
}

// alarmTimer emulates the single outstanding alarm(2) slot where x/sys
// does not wrap the syscall. One Reactor per process (the SignalPipe is
// a process singleton) and armAlarm is called only from the loop
// thread, so a bare package variable suffices.
var alarmTimer *time.Timer

// armAlarm schedules a real SIGALRM delivery to this process in
// seconds; zero cancels the outstanding one. The signal reaches the
// loop through the signal pipe like any other delivery.
func armAlarm(seconds int) {
	if alarmTimer != nil {
		alarmTimer.Stop()
		alarmTimer = nil
	}
	if seconds <= 0 {
		return
	}
	alarmTimer = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		unix.Kill(unix.Getpid(), unix.SIGALRM)
	})
}
