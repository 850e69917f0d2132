// Poller wraps the POSIX poll(2) syscall (via golang.org/x/sys/unix)
// as the I/O-event multiplexing facility spec.md §4.5 calls for: a
// thread that issues an iowait RFF signal registers its fd here, and
// the scheduler's round calls Ready once to find out which waiting
// threads became I/O-ready, rather than polling each fd individually.
package scheduler

import (
	"golang.org/x/sys/unix"
)

// Poller tracks a set of file descriptors threads are blocked on.
type Poller struct {
	waiters map[int]int64 // fd -> thread ID
}

// NewPoller constructs an empty Poller.
func NewPoller() *Poller {
	return &Poller{waiters: make(map[int]int64)}
}

// Watch registers fd as the descriptor threadID's thread is blocked
// reading from.
func (p *Poller) Watch(fd int, threadID int64) {
	p.waiters[fd] = threadID
}

// Forget removes fd from the watch set, e.g. once its thread has been
// woken or killed.
func (p *Poller) Forget(fd int) {
	delete(p.waiters, fd)
}

// Ready polls every watched fd with the given timeout (milliseconds;
// 0 means return immediately, -1 means block until at least one fd is
// ready) and returns the thread IDs whose fd became readable.
func (p *Poller) Ready(timeoutMillis int) ([]int64, error) {
	if len(p.waiters) == 0 {
		return nil, nil
	}
	fds := make([]unix.PollFd, 0, len(p.waiters))
	order := make([]int, 0, len(p.waiters))
	for fd := range p.waiters {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		order = append(order, fd)
	}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	var ready []int64
	for i, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			fd := order[i]
			ready = append(ready, p.waiters[fd])
			delete(p.waiters, fd)
		}
	}
	return ready, nil
}
