//go:build !linux

package sigwait

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Waiter emulates the Linux signalfd interface with the classic
// self-pipe trick: a goroutine forwards os/signal notifications into a
// pipe whose read end is safe to add to a poll(2) set.
type Waiter struct {
	r, w  int
	ch    chan os.Signal
	sigterm bool
}

// New starts relaying SIGCHLD and SIGTERM into a pipe.
func New() (*Waiter, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	w := &Waiter{r: fds[0], w: fds[1], ch: make(chan os.Signal, 16)}
	signal.Notify(w.ch, syscall.SIGCHLD, syscall.SIGTERM)
	go w.relay()
	return w, nil
}

func (w *Waiter) relay() {
	for sig := range w.ch {
		if sig == syscall.SIGTERM {
			unix.Write(w.w, []byte{1})
		} else {
			unix.Write(w.w, []byte{0})
		}
	}
}

// Fd returns the pipe's read end for inclusion in a poll(2) set.
func (w *Waiter) Fd() int { return w.r }

// Drain reads every pending byte and reports whether a SIGTERM was
// among them.
func (w *Waiter) Drain() (sawSigterm bool, err error) {
	var buf [128]byte
	for {
		n, rerr := unix.Read(w.r, buf[:])
		if n <= 0 {
			if rerr == unix.EAGAIN || n == 0 {
				return sawSigterm, nil
			}
			return sawSigterm, rerr
		}
		for _, b := range buf[:n] {
			if b == 1 {
				sawSigterm = true
			}
		}
	}
}

// Close stops signal relaying and releases the pipe.
func (w *Waiter) Close() error {
	signal.Stop(w.ch)
	close(w.ch)
	unix.Close(w.w)
	return unix.Close(w.r)
}
