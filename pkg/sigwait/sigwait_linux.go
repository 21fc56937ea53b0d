//go:build linux

// Package sigwait exposes SIGCHLD/SIGTERM delivery as a readable file
// descriptor the I/O multiplexer can add to its single poll(2) set,
// instead of a Go signal channel: the multiplexer is a raw-syscall
// single-threaded loop and must not hand control to the runtime's own
// signal-handling goroutine to find out whether a child exited.
package sigwait

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Waiter owns a signalfd armed for SIGCHLD and SIGTERM, with both
// signals blocked from their normal disposition so they are only
// observable by reading this fd.
type Waiter struct {
	fd int
}

func sigaddset(set *unix.Sigset_t, signo int) {
	bit := uint(signo - 1)
	set.Val[bit/64] |= 1 << (bit % 64)
}

// New blocks SIGCHLD and SIGTERM for the calling thread and returns a
// Waiter wrapping a non-blocking, close-on-exec signalfd for them.
func New() (*Waiter, error) {
	var mask unix.Sigset_t
	sigaddset(&mask, int(unix.SIGCHLD))
	sigaddset(&mask, int(unix.SIGTERM))
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return nil, err
	}
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Waiter{fd: fd}, nil
}

// Fd returns the signalfd for inclusion in a poll(2) set.
func (w *Waiter) Fd() int { return w.fd }

const sizeofSiginfo = unsafe.Sizeof(unix.SignalfdSiginfo{})

// Drain reads every pending signalfd_siginfo record and reports
// whether a SIGTERM was among them.
func (w *Waiter) Drain() (sawSigterm bool, err error) {
	var info unix.SignalfdSiginfo
	buf := (*(*[sizeofSiginfo]byte)(unsafe.Pointer(&info)))[:]
	for {
		n, rerr := unix.Read(w.fd, buf)
		if rerr != nil {
			if rerr == unix.EAGAIN {
				return sawSigterm, nil
			}
			return sawSigterm, rerr
		}
		if n != len(buf) {
			return sawSigterm, nil
		}
		if info.Signo == uint32(unix.SIGTERM) {
			sawSigterm = true
		}
	}
}

// Close releases the signalfd.
func (w *Waiter) Close() error { return unix.Close(w.fd) }
