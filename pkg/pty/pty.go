// Package pty allocates and configures a pseudo-terminal pair for the
// jailed program's controlling terminal. golang.org/x/sys/unix exposes
// no generic-Linux posix_openpt/grantpt/unlockpt/ptsname helpers (only
// a zos variant), so this package opens /dev/ptmx directly and drives
// the kernel's pty allocation protocol with TIOCGPTN/TIOCSPTLCK.
package pty

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Pty is an opened master/slave pseudo-terminal pair.
type Pty struct {
	Master    *os.File
	SlaveName string
}

// Open allocates a new pty, unlocks its slave, and applies the flags
// pa-jail always wants on the master side (BRKINT, IGNPAR, IMAXBEL, and
// IUTF8 where supported).
func Open() (*Pty, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("pty: open /dev/ptmx: %w", err)
	}
	fd := int(master.Fd())

	applyRawIncomingFlags(fd)

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, fmt.Errorf("pty: unlockpt: %w", err)
	}

	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("pty: ptsname: %w", err)
	}

	return &Pty{Master: master, SlaveName: "/dev/pts/" + strconv.Itoa(n)}, nil
}

// applyRawIncomingFlags sets the input flags pa-jail always wants on a
// freshly-opened pty side: BRKINT, IGNPAR, IMAXBEL, and IUTF8. Failing
// to read or set termios (e.g. because the fd isn't really a tty in a
// test harness) is not fatal, matching the original's best-effort
// tcgetattr/tcsetattr pairing.
func applyRawIncomingFlags(fd int) {
	tty, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return
	}
	tty.Iflag |= unix.BRKINT | unix.IGNPAR | unix.IMAXBEL | unix.IUTF8
	unix.IoctlSetTermios(fd, unix.TCSETS, tty)
}

// OpenSlave opens the slave side by name, applies the same input flags
// the master got, optionally clears ONLCR on output, and returns the
// opened file for the child to dup2 onto its standard streams.
func OpenSlave(name string, noONLCR bool) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("pty: open slave %s: %w", name, err)
	}
	fd := int(f.Fd())
	if tty, err := unix.IoctlGetTermios(fd, unix.TCGETS); err == nil {
		tty.Iflag |= unix.BRKINT | unix.IGNPAR | unix.IMAXBEL | unix.IUTF8
		if noONLCR {
			tty.Oflag &^= unix.ONLCR
		}
		unix.IoctlSetTermios(fd, unix.TCSETS, tty)
	}
	return f, nil
}

// SetWinsize applies a terminal size to fd via TIOCSWINSZ.
func SetWinsize(fd int, cols, rows uint16) error {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		ws = &unix.Winsize{}
	}
	ws.Row, ws.Col = rows, cols
	return unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, ws)
}

// GetWinsize reads the current terminal size from fd via TIOCGWINSZ.
func GetWinsize(fd int) (cols, rows uint16, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return ws.Col, ws.Row, nil
}

// SetControllingTTY makes fd the calling process's controlling
// terminal (TIOCSCTTY) and sets its foreground process group to pgid,
// the tcsetpgrp equivalent via TIOCSPGRP.
func SetControllingTTY(fd int, pgid int) error {
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return fmt.Errorf("pty: TIOCSCTTY: %w", err)
	}
	p := int32(pgid)
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, int(p)); err != nil {
		return fmt.Errorf("pty: TIOCSPGRP: %w", err)
	}
	return nil
}

// RawMode puts fd's termios into the raw mode a pty slave used as a
// controlling terminal should have, starting from a caller's saved
// baseline termios (cfmakeraw applied to a copy).
func RawMode(fd int, base *unix.Termios) error {
	tty := *base
	tty.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tty.Oflag &^= unix.OPOST
	tty.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tty.Cflag &^= unix.CSIZE | unix.PARENB
	tty.Cflag |= unix.CS8
	tty.Cc[unix.VMIN] = 1
	tty.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, &tty)
}
