//go:build linux

package jailuser

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/pkg/jbuffer"
	"github.com/cs-jail/pa-jail/pkg/pty"
	"github.com/cs-jail/pa-jail/pkg/sigwait"
	"github.com/cs-jail/pa-jail/pkg/sse"
)

// runState tracks the §4.7 control-process state machine.
type runState int

const (
	stateRunning runState = iota
	stateChildReaped
	stateTerminating
)

// killEscape is the controlling-terminal kill sequence: observing it in
// bytes about to reach the slave ends the session as if the controller
// itself had been sent SIGTERM.
var killEscape = []byte{0x1b, 0x03}

// subscriberDrain bounds how long the terminating state waits for SSE
// subscribers to take their final bytes before the process exits anyway.
const subscriberDrain = 5 * time.Second

// Controller owns the pty, the payload child, and every buffer and fd
// the single poll(2) loop touches. It is built and run entirely on one
// OS thread: setresuid/setresgid and namespace membership are per-thread
// on Linux, so nothing here may be migrated by the Go scheduler.
type Controller struct {
	params *Params

	hasPty  bool
	pty     *pty.Pty
	ptyFd   int

	cmd      *exec.Cmd
	childPid int

	stdinFd   int   // -1 if nothing to read from
	stdoutFd  int   // -1 if pty output isn't echoed to a local terminal
	stdoutOff int64 // how much of fromSlave has actually reached stdoutFd

	toSlave   *jbuffer.Buffer
	fromSlave *jbuffer.Buffer

	waiter *sigwait.Waiter

	listenerFd  int // -1 if no event source configured
	subscribers []*sse.Subscriber

	timingFile    *os.File
	timingCount   int
	timingLastAbs int64
	lastTimingAt  time.Time

	deadline, idleDeadline time.Time

	rawState *term.State // saved caller-terminal mode, restored in cleanup

	state    runState
	exitCode int
	banner   string

	childDone   bool
	childStatus syscall.WaitStatus

	terminateAt time.Time // when the terminating-state drain budget expires
}

// NewController resolves the payload command, forks it under a pty (or
// plain pipes if there is no tty anywhere), re-escalates to root and
// drops to the caller's own identity, arms signal delivery, and opens
// the optional timing file and event-source listener — everything the
// multiplex loop in Run needs before its first poll(2).
func NewController(params *Params) (*Controller, error) {
	c := &Controller{
		params:   params,
		stdinFd:  -1,
		stdoutFd: -1,
		listenerFd: -1,
		hasPty:   params.HasPty,
	}

	if params.OwnerHome != "" {
		if err := os.Chdir(params.OwnerHome); err != nil {
			return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: chdir %s: %v", params.OwnerHome, err)
		}
	}

	if c.hasPty {
		p, err := pty.Open()
		if err != nil {
			return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: %v", err)
		}
		c.pty = p
		c.ptyFd = int(p.Master.Fd())
		if err := unix.SetNonblock(c.ptyFd, true); err != nil {
			return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: pty nonblock: %v", err)
		}
	}

	// The payload is forked before sigwait.New blocks SIGCHLD/SIGTERM on
	// this thread: os/exec forks from the calling thread, and a child
	// forked after the mask is set would inherit it, leaving it unable
	// to ever see its own default disposition for either signal.
	if err := c.spawnChild(); err != nil {
		return nil, err
	}

	if err := ReturnToCaller(params.CallerUID, params.CallerGID); err != nil {
		return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: %v", err)
	}

	w, err := sigwait.New()
	if err != nil {
		return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: sigwait: %v", err)
	}
	c.waiter = w

	if c.hasPty {
		c.toSlave = jbuffer.New(4096)
		c.fromSlave = jbuffer.New(8192)
		if params.StdinIsTTY || params.InputFromFIFO {
			c.stdinFd = 0
			unix.SetNonblock(c.stdinFd, true)
		}
		if params.StdoutIsTTY {
			c.stdoutFd = 1
			unix.SetNonblock(c.stdoutFd, true)
		}

		// Raw-mode is the caller's own terminal, not the jail's pty: the
		// jail gets its own echo/line-discipline inside the slave, so the
		// controller only needs cfmakeraw on the fd it reads keystrokes
		// from before they're forwarded verbatim.
		if params.StdinIsTTY {
			if st, err := term.MakeRaw(0); err == nil {
				c.rawState = st
			}
		}
	} else {
		// No pty anywhere: both directions are immediately exhausted so
		// the loop has nothing to shuttle but the child's own exit.
		c.toSlave = jbuffer.New(1)
		c.fromSlave = jbuffer.New(1)
		c.toSlave.SetWriteClosed()
		c.fromSlave.SetWriteClosed()
	}

	if params.TimingFile != "" {
		f, err := os.OpenFile(params.TimingFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: timing file: %v", err)
		}
		c.timingFile = f
		c.lastTimingAt = time.Now()
	}

	if err := c.openEventSource(); err != nil {
		return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: %v", err)
	}

	// The ready marker tells whoever is watching stdout that the payload
	// is running and the event source is already accepting connections,
	// so it must go out after both are set up and before the loop lets
	// any payload output interleave with it.
	if params.ReadyMarker != "" {
		fmt.Fprintln(os.Stdout, params.ReadyMarker)
	}

	now := time.Now()
	c.deadline = Deadline(now, params.TimeoutSec)
	c.idleDeadline = Deadline(now, params.IdleSec)

	return c, nil
}

func (c *Controller) owner() *Owner {
	return &Owner{
		UID:   c.params.OwnerUID,
		GID:   c.params.OwnerGID,
		Home:  c.params.OwnerHome,
		Shell: c.params.OwnerShell,
	}
}

// spawnChild forks the payload under the pty slave (or directly onto
// the controller's own stdio when there is no pty), matching §4.7's
// setsid/TIOCSCTTY/winsize/ONLCR/permanent-privilege-drop sequence via
// os/exec's SysProcAttr instead of a hand-rolled fork+exec.
func (c *Controller) spawnChild() error {
	owner := c.owner()
	argv := BuildArgv(owner, c.params.Argv)
	env := BuildEnviron(owner, c.params.Env)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = owner.Home

	attr := &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: owner.UID, Gid: owner.GID},
	}

	if c.hasPty {
		slave, err := pty.OpenSlave(c.pty.SlaveName, c.params.NoONLCR)
		if err != nil {
			return jailerror.Newf(jailerror.ExecFailed, "jailuser: %v", err)
		}
		defer slave.Close()

		cols, rows := c.params.Cols, c.params.Rows
		if cols == 0 {
			cols = 80
		}
		if rows == 0 {
			rows = 25
		}
		pty.SetWinsize(int(slave.Fd()), cols, rows)

		cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
		attr.Setsid = true
		attr.Setctty = true
		attr.Ctty = 0
	} else {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	}

	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return jailerror.Newf(jailerror.ExecFailed, "jailuser: exec %s: %v", argv[0], err)
	}
	c.cmd = cmd
	c.childPid = cmd.Process.Pid
	return nil
}

func (c *Controller) openEventSource() error {
	if c.params.EventSource == "" {
		return nil
	}
	os.Remove(c.params.EventSource)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("event-source socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: c.params.EventSource}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("event-source bind: %w", err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return fmt.Errorf("event-source listen: %w", err)
	}
	c.listenerFd = fd
	return nil
}

func (c *Controller) acceptSubscribers() {
	for {
		nfd, _, err := unix.Accept(c.listenerFd)
		if err != nil {
			return
		}
		unix.SetNonblock(nfd, true)
		sub := sse.New(nfd, c.fromSlave.HeadOffset())
		sub.Out.Append(sse.HeaderBytes())
		c.subscribers = append(c.subscribers, sub)
	}
}

// Run drives the single poll(2) loop until the control process reaches
// a terminal state, and returns the process exit code.
func (c *Controller) Run() int {
	defer c.cleanup()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		if c.state == stateTerminating && (c.subscribersDrained() || time.Now().After(c.terminateAt)) {
			break
		}

		fds, kinds := c.buildPollSet()
		timeout := c.pollTimeout()

		n, err := unix.Poll(fds, timeout)
		if err != nil && err != unix.EINTR {
			if c.state != stateTerminating {
				c.terminate(jailerror.RuntimeIO, "pa-jail: poll failed")
			}
			continue
		}

		blocked := n == 0
		if !blocked {
			c.handlePollResults(fds, kinds)
		}

		c.checkKillEscape()
		c.checkDeadlines()
		c.checkChild()

		if c.timingFile != nil && !blocked {
			c.maybeWriteTimingSample()
		}
	}

	return c.exitCode
}

type fdKind int

const (
	kindSignal fdKind = iota
	kindStdin
	kindMaster
	kindStdout
	kindListener
	kindSubscriber
)

func (c *Controller) buildPollSet() ([]unix.PollFd, []fdKind) {
	fds := []unix.PollFd{{Fd: int32(c.waiter.Fd()), Events: unix.POLLIN}}
	kinds := []fdKind{kindSignal}

	if c.stdinFd >= 0 && c.toSlave.CanRead() {
		fds = append(fds, unix.PollFd{Fd: int32(c.stdinFd), Events: unix.POLLIN})
		kinds = append(kinds, kindStdin)
	}

	if c.hasPty {
		var ev int16
		if c.fromSlave.CanRead() {
			ev |= unix.POLLIN
		}
		if c.toSlave.CanWrite() {
			ev |= unix.POLLOUT
		}
		if ev != 0 {
			fds = append(fds, unix.PollFd{Fd: int32(c.ptyFd), Events: ev})
			kinds = append(kinds, kindMaster)
		}
	}

	if c.stdoutFd >= 0 && c.fromSlave.CanWrite() {
		fds = append(fds, unix.PollFd{Fd: int32(c.stdoutFd), Events: unix.POLLOUT})
		kinds = append(kinds, kindStdout)
	}

	if c.listenerFd >= 0 && c.state != stateTerminating {
		fds = append(fds, unix.PollFd{Fd: int32(c.listenerFd), Events: unix.POLLIN})
		kinds = append(kinds, kindListener)
	}

	for _, sub := range c.subscribers {
		if sub.Out.CanWrite() {
			fds = append(fds, unix.PollFd{Fd: int32(sub.Fd), Events: unix.POLLOUT})
			kinds = append(kinds, kindSubscriber)
		}
	}

	return fds, kinds
}

func (c *Controller) pollTimeout() int {
	deadlines := make([]time.Time, 0, 2)
	if !c.deadline.IsZero() {
		deadlines = append(deadlines, c.deadline)
	}
	if !c.idleDeadline.IsZero() {
		deadlines = append(deadlines, c.idleDeadline)
	}
	if c.state == stateTerminating {
		deadlines = append(deadlines, c.terminateAt)
	}
	if len(deadlines) == 0 {
		return -1
	}
	soonest := deadlines[0]
	for _, d := range deadlines[1:] {
		if d.Before(soonest) {
			soonest = d
		}
	}
	ms := time.Until(soonest).Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(ms)
}

func (c *Controller) handlePollResults(fds []unix.PollFd, kinds []fdKind) {
	subIdx := 0
	for i, pf := range fds {
		if pf.Revents == 0 {
			continue
		}
		switch kinds[i] {
		case kindSignal:
			if saw, _ := c.waiter.Drain(); saw {
				c.terminate(jailerror.FromSignal(int(unix.SIGTERM)), "pa-jail: terminated")
			}
		case kindStdin:
			c.toSlave.Read(c.stdinFd)
		case kindMaster:
			if pf.Revents&unix.POLLIN != 0 {
				before := c.fromSlave.TailOffset()
				c.fromSlave.Read(c.ptyFd)
				if c.fromSlave.TailOffset() != before {
					c.noteOutput()
				}
			}
			if pf.Revents&unix.POLLOUT != 0 {
				off := c.toSlave.HeadOffset()
				if c.toSlave.Write(c.ptyFd, &off) {
					c.toSlave.ConsumeTo(off)
				}
			}
		case kindStdout:
			c.fromSlave.Write(c.stdoutFd, &c.stdoutOff)
		case kindListener:
			c.acceptSubscribers()
		case kindSubscriber:
			sub := c.subscribers[subIdx]
			subIdx++
			off := sub.OutOff
			if sub.Out.Write(sub.Fd, &off) {
				sub.OutOff = off
				sub.Out.ConsumeTo(off)
			}
		}
	}
	c.feedSubscribers()
	c.consumeSharedOutput()
}

// noteOutput is called whenever new bytes land in fromSlave, resetting
// the idle deadline (output counts as activity the same way input does).
func (c *Controller) noteOutput() {
	if !c.idleDeadline.IsZero() {
		c.idleDeadline = Deadline(time.Now(), c.params.IdleSec)
	}
}

// feedSubscribers appends one SSE event to every subscriber on each
// poll that reported activity, framing whatever output arrived since
// that subscriber's previous event (possibly none).
func (c *Controller) feedSubscribers() {
	for _, sub := range c.subscribers {
		sub.WriteEvent(c.fromSlave)
	}
}

// consumeSharedOutput advances fromSlave's head past whatever every
// live reader (stdout, every subscriber) has already consumed, so the
// shared buffer can compact instead of growing without bound.
func (c *Controller) consumeSharedOutput() {
	floor := c.fromSlave.TailOffset()
	if c.stdoutFd >= 0 && c.stdoutOff < floor {
		floor = c.stdoutOff
	}
	for _, sub := range c.subscribers {
		if f := sub.FramedThrough(); f < floor {
			floor = f
		}
	}
	c.fromSlave.ConsumeTo(floor)
}

func (c *Controller) checkKillEscape() {
	if c.state == stateTerminating {
		return
	}
	if bytes.Contains(c.toSlave.Bytes(), killEscape) {
		c.terminate(jailerror.FromSignal(int(unix.SIGTERM)), "pa-jail: terminated")
	}
}

func (c *Controller) checkDeadlines() {
	if c.state == stateTerminating {
		return
	}
	now := time.Now()
	if !c.deadline.IsZero() && !now.Before(c.deadline) {
		c.terminate(jailerror.Timeout, "pa-jail: timed out")
		return
	}
	if !c.idleDeadline.IsZero() && !now.Before(c.idleDeadline) {
		c.terminate(jailerror.Timeout, "pa-jail: timed out")
	}
}

// checkChild performs a non-blocking waitpid for the payload: the first
// time it reaps the child it moves to child_reaped, and once the slave
// side has nothing left to drain it decides the final termination cause.
func (c *Controller) checkChild() {
	if c.childDone {
		if c.state == stateRunning || c.state == stateChildReaped {
			if !c.hasPty || c.fromSlave.Done() {
				c.finishFromChildStatus()
			}
		}
		return
	}

	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(c.childPid, &ws, syscall.WNOHANG, nil)
	if err != nil || pid == 0 {
		return
	}
	c.childDone = true
	c.childStatus = ws
	c.state = stateChildReaped

	if !c.hasPty || c.fromSlave.Done() {
		c.finishFromChildStatus()
	}
}

func (c *Controller) finishFromChildStatus() {
	if c.state == stateTerminating {
		return
	}
	ws := c.childStatus
	switch {
	case ws.Exited():
		c.terminate(ws.ExitStatus(), "")
	case ws.Signaled():
		c.terminate(jailerror.FromSignal(int(ws.Signal())), "")
	default:
		c.terminate(jailerror.RuntimeIO, "pa-jail: unexpected child status")
	}
}

// terminate moves the state machine into terminating, recording the
// first decided cause (subsequent calls are no-ops: priority order is
// enforced by call order in Run, not by comparing causes here).
func (c *Controller) terminate(code int, banner string) {
	if c.state == stateTerminating {
		return
	}
	c.state = stateTerminating
	c.exitCode = code
	c.banner = banner
	c.terminateAt = time.Now().Add(subscriberDrain)
	for _, sub := range c.subscribers {
		sub.WriteDone()
	}
}

func (c *Controller) subscribersDrained() bool {
	for _, sub := range c.subscribers {
		if sub.Out.CanWrite() {
			return false
		}
	}
	return true
}

// maybeWriteTimingSample appends one timing-file record if the shared
// output buffer advanced since the last sample, matching the original's
// "every poll that produced output" sampling cadence.
func (c *Controller) maybeWriteTimingSample() {
	abs := c.fromSlave.TailOffset()
	if c.timingCount > 0 && abs == c.timingLastAbs {
		return
	}
	now := time.Now()
	deltaMs := now.Sub(c.lastTimingAt).Milliseconds()
	if c.timingCount%128 == 0 {
		fmt.Fprintf(c.timingFile, "%d,%d\n", deltaMs, abs)
	} else {
		fmt.Fprintf(c.timingFile, "+%d,+%d\n", deltaMs, abs-c.timingLastAbs)
	}
	c.timingLastAbs = abs
	c.lastTimingAt = now
	c.timingCount++
}

func (c *Controller) cleanup() {
	if c.rawState != nil {
		term.Restore(0, c.rawState)
	}
	if c.banner != "" && !c.params.Quiet {
		fmt.Fprintln(os.Stderr, c.banner)
	}
	if c.timingFile != nil {
		c.timingFile.Close()
	}
	if c.listenerFd >= 0 {
		unix.Close(c.listenerFd)
		os.Remove(c.params.EventSource)
	}
	for _, sub := range c.subscribers {
		unix.Close(sub.Fd)
	}
	if c.pty != nil {
		c.pty.Master.Close()
	}
	if c.waiter != nil {
		c.waiter.Close()
	}
}
