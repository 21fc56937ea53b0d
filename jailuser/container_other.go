//go:build !linux

package jailuser

import (
	"fmt"
	"os"
	"syscall"

	"github.com/cs-jail/pa-jail/jailerror"
)

// IsContainerInit always reports false outside Linux: there is no
// re-exec'd namespace init on targets without mount/pid namespaces.
func IsContainerInit() bool { return false }

// ContainerInit is never reached outside Linux.
func ContainerInit() {
	fmt.Fprintln(os.Stderr, "pa-jail: container-init is Linux-only")
	os.Exit(jailerror.PrivFailure)
}

// Transition on non-Linux targets collapses §4.6's namespace sequence
// to a plain chdir+chroot: no pivot_root, no bind-mounts, no mount
// namespace to make private first.
type Transition struct {
	JailDir string
	DryRun  bool
	Verbose bool
	Trace   func(string)
}

// Enter performs chdir(jail); chroot(".").
func (t *Transition) Enter() error {
	if t.DryRun {
		return nil
	}
	if err := os.Chdir(t.JailDir); err != nil {
		return fmt.Errorf("jailuser: chdir %s: %w", t.JailDir, err)
	}
	if err := syscall.Chroot("."); err != nil {
		return fmt.Errorf("jailuser: chroot %s: %w", t.JailDir, err)
	}
	return nil
}

// DropToOwner sets effective uid/gid to the jail owner, keeping root as
// the saved id (where the platform's setresuid/setresgid exist; POSIX
// guarantees Setregid/Setreuid instead, which don't preserve a distinct
// saved-id, so the later ReturnToCaller re-escalation on these targets
// relies on the process having stayed real-root throughout).
func DropToOwner(uid, gid uint32) error {
	if err := syscall.Setregid(-1, int(gid)); err != nil {
		return fmt.Errorf("jailuser: setregid: %w", err)
	}
	if err := syscall.Setreuid(-1, int(uid)); err != nil {
		return fmt.Errorf("jailuser: setreuid: %w", err)
	}
	return nil
}

// DropPermanently sets real and effective uid/gid to the jail owner.
func DropPermanently(uid, gid uint32) error {
	if err := syscall.Setregid(int(gid), int(gid)); err != nil {
		return fmt.Errorf("jailuser: setregid: %w", err)
	}
	if err := syscall.Setreuid(int(uid), int(uid)); err != nil {
		return fmt.Errorf("jailuser: setreuid: %w", err)
	}
	return nil
}

// ReturnToCaller drops back to the caller's own uid/gid, assuming the
// process's real id is still root (see DropToOwner).
func ReturnToCaller(callerUID, callerGID uint32) error {
	if err := syscall.Setregid(int(callerGID), int(callerGID)); err != nil {
		return fmt.Errorf("jailuser: setregid: %w", err)
	}
	if err := syscall.Setreuid(int(callerUID), int(callerUID)); err != nil {
		return fmt.Errorf("jailuser: setreuid: %w", err)
	}
	return nil
}

// Spawn is unsupported outside Linux: there is no mount/pid namespace
// to clone into, so it returns a PrivFailure error and no payload is
// started.
func Spawn(params *Params, files []*os.File) (*os.Process, error) {
	return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: namespaced run is Linux-only")
}

// NewController and Run are Linux-only: the multiplex loop depends on
// signalfd semantics pty.Open's /dev/ptmx handling assumes on Linux.
// A non-Linux build still needs the symbol to satisfy callers that
// build for every target; it fails fast instead of silently degrading.
type Controller struct{}

func NewController(params *Params) (*Controller, error) {
	return nil, jailerror.Newf(jailerror.PrivFailure, "jailuser: run is Linux-only")
}

func (c *Controller) Run() int { return jailerror.PrivFailure }
