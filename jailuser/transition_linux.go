//go:build linux

package jailuser

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cs-jail/pa-jail/pkg/mount"
)

// Transition carries everything the post-clone init needs to turn a
// freshly unshared mount/pid/ipc namespace into the jail's root and
// drop from real root down to the jail owner's uid/gid, saving root
// as the saved-id for one later re-escalation.
type Transition struct {
	JailDir string // absolute, slash-terminated
	Table   *mount.Table
	DryRun  bool
	Verbose bool
	Trace   func(string)
}

func (t *Transition) trace(format string, args ...any) {
	if t.Verbose && t.Trace != nil {
		t.Trace(fmt.Sprintf(format, args...))
	}
}

// Enter performs the full §4.6 sequence: make the whole mount tree
// slave-private, run deferred mounts, mount /proc, /dev/pts, /tmp,
// /run under the jail, bind the jail onto itself if needed, pivot
// into it, detach the old root, and chdir to "/".
func (t *Transition) Enter() error {
	parentMnt := t.JailDir + "mnt/.parent"
	if !t.DryRun {
		if err := os.MkdirAll(parentMnt, 0777); err != nil {
			return fmt.Errorf("jailuser: mkdir -p %s: %w", parentMnt, err)
		}
	}

	t.trace("mount --make-rslave /")
	if !t.DryRun {
		if err := unix.Mount("none", "/", "", unix.MS_REC|unix.MS_SLAVE, ""); err != nil {
			return fmt.Errorf("jailuser: mount --make-rslave /: %w", err)
		}
	}

	if err := t.Table.Populate(); err != nil && !t.DryRun {
		return fmt.Errorf("jailuser: populate mount table: %w", err)
	}

	for _, dm := range t.Table.DelayedMounts() {
		if err := t.Table.HandleMount(dm.Dst, dm.Entry, t.DryRun); err != nil {
			return err
		}
	}

	for _, m := range []struct{ src, dst string }{
		{"/proc", t.JailDir + "proc"},
		{"/dev/pts", t.JailDir + "dev/pts"},
		{"/tmp", t.JailDir + "tmp"},
		{"/run", t.JailDir + "run"},
	} {
		entry := mount.Entry{Source: m.src, Type: "none", Wanted: true}
		t.Table.Declare(m.src, entry)
		if err := t.Table.HandleMount(m.dst, entry, t.DryRun); err != nil {
			return err
		}
	}

	sameDevice, err := sameFilesystem(t.JailDir, "/")
	if err != nil && !t.DryRun {
		return err
	}
	if sameDevice {
		t.trace("mount --bind %s", t.JailDir)
		if !t.DryRun {
			if err := unix.Mount(t.JailDir, t.JailDir, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
				return fmt.Errorf("jailuser: mount --bind %s: %w", t.JailDir, err)
			}
		}
	}

	t.trace("pivot_root %s %s", t.JailDir, parentMnt)
	if !t.DryRun {
		if err := unix.PivotRoot(t.JailDir, parentMnt); err != nil {
			return fmt.Errorf("jailuser: pivot_root %s %s: %w", t.JailDir, parentMnt, err)
		}
	}

	t.trace("cd /")
	if !t.DryRun {
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("jailuser: cd /: %w", err)
		}
	}

	newParentMnt := "/" + strings.TrimPrefix(parentMnt, t.JailDir)
	t.trace("umount %s", newParentMnt)
	if !t.DryRun {
		if err := unix.Unmount(newParentMnt, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("jailuser: umount %s: %w", newParentMnt, err)
		}
	}
	return nil
}

func sameFilesystem(a, b string) (bool, error) {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false, err
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false, err
	}
	return sa.Dev == sb.Dev, nil
}

// DropToOwner performs the first privilege drop: effective uid/gid
// become the jail owner, saved id stays root for the later
// re-escalation in ReturnToCaller.
func DropToOwner(uid, gid uint32) error {
	if err := unix.Setresgid(int(gid), int(gid), 0); err != nil {
		return fmt.Errorf("jailuser: setresgid: %w", err)
	}
	if err := unix.Setresuid(int(uid), int(uid), 0); err != nil {
		return fmt.Errorf("jailuser: setresuid: %w", err)
	}
	return nil
}

// DropPermanently is the payload child's final, irreversible privilege
// drop before exec: real, effective, and saved ids all become the jail
// owner's.
func DropPermanently(uid, gid uint32) error {
	if err := unix.Setresgid(int(gid), int(gid), int(gid)); err != nil {
		return fmt.Errorf("jailuser: setresgid: %w", err)
	}
	if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
		return fmt.Errorf("jailuser: setresuid: %w", err)
	}
	return nil
}

// ReturnToCaller re-escalates to real root using the saved id from
// DropToOwner, then drops to the caller's own uid/gid so the pidfile,
// timing file, and event-source socket remain owned by whoever invoked
// pa-jail rather than by the jail user.
func ReturnToCaller(callerUID, callerGID uint32) error {
	if err := unix.Setresuid(0, 0, 0); err != nil {
		return fmt.Errorf("jailuser: setresuid root: %w", err)
	}
	if err := unix.Setresgid(int(callerGID), int(callerGID), int(callerGID)); err != nil {
		return fmt.Errorf("jailuser: setresgid caller: %w", err)
	}
	if err := unix.Setresuid(int(callerUID), int(callerUID), int(callerUID)); err != nil {
		return fmt.Errorf("jailuser: setresuid caller: %w", err)
	}
	return nil
}
