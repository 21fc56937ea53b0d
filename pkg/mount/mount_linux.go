//go:build linux

package mount

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ToUnix converts the canonical Flag bitmap to the MS_* bits the Linux
// mount(2) syscall expects. Remount, bind and recursive-bind are
// encoded separately by callers since they interact with Data and with
// whether this is an initial mount or a flag-only remount.
func (f Flag) ToUnix() uintptr {
	var u uintptr
	if f&Bind != 0 {
		u |= unix.MS_BIND
	}
	if f&Rec != 0 {
		u |= unix.MS_REC
	}
	if f&NoAtime != 0 {
		u |= unix.MS_NOATIME
	}
	if f&NoDev != 0 {
		u |= unix.MS_NODEV
	}
	if f&NoDirAtime != 0 {
		u |= unix.MS_NODIRATIME
	}
	if f&NoExec != 0 {
		u |= unix.MS_NOEXEC
	}
	if f&NoSuid != 0 {
		u |= unix.MS_NOSUID
	}
	if f&Private != 0 {
		u |= unix.MS_PRIVATE
	}
	if f&Relatime != 0 {
		u |= unix.MS_RELATIME
	}
	if f&Remount != 0 {
		u |= unix.MS_REMOUNT
	}
	if f&ReadOnly != 0 {
		u |= unix.MS_RDONLY
	}
	if f&Slave != 0 {
		u |= unix.MS_SLAVE
	}
	if f&StrictAtime != 0 {
		u |= unix.MS_STRICTATIME
	}
	if f&Unbindable != 0 {
		u |= unix.MS_UNBINDABLE
	}
	return u
}

// Populate reads /proc/mounts and records every current mount point as
// host-mounted, so later HandleMount calls know which destinations
// already have something on them.
func (t *Table) Populate() error {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return fmt.Errorf("mount: populate: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		dst := unescapeMountField(fields[1])
		t.markMounted(dst, false)
	}
	return sc.Err()
}

// unescapeMountField reverses the octal escaping /proc/mounts applies
// to spaces, tabs, newlines and backslashes in path fields.
func unescapeMountField(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UnmountTree detaches every mount found under root (root itself
// included), deepest first, so `rm` can tear down a jail's mount tree
// before recursively deleting its files. Read failures on /proc/mounts
// are fatal; failure to unmount any individual mountpoint is not, since
// a mountpoint that's already gone or was never actually mounted (a
// dry-run artifact) shouldn't block the rest of the teardown.
func UnmountTree(root string) error {
	root = strings.TrimRight(root, "/")

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return fmt.Errorf("mount: unmount tree: %w", err)
	}
	var points []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		dst := unescapeMountField(fields[1])
		if dst == root || strings.HasPrefix(dst, root+"/") {
			points = append(points, dst)
		}
	}
	f.Close()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("mount: unmount tree: %w", err)
	}

	sort.Slice(points, func(i, j int) bool { return len(points[i]) > len(points[j]) })
	for _, p := range points {
		unix.Unmount(p, unix.MNT_DETACH)
	}
	return nil
}

// Mount performs the mount(2) call this entry describes against dst,
// which must already exist. When dryRun is true it returns without
// making any syscall; table bookkeeping is left to HandleMount.
func (e Entry) Mount(dst string, dryRun bool) error {
	if dryRun {
		return nil
	}
	flags := e.Flags.ToUnix()
	mountFlags := flags &^ (unix.MS_REMOUNT)
	if err := unix.Mount(e.Source, dst, e.Type, mountFlags, e.Data); err != nil {
		if err == unix.EBUSY && e.Flags&Remount == 0 {
			// Already mounted from an earlier pass; fall through to
			// a flags-only remount instead of failing the jail build.
			return e.remount(dst)
		}
		return fmt.Errorf("mount %s -> %s: %w", e.Source, dst, err)
	}
	if e.Flags&ReadOnly != 0 && e.Flags&Bind != 0 {
		// A bind mount's flags are not honored in the initial call;
		// re-apply them with MS_REMOUNT as the kernel requires.
		return e.remount(dst)
	}
	return nil
}

func (e Entry) remount(dst string) error {
	flags := e.Flags.ToUnix() | unix.MS_REMOUNT | unix.MS_BIND
	if err := unix.Mount("", dst, "", flags, e.Data); err != nil {
		return fmt.Errorf("remount %s: %w", dst, err)
	}
	return nil
}

// HandleMount applies or records e at dst according to the table's
// current phase: PhaseManifest only declares and, for types that must
// wait for the new namespace, delays; PhasePreFork and PhasePostClone
// perform the syscall immediately (unless dryRun).
func (t *Table) HandleMount(dst string, e Entry, dryRun bool) error {
	t.Declare(dst, e)
	switch t.Phase {
	case PhaseManifest:
		if requiresPostClone(e.Type) {
			t.Delay(dst, e)
			return nil
		}
		return nil
	default:
		if dryRun {
			t.markMounted(dst, true)
			return nil
		}
		if err := e.Mount(dst, dryRun); err != nil {
			return err
		}
		t.markMounted(dst, true)
		return nil
	}
}

func requiresPostClone(fstype string) bool {
	switch fstype {
	case "proc", "devpts", "sysfs":
		return true
	}
	return false
}

// HandleUnmount detaches whatever is mounted at mountpoint. Under a dry
// run it only records the destination as unmounted (the record that
// Unmounted reads back).
func (t *Table) HandleUnmount(mountpoint string, dryRun bool) error {
	if dryRun {
		t.markUnmounted(mountpoint)
		return nil
	}
	if err := unix.Unmount(mountpoint, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", mountpoint, err)
	}
	t.markUnmounted(mountpoint)
	return nil
}

// PivotInto performs pivot_root(newRoot, putOld) followed by detaching
// and removing putOld, the sequence used once the jail's skeleton has
// been fully assembled and the process is ready to enter it.
func PivotInto(newRoot, putOld string) error {
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	old := "/" + strings.TrimPrefix(strings.TrimPrefix(putOld, newRoot), "/")
	if err := unix.Unmount(old, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}
	if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old root mountpoint: %w", err)
	}
	return nil
}

// BindSelf bind-mounts path onto itself, the trick pivot_root needs
// when the jail root is not already a mount point of its own (it must
// share a device with its parent, so pivot_root's "must be a mount
// point" requirement can't be satisfied any other way).
func BindSelf(path string) error {
	if err := unix.Mount(path, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind %s onto itself: %w", path, err)
	}
	return nil
}
