package manifest

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cs-jail/pa-jail/pkg/mount"
	"github.com/cs-jail/pa-jail/pkg/pathutil"
)

// devino identifies a file by device and inode, the key hard-link
// reuse is keyed on across a whole skeleton-plus-jail build.
type devino struct {
	dev, ino uint64
}

// Builder realizes a sequence of Directives under a destination root,
// optionally also populating a parallel skeleton directory (Linkdir)
// so later jails can hard-link against it instead of re-copying from
// the real filesystem.
type Builder struct {
	Dstroot string // no trailing slash
	Linkdir string // "" if no skeleton sharing, else slash-terminated
	JailDev uint64
	DryRun  bool
	Verbose bool
	Trace   func(string)

	Table *mount.Table

	dstTable     map[string]bool
	devinoTable  map[devino]string
	lastParentDir string
}

// NewBuilder returns a Builder with its bookkeeping tables initialized.
func NewBuilder(dstroot string, table *mount.Table) *Builder {
	return &Builder{
		Dstroot:     strings.TrimRight(dstroot, "/"),
		Table:       table,
		dstTable:    make(map[string]bool),
		devinoTable: make(map[devino]string),
	}
}

func (b *Builder) trace(format string, args ...any) {
	if b.Verbose && b.Trace != nil {
		b.Trace(fmt.Sprintf(format, args...))
	}
}

// Apply runs every directive against the destination root in order.
func (b *Builder) Apply(directives []Directive) error {
	for _, d := range directives {
		if err := b.apply(d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) apply(d Directive) error {
	switch d.Kind {
	case KindBind:
		return b.applyBind(d)
	case KindMount:
		return b.applyMount(d)
	default:
		return b.handleCopy(d.Src, d.Dst, d.Flags)
	}
}

func (b *Builder) applyBind(d Directive) error {
	if d.BindTag != "" && d.BindFiles != "" {
		if err := b.fixJailBindSrc(d.Src, d.BindTag, d.BindFiles); err != nil {
			return err
		}
	}
	opts := "bind,rec,unbindable"
	if d.Flags&FlagBindRO != 0 {
		opts += ",ro"
	}
	flags, data := mount.ParseOptions(opts)
	entry := mount.Entry{Source: d.Src, Type: "none", Flags: flags, Data: data, Wanted: true}
	b.Table.Declare(d.Src, entry)

	dst := b.Dstroot + d.Dst
	if err := b.ensureDir(dst, 0555); err != nil {
		return err
	}
	b.trace("mount --bind %s %s", d.Src, dst)
	return b.Table.HandleMount(dst, entry, b.DryRun)
}

func (b *Builder) applyMount(d Directive) error {
	flags, data := mount.ParseOptions(d.MountOpts)
	fstype := d.FSType
	if fstype == "" {
		fstype = "none"
	}
	entry := mount.Entry{Source: d.Src, Type: fstype, Flags: flags, Data: data, Wanted: true}
	b.Table.Declare(d.Src, entry)

	dst := b.Dstroot + d.Dst
	if err := b.ensureDir(dst, 0555); err != nil {
		return err
	}
	b.trace("mount -t %s %s %s", fstype, d.Src, dst)
	return b.Table.HandleMount(dst, entry, b.DryRun)
}

// fixJailBindSrc rebuilds a shared bind-mount source directory from a
// manifest file when the tag left behind from a previous build doesn't
// match, so a shared read-only bind (e.g. a course's shared tree tools
// directory) stays current without every jail rebuilding it itself.
func (b *Builder) fixJailBindSrc(src, wantTag, wantFiles string) error {
	srcTag := pathutil.EndSlash(src) + ".pa-jail-bindtag"
	b.trace("test %s = `cat %s`", pathutil.ShellQuote(wantTag), pathutil.ShellQuote(srcTag))

	gotTag := strings.TrimSpace(readFileOrEmpty(srcTag))
	if gotTag == wantTag {
		return nil
	}

	contents, err := os.ReadFile(wantFiles)
	if err != nil {
		return fmt.Errorf("manifest: %s: %w", wantFiles, err)
	}

	sub := NewBuilder(strings.TrimRight(src, "/"), b.Table)
	sub.DryRun, sub.Verbose, sub.Trace = b.DryRun, b.Verbose, b.Trace
	sub.JailDev = b.JailDev
	if err := sub.Apply(Parse(string(contents))); err != nil {
		return err
	}

	b.trace("echo %s > %s", pathutil.ShellQuote(wantTag), srcTag)
	if b.DryRun {
		return nil
	}
	f, err := os.OpenFile(srcTag, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0600)
	if err != nil {
		return fmt.Errorf("manifest: %s: %w", srcTag, err)
	}
	if _, err := f.WriteString(wantTag + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("manifest: %s: %w", srcTag, err)
	}
	return f.Close()
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// handleCopy realizes a single file or directory tree under
// b.Dstroot+subdst, pulling in its parent directory first if needed,
// then mirroring do_copy's reuse/hardlink/mknod/symlink logic, and
// recursing into directories.
func (b *Builder) handleCopy(src, subdst string, flags Flag) error {
	src = strings.TrimRight(src, "/")
	if src == "" {
		src = "/"
	}
	subdst = strings.TrimRight(subdst, "/")
	if subdst == "" {
		subdst = "/"
	}

	dst := b.Dstroot + subdst
	if b.dstTable[dst] {
		return nil
	}
	b.dstTable[dst] = true

	dstParent := path.Dir(dst)
	if dstParent != b.lastParentDir && len(dstParent) > len(b.Dstroot) {
		b.lastParentDir = dstParent
		if !b.dstTable[dstParent] {
			if err := b.handleCopy(path.Dir(src), dstParent[len(b.Dstroot):], 0); err != nil {
				return err
			}
		}
	}

	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil {
		return fmt.Errorf("manifest: lstat %s: %w", src, err)
	}

	if b.Linkdir != "" {
		// best effort: populate the parallel skeleton too
		_ = b.doCopy(b.Linkdir+strings.TrimPrefix(subdst, "/"), src, st, true)
	}

	if err := b.doCopy(dst, src, st, flags&FlagCP == 0); err != nil {
		return err
	}

	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		entry := mount.Entry{Source: src, Type: "none"}
		b.Table.Declare(dst, entry)
	}
	return nil
}

// doCopy materializes one filesystem object at dst, reusing an
// existing up-to-date copy, a hard link to an already-copied file with
// the same (dev,ino), or else performing the appropriate cp/mkdir/mknod/
// symlink.
func (b *Builder) doCopy(dst, src string, ss unix.Stat_t, reuseLink bool) error {
	var ds unix.Stat_t
	if err := unix.Lstat(dst, &ds); err == nil && sameObject(ss, ds) {
		if ss.Mode&unix.S_IFMT == unix.S_IFREG {
			b.devinoTable[devino{ss.Dev, ss.Ino}] = dst
		}
		return nil
	}

	switch ss.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		if reuseLink {
			key := devino{ss.Dev, ss.Ino}
			if existing, ok := b.devinoTable[key]; ok {
				b.trace("ln %s %s", existing, dst)
				if b.DryRun {
					return nil
				}
				_ = os.Remove(dst)
				return os.Link(existing, dst)
			}
			b.devinoTable[key] = dst
		}
		return b.cpPreserve(src, dst)

	case unix.S_IFDIR:
		perm := os.FileMode(ss.Mode & 07777)
		b.trace("mkdir -p -m %o %s", perm, dst)
		if b.DryRun {
			return nil
		}
		if err := os.MkdirAll(dst, perm); err != nil {
			return fmt.Errorf("manifest: mkdir %s: %w", dst, err)
		}
		return os.Chmod(dst, perm)

	case unix.S_IFCHR, unix.S_IFBLK:
		b.trace("rm -f %s", dst)
		if !b.DryRun {
			_ = os.Remove(dst)
		}
		if src == "/dev/ptmx" {
			b.trace("ln -s pts/ptmx %s", dst)
			if b.DryRun {
				return nil
			}
			return os.Symlink("pts/ptmx", dst)
		}
		b.trace("mknod %s %o %d", dst, ss.Mode, ss.Rdev)
		if b.DryRun {
			return nil
		}
		if err := unix.Mknod(dst, uint32(ss.Mode), int(ss.Rdev)); err != nil {
			return fmt.Errorf("manifest: mknod %s: %w", dst, err)
		}

	case unix.S_IFLNK:
		b.trace("rm -f %s", dst)
		if !b.DryRun {
			_ = os.Remove(dst)
		}
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("manifest: readlink %s: %w", src, err)
		}
		b.trace("ln -s %s %s", target, dst)
		if !b.DryRun {
			if err := os.Symlink(target, dst); err != nil {
				return fmt.Errorf("manifest: symlink %s: %w", dst, err)
			}
		}
		b.handleSymlinkDst(dst, src, target)

	default:
		return fmt.Errorf("manifest: %s: odd file type", src)
	}

	if ss.Uid != 0 || ss.Gid != 0 {
		b.trace("chown %d:%d %s", ss.Uid, ss.Gid, dst)
		if !b.DryRun {
			return os.Lchown(dst, int(ss.Uid), int(ss.Gid))
		}
	}
	return nil
}

func sameObject(a, b unix.Stat_t) bool {
	if a.Mode != b.Mode || a.Uid != b.Uid || a.Gid != b.Gid {
		return false
	}
	isRegOrLnk := a.Mode&unix.S_IFMT == unix.S_IFREG || a.Mode&unix.S_IFMT == unix.S_IFLNK
	if isRegOrLnk && a.Size != b.Size {
		return false
	}
	isDevNode := a.Mode&unix.S_IFMT == unix.S_IFBLK || a.Mode&unix.S_IFMT == unix.S_IFCHR
	if isDevNode && a.Rdev != b.Rdev {
		return false
	}
	if isRegOrLnk && (a.Mtim.Sec != b.Mtim.Sec || a.Mtim.Nsec != b.Mtim.Nsec) {
		return false
	}
	return true
}

// cpPreserve shells out to /bin/cp -p, mirroring x_cp_p: it is the
// teacher-idiomatic way to copy-with-metadata without reimplementing
// cp's xattr/ACL preservation semantics in Go.
func (b *Builder) cpPreserve(src, dst string) error {
	b.trace("rm -f %s", dst)
	b.trace("cp -p %s %s", src, dst)
	if b.DryRun {
		return nil
	}
	_ = os.Remove(dst)
	cmd := exec.Command("/bin/cp", "-p", src, dst)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("manifest: cp -p %s %s: %w", src, dst, err)
	}
	return nil
}

// handleSymlinkDst transitively pulls a symlink's target into the jail:
// an absolute target is copied to the same path under the destination
// root, and a relative one is resolved against the link's own directory
// (walking up once per leading "../"), stopping at an attempt to escape
// above the destination root and skipping /proc-rooted targets outright.
func (b *Builder) handleSymlinkDst(dst, src, lnk string) {
	root := b.Dstroot
	if lnk == "" {
		return
	}
	if lnk[0] == '/' {
		src = lnk
		dst = root + lnk
	} else {
		for {
			if len(src) == 1 {
				return
			}
			srcSlash := strings.LastIndexByte(src[:len(src)-1], '/')
			dstSlash := strings.LastIndexByte(dst[:len(dst)-1], '/')
			if srcSlash < 0 || dstSlash < 0 || dstSlash < len(root) {
				return
			}
			src = src[:srcSlash+1]
			dst = dst[:dstSlash+1]
			if strings.HasPrefix(lnk, "../") {
				lnk = lnk[3:]
			} else {
				break
			}
		}
		src += lnk
		dst += lnk
	}

	if len(dst) >= len(root)+6 && dst[len(root):len(root)+6] == "/proc/" {
		return
	}
	_ = b.handleCopy(src, dst[len(root):], 0)
}

// ensureDir makes sure dst exists as a directory with at least the
// given permissions, creating parents as needed, the way
// v_ensuredir prepares a bind/mount target.
func (b *Builder) ensureDir(dst string, perm os.FileMode) error {
	b.trace("mkdir -p -m %o %s", perm, dst)
	if b.DryRun {
		return nil
	}
	if err := os.MkdirAll(dst, perm); err != nil {
		return fmt.Errorf("manifest: mkdir %s: %w", dst, err)
	}
	return nil
}
