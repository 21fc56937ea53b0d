// Package jaildir resolves, validates, and manages the lifecycle of a
// single jail directory: the component-by-component O_PATH walk that
// proves every ancestor is root-owned and non-writable before trusting
// it, directory creation for "add"/"run", recursive home-ownership
// repair, and recursive removal that refuses to cross a mount point.
package jaildir

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/pkg/pathutil"
	"github.com/cs-jail/pa-jail/policy"
)

// Action identifies which subcommand is resolving this directory,
// since it changes whether a missing path component may be created.
type Action int

const (
	ActionAdd Action = iota
	ActionRun
	ActionRemove
	ActionMove
)

// Info is a validated, resolved jail directory: the absolute,
// slash-terminated path, the open O_PATH descriptor chain collapsed to
// just the final parent fd and component, and the device its root
// lives on (for the --one-file-system style guard remove enforces).
type Info struct {
	Dir         string // absolute, slash-terminated
	Skeletondir string // absolute, slash-terminated, or ""
	ParentFd    int
	Component   string
	Permdir     string
	Dev         uint64
	Force       bool // remove: treat a missing directory as success
	Existed     bool // move: whether this path's final component was found
}

// Open validates rawDir (and, if given, rawSkeleton) against policy,
// walks every path component with O_PATH|O_NOFOLLOW verifying
// root-only ownership along the way, and for ActionAdd/ActionRun
// creates any missing component inside the permitted tree (the final
// one included). force only matters for ActionRemove: when true, a
// JAILDIR that's already gone yields a nil *Info and a *jailerror.Error
// whose code is jailerror.Success, instead of an ArgumentError.
func Open(rawDir, rawSkeleton string, action Action, conf *policy.Config, force bool) (*Info, error) {
	abs, err := pathutil.Absolute(rawDir)
	if err != nil {
		return nil, jailerror.New(jailerror.ArgumentError, err)
	}
	dir := pathutil.CheckFilename(abs)
	if dir == "" || dir == "/" {
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: bad characters in filename", rawDir)
	}
	dir = pathutil.EndSlash(dir)

	if !conf.AllowJail(dir) {
		return nil, jailerror.Newf(jailerror.ArgumentError,
			"%s: jail disabled by policy\n%s", dir, conf.DisableMessage(dir))
	}
	permdir := conf.Treedir(dir)

	info := &Info{Dir: dir, Permdir: permdir, Force: force}

	if rawSkeleton != "" {
		absSkel, err := pathutil.Absolute(rawSkeleton)
		if err != nil {
			return nil, jailerror.New(jailerror.ArgumentError, err)
		}
		skel := pathutil.EndSlash(absSkel)
		if !conf.AllowSkeleton(skel) {
			return nil, jailerror.Newf(jailerror.ArgumentError,
				"%s: skeleton disabled by policy\n%s", skel, conf.DisableMessage(skel))
		}
		info.Skeletondir = skel
	}

	if err := info.walk(action); err != nil {
		return nil, err
	}
	return info, nil
}

// Move validates SOURCE and DEST as jail directories the same way
// add/run/rm do, then renames SOURCE to DEST via renameat(2) against
// each side's resolved parent fd and leaf component rather than a
// path-based rename, closing the TOCTOU window a racing symlink swap
// would otherwise open between validation and the rename itself. If
// DEST already exists and is a directory, it becomes the new parent
// and SOURCE's own leaf name is appended to it, matching mv(1)'s
// move-into-directory convention.
func Move(rawSrc, rawDst string, conf *policy.Config, dryRun bool) error {
	srcInfo, err := Open(rawSrc, "", ActionRemove, conf, false)
	if err != nil {
		return err
	}

	dstInfo, err := Open(rawDst, "", ActionMove, conf, false)
	if err != nil {
		return err
	}

	if dstInfo.Existed {
		childDst := pathutil.EndSlash(dstInfo.Dir) + srcInfo.Component
		dstInfo, err = Open(childDst, "", ActionMove, conf, false)
		if err != nil {
			return err
		}
	}

	if dryRun {
		return nil
	}
	if err := unix.Renameat(srcInfo.ParentFd, srcInfo.Component, dstInfo.ParentFd, dstInfo.Component); err != nil {
		return jailerror.Newf(jailerror.ArgumentError, "mv %s %s: %v", srcInfo.Dir, dstInfo.Dir, err)
	}
	return nil
}

// walk descends dir component by component via openat(O_PATH|O_NOFOLLOW),
// verifying that every ancestor outside the permitted tree is
// root-owned and not group/other writable, and, for ActionAdd/ActionRun,
// creating any missing component inside the permitted tree.
func (info *Info) walk(action Action) error {
	dir := info.Dir
	parentFd := -1
	fd := -1
	lastPos := 0

	for lastPos != len(dir) {
		nextPos := lastPos
		for nextPos > 0 && nextPos < len(dir) && dir[nextPos] != '/' {
			nextPos++
		}
		if nextPos == 0 {
			nextPos++
		}
		component := dir[lastPos:nextPos]
		thisdir := dir[:nextPos]
		lastPos = nextPos
		for lastPos != len(dir) && dir[lastPos] == '/' {
			lastPos++
		}

		allowedHere := info.Permdir != "" && lastPos >= len(info.Permdir) &&
			dir[:len(info.Permdir)] == info.Permdir

		if parentFd >= 0 {
			unix.Close(parentFd)
		}
		parentFd = fd
		newFd, err := unix.Openat(parentFd, component, unix.O_PATH|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
		if err != nil {
			if !allowedHere && err == unix.ENOENT {
				break
			}
			if allowedHere && err == unix.ENOENT && (action == ActionAdd || action == ActionRun) {
				if err := unix.Mkdirat(parentFd, component, 0755); err != nil {
					return jailerror.Newf(jailerror.ArgumentError, "mkdir %s: %v", thisdir, err)
				}
				newFd, err = unix.Openat(parentFd, component, unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
				if err != nil {
					return jailerror.Newf(jailerror.ArgumentError, "%s: %v", thisdir, err)
				}
				if lastPos == len(dir) {
					if err := unix.Fchmod(newFd, 0755); err != nil {
						return jailerror.Newf(jailerror.ArgumentError, "chmod %s: %v", thisdir, err)
					}
				}
			} else if allowedHere && err == unix.ENOENT && action == ActionMove && lastPos == len(dir) {
				// dest doesn't exist yet: renameat(2) will create the
				// leaf itself, so the walk just needs this component's
				// parent fd, not an open fd on the component.
				info.ParentFd = parentFd
				info.Component = component
				info.Existed = false
				fd = -1
				continue
			} else if err == unix.ENOENT && action == ActionRemove && info.Force {
				return jailerror.New(jailerror.Success, fmt.Errorf("not found"))
			} else {
				return jailerror.Newf(jailerror.ArgumentError, "%s: %v", thisdir, err)
			}
		}
		fd = newFd

		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			return jailerror.Newf(jailerror.ArgumentError, "%s: not a directory", thisdir)
		}
		if !allowedHere && lastPos != len(dir) {
			if st.Uid != 0 {
				return jailerror.Newf(jailerror.ArgumentError, "%s: not owned by root", thisdir)
			}
			if (st.Gid != 0 && st.Mode&unix.S_IWGRP != 0) || st.Mode&unix.S_IWOTH != 0 {
				return jailerror.Newf(jailerror.ArgumentError, "%s: writable by non-root", thisdir)
			}
		}
		info.Dev = st.Dev
		info.ParentFd = parentFd
		info.Component = component
		info.Existed = true
	}
	if fd >= 0 {
		unix.Close(fd)
	}
	return nil
}

// Remove deletes the jail directory tree recursively, depth first,
// refusing to descend into a directory on a different device from the
// jail root (the --one-file-system guard); such a directory is left in
// place.
func (info *Info) Remove(dryRun, verbose bool, trace func(string)) error {
	return info.removeRecursive(info.ParentFd, info.Component, info.Dir, dryRun, verbose, trace)
}

func (info *Info) removeRecursive(parentFd int, component, dirname string, dryRun, verbose bool, trace func(string)) error {
	dirFd, err := unix.Openat(parentFd, component, unix.O_RDONLY, 0)
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(dirFd, &st); err != nil {
		unix.Close(dirFd)
		return jailerror.New(jailerror.ArgumentError, err)
	}
	if st.Dev != info.Dev {
		unix.Close(dirFd)
		return nil
	}

	dir := os.NewFile(uintptr(dirFd), dirname)
	names, err := dir.Readdirnames(-1)
	if err != nil {
		dir.Close()
		return jailerror.New(jailerror.ArgumentError, err)
	}

	for _, name := range names {
		var lst unix.Stat_t
		if err := unix.Lstat(dirname+name, &lst); err != nil {
			continue
		}
		if lst.Mode&unix.S_IFMT == unix.S_IFDIR {
			if err := info.removeRecursive(dirFd, name, dirname+name+"/", dryRun, verbose, trace); err != nil {
				dir.Close()
				return err
			}
			continue
		}
		if verbose && trace != nil {
			trace(fmt.Sprintf("rm %s%s", dirname, name))
		}
		if !dryRun {
			if err := unix.Unlinkat(dirFd, name, 0); err != nil {
				dir.Close()
				return jailerror.Newf(jailerror.ArgumentError, "rm %s%s: %v", dirname, name, err)
			}
		}
	}
	dir.Close()

	if verbose && trace != nil {
		trace(fmt.Sprintf("rmdir %s", dirname))
	}
	if !dryRun {
		if err := unix.Unlinkat(parentFd, component, unix.AT_REMOVEDIR); err != nil {
			return jailerror.Newf(jailerror.ArgumentError, "rmdir %s: %v", dirname, err)
		}
	}
	return nil
}
