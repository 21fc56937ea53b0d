package jaildir

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// homeOwner is one /etc/passwd entry's uid/gid, keyed by the final
// component of its home directory (or by username when the home
// directory isn't under /home/<name>).
type homeOwner struct {
	uid, gid uint32
}

// ChownHome recursively reassigns ownership under dir/home, giving each
// top-level subdirectory there to the uid/gid of the matching local
// account (by the final path component of /etc/passwd's home
// directory, falling back to the account name), and everything else to
// root. It never crosses into a different filesystem.
func (info *Info) ChownHome() error {
	homeFd, err := unix.Openat(info.ParentFd, info.Component+"/home", unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fmt.Errorf("chown_home: %w", err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(homeFd, &st); err != nil {
		unix.Close(homeFd)
		return fmt.Errorf("chown_home: %w", err)
	}
	homeMap, err := readPasswdHomeMap()
	if err != nil {
		unix.Close(homeFd)
		return err
	}
	return chownRecursive(homeFd, info.Dir+"home/", 0, 0, homeMap, st.Dev)
}

// ChownRecursive reassigns ownership of everything under dir to
// owner:group without any home-directory special-casing.
func ChownRecursive(dir string, owner, group uint32) error {
	dirFd, err := unix.Open(dir, unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fmt.Errorf("chown_recursive: %w", err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(dirFd, &st); err != nil {
		unix.Close(dirFd)
		return err
	}
	if err := unix.Fchown(dirFd, int(owner), int(group)); err != nil {
		unix.Close(dirFd)
		return err
	}
	return chownRecursive(dirFd, dirPathEndSlash(dir), owner, group, nil, st.Dev)
}

func dirPathEndSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

func chownRecursive(dirFd int, dirbuf string, owner, group uint32, homeMap map[string]homeOwner, dev uint64) error {
	f := os.NewFile(uintptr(dirFd), dirbuf)
	entries, err := f.ReadDir(-1)
	if err != nil {
		f.Close()
		return fmt.Errorf("chown_recursive %s: %w", dirbuf, err)
	}

	for _, de := range entries {
		name := de.Name()
		if de.Type()&os.ModeSymlink != 0 {
			if err := unix.Fchownat(dirFd, name, int(owner), int(group), unix.AT_SYMLINK_NOFOLLOW); err != nil {
				f.Close()
				return err
			}
			continue
		}

		u, g := owner, group
		if homeMap != nil {
			if ug, ok := homeMap[name]; ok {
				u, g = ug.uid, ug.gid
			}
		}

		if de.IsDir() {
			subFd, err := unix.Openat(dirFd, name, unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
			if err != nil {
				continue
			}
			var subst unix.Stat_t
			if err := unix.Fstat(subFd, &subst); err != nil {
				unix.Close(subFd)
				continue
			}
			if subst.Dev == dev {
				if err := unix.Fchown(subFd, int(u), int(g)); err != nil {
					unix.Close(subFd)
					f.Close()
					return err
				}
				if err := chownRecursive(subFd, dirbuf+name+"/", u, g, nil, dev); err != nil {
					f.Close()
					return err
				}
			} else {
				unix.Close(subFd)
			}
		} else if err := unix.Fchownat(dirFd, name, int(u), int(g), unix.AT_SYMLINK_NOFOLLOW); err != nil {
			f.Close()
			return err
		}
	}
	f.Close()
	return nil
}

// readPasswdHomeMap builds the /etc/passwd-derived lookup chown_home
// uses to decide which account a given top-level home subdirectory
// belongs to.
func readPasswdHomeMap() (map[string]homeOwner, error) {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return nil, fmt.Errorf("readPasswdHomeMap: %w", err)
	}
	defer f.Close()

	m := make(map[string]homeOwner)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) < 7 {
			continue
		}
		name, uidStr, gidStr, home := fields[0], fields[2], fields[3], fields[5]
		uid, err1 := strconv.ParseUint(uidStr, 10, 32)
		gid, err2 := strconv.ParseUint(gidStr, 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		key := name
		if strings.HasPrefix(home, "/home/") && !strings.Contains(home[len("/home/"):], "/") {
			key = home[len("/home/"):]
		}
		m[key] = homeOwner{uid: uint32(uid), gid: uint32(gid)}
	}
	return m, sc.Err()
}
