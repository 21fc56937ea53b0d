//go:build linux

package policy

import (
	"fmt"
	"os"
	"syscall"
)

// checkOwnership mirrors writable_only_by_root: the file must be owned
// by root, and only writable by root (group-write is tolerated only
// when the group is also root).
func checkOwnership(st os.FileInfo) error {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot determine ownership")
	}
	mode := st.Mode()
	if sys.Uid != 0 {
		return fmt.Errorf("writable by non-root")
	}
	if sys.Gid != 0 && mode&0020 != 0 {
		return fmt.Errorf("writable by non-root")
	}
	if mode&0002 != 0 {
		return fmt.Errorf("writable by non-root")
	}
	return nil
}
