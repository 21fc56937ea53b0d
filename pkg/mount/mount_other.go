//go:build !linux

package mount

import "fmt"

// ToUnix has no meaningful platform encoding outside Linux; pa-jail's
// namespace and pivot_root machinery is Linux-only.
func (f Flag) ToUnix() uintptr { return 0 }

func (t *Table) Populate() error {
	return fmt.Errorf("mount: Populate unsupported on this platform")
}

func (e Entry) Mount(dst string, dryRun bool) error {
	if dryRun {
		return nil
	}
	return fmt.Errorf("mount: Mount unsupported on this platform")
}

func (t *Table) HandleMount(dst string, e Entry, dryRun bool) error {
	t.Declare(dst, e)
	if dryRun {
		t.markMounted(dst, true)
		return nil
	}
	return fmt.Errorf("mount: HandleMount unsupported on this platform")
}

func (t *Table) HandleUnmount(mountpoint string, dryRun bool) error {
	if dryRun {
		t.markUnmounted(mountpoint)
		return nil
	}
	return fmt.Errorf("mount: HandleUnmount unsupported on this platform")
}

func PivotInto(newRoot, putOld string) error {
	return fmt.Errorf("mount: PivotInto unsupported on this platform")
}

func BindSelf(path string) error {
	return fmt.Errorf("mount: BindSelf unsupported on this platform")
}

func UnmountTree(root string) error {
	return fmt.Errorf("mount: UnmountTree unsupported on this platform")
}
