package jaildir

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestChownRecursiveAppliesOwnerToNestedFile(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("chown requires root")
	}
	base := t.TempDir()
	sub := filepath.Join(base, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	leaf := filepath.Join(sub, "leaf")
	if err := os.WriteFile(leaf, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ChownRecursive(base, 1000, 1000); err != nil {
		t.Fatalf("ChownRecursive: %v", err)
	}

	var st unix.Stat_t
	if err := unix.Lstat(leaf, &st); err != nil {
		t.Fatal(err)
	}
	if st.Uid != 1000 || st.Gid != 1000 {
		t.Errorf("leaf owner = %d:%d, want 1000:1000", st.Uid, st.Gid)
	}
}

func TestDirPathEndSlash(t *testing.T) {
	if got := dirPathEndSlash("/a/b"); got != "/a/b/" {
		t.Errorf("got %q", got)
	}
	if got := dirPathEndSlash("/a/b/"); got != "/a/b/" {
		t.Errorf("got %q", got)
	}
}
