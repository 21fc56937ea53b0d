package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/cs-jail/pa-jail/pkg/mount"
)

func newTestBuilder(dstroot string) *Builder {
	table := mount.NewTable()
	return NewBuilder(dstroot, table)
}

func TestHandleCopyRegularFile(t *testing.T) {
	srcDir := t.TempDir()
	dstRoot := t.TempDir()

	srcFile := filepath.Join(srcDir, "hello.txt")
	if err := os.WriteFile(srcFile, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(dstRoot)
	if err := b.handleCopy(srcFile, "/hello.txt", FlagCP); err != nil {
		t.Fatalf("handleCopy: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstRoot, "hello.txt"))
	if err != nil {
		t.Fatalf("expected copied file: %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestHandleCopyPullsInParentDir(t *testing.T) {
	srcDir := t.TempDir()
	dstRoot := t.TempDir()

	sub := filepath.Join(srcDir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	srcFile := filepath.Join(sub, "leaf")
	if err := os.WriteFile(srcFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(dstRoot)
	if err := b.handleCopy(srcFile, "/a/b/leaf", FlagCP); err != nil {
		t.Fatalf("handleCopy: %v", err)
	}

	if st, err := os.Stat(filepath.Join(dstRoot, "a")); err != nil || !st.IsDir() {
		t.Errorf("expected parent dir /a created, err=%v", err)
	}
	if st, err := os.Stat(filepath.Join(dstRoot, "a", "b")); err != nil || !st.IsDir() {
		t.Errorf("expected parent dir /a/b created, err=%v", err)
	}
}

func TestHandleCopyDedupsRepeatedDst(t *testing.T) {
	srcDir := t.TempDir()
	dstRoot := t.TempDir()

	srcFile := filepath.Join(srcDir, "f")
	if err := os.WriteFile(srcFile, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(dstRoot)
	if err := b.handleCopy(srcFile, "/f", FlagCP); err != nil {
		t.Fatal(err)
	}
	if !b.dstTable[dstRoot+"/f"] {
		t.Fatalf("expected dst recorded")
	}
	// A second call with a different source must be a no-op because the
	// destination is already recorded.
	srcFile2 := filepath.Join(srcDir, "g")
	if err := os.WriteFile(srcFile2, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := b.handleCopy(srcFile2, "/f", FlagCP); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(dstRoot, "f"))
	if string(got) != "one" {
		t.Errorf("dst was overwritten by dedup-skip failure: got %q", got)
	}
}

func TestDoCopyHardlinksDuplicateSource(t *testing.T) {
	srcDir := t.TempDir()
	dstRoot := t.TempDir()

	srcFile := filepath.Join(srcDir, "shared")
	if err := os.WriteFile(srcFile, []byte("shared-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(dstRoot)
	if err := b.handleCopy(srcFile, "/first", 0); err != nil {
		t.Fatal(err)
	}
	if err := b.handleCopy(srcFile, "/second", 0); err != nil {
		t.Fatal(err)
	}

	var st1, st2 unix.Stat_t
	if err := unix.Lstat(filepath.Join(dstRoot, "first"), &st1); err != nil {
		t.Fatal(err)
	}
	if err := unix.Lstat(filepath.Join(dstRoot, "second"), &st2); err != nil {
		t.Fatal(err)
	}
	if st1.Ino != st2.Ino {
		t.Errorf("expected hard link reuse, got distinct inodes %d vs %d", st1.Ino, st2.Ino)
	}
}

func TestDoCopySkipsUpToDateReuse(t *testing.T) {
	srcDir := t.TempDir()
	dstRoot := t.TempDir()

	srcFile := filepath.Join(srcDir, "f")
	if err := os.WriteFile(srcFile, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(dstRoot)
	if err := b.handleCopy(srcFile, "/f", FlagCP); err != nil {
		t.Fatal(err)
	}

	var ss unix.Stat_t
	if err := unix.Lstat(srcFile, &ss); err != nil {
		t.Fatal(err)
	}
	if err := b.doCopy(filepath.Join(dstRoot, "f"), srcFile, ss, false); err != nil {
		t.Fatalf("doCopy reuse path failed: %v", err)
	}
}

func TestSameObjectComparesRelevantFields(t *testing.T) {
	a := unix.Stat_t{Mode: unix.S_IFREG | 0644, Uid: 0, Gid: 0, Size: 10}
	b := a
	if !sameObject(a, b) {
		t.Fatalf("identical stats should compare equal")
	}
	b.Size = 11
	if sameObject(a, b) {
		t.Fatalf("differing size on regular file must not compare equal")
	}
}

func TestApplyMountUsesFSType(t *testing.T) {
	dstRoot := t.TempDir()
	b := newTestBuilder(dstRoot)
	b.DryRun = true

	d := Directive{Kind: KindMount, Src: "none", Dst: "/tmp", FSType: "tmpfs", MountOpts: "size=1m"}
	if err := b.applyMount(d); err != nil {
		t.Fatalf("applyMount: %v", err)
	}
	entry, ok := b.Table.Lookup("none")
	if !ok {
		t.Fatalf("expected table entry for mount source")
	}
	if entry.Type != "tmpfs" {
		t.Errorf("entry.Type = %q, want tmpfs", entry.Type)
	}
}
