package jaildir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/policy"
)

func allowAll(t *testing.T, base string) *policy.Config {
	t.Helper()
	return policy.Parse("enablejail " + base + "/*\nenableskeleton " + base + "/*\n")
}

func TestOpenCreatesMissingDirForActionAdd(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	target := filepath.Join(base, "run1")
	info, err := Open(target, "", ActionAdd, conf, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st, err := os.Stat(target); err != nil || !st.IsDir() {
		t.Fatalf("expected directory created at %s, err=%v", target, err)
	}
	if info.Dir != target+"/" {
		t.Errorf("info.Dir = %q, want %q", info.Dir, target+"/")
	}
}

func TestOpenRejectsDisallowedPath(t *testing.T) {
	base := t.TempDir()
	conf := policy.Parse("enablejail /somewhere-else/*\n")

	if _, err := Open(filepath.Join(base, "run1"), "", ActionAdd, conf, false); err == nil {
		t.Fatal("expected policy rejection")
	}
}

func TestOpenRunDoesNotCreateMissingAncestorOutsidePermdir(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	missing := filepath.Join(base, "nope", "run1")
	if _, err := Open(missing, "", ActionRun, conf, false); err == nil {
		t.Fatal("expected error resolving a jail whose parent does not exist")
	}
}

func TestRemoveDeletesNestedTree(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	target := filepath.Join(base, "run1")
	info, err := Open(target, "", ActionAdd, conf, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "leaf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(target, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "sub", "leaf2"), []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := info.Remove(false, false, nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, stat err=%v", target, err)
	}
}

func TestOpenForceOnMissingRemoveIsSuccess(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	missing := filepath.Join(base, "never-existed")
	_, err := Open(missing, "", ActionRemove, conf, true)
	if err == nil || jailerror.CodeOf(err) != jailerror.Success {
		t.Fatalf("Open with force=true on a missing jail: err = %v, want an error carrying exit code %d", err, jailerror.Success)
	}
}

func TestOpenWithoutForceOnMissingRemoveIsError(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	missing := filepath.Join(base, "never-existed")
	if _, err := Open(missing, "", ActionRemove, conf, false); err == nil {
		t.Fatal("expected error resolving a missing jail for removal without --force")
	}
}

func TestRemoveDryRunLeavesFilesInPlace(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	target := filepath.Join(base, "run1")
	info, err := Open(target, "", ActionAdd, conf, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "leaf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var traced []string
	if err := info.Remove(true, true, func(s string) { traced = append(traced, s) }); err != nil {
		t.Fatalf("Remove dry-run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "leaf")); err != nil {
		t.Fatalf("dry run must not delete: %v", err)
	}
	if len(traced) == 0 {
		t.Errorf("expected trace output during verbose dry run")
	}
}

func TestMoveToNewPathRenamesDirectory(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	src := filepath.Join(base, "run1")
	if _, err := Open(src, "", ActionAdd, conf, false); err != nil {
		t.Fatalf("Open src: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "leaf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(base, "run2")
	if err := Move(src, dst, conf, false); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("expected %s gone after move, err=%v", src, err)
	}
	if _, err := os.Stat(filepath.Join(dst, "leaf")); err != nil {
		t.Errorf("expected %s/leaf to exist after move: %v", dst, err)
	}
}

func TestMoveIntoExistingDirectoryAppendsSourceLeaf(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "run1")
	destDir := filepath.Join(base, "parent")
	childDst := filepath.Join(destDir, "run1")

	// Exact (non-glob) policy entries, one per path this test resolves,
	// plus an explicit treedir so ownership checks don't walk above base.
	conf := policy.Parse("enablejail " + src + "\n" +
		"enablejail " + destDir + "\n" +
		"enablejail " + childDst + "\n" +
		"treedir " + base + "/\n")

	if _, err := Open(src, "", ActionAdd, conf, false); err != nil {
		t.Fatalf("Open src: %v", err)
	}
	if _, err := Open(destDir, "", ActionAdd, conf, false); err != nil {
		t.Fatalf("Open destDir: %v", err)
	}

	if err := Move(src, destDir, conf, false); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := os.Stat(childDst); err != nil {
		t.Errorf("expected %s to exist after move, err=%v", childDst, err)
	}
}

func TestMoveDryRunLeavesBothPathsInPlace(t *testing.T) {
	base := t.TempDir()
	conf := allowAll(t, base)

	src := filepath.Join(base, "run1")
	if _, err := Open(src, "", ActionAdd, conf, false); err != nil {
		t.Fatalf("Open src: %v", err)
	}
	dst := filepath.Join(base, "run2")

	if err := Move(src, dst, conf, true); err != nil {
		t.Fatalf("Move dry-run: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("dry run must not move source: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("dry run must not create destination: err=%v", err)
	}
}
