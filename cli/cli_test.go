package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildManifestTextOrdersFilesBeforeData(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "m1")
	if err := os.WriteFile(f, []byte("link /bin/sh"), 0644); err != nil {
		t.Fatal(err)
	}

	text, err := buildManifestText([]string{f}, []string{"link /bin/bash"})
	if err != nil {
		t.Fatalf("buildManifestText: %v", err)
	}
	want := "link /bin/sh\nlink /bin/bash\n"
	if text != want {
		t.Errorf("buildManifestText = %q, want %q", text, want)
	}
}

func TestBuildManifestTextMissingFile(t *testing.T) {
	if _, err := buildManifestText([]string{"/nonexistent/path"}, nil); err == nil {
		t.Fatal("expected error reading a missing manifest file")
	}
}
