package pathutil

import "testing"

func TestEndSlash(t *testing.T) {
	cases := map[string]string{
		"":       "/",
		"/home":  "/home/",
		"/home/": "/home/",
	}
	for in, want := range cases {
		if got := EndSlash(in); got != want {
			t.Errorf("EndSlash(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNoEndSlash(t *testing.T) {
	cases := map[string]string{
		"/home///": "/home",
		"/":        "/",
		"/home":    "/home",
	}
	for in, want := range cases {
		if got := NoEndSlash(in); got != want {
			t.Errorf("NoEndSlash(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParentDir(t *testing.T) {
	cases := map[string]string{
		"/home/student/file.txt": "/home/student/",
		"/home/student/":         "/home/",
		"/":                      "/",
		"/file":                  "/",
	}
	for in, want := range cases {
		if got := ParentDir(in); got != want {
			t.Errorf("ParentDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckFilenameRejects(t *testing.T) {
	bad := []string{
		"",
		"~root",
		"/etc/../etc/passwd",
		"/etc/..",
		"/a b",
		"/etc/$HOME",
	}
	for _, name := range bad {
		if got := CheckFilename(name); got != "" {
			t.Errorf("CheckFilename(%q) = %q, want rejected", name, got)
		}
	}
}

func TestCheckFilenameNormalizes(t *testing.T) {
	cases := map[string]string{
		"/home//student//":    "/home/student",
		"/home/./student":     "/home/student",
		"/home/student/.":     "/home/student",
		"/usr/local/bin/bash": "/usr/local/bin/bash",
	}
	for in, want := range cases {
		if got := CheckFilename(in); got != want {
			t.Errorf("CheckFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShellQuoteRoundTrip(t *testing.T) {
	cases := map[string]string{
		"/usr/bin/python3":   "/usr/bin/python3",
		"hello world":        "'hello world'",
		"it's":               `'it'\''s'`,
		"~student":           "'~student'",
		"/home/~student":     "/home/~student",
		"":                   "",
		"a&&b":                "'a&&b'",
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Errorf("ShellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
