// Package pathutil implements the small set of pathname and shell-quoting
// helpers the jail builder uses throughout manifest interpretation and
// verbose tracing: path normalization, a restrictive filename validator,
// and shell-safe argument quoting for the command trace pa-jail can print
// while it works.
package pathutil

import (
	"os"
	"strings"
	"unicode"
)

// EndSlash returns path with exactly one trailing slash appended if it
// did not already end in one.
func EndSlash(path string) string {
	if path == "" || path[len(path)-1] != '/' {
		return path + "/"
	}
	return path
}

// NoEndSlash strips all trailing slashes from path, except it never
// reduces a path to the empty string: "/" stays "/".
func NoEndSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

// ParentDir returns the slash-terminated directory containing path's
// final component. The result always ends in "/" and is never shorter
// than "/".
func ParentDir(path string) string {
	n := len(path)
	for n > 1 && path[n-1] == '/' {
		n--
	}
	for n > 1 && path[n-1] != '/' {
		n--
	}
	return path[:n]
}

// Absolute returns dir unchanged if it is already absolute, otherwise
// joins it onto the process's current working directory.
func Absolute(dir string) (string, error) {
	if dir != "" && dir[0] == '/' {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return EndSlash(wd) + dir, nil
}

// isAllowedChar reports whether c is in CheckFilename's allowlist:
// digits, ASCII letters, '-', '.', '_', '~' and '/'. Notably no space.
func isAllowedChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c == '/' || c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// CheckFilename validates and normalizes an absolute pathname destined
// to become a jail-relative path: it rejects empty names, names
// starting with '~', names containing any character outside the
// restrictive allowlist, and any ".." component (directory escape). It
// also collapses "./" components and repeated slashes. It returns ""
// for anything it rejects.
func CheckFilename(name string) string {
	const maxLen = 1024
	if name == "" || name[0] == '~' || len(name) >= maxLen {
		return ""
	}
	for i := 0; i < len(name); i++ {
		if !isAllowedChar(name[i]) {
			return ""
		}
	}

	out := make([]byte, 0, len(name))
	s := name
	for i := 0; i < len(s); i++ {
		c := s[i]
		out = append(out, c)
		if c == '.' && (i+1 == len(s) || s[i+1] == '/') && i > 0 && s[i-1] == '/' {
			out = out[:len(out)-1]
			i++
		} else if c == '.' && i+1 < len(s) && s[i+1] == '.' &&
			(i+2 == len(s) || s[i+2] == '/') &&
			(i == 0 || s[i-1] == '/') {
			return ""
		}
		for i+1 < len(s) && s[i] == '/' && s[i+1] == '/' {
			i++
		}
	}
	for len(out) > 1 && out[len(out)-1] == '/' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// ShellQuote quotes argument for safe inclusion in a /bin/sh command
// line: verbose/dry-run traces use it, and so does the jail's
// "$SHELL -c" command built from several COMMAND words. It leaves
// arguments already composed entirely of shell-safe characters
// unquoted, matching the original tool's trace output.
func ShellQuote(argument string) string {
	needsQuote := false
	for i := 0; i < len(argument); i++ {
		c := argument[i]
		if i == 0 && c == '~' {
			needsQuote = true
			break
		}
		if !isShellSafe(c) {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return argument
	}
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(argument); i++ {
		if argument[i] == '\'' {
			b.WriteString(`'\''`)
		} else {
			b.WriteByte(argument[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isShellSafe(c byte) bool {
	if unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
		return true
	}
	switch c {
	case '_', '-', '~', '.', '/':
		return true
	}
	return false
}
