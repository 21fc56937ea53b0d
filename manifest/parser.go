// Package manifest parses and executes the jail skeleton manifest: the
// line-oriented description of what files, directories, binds, and
// mounts make up a jail's filesystem, and the copy/link/mount engine
// that realizes it under a destination root.
package manifest

import (
	"strings"
)

// Flag bits a manifest line's "[...]" bracket can request.
type Flag int

const (
	FlagCP Flag = 1 << iota
	FlagBind
	FlagBindRO
	FlagMount
)

// Kind distinguishes the three things a manifest line can produce.
type Kind int

const (
	KindCopy Kind = iota
	KindBind
	KindMount
)

// Directive is one fully-resolved manifest line: a source path to pull
// from (the real filesystem, or another jail skeleton) and the
// jail-relative destination it should appear at.
type Directive struct {
	Kind      Kind
	Flags     Flag
	Src       string
	Dst       string // jail-relative, always starts with '/'
	BindTag   string
	BindFiles string
	FSType    string
	MountOpts string
}

// Parse interprets manifest text into an ordered list of directives,
// tracking the running "directory:" header and reading an optional
// trailing "[flags]" bracket on each entry line; those flags apply to
// that line only.
func Parse(text string) []Directive {
	var directives []Directive
	cursrcdir, curdstsubdir := "/", "/"
	baseFlags := Flag(0)

	lines := splitManifestLines(text)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}

		if strings.HasSuffix(line, ":") {
			cursrcdir = parseDirectoryHeader(line)
			curdstsubdir = cursrcdir
			continue
		}

		flags := baseFlags
		var bindTag, bindFiles, mountDst, mountArgs string
		if strings.HasSuffix(line, "]") {
			body, opts, ok := splitBracket(line)
			if !ok {
				continue
			}
			line = body
			flags, bindTag, bindFiles, mountDst, mountArgs = parseOptions(opts, flags)
		}

		src, dst := resolveSrcDst(line, cursrcdir, curdstsubdir)

		switch {
		case flags&(FlagBind|FlagBindRO) != 0:
			d := Directive{Kind: KindBind, Flags: flags, Src: src, Dst: dst, BindTag: bindTag, BindFiles: bindFiles}
			directives = append(directives, d)
		case flags&FlagMount != 0:
			d := Directive{Kind: KindMount, Flags: flags, Src: src, Dst: dst, FSType: mountDst, MountOpts: mountArgs}
			directives = append(directives, d)
		default:
			directives = append(directives, Directive{Kind: KindCopy, Flags: flags, Src: src, Dst: dst})
		}
	}
	return directives
}

// splitManifestLines splits on newlines without losing empty trailing
// segments the way strings.Split on "\n" would already handle fine;
// kept as a named step for readability at the call site.
func splitManifestLines(text string) []string {
	return strings.Split(text, "\n")
}

func parseDirectoryHeader(line string) string {
	body := line[:len(line)-1]
	var dir string
	switch {
	case body == ".":
		dir = "/"
	case strings.HasPrefix(body, "./"):
		dir = body[1:]
	default:
		dir = body
	}
	if dir == "" || dir[0] != '/' {
		dir = "/" + dir
	}
	for len(dir) > 1 && strings.HasSuffix(dir, "//") {
		dir = dir[:len(dir)-1]
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir
}

// splitBracket pulls a trailing " [...]" off line, returning the
// directive body before it and the raw option text inside the
// brackets (without the enclosing braces).
func splitBracket(line string) (body, opts string, ok bool) {
	open := strings.LastIndexByte(line, '[')
	if open < 0 {
		return "", "", false
	}
	body = strings.TrimRight(line[:open], " \t")
	opts = line[open+1 : len(line)-1]
	return body, opts, true
}

// parseOptions interprets the semicolon/space-separated option words
// inside a "[...]" bracket.
func parseOptions(opts string, flags Flag) (outFlags Flag, bindTag, bindFiles, mountDst, mountArgs string) {
	outFlags = flags
	fields := tokenizeOptions(opts)
	i := 0
	for i < len(fields) {
		word := fields[i]
		i++
		switch word {
		case "cp":
			outFlags |= FlagCP
		case "bind":
			outFlags |= FlagBind
			if i < len(fields) {
				bindTag = fields[i]
				i++
			}
			if i < len(fields) {
				bindFiles = fields[i]
				i++
			}
		case "bind-ro":
			outFlags |= FlagBindRO
			if i < len(fields) {
				bindTag = fields[i]
				i++
			}
			if i < len(fields) {
				bindFiles = fields[i]
				i++
			}
		case "mount":
			outFlags |= FlagMount
			if i < len(fields) {
				mountDst = fields[i]
				i++
			}
			if i < len(fields) {
				mountArgs = strings.Join(fields[i:], " ")
				i = len(fields)
			}
		}
	}
	return
}

// tokenizeOptions splits a bracket body on whitespace and ';', which is
// how the original scans option words without treating ';' as part of
// any word.
func tokenizeOptions(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ';'
	})
}

// resolveSrcDst expands a manifest line body (optionally containing an
// " <- " arrow redirecting the copy source) into absolute source and
// jail-relative destination paths.
func resolveSrcDst(line, cursrcdir, curdstsubdir string) (src, dst string) {
	const arrowSep = " <- "
	body := line
	srcOverride := ""
	if idx := strings.Index(line, arrowSep); idx >= 0 {
		body = line[:idx]
		srcOverride = line[idx+len(arrowSep):]
	}

	if srcOverride != "" {
		src = srcOverride
	} else if strings.HasPrefix(body, "/") {
		src = body
	} else {
		src = cursrcdir + body
	}

	relBody := body
	if strings.HasPrefix(body, "/") {
		relBody = body[1:]
	}
	dst = curdstsubdir + relBody
	return src, dst
}
