// Package mount builds and applies the jail's mount table: the host's
// existing mounts merged with manifest-declared binds and filesystem
// mounts, scheduled across the manifest/pre-fork/post-clone phases a jail
// construction passes through.
package mount

import "strings"

// Flag is a canonicalized bitmap of recognized mount options, independent
// of the underlying platform's MS_* / MNT_* numbering.
type Flag uint32

// Recognized option vocabulary. Order matches the original tool's
// mountargs table so debug output lists flags in the same order.
const (
	Bind Flag = 1 << iota
	NoAtime
	NoDev
	NoDirAtime
	NoExec
	NoSuid
	Private
	Rec
	Relatime
	Remount
	ReadOnly
	Slave
	StrictAtime
	Unbindable
)

type flagWord struct {
	name    string
	flag    Flag
	unparse bool // included when reconstructing a debug mount(8) command
}

// flagWords is the recognized option vocabulary in declaration order. "rw"
// has no bit of its own: it clears ReadOnly instead of setting anything.
var flagWords = []flagWord{
	{"bind", Bind, false},
	{"noatime", NoAtime, true},
	{"nodev", NoDev, true},
	{"nodiratime", NoDirAtime, true},
	{"noexec", NoExec, true},
	{"nosuid", NoSuid, true},
	{"private", Private, true},
	{"rec", Rec, false},
	{"relatime", Relatime, true},
	{"remount", Remount, true},
	{"ro", ReadOnly, true},
	{"rw", 0, true},
	{"slave", Slave, true},
	{"strictatime", StrictAtime, true},
	{"unbindable", Unbindable, true},
}

func findFlagWord(name string) (flagWord, bool) {
	for _, w := range flagWords {
		if w.name == name {
			return w, true
		}
	}
	return flagWord{}, false
}

// ParseOptions parses a comma-separated mount(8)-style option string into
// a canonical Flag bitmap and a residual string of unrecognized k[=v]
// pairs, in the order they first appeared.
func ParseOptions(opts string) (Flag, string) {
	var flags Flag
	var residual string
	for _, tok := range splitOptions(opts) {
		if tok == "" {
			continue
		}
		word := tok
		if idx := strings.IndexByte(tok, '='); idx >= 0 {
			word = tok[:idx]
		}
		if w, ok := findFlagWord(word); ok {
			if w.flag == 0 {
				flags &^= ReadOnly
			} else {
				flags |= w.flag
			}
			continue
		}
		if residual == "" {
			residual = tok
		} else {
			residual += "," + tok
		}
	}
	return flags, residual
}

func splitOptions(opts string) []string {
	if opts == "" {
		return nil
	}
	return strings.Split(opts, ",")
}

// AddOption folds a single option word into flags/residual, mirroring
// mountslot::add_mountopt: "rw" clears ReadOnly, a recognized word sets
// its bit, and anything else is merged into (or, if already present,
// removed and reinserted at the end of) the residual string.
func AddOption(flags Flag, residual, opt string) (Flag, string) {
	word := opt
	if eq := strings.IndexByte(opt, '='); eq >= 0 {
		word = opt[:eq]
	}
	if w, ok := findFlagWord(word); ok {
		if w.flag != 0 {
			return flags | w.flag, residual
		}
		return flags &^ ReadOnly, residual
	}
	parts := splitOptions(residual)
	kept := parts[:0]
	for _, p := range parts {
		pw := p
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			pw = p[:eq]
		}
		if pw != word {
			kept = append(kept, p)
		}
	}
	kept = append(kept, opt)
	return flags, strings.Join(kept, ",")
}

// DebugArgs renders the mount(8)-equivalent "-o ..." / "--bind/--rbind"
// argument string for a flag set, used for verbose tracing.
func DebugArgs(flags Flag, data string) string {
	var arg string
	if flags&ReadOnly == 0 {
		arg = "rw"
	}
	for _, w := range flagWords {
		if w.flag != 0 && flags&w.flag != 0 && w.unparse {
			if arg != "" {
				arg += ","
			}
			arg += w.name
		}
	}
	if data != "" {
		if arg != "" {
			arg += ","
		}
		arg += data
	}
	start := " --bind "
	if flags&Rec != 0 {
		start = " --rbind "
	}
	if flags&Bind != 0 {
		if arg == "rw" {
			return start
		}
		return start + "-o " + arg
	}
	if arg != "" {
		return " -o " + arg
	}
	return arg
}
