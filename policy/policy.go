// Package policy reads /etc/pa-jail.conf, the per-host allowlist that
// gates which directories may become jails or jail skeletons, and
// resolves the "treedir" a jail's ownership and cleanup bookkeeping
// should be rooted at.
package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cs-jail/pa-jail/pkg/fnmatch"
	"github.com/cs-jail/pa-jail/pkg/pathutil"
)

// DefaultPath is the location pa-jail reads its policy from when none
// is given explicitly. It must be owned by root and writable only by
// root, or Load refuses it.
const DefaultPath = "/etc/pa-jail.conf"

// Config is a parsed policy file. It is immutable after Load/Parse;
// AllowJail and friends recompute their treedir/disable-message state
// on every call, matching how pa-jail.cc's pajailconf mutates its
// cached fields as a side effect of each allows_type query.
type Config struct {
	lines [][2]string // action word, rest-of-line argument
}

// Load reads and validates path (defaulting to DefaultPath when empty)
// as root-owned and not group/other writable, then parses it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if err := checkOwnership(st); err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}

	data := make([]byte, 8193)
	n, err := f.Read(data)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("policy: %s: empty file", path)
	}
	if n == len(data) {
		return nil, fmt.Errorf("policy: %s: too big, max %d bytes", path, len(data)-1)
	}
	return Parse(string(data[:n])), nil
}

// Parse builds a Config from policy text directly, used by tests and
// by callers that already hold the file contents.
func Parse(text string) *Config {
	c := &Config{}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}
		c.lines = append(c.lines, [2]string{fields[0], arg})
	}
	return c
}

// result carries the two pieces of state allows_type recomputes on
// every call: the resolved treedir and the pattern (if any) that
// decided the outcome, used to render a disable message.
type result struct {
	allowed         bool
	treedir         string
	allowancePatt   string
}

func (c *Config) evaluate(kind string, dir string, superdir bool) result {
	dir = pathutil.EndSlash(dir)
	allowedGlobally, allowedLocally := -1, -1
	var treedir, allowancePattern string

	for _, ln := range c.lines {
		action, arg := ln[0], ln[1]
		var allowed int
		switch {
		case action == "disable"+kind || action == "no"+kind:
			allowed = 0
		case action == "enable"+kind || action == "allow"+kind:
			allowed = 1
		case action == "treedir":
			if strings.HasPrefix(arg, "/") {
				pattern := pathutil.EndSlash(arg)
				treedir = applyTreedir(treedir, pattern, dir, true)
			}
			continue
		default:
			continue
		}

		if arg == "" {
			allowedGlobally = allowed
			if allowed == 0 {
				allowedLocally = allowed
			}
			allowancePattern = ""
		} else if strings.HasPrefix(arg, "/") {
			pattern := pathutil.EndSlash(arg)
			if checkDirmatch(pattern, dir, superdir || allowed <= 0) {
				allowedLocally = allowed
				allowancePattern = pattern
				if allowed > 0 {
					treedir = applyTreedir(treedir, pattern, dir, false)
				}
			}
		}
	}

	return result{
		allowed:       allowedGlobally != 0 && allowedLocally > 0,
		treedir:       treedir,
		allowancePatt: allowancePattern,
	}
}

// applyTreedir mirrors set_treedir: a non-explicit (derived from an
// allowance pattern) "/*/" pattern is truncated to its superdir before
// matching, and the shortest matching superdir wins.
func applyTreedir(current, pattern, dir string, explicit bool) string {
	if !explicit && strings.HasSuffix(pattern, "/*/") {
		pattern = pattern[:len(pattern)-2]
	}
	superdir, ok := dirmatchSuperdir(pattern, dir)
	if !ok || !fnmatch.Match(pattern, superdir) {
		return current
	}
	if current == "" || len(current) > len(superdir) {
		return superdir
	}
	return current
}

// checkDirmatch reports whether dir matches pattern, optionally only
// requiring the superdir implied by pattern's directory-count to match.
func checkDirmatch(pattern, dir string, superdir bool) bool {
	if superdir {
		s, ok := dirmatchSuperdir(pattern, dir)
		if !ok {
			return false
		}
		dir = s
	}
	return fnmatch.Match(pattern, dir)
}

// dirmatchSuperdir truncates dir to the same number of path components
// as pattern has, returning ok=false if dir is too short.
func dirmatchSuperdir(pattern, dir string) (string, bool) {
	patPos, strPos := 0, 0
	for {
		i := strings.IndexByte(pattern[patPos:], '/')
		if i < 0 {
			return dir[:strPos], true
		}
		patPos += i + 1
		j := strings.IndexByte(dir[strPos:], '/')
		if j < 0 {
			return "", false
		}
		strPos += j + 1
	}
}

// AllowJail reports whether dir itself may be used as a jail root.
func (c *Config) AllowJail(dir string) bool {
	return c.evaluate("jail", dir, false).allowed
}

// AllowJailSubdir reports whether some subdirectory of dir may be used
// as a jail root, used when resolving a jail directory that is itself
// inside an allowed tree rather than matching a pattern exactly.
func (c *Config) AllowJailSubdir(dir string) bool {
	return c.evaluate("jail", dir, true).allowed
}

// AllowSkeleton reports whether dir may be used as a skeleton source.
func (c *Config) AllowSkeleton(dir string) bool {
	return c.evaluate("skeleton", dir, false).allowed
}

// Treedir returns the ownership root the jail rules resolve for dir,
// recomputed from the rules on every call.
func (c *Config) Treedir(dir string) string {
	return c.evaluate("jail", dir, false).treedir
}

// DisableMessage renders a one-line explanation naming the last
// jail-rule pattern that matched dir (reset by any later global rule),
// or "" if there is none.
func (c *Config) DisableMessage(dir string) string {
	r := c.evaluate("jail", dir, false)
	if r.allowancePatt == "" {
		return ""
	}
	return "  (disabled by " + r.allowancePatt + ")\n"
}

