package cli

import (
	"github.com/cs-jail/pa-jail/jaildir"
	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/policy"
)

// runMv implements `pa-jail mv [-n] SOURCE DEST`: both sides go through
// jaildir's full policy and root-ownership walk, exactly like
// add/run/rm, and the rename itself is a single renameat(2) against
// the resolved parent fds rather than a path-based os.Rename.
func runMv(args []string) error {
	fs := newFlagSet("mv")
	dryRun := fs.BoolP("dry-run", "n", false, "print what would change without changing it")
	fs.BoolP("help", "h", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}

	pos := fs.Args()
	if len(pos) != 2 {
		return jailerror.Newf(jailerror.ArgumentError, "mv: SOURCE and DEST required")
	}
	src, dst := pos[0], pos[1]

	conf, err := policy.Load("")
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}

	return jaildir.Move(src, dst, conf, *dryRun)
}
