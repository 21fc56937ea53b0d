package cli

import (
	"os"
	"strings"

	"github.com/cs-jail/pa-jail/jaildir"
	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/manifest"
	"github.com/cs-jail/pa-jail/pkg/mount"
	"github.com/cs-jail/pa-jail/policy"
)

// runAdd implements `pa-jail add [-nVh] [-f FILE|-F DATA] [-S SKEL]
// JAILDIR [USER]`: build (or rebuild) the jail's filesystem skeleton
// from a manifest, with no fork and no exec.
func runAdd(args []string) error {
	fs := newFlagSet("add")
	dryRun := fs.BoolP("dry-run", "n", false, "print what would change without changing it")
	verbose := fs.BoolP("verbose", "V", false, "trace every filesystem operation")
	skel := fs.StringP("skeleton", "S", "", "shared skeleton directory to link against")
	files := fs.StringArrayP("manifest-file", "f", nil, "read manifest lines from FILE")
	data := fs.StringArrayP("manifest", "F", nil, "manifest lines given directly")
	fs.BoolP("help", "h", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}

	pos := fs.Args()
	if len(pos) < 1 {
		return jailerror.Newf(jailerror.ArgumentError, "add: JAILDIR required")
	}
	jaildirArg := pos[0]
	var user string
	if len(pos) > 1 {
		user = pos[1]
	}

	conf, err := policy.Load("")
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}
	info, err := jaildir.Open(jaildirArg, *skel, jaildir.ActionAdd, conf, false)
	if err != nil {
		return err
	}

	text, err := buildManifestText(*files, *data)
	if err != nil {
		return err
	}

	if _, err := buildSkeleton(info, text, *dryRun, *verbose); err != nil {
		return err
	}

	if user != "" && !*dryRun {
		if err := info.ChownHome(); err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
	}
	return nil
}

// buildSkeleton runs a parsed manifest against a jail's destination
// root, linking against info.Skeletondir when one is configured, and
// hands back the mount.Table the manifest populated so callers that
// need to re-apply the same mounts inside a fresh namespace (run) can
// carry its declarations across the jailuser re-exec handoff.
func buildSkeleton(info *jaildir.Info, manifestText string, dryRun, verbose bool) (*mount.Table, error) {
	table := mount.NewTable()
	b := manifest.NewBuilder(strings.TrimRight(info.Dir, "/"), table)
	b.DryRun = dryRun
	b.Verbose = verbose
	b.Trace = traceTo(os.Stderr)
	b.JailDev = info.Dev
	if info.Skeletondir != "" {
		b.Linkdir = info.Skeletondir
	}

	if err := b.Apply(manifest.Parse(manifestText)); err != nil {
		return nil, jailerror.New(jailerror.ArgumentError, err)
	}
	return table, nil
}
