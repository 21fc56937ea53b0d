package cli

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/cs-jail/pa-jail/jaildir"
	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/pkg/mount"
	"github.com/cs-jail/pa-jail/policy"
)

// bgReexecFlag marks a re-exec of this same binary as the detached
// worker `rm` already backgrounded itself into, so runRm doesn't try
// to background a second time.
const bgReexecFlag = "PA_JAIL_RM_FG"

// runRm implements `pa-jail rm [-nVf] [--bg|--fg] JAILDIR`: unmount
// everything under the jail, then recursively remove it. It backgrounds
// by default (Go has no double-fork; re-exec'ing itself with
// PA_JAIL_RM_FG=1 in the environment under Setsid detaches just as
// effectively) unless --fg was given directly
// or this is already the re-exec'd worker.
func runRm(args []string) error {
	fs := newFlagSet("rm")
	dryRun := fs.BoolP("dry-run", "n", false, "print what would be removed without removing it")
	verbose := fs.BoolP("verbose", "V", false, "trace every removal")
	force := fs.BoolP("force", "f", false, "treat an already-missing jail as success")
	fg := fs.Bool("fg", false, "run in the foreground instead of backgrounding")
	fs.Bool("bg", true, "run in the background (default)")
	fs.BoolP("help", "h", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}

	pos := fs.Args()
	if len(pos) != 1 {
		return jailerror.Newf(jailerror.ArgumentError, "rm: JAILDIR required")
	}
	jaildirArg := pos[0]

	foreground := *fg || os.Getenv(bgReexecFlag) == "1"
	if !foreground {
		return backgroundRm(os.Args[1:])
	}

	conf, err := policy.Load("")
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}
	info, err := jaildir.Open(jaildirArg, "", jaildir.ActionRemove, conf, *force)
	if err != nil {
		if jailerror.CodeOf(err) == jailerror.Success {
			return nil // --force: already gone
		}
		return err
	}

	if !*dryRun {
		if err := mount.UnmountTree(info.Dir); err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
	}

	if err := info.Remove(*dryRun, *verbose, traceTo(os.Stderr)); err != nil {
		return err
	}
	return nil
}

// backgroundRm re-execs the current binary with the same arguments plus
// PA_JAIL_RM_FG=1, detached via Setsid, then returns immediately so the
// caller's parent exits 0 without waiting for the teardown to finish.
func backgroundRm(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), bgReexecFlag+"=1")
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return jailerror.Newf(jailerror.ArgumentError, "rm: background: %v", err)
	}
	return nil
}
