package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/cs-jail/pa-jail/jaildir"
	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/jailuser"
	"github.com/cs-jail/pa-jail/policy"
)

// runRun implements `pa-jail run [-nVqh] [--fg] [-T SEC] [-I SEC]
// [-p PIDFILE] [-P PIDCONTENT] [-i INPUT] [-f FILE|-F DATA] [-S SKEL]
// [--event-source SOCK] [--ready[=S]] [--size WxH] [--no-onlcr]
// [-t TIMINGFILE] JAILDIR USER [NAME=VALUE...] COMMAND...`: builds (or
// rebuilds) the jail's skeleton exactly like add, then clones into a
// fresh namespace and execs the payload under a pty.
func runRun(args []string) error {
	fs := newFlagSet("run")
	dryRun := fs.BoolP("dry-run", "n", false, "print what would change without changing it")
	verbose := fs.BoolP("verbose", "V", false, "trace every filesystem operation")
	quiet := fs.BoolP("quiet", "q", false, "suppress the terminating banner")
	fg := fs.Bool("fg", false, "stay attached to the caller's own controlling terminal")
	timeoutSec := fs.Float64P("timeout", "T", 0, "wall-clock timeout in seconds")
	idleSec := fs.Float64P("idle-timeout", "I", 0, "idle timeout in seconds")
	pidFile := fs.StringP("pidfile", "p", "", "write the run's pid to FILE")
	pidContents := fs.StringP("pidfile-contents", "P", "", "pidfile body, $$ substituted with the pid")
	input := fs.StringP("input", "i", "", "read stdin from this file/FIFO instead of the caller's stdin")
	skel := fs.StringP("skeleton", "S", "", "shared skeleton directory to link against")
	files := fs.StringArrayP("manifest-file", "f", nil, "read manifest lines from FILE")
	data := fs.StringArrayP("manifest", "F", nil, "manifest lines given directly")
	eventSource := fs.String("event-source", "", "bind an SSE observer socket at PATH")
	ready := fs.String("ready", "", "print MARKER to stdout once the jail is ready")
	fs.Lookup("ready").NoOptDefVal = "ready"
	size := fs.String("size", "", "pty size as COLSxROWS")
	noONLCR := fs.Bool("no-onlcr", false, "clear ONLCR on the jail's pty")
	timingFile := fs.StringP("timing-file", "t", "", "append output-timing samples to FILE")
	fs.BoolP("help", "h", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}

	pos := fs.Args()
	if len(pos) < 2 {
		return jailerror.Newf(jailerror.ArgumentError, "run: JAILDIR and USER required")
	}
	jaildirArg, userArg := pos[0], pos[1]
	rest := pos[2:]

	conf, err := policy.Load("")
	if err != nil {
		return jailerror.New(jailerror.ArgumentError, err)
	}
	info, err := jaildir.Open(jaildirArg, *skel, jaildir.ActionRun, conf, false)
	if err != nil {
		return err
	}

	text, err := buildManifestText(*files, *data)
	if err != nil {
		return err
	}
	table, err := buildSkeleton(info, text, *dryRun, *verbose)
	if err != nil {
		return err
	}
	if !*dryRun {
		if err := info.ChownHome(); err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
	}

	// optind+2 >= argc in the original: no NAME=VALUE or COMMAND words
	// at all after JAILDIR USER means there's nothing to run, so run
	// degrades to add.
	if len(rest) == 0 || *dryRun {
		return nil
	}

	owner, err := jailuser.ResolveOwner(userArg)
	if err != nil {
		return err
	}

	env, command := splitEnvOverrides(rest)

	var cols, rows uint16
	if *size != "" {
		w, h, ok := strings.Cut(*size, "x")
		if !ok {
			return jailerror.Newf(jailerror.ArgumentError, "--size %s: want COLSxROWS", *size)
		}
		wi, err1 := strconv.Atoi(w)
		hi, err2 := strconv.Atoi(h)
		if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
			return jailerror.Newf(jailerror.ArgumentError, "--size %s: want COLSxROWS", *size)
		}
		cols, rows = uint16(wi), uint16(hi)
	}

	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	stdoutTTY := term.IsTerminal(int(os.Stdout.Fd()))
	stderrTTY := term.IsTerminal(int(os.Stderr.Fd()))
	hasPty := *input == "" || stdinTTY || stdoutTTY || stderrTTY

	stdin := os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
		defer f.Close()
		stdin = f
	}

	params := &jailuser.Params{
		JailDir:       info.Dir,
		OwnerUID:      owner.UID,
		OwnerGID:      owner.GID,
		OwnerHome:     owner.Home,
		OwnerShell:    owner.Shell,
		Argv:          command,
		Env:           env,
		CallerUID:     uint32(os.Getuid()),
		CallerGID:     uint32(os.Getgid()),
		Foreground:    *fg,
		Cols:          cols,
		Rows:          rows,
		NoONLCR:       *noONLCR,
		TimeoutSec:    *timeoutSec,
		IdleSec:       *idleSec,
		HasPty:        hasPty,
		StdinIsTTY:    stdinTTY,
		StdoutIsTTY:   stdoutTTY,
		StderrIsTTY:   stderrTTY,
		InputFromFIFO: *input != "",
		DryRun:        *dryRun,
		Verbose:       *verbose,
		Quiet:         *quiet,
		TimingFile:    *timingFile,
		EventSource:   *eventSource,
		ReadyMarker:   *ready,
		WantedMounts:  table.Entries(),
	}

	process, err := jailuser.Spawn(params, []*os.File{stdin, os.Stdout, os.Stderr})
	if err != nil {
		return err
	}

	if *pidFile != "" {
		contents := *pidContents
		if contents == "" {
			contents = "$$"
		}
		contents = strings.ReplaceAll(contents, "$$", strconv.Itoa(process.Pid))
		if !strings.HasSuffix(contents, "\n") {
			contents += "\n"
		}
		if err := os.WriteFile(*pidFile, []byte(contents), 0644); err != nil {
			return jailerror.New(jailerror.ArgumentError, err)
		}
	}

	state, err := process.Wait()
	if err != nil {
		return jailerror.Newf(jailerror.RuntimeIO, "run: wait: %v", err)
	}
	code := state.ExitCode()
	if code < 0 {
		code = jailerror.RuntimeIO
	}
	if code != jailerror.Success {
		return jailerror.New(code, fmt.Errorf("run: jail exited %d", code))
	}
	return nil
}

// splitEnvOverrides peels the leading run of NAME=VALUE words off args,
// returning them separately from the COMMAND words that follow.
func splitEnvOverrides(args []string) (env, command []string) {
	i := 0
	for i < len(args) && isNameValue(args[i]) {
		i++
	}
	return args[:i], args[i:]
}

func isNameValue(s string) bool {
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return false
	}
	name := s[:eq]
	for i, r := range name {
		switch {
		case r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z'):
		case '0' <= r && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
