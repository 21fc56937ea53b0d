// Package cli implements pa-jail's subcommand dispatcher: argument
// parsing for add/run/mv/rm, wiring policy, jaildir, manifest, and
// jailuser together, and translating whatever error comes back into
// the one process exit code main.go reports.
package cli

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/cs-jail/pa-jail/jailerror"
)

const usage = `usage:
  pa-jail add [-nVh] [-f FILE|-F DATA] [-S SKEL] JAILDIR [USER]
  pa-jail run [-nVqh] [--fg] [-T SEC] [-I SEC] [-p PIDFILE] [-P PIDCONTENT]
              [-i INPUT] [-f FILE|-F DATA] [-S SKEL] [--event-source SOCK]
              [--ready[=S]] [--size WxH] [--no-onlcr] [-t TIMINGFILE]
              JAILDIR USER [NAME=VALUE...] COMMAND...
  pa-jail mv  [-n] SOURCE DEST
  pa-jail rm  [-nVf] [--bg|--fg] JAILDIR`

// Run dispatches args (without argv[0]) to the matching subcommand and
// returns the process exit code. It is the only place in this package
// that knows about exit codes as opposed to errors.
func Run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return jailerror.ArgumentError
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "add":
		err = runAdd(rest)
	case "run":
		err = runRun(rest)
	case "mv":
		err = runMv(rest)
	case "rm":
		err = runRm(rest)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return jailerror.Success
	default:
		fmt.Fprintln(os.Stderr, usage)
		return jailerror.ArgumentError
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "pa-jail:", err)
		return jailerror.CodeOf(err)
	}
	return jailerror.Success
}

// newFlagSet returns a pflag.FlagSet configured the way every pa-jail
// subcommand wants: silent on its own (Run prints the one usage
// string), and errors returned rather than os.Exit'd.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(discard{})
	return fs
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// buildManifestText concatenates -f FILE contents (in the order given)
// followed by -F DATA arguments (in the order given), each guaranteed
// to end in a newline. How -f and -F arguments were interleaved on the
// command line is not preserved.
func buildManifestText(files, data []string) (string, error) {
	var b strings.Builder
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", jailerror.New(jailerror.ArgumentError, err)
		}
		b.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	for _, d := range data {
		b.WriteString(d)
		if len(d) == 0 || d[len(d)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func traceTo(w *os.File) func(string) {
	return func(s string) { fmt.Fprintln(w, s) }
}
