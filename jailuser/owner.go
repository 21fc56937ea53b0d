// Package jailuser implements the part of pa-jail that runs once a jail
// directory has already been built: resolving the jail user, entering
// the namespace/pivot_root transition, forking the payload under a
// pseudo-terminal, and multiplexing bytes between the controller, the
// pty, and any Server-Sent-Events observers until the payload exits.
package jailuser

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/pkg/pathutil"
)

// Owner is a resolved jail-user identity: the uid/gid pa-jail drops
// privilege to, their home directory (always under /home), and the
// login shell used to run the payload command.
type Owner struct {
	UID   uint32
	GID   uint32
	Home  string
	Shell string
}

// ResolveOwner looks up name in the system account database the way
// jailownerinfo::init does: rejects root, requires a home directory
// under /home (with "/" remapped to "/home/nobody"), and requires the
// shell be bash, sh, or listed in /etc/shells.
func ResolveOwner(name string) (*Owner, error) {
	if len(name) >= 1024 {
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: username too long", name)
	}
	u, err := user.Lookup(name)
	if err != nil {
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: no such user", name)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, jailerror.New(jailerror.ArgumentError, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, jailerror.New(jailerror.ArgumentError, err)
	}
	if uid == 0 {
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: jail user cannot be root", name)
	}

	var home string
	switch {
	case u.HomeDir == "/":
		home = "/home/nobody"
	case strings.HasPrefix(u.HomeDir, "/home/"):
		home = u.HomeDir
	default:
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: home directory %s not under /home", name, u.HomeDir)
	}

	shell, err := lookupShell(name)
	if err != nil {
		return nil, err
	}
	if shell != "/bin/bash" && shell != "/bin/sh" && !shellAllowed(shell) {
		return nil, jailerror.Newf(jailerror.ArgumentError, "%s: shell %s not allowed by /etc/shells", name, shell)
	}

	return &Owner{UID: uint32(uid), GID: uint32(gid), Home: home, Shell: shell}, nil
}

func lookupShell(name string) (string, error) {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return "", jailerror.New(jailerror.ArgumentError, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) >= 7 && fields[0] == name {
			return fields[6], nil
		}
	}
	return "", jailerror.Newf(jailerror.ArgumentError, "%s: no such user", name)
}

func shellAllowed(shell string) bool {
	f, err := os.Open("/etc/shells")
	if err != nil {
		return false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == shell {
			return true
		}
	}
	return false
}

// BuildEnviron constructs the payload's environment: PATH/LANG/TERM/
// LD_LIBRARY_PATH inherited from the caller's own environment when
// present, HOME fixed to owner's home, and every NAME=VALUE argument
// overriding any of those by variable-name prefix match.
func BuildEnviron(owner *Owner, overrides []string) []string {
	path, lang, term, ldLibraryPath := "PATH=/usr/local/bin:/bin:/usr/bin", "LANG=C", "", ""
	for _, e := range os.Environ() {
		switch {
		case strings.HasPrefix(e, "PATH="):
			path = e
		case strings.HasPrefix(e, "LANG="):
			lang = e
		case strings.HasPrefix(e, "TERM="):
			term = e
		case strings.HasPrefix(e, "LD_LIBRARY_PATH="):
			ldLibraryPath = e
		}
	}

	env := []string{path, lang}
	if term != "" {
		env = append(env, term)
	}
	if ldLibraryPath != "" {
		env = append(env, ldLibraryPath)
	}
	env = append(env, fmt.Sprintf("HOME=%s", owner.Home))

	for _, o := range overrides {
		eq := strings.IndexByte(o, '=')
		if eq <= 0 {
			continue
		}
		name := o[:eq]
		replaced := false
		for i, e := range env {
			if strings.HasPrefix(e, name+"=") {
				env[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, o)
		}
	}
	return env
}

// BuildArgv builds the payload's argv: a login shell invocation when
// command is empty, otherwise "$SHELL -l -c COMMAND": a single command
// word is passed through as is, and several words are each
// shell-quoted and joined with spaces so the whole thing round-trips
// through a single -c argument.
func BuildArgv(owner *Owner, command []string) []string {
	if len(command) == 0 {
		return []string{owner.Shell, "-l"}
	}
	return []string{owner.Shell, "-l", "-c", quoteCommand(command)}
}

func quoteCommand(command []string) string {
	if len(command) == 1 {
		return command[0]
	}
	quoted := make([]string, len(command))
	for i, w := range command {
		quoted[i] = pathutil.ShellQuote(w)
	}
	return strings.Join(quoted, " ")
}

// Deadline computes the absolute expiry time.Time for a timeout in
// seconds, or the zero Time if timeout <= 0 (meaning "no deadline").
func Deadline(start time.Time, timeoutSeconds float64) time.Time {
	if timeoutSeconds <= 0 {
		return time.Time{}
	}
	return start.Add(time.Duration(timeoutSeconds * float64(time.Second)))
}
