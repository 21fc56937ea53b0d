// Command pa-jail builds, runs, moves, and tears down CS50-style grading
// jails: ephemeral chroot/namespace sandboxes that execute untrusted
// student code under a reduced-privilege identity behind a controlling
// pty, optionally relayed live to Server-Sent-Events observers.
package main

import (
	"os"

	"github.com/cs-jail/pa-jail/cli"
	"github.com/cs-jail/pa-jail/jailuser"
)

func main() {
	if jailuser.IsContainerInit() {
		jailuser.ContainerInit()
		return
	}
	os.Exit(cli.Run(os.Args[1:]))
}
