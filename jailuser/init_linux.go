//go:build linux

package jailuser

import (
	"fmt"
	"io"
	"os"

	"github.com/cs-jail/pa-jail/jailerror"
	"github.com/cs-jail/pa-jail/pkg/mount"
)

// ContainerInit is the entry point main() calls when IsContainerInit
// reports true: it is the new namespace's pid 1. It reads its Params
// off fd 3, performs the privilege/namespace transition, forks the
// payload under a pty, and runs the multiplex loop until the payload
// exits — never returning on success (it calls os.Exit itself, since
// it is also the namespace's init and its own exit tears the jail
// down).
func ContainerInit() {
	pf := os.NewFile(3, "params")
	data, err := io.ReadAll(pf)
	pf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pa-jail: container-init: read params: %v\n", err)
		os.Exit(jailerror.PrivFailure)
	}
	params, err := decodeParams(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pa-jail: container-init: %v\n", err)
		os.Exit(jailerror.PrivFailure)
	}

	table := mount.NewTable()
	for dst, e := range params.WantedMounts {
		table.Declare(dst, e)
	}

	trans := &Transition{
		JailDir: params.JailDir,
		Table:   table,
		DryRun:  params.DryRun,
		Verbose: params.Verbose,
		Trace:   func(s string) { fmt.Fprintln(os.Stderr, s) },
	}
	if err := trans.Enter(); err != nil {
		fmt.Fprintf(os.Stderr, "pa-jail: %v\n", err)
		os.Exit(jailerror.PrivFailure)
	}

	if err := DropToOwner(params.OwnerUID, params.OwnerGID); err != nil {
		fmt.Fprintf(os.Stderr, "pa-jail: %v\n", err)
		os.Exit(jailerror.PrivFailure)
	}

	ctl, err := NewController(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pa-jail: %v\n", err)
		os.Exit(jailerror.PrivFailure)
	}
	os.Exit(ctl.Run())
}
