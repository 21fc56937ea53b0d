//go:build linux

package jailuser

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// reexecEnvVar flags a re-exec of /proc/self/exe as the namespace's
// init: its value is the file descriptor number of a pipe the parent
// uses to hand the child its encoded launch parameters, grounded on
// the reexec.Self()/Command() "current binary via /proc/self/exe"
// pattern (the child never parses the normal pa-jail CLI).
const reexecEnvVar = "PA_JAIL_CONTAINER_INIT_FD"

// IsContainerInit reports whether this process was re-exec'd to act as
// the new namespace's pid 1, i.e. whether main should call
// ContainerInit instead of the normal CLI dispatch.
func IsContainerInit() bool {
	_, ok := os.LookupEnv(reexecEnvVar)
	return ok
}

// Spawn re-execs /proc/self/exe under CLONE_NEWNS|CLONE_NEWPID|
// CLONE_NEWIPC (no CLONE_NEWUSER: pa-jail runs as real root and drops
// privilege inside the jail rather than remapping a user namespace),
// handing it params over a pipe so the namespace's pid 1 is this
// binary re-entering ContainerInit rather than a generic fork target.
// It returns as soon as the child has been started and handed its
// params; the caller owns waiting for it to exit (for example with
// Process.Wait).
func Spawn(params *Params, files []*os.File) (*os.Process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("jailuser: pipe: %w", err)
	}
	defer r.Close()

	cmd := exec.Command("/proc/self/exe")
	cmd.Args = []string{"pa-jail", "--container-init"}
	cmd.Env = append(os.Environ(), reexecEnvVar+"="+strconv.Itoa(3))
	cmd.ExtraFiles = []*os.File{r}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if len(files) >= 3 {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = files[0], files[1], files[2]
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC,
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, fmt.Errorf("jailuser: clone: %w", err)
	}
	r.Close()

	enc, err := encodeParams(params)
	if err != nil {
		w.Close()
		return nil, err
	}
	if _, err := w.Write(enc); err != nil {
		w.Close()
		return nil, fmt.Errorf("jailuser: write params: %w", err)
	}
	w.Close()

	return cmd.Process, nil
}
