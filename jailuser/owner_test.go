package jailuser

import (
	"testing"
	"time"
)

func TestBuildArgvNoCommandIsLoginShell(t *testing.T) {
	owner := &Owner{Shell: "/bin/bash"}
	got := BuildArgv(owner, nil)
	want := []string{"/bin/bash", "-l"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("BuildArgv(nil) = %v, want %v", got, want)
	}
}

func TestBuildArgvQuotesMultiWordCommand(t *testing.T) {
	owner := &Owner{Shell: "/bin/sh"}
	got := BuildArgv(owner, []string{"echo", "hello world"})
	if len(got) != 4 || got[0] != "/bin/sh" || got[1] != "-l" || got[2] != "-c" {
		t.Fatalf("BuildArgv = %v", got)
	}
}

func TestBuildEnvironOverridesByName(t *testing.T) {
	owner := &Owner{Home: "/home/student"}
	env := BuildEnviron(owner, []string{"PATH=/opt/bin", "FOO=bar"})
	var path, foo string
	for _, e := range env {
		if len(e) > 5 && e[:5] == "PATH=" {
			path = e
		}
		if len(e) > 4 && e[:4] == "FOO=" {
			foo = e
		}
	}
	if path != "PATH=/opt/bin" {
		t.Errorf("PATH override not applied: %q", path)
	}
	if foo != "FOO=bar" {
		t.Errorf("FOO not appended: %q", foo)
	}
}

func TestBuildEnvironSetsHomeFromOwner(t *testing.T) {
	owner := &Owner{Home: "/home/student"}
	env := BuildEnviron(owner, nil)
	found := false
	for _, e := range env {
		if e == "HOME=/home/student" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected HOME=/home/student in %v", env)
	}
}

func TestDeadlineZeroMeansNoDeadline(t *testing.T) {
	if d := Deadline(time.Now(), 0); !d.IsZero() {
		t.Errorf("Deadline with timeout<=0 = %v, want zero", d)
	}
	if d := Deadline(time.Now(), -1); !d.IsZero() {
		t.Errorf("Deadline with negative timeout = %v, want zero", d)
	}
}

func TestDeadlinePositiveTimeoutInFuture(t *testing.T) {
	start := time.Now()
	d := Deadline(start, 2.5)
	if !d.After(start) {
		t.Errorf("Deadline(2.5s) = %v, want after %v", d, start)
	}
	if d.Sub(start) != 2500*time.Millisecond {
		t.Errorf("Deadline(2.5s) = %v after start, want 2.5s", d.Sub(start))
	}
}
