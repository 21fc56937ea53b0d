package cli

import "testing"

func TestSplitEnvOverridesSeparatesCommand(t *testing.T) {
	env, command := splitEnvOverrides([]string{"FOO=1", "BAR=baz", "echo", "hi"})
	if len(env) != 2 || env[0] != "FOO=1" || env[1] != "BAR=baz" {
		t.Fatalf("env = %v", env)
	}
	if len(command) != 2 || command[0] != "echo" || command[1] != "hi" {
		t.Fatalf("command = %v", command)
	}
}

func TestSplitEnvOverridesNoOverrides(t *testing.T) {
	env, command := splitEnvOverrides([]string{"echo", "FOO=1"})
	if len(env) != 0 {
		t.Fatalf("env = %v, want none (first word isn't NAME=VALUE)", env)
	}
	if len(command) != 2 {
		t.Fatalf("command = %v", command)
	}
}

func TestIsNameValue(t *testing.T) {
	cases := map[string]bool{
		"FOO=bar":   true,
		"_X=1":      true,
		"A1=2":      true,
		"1A=2":      false,
		"=bar":      false,
		"FOO":       false,
		"FOO-BAR=1": false,
	}
	for in, want := range cases {
		if got := isNameValue(in); got != want {
			t.Errorf("isNameValue(%q) = %v, want %v", in, got, want)
		}
	}
}
