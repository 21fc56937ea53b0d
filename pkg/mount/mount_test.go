package mount

import "testing"

func TestParseOptionsFlags(t *testing.T) {
	cases := []struct {
		opts     string
		want     Flag
		residual string
	}{
		{"ro,nosuid,nodev", ReadOnly | NoSuid | NoDev, ""},
		{"bind,rec", Bind | Rec, ""},
		{"size=64m,mode=0755", 0, "size=64m,mode=0755"},
		{"noexec,uid=1000", NoExec, "uid=1000"},
		{"", 0, ""},
	}
	for _, c := range cases {
		flags, residual := ParseOptions(c.opts)
		if flags != c.want {
			t.Errorf("ParseOptions(%q) flags = %v, want %v", c.opts, flags, c.want)
		}
		if residual != c.residual {
			t.Errorf("ParseOptions(%q) residual = %q, want %q", c.opts, residual, c.residual)
		}
	}
}

func TestAddOptionRwClearsReadOnly(t *testing.T) {
	flags, residual := ParseOptions("ro")
	flags, residual = AddOption(flags, residual, "rw")
	if flags&ReadOnly != 0 {
		t.Errorf("rw did not clear ReadOnly: flags=%v", flags)
	}
	if residual != "" {
		t.Errorf("residual changed unexpectedly: %q", residual)
	}
}

func TestAddOptionReplacesExistingKey(t *testing.T) {
	_, residual := ParseOptions("size=32m")
	_, residual = AddOption(0, residual, "size=64m")
	if residual != "size=64m" {
		t.Errorf("residual = %q, want size=64m", residual)
	}
}

func TestMountableDefaults(t *testing.T) {
	tbl := NewTable()
	for _, dst := range []string{"/proc", "/dev/pts", "/tmp", "/run", "/sys", "/dev"} {
		if !tbl.Mountable(dst) {
			t.Errorf("expected %s to be mountable by default", dst)
		}
	}
	if tbl.Mountable("/home/student") {
		t.Errorf("did not expect /home/student to be mountable by default")
	}
}

func TestMountableExplicitWanted(t *testing.T) {
	tbl := NewTable()
	tbl.Declare("/opt/data", Entry{Source: "/srv/data", Flags: Bind, Wanted: true})
	if !tbl.Mountable("/opt/data") {
		t.Errorf("expected explicitly wanted destination to be mountable")
	}
}

func TestUnmountedAncestor(t *testing.T) {
	tbl := NewTable()
	tbl.markUnmounted("/opt")
	if got := tbl.Unmounted("/opt/data/sub"); got != "/opt" {
		t.Errorf("Unmounted(/opt/data/sub) = %q, want /opt", got)
	}
	if got := tbl.Unmounted("/var"); got != "" {
		t.Errorf("Unmounted(/var) = %q, want empty", got)
	}
}

func TestDelayedMountsDeferPostCloneTypes(t *testing.T) {
	tbl := NewTable()
	if err := tbl.HandleMount("/proc", Entry{Type: "proc", Wanted: true}, true); err != nil {
		t.Fatalf("HandleMount: %v", err)
	}
	delayed := tbl.DelayedMounts()
	if len(delayed) != 1 || delayed[0].Dst != "/proc" {
		t.Errorf("DelayedMounts = %+v, want a single /proc entry", delayed)
	}
}
