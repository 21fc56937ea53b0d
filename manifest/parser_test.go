package manifest

import "testing"

func TestParseSimpleCopy(t *testing.T) {
	ds := Parse("/bin/bash\n/usr/bin/python3\n")
	if len(ds) != 2 {
		t.Fatalf("got %d directives, want 2", len(ds))
	}
	if ds[0].Src != "/bin/bash" || ds[0].Dst != "/bin/bash" {
		t.Errorf("ds[0] = %+v", ds[0])
	}
}

func TestParseDirectoryHeaderRebasesRelativePaths(t *testing.T) {
	ds := Parse("/usr/lib:\nfoo.so\nbar.so\n")
	if len(ds) != 2 {
		t.Fatalf("got %d directives, want 2", len(ds))
	}
	if ds[0].Src != "/usr/lib/foo.so" || ds[0].Dst != "/usr/lib/foo.so" {
		t.Errorf("ds[0] = %+v", ds[0])
	}
	if ds[1].Src != "/usr/lib/bar.so" {
		t.Errorf("ds[1] = %+v", ds[1])
	}
}

func TestParseArrowRedirectsSource(t *testing.T) {
	ds := Parse("/etc/motd <- /etc/motd.jail\n")
	if len(ds) != 1 {
		t.Fatalf("got %d directives, want 1", len(ds))
	}
	if ds[0].Src != "/etc/motd.jail" || ds[0].Dst != "/etc/motd" {
		t.Errorf("ds[0] = %+v", ds[0])
	}
}

func TestParseBindDirective(t *testing.T) {
	ds := Parse("/srv/shared [bind tag123 /etc/shared.manifest]\n")
	if len(ds) != 1 || ds[0].Kind != KindBind {
		t.Fatalf("ds = %+v", ds)
	}
	if ds[0].BindTag != "tag123" || ds[0].BindFiles != "/etc/shared.manifest" {
		t.Errorf("ds[0] = %+v", ds[0])
	}
}

func TestParseBindRODirective(t *testing.T) {
	ds := Parse("/srv/readonly [bind-ro]\n")
	if len(ds) != 1 || ds[0].Kind != KindBind || ds[0].Flags&FlagBindRO == 0 {
		t.Fatalf("ds = %+v", ds)
	}
}

func TestParseMountDirective(t *testing.T) {
	ds := Parse("none [mount tmpfs size=64m]\n")
	if len(ds) != 1 || ds[0].Kind != KindMount {
		t.Fatalf("ds = %+v", ds)
	}
	if ds[0].FSType != "tmpfs" || ds[0].MountOpts != "size=64m" {
		t.Errorf("ds[0] = %+v", ds[0])
	}
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	ds := Parse("# a comment\n\n/bin/sh\n")
	if len(ds) != 1 {
		t.Fatalf("got %d directives, want 1", len(ds))
	}
}
