package policy

import "testing"

func TestAllowJailPatternMatching(t *testing.T) {
	jc := Parse("enablejail /jails/run*\nenablejail /jails/~*\n")

	if !jc.AllowJail("/jails/run") {
		t.Error("expected /jails/run allowed")
	}
	if jc.Treedir("/jails/run") != "/jails/run/" {
		t.Errorf("treedir = %q, want /jails/run/", jc.Treedir("/jails/run"))
	}
	if !jc.AllowJail("/jails/run/") {
		t.Error("expected /jails/run/ allowed")
	}
	if jc.AllowJail("/jails") {
		t.Error("expected /jails rejected")
	}
	if jc.AllowJail("/jails/") {
		t.Error("expected /jails/ rejected")
	}
	if jc.AllowJail("/jails/runa/runb") {
		t.Error("expected /jails/runa/runb rejected")
	}
	if !jc.AllowJailSubdir("/jails/runa/runb") {
		t.Error("expected /jails/runa/runb allowed as subdir")
	}
	if !jc.AllowJail("/jails/runa") {
		t.Error("expected /jails/runa allowed")
	}
	if jc.Treedir("/jails/runa") != "/jails/runa/" {
		t.Errorf("treedir = %q, want /jails/runa/", jc.Treedir("/jails/runa"))
	}
	if !jc.AllowJail("/jails/~runa") {
		t.Error("expected /jails/~runa allowed")
	}
	if jc.Treedir("/jails/~runa") != "/jails/~runa/" {
		t.Errorf("treedir = %q, want /jails/~runa/", jc.Treedir("/jails/~runa"))
	}
}

func TestDisableOverridesGlobal(t *testing.T) {
	jc := Parse("enablejail /jails/run*\nenablejail /jails/~*\ndisablejail /\n")
	if jc.AllowJail("/jails/run") {
		t.Error("expected /jails/run rejected once / is globally disabled")
	}
	if jc.AllowJail("/jails/~runa") {
		t.Error("expected /jails/~runa rejected once / is globally disabled")
	}
}

func TestDisableSpecificPattern(t *testing.T) {
	jc := Parse("enablejail /jails/run*\nenablejail /jails/~*\ndisablejail /jails/runa\n")
	if !jc.AllowJail("/jails/run") {
		t.Error("expected /jails/run still allowed")
	}
	if jc.AllowJail("/jails/runa") {
		t.Error("expected /jails/runa rejected")
	}
	if !jc.AllowJail("/jails/~runa") {
		t.Error("expected /jails/~runa still allowed")
	}
}

func TestExplicitTreedirWins(t *testing.T) {
	jc := Parse("enablejail /jails/run*\nenablejail /jails/~*\ntreedir /jails\n")
	if !jc.AllowJail("/jails/run") {
		t.Error("expected /jails/run allowed")
	}
	if jc.Treedir("/jails/run") != "/jails/" {
		t.Errorf("treedir = %q, want /jails/", jc.Treedir("/jails/run"))
	}
	if jc.Treedir("/jails/runa") != "/jails/" {
		t.Errorf("treedir = %q, want /jails/", jc.Treedir("/jails/runa"))
	}
}

func TestNonMatchingExplicitTreedirIsIgnored(t *testing.T) {
	jc := Parse("enablejail /jails/run*\nenablejail /jails/~*\ntreedir /hails\n")
	if jc.Treedir("/jails/run") != "/jails/run/" {
		t.Errorf("treedir = %q, want /jails/run/", jc.Treedir("/jails/run"))
	}
	if jc.Treedir("/jails/runa") != "/jails/runa/" {
		t.Errorf("treedir = %q, want /jails/runa/", jc.Treedir("/jails/runa"))
	}
}

func TestAllowSkeletonIndependentOfJail(t *testing.T) {
	jc := Parse("enablejail /jails/*\nenableskeleton /skel/*\n")
	if !jc.AllowJail("/jails/foo") {
		t.Error("expected /jails/foo jail-allowed")
	}
	if jc.AllowSkeleton("/jails/foo") {
		t.Error("did not expect /jails/foo to be skeleton-allowed")
	}
	if !jc.AllowSkeleton("/skel/base") {
		t.Error("expected /skel/base skeleton-allowed")
	}
}
