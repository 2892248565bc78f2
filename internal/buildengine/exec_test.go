package buildengine

import (
	"testing"

	"github.com/chordtoll/bootstrapper/internal/recipe"
)

func TestSplitPassSuffix(t *testing.T) {
	cases := []struct {
		version      string
		wantBase     string
		wantRevision int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.3-pass1", "1.2.3", 0},
		{"1.2.3-pass2", "1.2.3", 1},
		{"2.0-pass5", "2.0", 4},
	}
	for _, c := range cases {
		base, rev := splitPassSuffix(c.version)
		if base != c.wantBase || rev != c.wantRevision {
			t.Errorf("splitPassSuffix(%q) = (%q, %d), want (%q, %d)", c.version, base, rev, c.wantBase, c.wantRevision)
		}
	}
}

func TestJoinCurDir(t *testing.T) {
	if got := joinCurDir("/steps/foo", "build"); got != "/steps/foo/build" {
		t.Errorf("got %q", got)
	}
	if got := joinCurDir("/steps/foo", "/external/repo"); got != "/external/repo" {
		t.Errorf("got %q", got)
	}
}

func TestRunStepAssignment(t *testing.T) {
	e := &Executor{Env: map[string]string{}}
	err := e.RunStep(recipe.BuildStep{Cmd: "FOO=bar", Serial: true})
	if err != nil {
		t.Fatal(err)
	}
	if e.Env["FOO"] != "bar" {
		t.Errorf("expected env assignment, got %+v", e.Env)
	}
}

func TestRunStepAssignmentSubstitutesValueOnly(t *testing.T) {
	e := &Executor{Env: map[string]string{"BASE": "/steps/gcc-13.0"}}
	err := e.RunStep(recipe.BuildStep{Cmd: "DESTDIR=$BASE/dest", Serial: true})
	if err != nil {
		t.Fatal(err)
	}
	if e.Env["DESTDIR"] != "/steps/gcc-13.0/dest" {
		t.Errorf("expected substituted assignment value, got %+v", e.Env)
	}
}
