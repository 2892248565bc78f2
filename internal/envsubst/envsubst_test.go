package envsubst

import "testing"

func TestSubstituteFixpoint(t *testing.T) {
	env := map[string]string{"A": "b$B", "B": "c"}
	got, err := Substitute("x$A y", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "xbc y" {
		t.Errorf("got %q, want %q", got, "xbc y")
	}
}

func TestSubstituteBraces(t *testing.T) {
	env := map[string]string{"FOO": "bar"}
	got, err := Substitute("echo ${FOO} done", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "echo bar done" {
		t.Errorf("got %q", got)
	}
}

func TestSubstituteEscaped(t *testing.T) {
	env := map[string]string{"A": "x"}
	got, err := Substitute(`\$A`, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != `\$A` {
		t.Errorf("got %q, want literal backslash-dollar-A", got)
	}
}

func TestSubstituteUnresolved(t *testing.T) {
	if _, err := Substitute("$MISSING", map[string]string{}); err == nil {
		t.Fatal("expected error for unresolved variable")
	}
}
