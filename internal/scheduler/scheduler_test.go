package scheduler

import "testing"

func TestReadyOrderAndDrain(t *testing.T) {
	a := Key{Name: "a", Version: "1"}
	b := Key{Name: "b", Version: "1"}
	c := Key{Name: "c", Version: "1"}

	// c depends on b, b depends on a.
	g := New(map[Key][]Key{
		a: nil,
		b: {a},
		c: {b},
	})

	k, ok := g.NextReady()
	if !ok || k != a {
		t.Fatalf("expected a ready first, got %+v ok=%v", k, ok)
	}
	g.MarkBuilt(a)

	k, ok = g.NextReady()
	if !ok || k != b {
		t.Fatalf("expected b ready next, got %+v", k)
	}
	g.MarkBuilt(b)

	k, ok = g.NextReady()
	if !ok || k != c {
		t.Fatalf("expected c ready last, got %+v", k)
	}
	g.MarkBuilt(c)

	if g.Len() != 0 {
		t.Errorf("expected graph drained, got %d remaining", g.Len())
	}
}

func TestReadyLexicographicTieBreak(t *testing.T) {
	z := Key{Name: "zeta", Version: "1"}
	a := Key{Name: "alpha", Version: "1"}
	g := New(map[Key][]Key{z: nil, a: nil})

	k, ok := g.NextReady()
	if !ok || k != a {
		t.Fatalf("expected alpha first lexicographically, got %+v", k)
	}
}

func TestCheckAcyclicDetectsCycle(t *testing.T) {
	a := Key{Name: "a", Version: "1"}
	b := Key{Name: "b", Version: "1"}
	g := New(map[Key][]Key{
		a: {b},
		b: {a},
	})
	if err := g.CheckAcyclic(); err == nil {
		t.Fatal("expected cycle error")
	}
	if _, ok := g.NextReady(); ok {
		t.Fatal("expected no ready nodes in a pure cycle")
	}
	if g.Len() != 2 {
		t.Errorf("expected both cyclic nodes still remaining, got %d", g.Len())
	}
}

func TestCheckAcyclicAcceptsDAG(t *testing.T) {
	a := Key{Name: "a", Version: "1"}
	b := Key{Name: "b", Version: "1"}
	g := New(map[Key][]Key{a: nil, b: {a}})
	if err := g.CheckAcyclic(); err != nil {
		t.Fatalf("unexpected cycle error: %v", err)
	}
}
