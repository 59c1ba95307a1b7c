package readiness

import "testing"

func TestGate_BuffersInRegistrationOrder(t *testing.T) {
	g := New()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		g.OnReady(func() { order = append(order, i) })
	}
	if len(order) != 0 {
		t.Fatalf("expected no listener before drain, got %v", order)
	}
	if g.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", g.Pending())
	}

	if !g.Drain() {
		t.Fatalf("expected first drain to report true")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", order)
	}

	if g.Drain() {
		t.Fatalf("expected second drain to report false")
	}
	if len(order) != 3 {
		t.Fatalf("expected listeners to fire exactly once, got %v", order)
	}
	if g.Pending() != 0 {
		t.Fatalf("expected queue discarded, got %d", g.Pending())
	}
}

func TestGate_AfterDrainFiresSynchronously(t *testing.T) {
	g := New()
	g.Drain()
	if g.State() != Drained {
		t.Fatalf("expected drained, got %s", g.State())
	}

	fired := false
	g.OnReady(func() { fired = true })
	if !fired {
		t.Fatalf("expected listener to fire before OnReady returned")
	}
}

func TestGate_ListenerMayRegisterDuringDrain(t *testing.T) {
	g := New()
	var order []string
	g.OnReady(func() {
		order = append(order, "outer")
		g.OnReady(func() { order = append(order, "inner") })
	})
	g.Drain()
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("expected [outer inner], got %v", order)
	}
}

func TestGate_NilListenerIgnored(t *testing.T) {
	g := New()
	g.OnReady(nil)
	if g.Pending() != 0 {
		t.Fatalf("expected nil listener to be ignored")
	}
	g.Drain()
	g.OnReady(nil)
}
