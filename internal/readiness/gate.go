package readiness

import "sync"

type State int

const (
	Pending State = iota
	Drained
)

func (s State) String() string {
	if s == Drained {
		return "drained"
	}
	return "pending"
}

// Gate buffers "map ready" listeners until Drain is called, then runs each of
// them exactly once in registration order. Listeners registered after the
// drain run synchronously inside OnReady.
type Gate struct {
	mu      sync.Mutex
	state   State
	pending []func()
}

func New() *Gate {
	return &Gate{}
}

func (g *Gate) OnReady(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	if g.state == Pending {
		g.pending = append(g.pending, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}

// Drain fires the buffered listeners and returns true the first time it is
// called. Later calls do nothing and return false.
func (g *Gate) Drain() bool {
	g.mu.Lock()
	if g.state == Drained {
		g.mu.Unlock()
		return false
	}
	listeners := g.pending
	g.pending = nil
	g.state = Drained
	g.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Drained() bool {
	return g.State() == Drained
}

// Pending reports how many listeners are still buffered.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
