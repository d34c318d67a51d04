package monitor

import "sync/atomic"

// Gate pauses scraping while another component needs the page or the data
// files to itself, such as the summary pipeline. Ticks observe the gate at
// their start and skip entirely while it is held.
type Gate struct {
	paused atomic.Bool
}

func NewGate() *Gate { return &Gate{} }

func (g *Gate) Pause()  { g.paused.Store(true) }
func (g *Gate) Resume() { g.paused.Store(false) }

func (g *Gate) Paused() bool { return g.paused.Load() }
