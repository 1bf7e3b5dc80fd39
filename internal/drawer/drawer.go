package drawer

import (
	"math"
	"sync"
)

type Detent int

const (
	Compact Detent = iota
	Partial
	Full
)

func (d Detent) String() string {
	switch d {
	case Compact:
		return "compact"
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return "unknown"
}

func (d Detent) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Heights are the compact, partial and full detents in pixels, strictly
// increasing.
type Heights [3]float64

// Closest returns the detent nearest to px. Ties go to the lower detent.
func (h Heights) Closest(px float64) Detent {
	best := Compact
	for d := Partial; d <= Full; d++ {
		if math.Abs(px-h[d]) < math.Abs(px-h[best]) {
			best = d
		}
	}
	return best
}

func (h Heights) clamp(px float64) float64 {
	return math.Max(h[Compact], math.Min(h[Full], px))
}

type State struct {
	Detent   Detent  `json:"detent"`
	Height   float64 `json:"height"`
	Dragging bool    `json:"dragging"`
}

// Drawer is the bottom sheet holding the ride panel. It rests at a detent
// and follows the pointer while dragged.
type Drawer struct {
	mu       sync.Mutex
	heights  Heights
	detent   Detent
	height   float64
	dragging bool
	startY   float64
	startH   float64
}

func New(h Heights) *Drawer {
	return &Drawer{heights: h, detent: Compact, height: h[Compact]}
}

// Cycle advances compact, partial, full and back to compact. It ends any
// drag in progress.
func (d *Drawer) Cycle() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dragging = false
	d.detent = (d.detent + 1) % 3
	d.height = d.heights[d.detent]
	return d.state()
}

func (d *Drawer) BeginDrag(y float64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dragging = true
	d.startY = y
	d.startH = d.height
	return d.state()
}

// MoveDrag follows the pointer. Moving up (smaller y) grows the drawer.
func (d *Drawer) MoveDrag(y float64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dragging {
		d.height = d.heights.clamp(d.startH + (d.startY - y))
	}
	return d.state()
}

// EndDrag snaps to the closest detent.
func (d *Drawer) EndDrag() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dragging {
		d.dragging = false
		d.detent = d.heights.Closest(d.height)
		d.height = d.heights[d.detent]
	}
	return d.state()
}

func (d *Drawer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state()
}

func (d *Drawer) state() State {
	return State{Detent: d.detent, Height: d.height, Dragging: d.dragging}
}
