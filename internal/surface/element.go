package surface

import "sync"

// Popup is an overlay shown inside the map container.
type Popup struct {
	ID      string     `json:"id"`
	LayerID string     `json:"layer_id,omitempty"`
	LngLat  [2]float64 `json:"lnglat"`
	HTML    string     `json:"html,omitempty"`
}

// Element is the mountable container of a surface. It fills its parent and
// tracks the popups currently displayed, oldest first.
type Element struct {
	Width  string
	Height string

	mu     sync.Mutex
	popups []Popup
}

func NewElement() *Element {
	return &Element{Width: "100%", Height: "100%"}
}

func (e *Element) ShowPopup(p Popup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.popups = append(e.popups, p)
}

func (e *Element) Popups() []Popup {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Popup, len(e.popups))
	copy(out, e.popups)
	return out
}

// RemoveFirstPopup removes the first displayed popup and reports whether
// there was one.
func (e *Element) RemoveFirstPopup() (Popup, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.popups) == 0 {
		return Popup{}, false
	}
	p := e.popups[0]
	e.popups = append(e.popups[:0:0], e.popups[1:]...)
	return p, true
}
