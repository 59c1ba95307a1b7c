package layers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/surface"
)

var (
	ErrUnknownIcon  = errors.New("unknown icon")
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrSourceKept means the layer was removed but the engine refused to
	// drop its source. The removal stands and is not retried.
	ErrSourceKept   = errors.New("layer removed, source kept")
)

const (
	CursorPointer = "pointer"
	CursorDefault = ""

	labelFont = "Roboto Regular"
)

// Record describes an active layer.
type Record struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Icon   string `json:"icon"`
	Text   string `json:"text,omitempty"`
}

// Manager adds and removes symbol layers on a surface and keeps the
// click/mouseenter/mouseleave bindings of each layer so they can be detached
// exactly. For a given id either all three bindings are recorded or none.
type Manager struct {
	log     zerolog.Logger
	surface surface.Surface
	metrics *metrics.Metrics

	mu         sync.Mutex
	records    map[string]Record
	click      map[string]surface.ListenerID
	mouseEnter map[string]surface.ListenerID
	mouseLeave map[string]surface.ListenerID
}

func New(log zerolog.Logger, s surface.Surface, m *metrics.Metrics) *Manager {
	return &Manager{
		log:        log,
		surface:    s,
		metrics:    m,
		records:    make(map[string]Record),
		click:      make(map[string]surface.ListenerID),
		mouseEnter: make(map[string]surface.ListenerID),
		mouseLeave: make(map[string]surface.ListenerID),
	}
}

// Spec builds the symbol layer for id. The label block is only added when
// text is non-empty.
func Spec(id, source, icon, text string) surface.Layer {
	layer := surface.Layer{
		ID:     id,
		Type:   "symbol",
		Source: source,
		Layout: map[string]any{
			"icon-image":         icon,
			"icon-allow-overlap": true,
		},
	}
	if text != "" {
		layer.Layout["text-field"] = text
		layer.Layout["text-allow-overlap"] = true
		layer.Layout["text-anchor"] = "bottom"
		layer.Layout["text-offset"] = []float64{0, -2}
		layer.Layout["text-font"] = []string{labelFont}
		layer.Layout["text-size"] = 12
		layer.Paint = map[string]any{
			"text-halo-color": "white",
			"text-halo-width": 1,
		}
	}
	return layer
}

// AddLayer creates a symbol layer bound to source and attaches onClick plus
// the pointer cursor handlers. icon must already be registered on the
// surface. Engine errors (duplicate id, missing source) are returned as is.
func (m *Manager) AddLayer(id, source, icon, text string, onClick surface.Handler) error {
	if !m.surface.HasImage(icon) {
		return fmt.Errorf("layer %q icon %q: %w", id, icon, ErrUnknownIcon)
	}
	if onClick == nil {
		onClick = func(surface.Event) {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.surface.AddLayer(Spec(id, source, icon, text)); err != nil {
		return err
	}

	m.click[id] = m.surface.On(surface.EventClick, id, onClick)
	m.mouseEnter[id] = m.surface.On(surface.EventMouseEnter, id, func(surface.Event) {
		m.surface.SetCursor(CursorPointer)
	})
	m.mouseLeave[id] = m.surface.On(surface.EventMouseLeave, id, func(surface.Event) {
		m.surface.SetCursor(CursorDefault)
	})
	m.records[id] = Record{ID: id, Source: source, Icon: icon, Text: text}

	m.metrics.SetActiveLayers(len(m.records))
	m.log.Debug().Str("layer_id", id).Str("source", source).Str("icon", icon).Msg("layer added")
	return nil
}

// RemoveLayer closes the first open popup, detaches the three handlers of id
// and then removes the layer and its source from the surface. When the engine
// keeps the source (another layer still uses it) the layer stays removed and
// the error matches both ErrSourceKept and the engine error.
func (m *Manager) RemoveLayer(id, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("layer %q: %w", id, ErrUnknownLayer)
	}

	if popup, ok := m.surface.Container().RemoveFirstPopup(); ok {
		m.log.Debug().Str("popup_id", popup.ID).Msg("popup closed")
	}

	if lid, ok := m.click[id]; ok {
		m.surface.Off(surface.EventClick, id, lid)
		delete(m.click, id)
	}
	if lid, ok := m.mouseEnter[id]; ok {
		m.surface.Off(surface.EventMouseEnter, id, lid)
		delete(m.mouseEnter, id)
	}
	if lid, ok := m.mouseLeave[id]; ok {
		m.surface.Off(surface.EventMouseLeave, id, lid)
		delete(m.mouseLeave, id)
	}
	delete(m.records, id)
	m.metrics.SetActiveLayers(len(m.records))

	if err := m.surface.RemoveLayer(id); err != nil {
		return err
	}
	if err := m.surface.RemoveSource(source); err != nil {
		m.log.Warn().Err(err).Str("layer_id", id).Str("source", source).Msg("layer removed but source kept")
		return fmt.Errorf("layer %q: %w: %w", id, ErrSourceKept, err)
	}

	m.log.Debug().Str("layer_id", id).Str("source", source).Msg("layer removed")
	return nil
}

func (m *Manager) Active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// Layers returns the active layers sorted by id.
func (m *Manager) Layers() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HandlerCounts reports the size of the click, mouseenter and mouseleave
// registries.
func (m *Manager) HandlerCounts() (click, enter, leave int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.click), len(m.mouseEnter), len(m.mouseLeave)
}
