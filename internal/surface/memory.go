package surface

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type registeredImage struct {
	img  *image.RGBA
	opts ImageOptions
}

type bindingKey struct {
	kind    EventKind
	layerID string
}

type listener struct {
	id ListenerID
	fn Handler
}

// Memory is a headless map engine. It keeps the same state a browser map
// would (icon table, sources, layers, event bindings, cursor) without
// drawing anything. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	style     Style
	images    map[string]registeredImage
	sources   map[string]*geojson.FeatureCollection
	layers    []Layer
	listeners map[bindingKey][]listener
	nextID    ListenerID
	cursor    string

	container *Element
	loaded    chan struct{}
	loadOnce  sync.Once
}

func NewMemory(style Style) *Memory {
	return &Memory{
		style:     style,
		images:    make(map[string]registeredImage),
		sources:   make(map[string]*geojson.FeatureCollection),
		listeners: make(map[bindingKey][]listener),
		container: NewElement(),
		loaded:    make(chan struct{}),
	}
}

// Load marks the base style as loaded. Calling it more than once is a no-op.
func (m *Memory) Load() {
	m.loadOnce.Do(func() { close(m.loaded) })
}

func (m *Memory) Loaded() <-chan struct{} { return m.loaded }

func (m *Memory) Container() *Element { return m.container }

// Style returns the base style plus every dynamically added layer.
func (m *Memory) Style() Style {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Style{
		Version: m.style.Version,
		Sources: make(map[string]StyleSource, len(m.style.Sources)+len(m.sources)),
		Glyphs:  m.style.Glyphs,
		Layers:  make([]Layer, 0, len(m.style.Layers)+len(m.layers)),
	}
	for id, src := range m.style.Sources {
		out.Sources[id] = src
	}
	for id, fc := range m.sources {
		out.Sources[id] = StyleSource{Type: "geojson", Data: fc}
	}
	out.Layers = append(out.Layers, m.style.Layers...)
	out.Layers = append(out.Layers, m.layers...)
	return out
}

func (m *Memory) AddImage(key string, img *image.RGBA, opts ImageOptions) error {
	if key == "" {
		return fmt.Errorf("image key is required")
	}
	if img == nil {
		return fmt.Errorf("image %q: nil bitmap", key)
	}
	if opts.PixelRatio <= 0 {
		opts.PixelRatio = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[key] = registeredImage{img: img, opts: opts}
	return nil
}

func (m *Memory) HasImage(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[key]
	return ok
}

func (m *Memory) Image(key string) (*image.RGBA, ImageOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ri, ok := m.images[key]
	return ri.img, ri.opts, ok
}

func (m *Memory) ImageKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.images))
	for k := range m.images {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) AddSource(id string, data *geojson.FeatureCollection) error {
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.style.Sources[id]; ok {
		return fmt.Errorf("source %q: %w", id, ErrSourceExists)
	}
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q: %w", id, ErrSourceExists)
	}
	m.sources[id] = data
	return nil
}

// SetSourceData replaces the features of an existing source.
func (m *Memory) SetSourceData(id string, data *geojson.FeatureCollection) error {
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q: %w", id, ErrSourceNotFound)
	}
	m.sources[id] = data
	return nil
}

func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q: %w", id, ErrSourceNotFound)
	}
	for _, l := range m.layers {
		if l.Source == id {
			return fmt.Errorf("source %q used by layer %q: %w", id, l.ID, ErrSourceInUse)
		}
	}
	delete(m.sources, id)
	return nil
}

func (m *Memory) AddLayer(layer Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layerIndexLocked(layer.ID) >= 0 {
		return fmt.Errorf("layer %q: %w", layer.ID, ErrLayerExists)
	}
	for _, l := range m.style.Layers {
		if l.ID == layer.ID {
			return fmt.Errorf("layer %q is a base style layer: %w", layer.ID, ErrLayerExists)
		}
	}
	if layer.Source != "" {
		_, dynamic := m.sources[layer.Source]
		_, base := m.style.Sources[layer.Source]
		if !dynamic && !base {
			return fmt.Errorf("layer %q references source %q: %w", layer.ID, layer.Source, ErrSourceNotFound)
		}
	}
	m.layers = append(m.layers, layer)
	return nil
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.layerIndexLocked(id)
	if idx < 0 {
		return fmt.Errorf("layer %q: %w", id, ErrLayerNotFound)
	}
	m.layers = append(m.layers[:idx], m.layers[idx+1:]...)
	return nil
}

func (m *Memory) Layer(id string) (Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.layerIndexLocked(id)
	if idx < 0 {
		return Layer{}, false
	}
	return m.layers[idx], true
}

func (m *Memory) layerIndexLocked(id string) int {
	for i, l := range m.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) On(kind EventKind, layerID string, fn Handler) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	key := bindingKey{kind: kind, layerID: layerID}
	m.listeners[key] = append(m.listeners[key], listener{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Memory) Off(kind EventKind, layerID string, id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bindingKey{kind: kind, layerID: layerID}
	ls := m.listeners[key]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(m.listeners, key)
		return
	}
	m.listeners[key] = ls
}

// ListenerCount reports how many handlers are bound for kind on layerID.
func (m *Memory) ListenerCount(kind EventKind, layerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[bindingKey{kind: kind, layerID: layerID}])
}

func (m *Memory) SetCursor(cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
}

func (m *Memory) Cursor() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor
}

// Fire dispatches an event to every handler bound for (kind, layerID). When
// the event carries no features, the point features of the layer's source
// within pickRadius degrees of the event location are attached. Handlers run
// on the caller's goroutine without the engine lock held.
func (m *Memory) Fire(kind EventKind, layerID string, at orb.Point) int {
	m.mu.RLock()
	ls := append([]listener(nil), m.listeners[bindingKey{kind: kind, layerID: layerID}]...)
	var features []*geojson.Feature
	if idx := m.layerIndexLocked(layerID); idx >= 0 {
		features = pickFeatures(m.sources[m.layers[idx].Source], at)
	}
	m.mu.RUnlock()

	ev := Event{Kind: kind, LayerID: layerID, LngLat: at, Features: features}
	for _, l := range ls {
		l.fn(ev)
	}
	return len(ls)
}

const pickRadius = 0.0005

func pickFeatures(fc *geojson.FeatureCollection, at orb.Point) []*geojson.Feature {
	if fc == nil {
		return nil
	}
	var out []*geojson.Feature
	for _, f := range fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			if f.Geometry != nil && f.Geometry.Bound().Contains(at) {
				out = append(out, f)
			}
			continue
		}
		if abs(p.Lon()-at.Lon()) <= pickRadius && abs(p.Lat()-at.Lat()) <= pickRadius {
			out = append(out, f)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
