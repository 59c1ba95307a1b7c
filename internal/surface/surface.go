package surface

import (
	"errors"
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrLayerExists    = errors.New("layer already exists")
	ErrLayerNotFound  = errors.New("layer not found")
	ErrSourceExists   = errors.New("source already exists")
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceInUse    = errors.New("source is still used by a layer")
)

type EventKind string

const (
	EventClick      EventKind = "click"
	EventMouseEnter EventKind = "mouseenter"
	EventMouseLeave EventKind = "mouseleave"
)

func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventClick, EventMouseEnter, EventMouseLeave:
		return EventKind(s), true
	default:
		return "", false
	}
}

// Event is delivered to handlers bound to a layer. Features holds the
// rendered features of that layer under the pointer.
type Event struct {
	Kind     EventKind
	LayerID  string
	LngLat   orb.Point
	Features []*geojson.Feature
}

type Handler func(Event)

// ListenerID identifies a single On binding so it can be detached with Off.
type ListenerID uint64

type ImageOptions struct {
	PixelRatio float64
}

// Layer is a style layer in MapLibre style document form.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
}

// Surface is the capability set the core needs from a map engine.
type Surface interface {
	AddImage(key string, img *image.RGBA, opts ImageOptions) error
	HasImage(key string) bool
	Image(key string) (*image.RGBA, ImageOptions, bool)
	ImageKeys() []string

	AddSource(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error

	AddLayer(layer Layer) error
	RemoveLayer(id string) error
	Layer(id string) (Layer, bool)

	On(kind EventKind, layerID string, fn Handler) ListenerID
	Off(kind EventKind, layerID string, id ListenerID)

	SetCursor(cursor string)
	Cursor() string

	Container() *Element
	Style() Style

	// Loaded is closed once the base style has finished loading.
	Loaded() <-chan struct{}
}
