package layers

import (
	"errors"
	"image"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/surface"
)

func newTestSurface(t *testing.T) *surface.Memory {
	t.Helper()
	s := surface.NewMemory(surface.NewBaseStyle(surface.StyleOptions{}))
	if err := s.AddImage("car", image.NewRGBA(image.Rect(0, 0, 2, 2)), surface.ImageOptions{PixelRatio: 2}); err != nil {
		t.Fatalf("add image: %v", err)
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{13.4, 52.5}))
	if err := s.AddSource("positions", fc); err != nil {
		t.Fatalf("add source: %v", err)
	}
	return s
}

func assertCounts(t *testing.T, m *Manager, want int) {
	t.Helper()
	click, enter, leave := m.HandlerCounts()
	if click != want || enter != want || leave != want {
		t.Fatalf("expected %d entries in every registry, got click=%d enter=%d leave=%d", want, click, enter, leave)
	}
}

func TestSpec_WithoutTextHasNoLabelKeys(t *testing.T) {
	layer := Spec("devices", "positions", "car", "")

	if layer.Type != "symbol" || layer.Source != "positions" {
		t.Fatalf("unexpected layer %+v", layer)
	}
	want := map[string]any{"icon-image": "car", "icon-allow-overlap": true}
	if !reflect.DeepEqual(layer.Layout, want) {
		t.Fatalf("expected layout %v, got %v", want, layer.Layout)
	}
	if layer.Paint != nil {
		t.Fatalf("expected no paint block, got %v", layer.Paint)
	}
}

func TestSpec_WithTextAddsFixedLabelStyle(t *testing.T) {
	layer := Spec("devices", "positions", "car", "{name}")

	wantLayout := map[string]any{
		"icon-image":         "car",
		"icon-allow-overlap": true,
		"text-field":         "{name}",
		"text-allow-overlap": true,
		"text-anchor":        "bottom",
		"text-offset":        []float64{0, -2},
		"text-font":          []string{"Roboto Regular"},
		"text-size":          12,
	}
	if !reflect.DeepEqual(layer.Layout, wantLayout) {
		t.Fatalf("expected layout %v, got %v", wantLayout, layer.Layout)
	}
	wantPaint := map[string]any{"text-halo-color": "white", "text-halo-width": 1}
	if !reflect.DeepEqual(layer.Paint, wantPaint) {
		t.Fatalf("expected paint %v, got %v", wantPaint, layer.Paint)
	}
}

func TestAddLayer_UnknownIcon(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)

	err := m.AddLayer("devices", "positions", "tram", "", nil)
	if !errors.Is(err, ErrUnknownIcon) {
		t.Fatalf("expected ErrUnknownIcon, got %v", err)
	}
	if _, ok := s.Layer("devices"); ok {
		t.Fatalf("expected no layer on the surface")
	}
	assertCounts(t, m, 0)
}

func TestAddLayer_EngineErrorRegistersNothing(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)

	err := m.AddLayer("devices", "missing", "car", "", nil)
	if !errors.Is(err, surface.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	assertCounts(t, m, 0)
	if m.Active("devices") {
		t.Fatalf("expected layer to stay absent")
	}
}

func TestAddLayer_BindsClickAndCursorHandlers(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)

	var clicked []surface.Event
	if err := m.AddLayer("devices", "positions", "car", "{name}", func(ev surface.Event) {
		clicked = append(clicked, ev)
	}); err != nil {
		t.Fatalf("add layer: %v", err)
	}
	assertCounts(t, m, 1)

	s.Fire(surface.EventMouseEnter, "devices", orb.Point{13.4, 52.5})
	if s.Cursor() != CursorPointer {
		t.Fatalf("expected pointer cursor, got %q", s.Cursor())
	}
	s.Fire(surface.EventClick, "devices", orb.Point{13.4, 52.5})
	if len(clicked) != 1 || len(clicked[0].Features) != 1 {
		t.Fatalf("expected one click carrying the feature, got %+v", clicked)
	}
	s.Fire(surface.EventMouseLeave, "devices", orb.Point{13.4, 52.5})
	if s.Cursor() != CursorDefault {
		t.Fatalf("expected default cursor, got %q", s.Cursor())
	}

	err := m.AddLayer("devices", "positions", "car", "", nil)
	if !errors.Is(err, surface.ErrLayerExists) {
		t.Fatalf("expected ErrLayerExists on reuse, got %v", err)
	}
	assertCounts(t, m, 1)
}

func TestRemoveLayer_LeavesNoResidue(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)

	clicks := 0
	if err := m.AddLayer("devices", "positions", "car", "", func(surface.Event) { clicks++ }); err != nil {
		t.Fatalf("add layer: %v", err)
	}
	if err := m.RemoveLayer("devices", "positions"); err != nil {
		t.Fatalf("remove layer: %v", err)
	}

	assertCounts(t, m, 0)
	if m.Len() != 0 || len(m.Layers()) != 0 {
		t.Fatalf("expected no records, got %v", m.Layers())
	}
	for _, kind := range []surface.EventKind{surface.EventClick, surface.EventMouseEnter, surface.EventMouseLeave} {
		if n := s.ListenerCount(kind, "devices"); n != 0 {
			t.Fatalf("expected no %s listeners on the surface, got %d", kind, n)
		}
	}
	if _, ok := s.Layer("devices"); ok {
		t.Fatalf("expected layer removed from surface")
	}
	if err := s.RemoveSource("positions"); !errors.Is(err, surface.ErrSourceNotFound) {
		t.Fatalf("expected source removed, got %v", err)
	}
	s.Fire(surface.EventClick, "devices", orb.Point{13.4, 52.5})
	if clicks != 0 {
		t.Fatalf("expected detached click handler, got %d clicks", clicks)
	}
}

func TestRemoveLayer_ClosesFirstPopupOnly(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)
	if err := m.AddLayer("devices", "positions", "car", "", nil); err != nil {
		t.Fatalf("add layer: %v", err)
	}
	s.Container().ShowPopup(surface.Popup{ID: "first"})
	s.Container().ShowPopup(surface.Popup{ID: "second"})

	if err := m.RemoveLayer("devices", "positions"); err != nil {
		t.Fatalf("remove layer: %v", err)
	}
	left := s.Container().Popups()
	if len(left) != 1 || left[0].ID != "second" {
		t.Fatalf("expected only the second popup left, got %+v", left)
	}
}

func TestRemoveLayer_UnknownID(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)
	s.Container().ShowPopup(surface.Popup{ID: "keep"})

	err := m.RemoveLayer("ghost", "positions")
	if !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
	if len(s.Container().Popups()) != 1 {
		t.Fatalf("expected no side effects for an unknown layer")
	}
}

func TestLayers_SortedRecords(t *testing.T) {
	s := newTestSurface(t)
	if err := s.AddSource("geofences", nil); err != nil {
		t.Fatalf("add source: %v", err)
	}
	m := New(zerolog.Nop(), s, nil)
	if err := m.AddLayer("zones", "geofences", "car", "", nil); err != nil {
		t.Fatalf("add zones: %v", err)
	}
	if err := m.AddLayer("devices", "positions", "car", "{name}", nil); err != nil {
		t.Fatalf("add devices: %v", err)
	}

	got := m.Layers()
	if len(got) != 2 || got[0].ID != "devices" || got[1].ID != "zones" {
		t.Fatalf("expected [devices zones], got %+v", got)
	}
	if r, ok := m.Get("devices"); !ok || r.Text != "{name}" {
		t.Fatalf("expected devices record with text, got %+v ok=%v", r, ok)
	}
}

func TestRemoveLayer_SharedSourceKeepsSourceButRemovesLayer(t *testing.T) {
	s := newTestSurface(t)
	m := New(zerolog.Nop(), s, nil)
	if err := m.AddLayer("icons", "positions", "car", "", nil); err != nil {
		t.Fatalf("add icons: %v", err)
	}
	if err := m.AddLayer("labels", "positions", "car", "{name}", nil); err != nil {
		t.Fatalf("add labels: %v", err)
	}

	err := m.RemoveLayer("icons", "positions")
	if !errors.Is(err, ErrSourceKept) || !errors.Is(err, surface.ErrSourceInUse) {
		t.Fatalf("expected ErrSourceKept wrapping ErrSourceInUse, got %v", err)
	}
	if m.Active("icons") {
		t.Fatalf("expected icons removed despite the kept source")
	}
	if _, ok := s.Layer("icons"); ok {
		t.Fatalf("expected icons gone from the surface")
	}
	if !m.Active("labels") || m.Len() != 1 {
		t.Fatalf("expected labels untouched, got %+v", m.Layers())
	}
	assertCounts(t, m, 1)

	if err := m.RemoveLayer("icons", "positions"); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer on retry, got %v", err)
	}
	if err := m.RemoveLayer("labels", "positions"); err != nil {
		t.Fatalf("remove labels: %v", err)
	}
	if err := s.RemoveSource("positions"); !errors.Is(err, surface.ErrSourceNotFound) {
		t.Fatalf("expected source dropped with the last layer, got %v", err)
	}
}
