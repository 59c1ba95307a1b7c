package httpapi

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fleetmap/core-go/internal/eventstream"
	"fleetmap/core-go/internal/layers"
	"fleetmap/core-go/internal/positions"
	"fleetmap/core-go/internal/surface"
)

// eventDispatcher is implemented by engines that can replay pointer events,
// such as *surface.Memory.
type eventDispatcher interface {
	Fire(kind surface.EventKind, layerID string, at orb.Point) int
}

var popupSeq atomic.Uint64

type layerCreate struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Icon   string `json:"icon"`
	Text   string `json:"text,omitempty"`
}

type layerEvent struct {
	Kind string  `json:"kind"`
	Lng  float64 `json:"lng"`
	Lat  float64 `json:"lat"`
}

type boundsResponse struct {
	Bounds *[2][2]float64 `json:"bounds"`
	Zoom   *float64       `json:"zoom,omitempty"`
}

func (h *Handler) handleGetStyle(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.maps.Map().Style())
}

func (h *Handler) handleListIcons(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"icons":      h.maps.Map().ImageKeys(),
		"categories": h.maps.Categories(),
		"ready":      h.maps.Ready(),
	})
}

func (h *Handler) handleGetIcon(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(chi.URLParam(r, "key"), ".png")
	img, opts, ok := h.maps.Map().Image(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "icon not found", map[string]any{"key": key})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Pixel-Ratio", strconv.FormatFloat(opts.PixelRatio, 'f', -1, 64))
	if err := png.Encode(w, img); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("icon encode failed")
	}
}

func (h *Handler) handlePutSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "failed to read body", map[string]any{"error": err.Error()})
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid geojson feature collection", map[string]any{"error": err.Error()})
		return
	}

	created, err := h.maps.SetSource(id, fc)
	if err != nil {
		h.writeMapError(w, err, map[string]any{"source": id})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, map[string]any{"id": id, "features": len(fc.Features)})
}

func (h *Handler) handleLoadPositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.positions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	rows, err := h.positions.ListLatestPositions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("source", id).Msg("list latest positions failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to load positions", nil)
		return
	}
	fc := positions.FeatureCollection(rows)

	created, err := h.maps.SetSource(id, fc)
	if err != nil {
		h.writeMapError(w, err, map[string]any{"source": id})
		return
	}

	resp := map[string]any{"id": id, "features": len(fc.Features)}
	if b := h.maps.CalculateBounds(fc.Features); b != nil {
		resp["bounds"] = boundsPair(*b)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleListLayers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.maps.Layers())
}

func (h *Handler) handleAddLayer(w http.ResponseWriter, r *http.Request) {
	var req layerCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Source = strings.TrimSpace(req.Source)
	req.Icon = strings.TrimSpace(req.Icon)
	if req.ID == "" || req.Source == "" || req.Icon == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "id, source and icon are required", nil)
		return
	}
	if !h.ensureReady(w) {
		return
	}

	err := h.maps.AddLayer(req.ID, req.Source, req.Icon, req.Text, h.publishClick)
	if err != nil {
		h.writeMapError(w, err, map[string]any{"id": req.ID, "source": req.Source, "icon": req.Icon})
		return
	}

	h.writeJSON(w, http.StatusCreated, layers.Record{ID: req.ID, Source: req.Source, Icon: req.Icon, Text: req.Text})
}

// publishClick opens a popup for the clicked feature and forwards the click
// to event subscribers.
func (h *Handler) publishClick(ev surface.Event) {
	h.maps.Element().ShowPopup(surface.Popup{
		ID:      fmt.Sprintf("popup-%d", popupSeq.Add(1)),
		LayerID: ev.LayerID,
		LngLat:  [2]float64{ev.LngLat.Lon(), ev.LngLat.Lat()},
	})

	var features any
	if len(ev.Features) > 0 {
		fc := geojson.NewFeatureCollection()
		for _, f := range ev.Features {
			fc.Append(f)
		}
		features = fc
	}
	h.events.Publish(eventstream.Message{
		Type:     string(ev.Kind),
		LayerID:  ev.LayerID,
		LngLat:   [2]float64{ev.LngLat.Lon(), ev.LngLat.Lat()},
		Features: features,
	})
}

func (h *Handler) handleRemoveLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		for _, rec := range h.maps.Layers() {
			if rec.ID == id {
				source = rec.Source
				break
			}
		}
	}

	err := h.maps.RemoveLayer(id, source)
	switch {
	case errors.Is(err, layers.ErrSourceKept):
		h.writeJSON(w, http.StatusOK, map[string]any{
			"id":          id,
			"removed":     true,
			"source":      source,
			"source_kept": true,
			"reason":      err.Error(),
		})
	case err != nil:
		h.writeMapError(w, err, map[string]any{"id": id, "source": source})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleLayerEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req layerEvent
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	kind, ok := surface.ParseEventKind(req.Kind)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid event kind", map[string]any{"kind": req.Kind})
		return
	}

	dispatcher, ok := h.maps.Map().(eventDispatcher)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "not_supported", "map engine does not replay events", nil)
		return
	}

	handled := dispatcher.Fire(kind, id, orb.Point{req.Lng, req.Lat})
	h.writeJSON(w, http.StatusOK, map[string]any{
		"handled": handled,
		"cursor":  h.maps.Map().Cursor(),
		"popups":  h.maps.Element().Popups(),
	})
}

func (h *Handler) handleBounds(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "failed to read body", map[string]any{"error": err.Error()})
		return
	}

	var features []*geojson.Feature
	if len(strings.TrimSpace(string(body))) > 0 {
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid geojson feature collection", map[string]any{"error": err.Error()})
			return
		}
		features = fc.Features
	}

	b := h.maps.CalculateBounds(features)
	if b == nil {
		h.writeJSON(w, http.StatusOK, boundsResponse{})
		return
	}
	pair := boundsPair(*b)
	zoom := h.maps.FitZoom(*b)
	h.writeJSON(w, http.StatusOK, boundsResponse{Bounds: &pair, Zoom: &zoom})
}

func boundsPair(b orb.Bound) [2][2]float64 {
	return [2][2]float64{{b.Min.Lon(), b.Min.Lat()}, {b.Max.Lon(), b.Max.Lat()}}
}

func (h *Handler) writeMapError(w http.ResponseWriter, err error, details map[string]any) {
	switch {
	case errors.Is(err, layers.ErrUnknownIcon):
		h.writeError(w, http.StatusUnprocessableEntity, "unknown_icon", "icon is not registered", details)
	case errors.Is(err, layers.ErrUnknownLayer), errors.Is(err, surface.ErrLayerNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "layer not found", details)
	case errors.Is(err, surface.ErrSourceNotFound):
		h.writeError(w, http.StatusNotFound, "source_not_found", "source not found", details)
	case errors.Is(err, surface.ErrLayerExists):
		h.writeError(w, http.StatusConflict, "layer_exists", "layer already exists", details)
	case errors.Is(err, surface.ErrSourceExists), errors.Is(err, surface.ErrSourceInUse):
		h.writeError(w, http.StatusConflict, "source_conflict", err.Error(), details)
	default:
		h.log.Error().Err(err).Interface("details", details).Msg("map operation failed")
		h.writeError(w, http.StatusInternalServerError, "map_error", "map operation failed", nil)
	}
}
