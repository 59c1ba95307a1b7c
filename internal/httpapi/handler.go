package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/eventstream"
	"fleetmap/core-go/internal/mapmanager"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/positions"
)

const maxBodyBytes = 8 << 20

// PositionQueries is the minimal DB interface the positions endpoint needs.
// *positions.Queries satisfies this.
type PositionQueries interface {
	ListLatestPositions(ctx context.Context) ([]positions.Position, error)
}

// Options carries the optional collaborators of the API. BaseContext outlives
// single requests; websocket streams stop when it is done.
type Options struct {
	Positions   PositionQueries
	Events      *eventstream.Hub
	Metrics     *metrics.Metrics
	BaseContext context.Context
}

type Handler struct {
	log       zerolog.Logger
	maps      *mapmanager.Manager
	positions PositionQueries
	events    *eventstream.Hub
	metrics   *metrics.Metrics
	baseCtx   context.Context
}

func NewHandler(log zerolog.Logger, maps *mapmanager.Manager, opts Options) *Handler {
	events := opts.Events
	if events == nil {
		events = eventstream.NewHub(log)
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		log:       log,
		maps:      maps,
		positions: opts.Positions,
		events:    events,
		metrics:   opts.Metrics,
		baseCtx:   baseCtx,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Handle("/metrics", h.metrics.Handler())

	// API
	r.Route("/api/v1", func(r chi.Router) {
		// The event stream is long lived and stays outside the request timeout.
		r.Get("/events", h.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))

			r.Get("/style", h.handleGetStyle)

			r.Route("/icons", func(r chi.Router) {
				r.Get("/", h.handleListIcons)
				r.Get("/{key}", h.handleGetIcon)
			})

			r.Route("/sources/{id}", func(r chi.Router) {
				r.Put("/", h.handlePutSource)
				r.Post("/positions", h.handleLoadPositions)
			})

			r.Route("/layers", func(r chi.Router) {
				r.Get("/", h.handleListLayers)
				r.Post("/", h.handleAddLayer)
				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", h.handleRemoveLayer)
					r.Post("/events", h.handleLayerEvent)
				})
			})

			r.Post("/bounds", h.handleBounds)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	if !h.maps.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, "map_not_ready", "map style or icons still loading", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	h.events.ServeWS(h.baseCtx, w, r)
}

// ensureReady rejects layer mutations until every category icon is usable.
func (h *Handler) ensureReady(w http.ResponseWriter) bool {
	if !h.maps.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, "map_not_ready", "map style or icons still loading", nil)
		return false
	}
	return true
}
