package positionsync

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/positions"
)

// Queries is the minimal DB interface the worker needs.
// *positions.Queries satisfies this.
type Queries interface {
	ListLatestPositions(ctx context.Context) ([]positions.Position, error)
}

// Sink receives every refreshed feature collection. *mapmanager.Manager
// satisfies this.
type Sink interface {
	SetSource(id string, data *geojson.FeatureCollection) (bool, error)
}

// Worker keeps one map source in step with the latest device positions.
type Worker struct {
	log      zerolog.Logger
	q        Queries
	sink     Sink
	sourceID string
	interval time.Duration
	metrics  *metrics.Metrics
}

type Options struct {
	SourceID string
	Interval time.Duration
}

const (
	DefaultSourceID = "positions"
	DefaultInterval = 5 * time.Second
	maxBackoff      = time.Minute
)

func New(log zerolog.Logger, q Queries, sink Sink, opts Options, m *metrics.Metrics) *Worker {
	sourceID := opts.SourceID
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		log:      log,
		q:        q,
		sink:     sink,
		sourceID: sourceID,
		interval: interval,
		metrics:  m,
	}
}

// Run refreshes the source immediately and then every interval until ctx is
// done. Failures back off exponentially.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.q == nil || w.sink == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.SyncOnce(ctx); err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.interval, consecutiveFailures))
	}
}

// SyncOnce loads the latest positions and pushes them to the sink. It returns
// the number of devices published.
func (w *Worker) SyncOnce(ctx context.Context) (int, error) {
	items, err := w.q.ListLatestPositions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Str("source", w.sourceID).Msg("position sync failed to query")
		}
		w.metrics.ObservePositionSync("error", 0)
		return 0, err
	}

	fc := positions.FeatureCollection(items)
	created, err := w.sink.SetSource(w.sourceID, fc)
	if err != nil {
		w.log.Error().Err(err).Str("source", w.sourceID).Msg("position sync failed to update source")
		w.metrics.ObservePositionSync("error", 0)
		return 0, err
	}

	w.metrics.ObservePositionSync("ok", len(items))
	w.log.Debug().
		Str("source", w.sourceID).
		Int("devices", len(items)).
		Bool("created", created).
		Msg("positions synced")
	return len(items), nil
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = DefaultInterval
	}
	if failures <= 0 {
		return base
	}

	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
