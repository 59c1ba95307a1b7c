package positions

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"fleetmap/core-go/internal/categories"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Position struct {
	DeviceID  string
	Name      *string
	Category  *string
	Longitude float64
	Latitude  float64
	Course    *float64
	FixTime   time.Time
}

const listLatestPositions = `-- name: ListLatestPositions :many
SELECT DISTINCT ON (p.device_id)
       p.device_id,
       d.name,
       d.category,
       p.longitude,
       p.latitude,
       p.course,
       p.fix_time
FROM positions p
JOIN devices d ON d.id = p.device_id
ORDER BY p.device_id, p.fix_time DESC
`

// ListLatestPositions returns the most recent fix of every device.
func (q *Queries) ListLatestPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.db.Query(ctx, listLatestPositions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Position
	for rows.Next() {
		var i Position
		if err := rows.Scan(
			&i.DeviceID,
			&i.Name,
			&i.Category,
			&i.Longitude,
			&i.Latitude,
			&i.Course,
			&i.FixTime,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// FeatureCollection maps positions to point features. The category property
// always names a registered icon; devices without one get a guess from their
// name.
func FeatureCollection(items []Position) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range items {
		f := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
		f.ID = p.DeviceID
		f.Properties["deviceId"] = p.DeviceID
		name := p.DeviceID
		if p.Name != nil && *p.Name != "" {
			name = *p.Name
		}
		f.Properties["name"] = name
		category := ""
		if p.Category != nil {
			category = *p.Category
		}
		f.Properties["category"] = categories.Resolve(category, name)
		if p.Course != nil {
			f.Properties["course"] = *p.Course
		}
		f.Properties["fixTime"] = p.FixTime.UTC().Format(time.RFC3339)
		fc.Append(f)
	}
	return fc
}
