package positions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb"
)

type fakeRows struct {
	rows    [][]any
	idx     int
	err     error
	scanErr error
	closed  bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(row), len(dest))
	}
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakeDB struct {
	rows     *fakeRows
	err      error
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.lastSQL = sql
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func strPtr(s string) *string { return &s }

func TestFeatureCollection(t *testing.T) {
	course := 90.0
	fix := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := FeatureCollection([]Position{
		{DeviceID: "1", Name: strPtr("Truck 7"), Category: strPtr("Truck"), Longitude: 13.4, Latitude: 52.5, Course: &course, FixTime: fix},
		{DeviceID: "2", Longitude: -0.1, Latitude: 51.5, FixTime: fix},
		{DeviceID: "3", Name: strPtr("Van North"), Category: strPtr("hovercraft"), Longitude: 2.35, Latitude: 48.85, FixTime: fix},
	})

	if len(fc.Features) != 3 {
		t.Fatalf("expected 3 features, got %d", len(fc.Features))
	}

	first := fc.Features[0]
	if p, ok := first.Geometry.(orb.Point); !ok || p != (orb.Point{13.4, 52.5}) {
		t.Fatalf("expected point lon/lat order, got %v", first.Geometry)
	}
	if first.Properties["name"] != "Truck 7" || first.Properties["category"] != "truck" {
		t.Fatalf("unexpected properties %v", first.Properties)
	}
	if first.Properties["course"] != 90.0 {
		t.Fatalf("expected course, got %v", first.Properties["course"])
	}
	if first.Properties["fixTime"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected fix time %v", first.Properties["fixTime"])
	}

	second := fc.Features[1]
	if second.Properties["name"] != "2" {
		t.Fatalf("expected device id as fallback name, got %v", second.Properties["name"])
	}
	if second.Properties["category"] != "default" {
		t.Fatalf("expected default category, got %v", second.Properties["category"])
	}
	if _, ok := second.Properties["course"]; ok {
		t.Fatalf("expected no course property")
	}

	if third := fc.Features[2]; third.Properties["category"] != "van" {
		t.Fatalf("expected category guessed from name, got %v", third.Properties["category"])
	}
}

func TestListLatestPositions_ScansRows(t *testing.T) {
	name := "Truck 7"
	category := "truck"
	course := 180.0
	fix := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]any{
		{"1", &name, &category, 13.4, 52.5, &course, fix},
		{"2", (*string)(nil), (*string)(nil), -0.1, 51.5, (*float64)(nil), fix.Add(time.Minute)},
	}}
	db := &fakeDB{rows: rows}

	items, err := New(db).ListLatestPositions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(db.lastSQL, "DISTINCT ON (p.device_id)") {
		t.Fatalf("unexpected query %q", db.lastSQL)
	}
	if !rows.closed {
		t.Fatalf("expected rows closed")
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(items))
	}
	first := items[0]
	if first.DeviceID != "1" || first.Name == nil || *first.Name != "Truck 7" || first.Course == nil || *first.Course != 180 {
		t.Fatalf("unexpected first position %+v", first)
	}
	if first.Longitude != 13.4 || first.Latitude != 52.5 || !first.FixTime.Equal(fix) {
		t.Fatalf("unexpected coordinates or fix time %+v", first)
	}
	if second := items[1]; second.Name != nil || second.Category != nil || second.Course != nil {
		t.Fatalf("expected NULL columns as nil pointers, got %+v", second)
	}
}

func TestListLatestPositions_Errors(t *testing.T) {
	queryErr := errors.New("connection refused")
	if _, err := New(&fakeDB{err: queryErr}).ListLatestPositions(context.Background()); !errors.Is(err, queryErr) {
		t.Fatalf("expected query error, got %v", err)
	}

	scanErr := errors.New("cannot scan NULL into string")
	rows := &fakeRows{rows: [][]any{{"1"}}, scanErr: scanErr}
	if _, err := New(&fakeDB{rows: rows}).ListLatestPositions(context.Background()); !errors.Is(err, scanErr) {
		t.Fatalf("expected scan error, got %v", err)
	}
	if !rows.closed {
		t.Fatalf("expected rows closed after a scan error")
	}

	iterErr := errors.New("conn closed mid-stream")
	rows = &fakeRows{err: iterErr}
	if _, err := New(&fakeDB{rows: rows}).ListLatestPositions(context.Background()); !errors.Is(err, iterErr) {
		t.Fatalf("expected iteration error, got %v", err)
	}

	empty, err := New(&fakeDB{rows: &fakeRows{}}).ListLatestPositions(context.Background())
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no positions and no error, got %v %v", empty, err)
	}
}
