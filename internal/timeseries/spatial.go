package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// Polygon identifies an area handed to a SpatialSelector. The engine never
// interprets its coordinates.
type Polygon struct {
	ID          string       `json:"id,omitempty"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// SpatialSelector reduces a spatially distributed item (a mesh or grid
// quantity) to one scalar per time step over the union of the polygons.
type SpatialSelector[T any] interface {
	Select(ctx context.Context, id string, polygons []Polygon) (*models.Series[T], error)
}

// SpatialSelectorFunc adapts a function to SpatialSelector.
type SpatialSelectorFunc[T any] func(ctx context.Context, id string, polygons []Polygon) (*models.Series[T], error)

func (f SpatialSelectorFunc[T]) Select(ctx context.Context, id string, polygons []Polygon) (*models.Series[T], error) {
	return f(ctx, id, polygons)
}

func selectSpatial[T any](ctx context.Context, sel SpatialSelector[T], id string, polygons []Polygon) (*models.Series[T], error) {
	if sel == nil {
		return nil, fmt.Errorf("%w: no spatial selector configured", models.ErrInvalidArgument)
	}
	if len(polygons) == 0 {
		return nil, fmt.Errorf("%w: at least one polygon is required", models.ErrInvalidArgument)
	}
	s, err := sel.Select(ctx, id, polygons)
	if err != nil {
		return nil, fmt.Errorf("spatial selection for %s: %w", id, err)
	}
	return s, nil
}

// SpatialAggregate aggregates the selector's series for id over [from, to]
// exactly as Aggregate does.
func SpatialAggregate[T any](ctx context.Context, sel SpatialSelector[T], id string, polygons []Polygon, kind AggregationType, from, to time.Time, rules Rules[T]) (sql.Null[T], error) {
	if err := kind.Validate(); err != nil {
		return sql.Null[T]{}, err
	}
	s, err := selectSpatial(ctx, sel, id, polygons)
	if err != nil {
		return sql.Null[T]{}, err
	}
	return Aggregate(s, kind, from, to, rules)
}

// SpatialAggregateByPeriod runs AggregateByPeriod on the selector's series for id.
func SpatialAggregateByPeriod[T any](ctx context.Context, sel SpatialSelector[T], id string, polygons []Polygon, kind AggregationType, period Period, rules Rules[T], opts ...PeriodOption) (*models.Series[T], error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	s, err := selectSpatial(ctx, sel, id, polygons)
	if err != nil {
		return nil, err
	}
	return AggregateByPeriod(s, kind, period, rules, opts...)
}
