// Package repository defines the capability interfaces that storage backends
// implement, and an in-memory backend implementing all of them.
//
// Capabilities compose:
//   - DiscreteRepository: a finite set of identified series
//   - TimeSeriesRepository: per-id ordered point queries
//   - UpdatableRepository: whole-series and value mutation
//   - GroupedRepository: addressing by group/namespace
//   - GroupedUpdatableRepository: batch mutation across a group
//   - AggregatingRepository, BucketAggregatingRepository: optional
//     aggregation push-down
//
// A backend implements whichever subset it supports; the service layer
// discovers optional capabilities with type assertions.
//
// Backends report a missing id by wrapping models.ErrNotFound, but callers
// must not rely on it: the service layer checks Contains before delegating.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// DiscreteRepository is a store addressable by a finite set of ids.
type DiscreteRepository[T any] interface {
	Count(ctx context.Context) (int, error)
	Contains(ctx context.Context, id string) (bool, error)
	// Get returns the series metadata and all of its points.
	Get(ctx context.Context, id string) (models.TimeSeries[T], error)
	// GetAll returns every series without its points.
	GetAll(ctx context.Context) ([]models.TimeSeries[T], error)
	GetIDs(ctx context.Context) ([]string, error)
}

// TimeSeriesRepository adds per-id queries over the ordered points.
//
// Point lookups return false when no point qualifies; this is not an error.
type TimeSeriesRepository[T any] interface {
	DiscreteRepository[T]

	// GetValues returns the points between from and to inclusive.
	GetValues(ctx context.Context, id string, from, to time.Time) (*models.Series[T], error)
	GetAllValues(ctx context.Context, id string) (*models.Series[T], error)
	// GetValue returns the point at exactly t.
	GetValue(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error)
	GetFirstValue(ctx context.Context, id string) (models.DataPoint[T], bool, error)
	GetLastValue(ctx context.Context, id string) (models.DataPoint[T], bool, error)
	// GetFirstValueAfter returns the first point strictly after t.
	GetFirstValueAfter(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error)
	// GetLastValueBefore returns the last point strictly before t.
	GetLastValueBefore(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error)
}

// UpdatableRepository mutates whole series and their values.
type UpdatableRepository[T any] interface {
	TimeSeriesRepository[T]

	// Add stores a new series, failing with models.ErrAlreadyExists.
	Add(ctx context.Context, ts models.TimeSeries[T]) error
	// Update replaces the metadata of an existing series, and its points
	// when ts.Data is not nil.
	Update(ctx context.Context, ts models.TimeSeries[T]) error
	Remove(ctx context.Context, id string) error
	// SetValues merges points into the series; existing timestamps are overwritten.
	SetValues(ctx context.Context, id string, data *models.Series[T]) error
	// RemoveValues deletes the points between from and to inclusive.
	RemoveValues(ctx context.Context, id string, from, to time.Time) error
}

// GroupedRepository addresses series by group.
type GroupedRepository[T any] interface {
	TimeSeriesRepository[T]

	GetByGroup(ctx context.Context, group string) ([]models.TimeSeries[T], error)
	ContainsGroup(ctx context.Context, group string) (bool, error)
	// GetFullNames lists the group/name of every series in group, or of
	// every series when group is empty.
	GetFullNames(ctx context.Context, group string) ([]string, error)
}

// GroupedUpdatableRepository batches mutation across series and groups.
type GroupedUpdatableRepository[T any] interface {
	GroupedRepository[T]
	UpdatableRepository[T]

	AddRange(ctx context.Context, series []models.TimeSeries[T]) error
	UpdateRange(ctx context.Context, series []models.TimeSeries[T]) error
	RemoveByGroup(ctx context.Context, group string) error
}

// AggregatingRepository computes window aggregates inside the backend. The
// result must equal timeseries.Aggregate over GetValues.
type AggregatingRepository[T any] interface {
	GetAggregated(ctx context.Context, id string, kind timeseries.AggregationType, from, to time.Time) (sql.Null[T], error)
}

// BucketAggregatingRepository groups values into fixed-width buckets inside
// the backend. Buckets must align the way timeseries.Every does for widths
// that divide a day; the service only pushes such periods down.
// Zero from and to cover the whole series.
type BucketAggregatingRepository[T any] interface {
	GetAggregatedByBucket(ctx context.Context, id string, kind timeseries.AggregationType, bucket time.Duration, from, to time.Time) (*models.Series[T], error)
}

// EnsembleRepository stores series with several member values per timestamp.
type EnsembleRepository[T any] interface {
	TimeSeriesRepository[[]T]
}
