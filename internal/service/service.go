// Package service orchestrates validated calls into a repository.
//
// A Service checks that an id exists before delegating any id-scoped call,
// so callers see models.ErrNotFound instead of a backend-specific error.
// Mutations raise one pre-event and one post-event through the handlers
// supplied at construction and return the resulting Change.
//
// Aggregation results are cached per series and dropped whenever that
// series is mutated through the service.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// Options configures a Service. The zero value is usable.
type Options struct {
	Logger *logrus.Logger
	// Handlers receive lifecycle events in order.
	Handlers []EventHandler
	// CacheSize bounds the aggregation cache; zero disables it.
	CacheSize int
	Metrics   *Metrics
}

type Service[T any] struct {
	repo     repository.TimeSeriesRepository[T]
	rules    timeseries.Rules[T]
	rulesErr error
	spatial  timeseries.SpatialSelector[T]
	handlers []EventHandler
	cache    *aggregateCache
	metrics  *Metrics
	log      *logrus.Logger
}

// New wraps repo. Value types without arithmetic rules are accepted, but
// every aggregation and interpolation on them fails with
// models.ErrUnsupportedValueType.
func New[T any](repo repository.TimeSeriesRepository[T], opts Options) (*Service[T], error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", models.ErrInvalidArgument)
	}
	cache, err := newAggregateCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rules, rulesErr := timeseries.RulesFor[T]()
	return &Service[T]{
		repo:     repo,
		rules:    rules,
		rulesErr: rulesErr,
		handlers: opts.Handlers,
		cache:    cache,
		metrics:  opts.Metrics,
		log:      log,
	}, nil
}

// SetSpatialSelector installs the selector used by the spatial aggregations.
// It must be called before the service is shared.
func (s *Service[T]) SetSpatialSelector(sel timeseries.SpatialSelector[T]) {
	s.spatial = sel
}

func isCallerError(err error) bool {
	return models.IsNotFound(err) || models.IsInvalid(err) || errors.Is(err, ErrVetoed)
}

func (s *Service[T]) requireExists(ctx context.Context, id string) error {
	ok, err := s.repo.Contains(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return nil
}

func (s *Service[T]) updatable() (repository.UpdatableRepository[T], error) {
	repo, ok := s.repo.(repository.UpdatableRepository[T])
	if !ok {
		return nil, fmt.Errorf("%w: repository is read-only", models.ErrInvalidArgument)
	}
	return repo, nil
}

func (s *Service[T]) grouped() (repository.GroupedRepository[T], error) {
	repo, ok := s.repo.(repository.GroupedRepository[T])
	if !ok {
		return nil, fmt.Errorf("%w: repository is not grouped", models.ErrInvalidArgument)
	}
	return repo, nil
}

// Exists reports whether id is present.
func (s *Service[T]) Exists(ctx context.Context, id string) (bool, error) {
	return s.repo.Contains(ctx, id)
}

func (s *Service[T]) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service[T]) GetIDs(ctx context.Context) ([]string, error) {
	return s.repo.GetIDs(ctx)
}

func (s *Service[T]) GetAll(ctx context.Context) ([]models.TimeSeries[T], error) {
	return s.repo.GetAll(ctx)
}

func (s *Service[T]) Get(ctx context.Context, id string) (ts models.TimeSeries[T], err error) {
	defer func(start time.Time) { s.metrics.observe("Get", start, err) }(time.Now())
	if err = s.requireExists(ctx, id); err != nil {
		return ts, err
	}
	return s.repo.Get(ctx, id)
}

// GetValues returns the points of id between from and to inclusive.
func (s *Service[T]) GetValues(ctx context.Context, id string, from, to time.Time) (data *models.Series[T], err error) {
	defer func(start time.Time) { s.metrics.observe("GetValues", start, err) }(time.Now())
	if err = s.requireExists(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetValues(ctx, id, from, to)
}

func (s *Service[T]) GetAllValues(ctx context.Context, id string) (*models.Series[T], error) {
	if err := s.requireExists(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetAllValues(ctx, id)
}

// GetValue returns the point at exactly t.
func (s *Service[T]) GetValue(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	if err := s.requireExists(ctx, id); err != nil {
		return models.DataPoint[T]{}, false, err
	}
	return s.repo.GetValue(ctx, id, t)
}

func (s *Service[T]) GetFirstValueAfter(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	if err := s.requireExists(ctx, id); err != nil {
		return models.DataPoint[T]{}, false, err
	}
	return s.repo.GetFirstValueAfter(ctx, id, t)
}

func (s *Service[T]) GetLastValueBefore(ctx context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	if err := s.requireExists(ctx, id); err != nil {
		return models.DataPoint[T]{}, false, err
	}
	return s.repo.GetLastValueBefore(ctx, id, t)
}

// anchor walks from t in one direction until it reaches a point with a value.
func (s *Service[T]) anchor(ctx context.Context, id string, t time.Time, next func(context.Context, string, time.Time) (models.DataPoint[T], bool, error)) (models.DataPoint[T], bool, error) {
	for {
		p, ok, err := next(ctx, id, t)
		if err != nil || !ok {
			return p, false, err
		}
		if p.HasValue() {
			return p, true, nil
		}
		t = p.Time
	}
}

// GetInterpolated resolves the value of id at t, interpolating between the
// nearest valued points when t has no value of its own. The boolean reports
// whether the result was interpolated; an unresolved value is a null point,
// not an error.
func (s *Service[T]) GetInterpolated(ctx context.Context, id string, t time.Time, opts ...timeseries.InterpolateOption) (p models.DataPoint[T], interpolated bool, err error) {
	defer func(start time.Time) { s.metrics.observe("GetInterpolated", start, err) }(time.Now())
	if s.rulesErr != nil {
		return p, false, s.rulesErr
	}
	if err = s.requireExists(ctx, id); err != nil {
		return p, false, err
	}

	exact, ok, err := s.repo.GetValue(ctx, id, t)
	if err != nil {
		return p, false, err
	}
	if ok && exact.HasValue() {
		return exact, false, nil
	}

	anchors := &models.Series[T]{}
	before, ok, err := s.anchor(ctx, id, t, s.repo.GetLastValueBefore)
	if err != nil {
		return p, false, err
	}
	if ok {
		anchors.Append(before)
	}
	after, ok, err := s.anchor(ctx, id, t, s.repo.GetFirstValueAfter)
	if err != nil {
		return p, false, err
	}
	if ok {
		anchors.Append(after)
	}

	p, interpolated = timeseries.Interpolate(anchors, t, s.rules, opts...)
	return p, interpolated, nil
}

// GetAggregated reduces the non-null values of id between from and to
// inclusive. An absent result means the window holds no values.
func (s *Service[T]) GetAggregated(ctx context.Context, id string, kind timeseries.AggregationType, from, to time.Time) (v sql.Null[T], err error) {
	defer func(start time.Time) { s.metrics.observe("GetAggregated", start, err) }(time.Now())
	if s.rulesErr != nil {
		return v, s.rulesErr
	}
	if err = kind.Validate(); err != nil {
		return v, err
	}
	if err = s.requireExists(ctx, id); err != nil {
		return v, err
	}

	key := cacheKey(id, kind, from, to, "")
	if cached, ok := s.cache.get(key); ok {
		s.metrics.cacheResult(true)
		s.log.WithFields(logrus.Fields{"id": id, "aggregation": kind}).Debug("aggregate served from cache")
		return cached.(sql.Null[T]), nil
	}
	s.metrics.cacheResult(false)

	gen := s.cache.generation(id)
	if agg, ok := s.repo.(repository.AggregatingRepository[T]); ok {
		v, err = agg.GetAggregated(ctx, id, kind, from, to)
	} else {
		var data *models.Series[T]
		if data, err = s.repo.GetValues(ctx, id, from, to); err == nil {
			v, err = timeseries.AggregateAll(data, kind, s.rules)
		}
	}
	if err != nil {
		return v, err
	}
	s.cache.add(id, gen, key, v)
	return v, nil
}

// GetAggregatedByPeriod groups the values of id between from and to by
// period and reduces each group. Zero from and to cover the whole series.
func (s *Service[T]) GetAggregatedByPeriod(ctx context.Context, id string, kind timeseries.AggregationType, period timeseries.Period, from, to time.Time) (out *models.Series[T], err error) {
	defer func(start time.Time) { s.metrics.observe("GetAggregatedByPeriod", start, err) }(time.Now())
	if s.rulesErr != nil {
		return nil, s.rulesErr
	}
	if err = kind.Validate(); err != nil {
		return nil, err
	}
	if period == nil {
		return nil, fmt.Errorf("%w: period is required", models.ErrInvalidArgument)
	}
	if err = s.requireExists(ctx, id); err != nil {
		return nil, err
	}

	key := cacheKey(id, kind, from, to, period.String())
	if cached, ok := s.cache.get(key); ok {
		s.metrics.cacheResult(true)
		s.log.WithFields(logrus.Fields{"id": id, "aggregation": kind, "period": period}).Debug("aggregate served from cache")
		return cached.(*models.Series[T]).Clone(), nil
	}
	s.metrics.cacheResult(false)

	gen := s.cache.generation(id)
	if out, err = s.aggregateByPeriod(ctx, id, kind, period, from, to); err != nil {
		return nil, err
	}
	s.cache.add(id, gen, key, out.Clone())
	return out, nil
}

func (s *Service[T]) aggregateByPeriod(ctx context.Context, id string, kind timeseries.AggregationType, period timeseries.Period, from, to time.Time) (*models.Series[T], error) {
	// buckets of a backend align to midnight UTC and are microsecond granular,
	// so only such widths dividing a day match Every
	if d, ok := timeseries.FixedLength(period); ok && d > 0 && d%time.Microsecond == 0 && (24*time.Hour)%d == 0 {
		if bucketed, ok := s.repo.(repository.BucketAggregatingRepository[T]); ok {
			return bucketed.GetAggregatedByBucket(ctx, id, kind, d, from, to)
		}
	}

	var (
		data *models.Series[T]
		err  error
	)
	if from.IsZero() && to.IsZero() {
		data, err = s.repo.GetAllValues(ctx, id)
	} else {
		data, err = s.repo.GetValues(ctx, id, from, to)
	}
	if err != nil {
		return nil, err
	}
	return timeseries.AggregateByPeriod(data, kind, period, s.rules)
}

// GetSpatialAggregated aggregates the series the spatial selector extracts
// for id over polygons.
func (s *Service[T]) GetSpatialAggregated(ctx context.Context, id string, polygons []timeseries.Polygon, kind timeseries.AggregationType, from, to time.Time) (sql.Null[T], error) {
	if s.rulesErr != nil {
		return sql.Null[T]{}, s.rulesErr
	}
	return timeseries.SpatialAggregate(ctx, s.spatial, id, polygons, kind, from, to, s.rules)
}

func (s *Service[T]) GetSpatialAggregatedByPeriod(ctx context.Context, id string, polygons []timeseries.Polygon, kind timeseries.AggregationType, period timeseries.Period) (*models.Series[T], error) {
	if s.rulesErr != nil {
		return nil, s.rulesErr
	}
	return timeseries.SpatialAggregateByPeriod(ctx, s.spatial, id, polygons, kind, period, s.rules)
}

func (s *Service[T]) GetByGroup(ctx context.Context, group string) ([]models.TimeSeries[T], error) {
	repo, err := s.grouped()
	if err != nil {
		return nil, err
	}
	return repo.GetByGroup(ctx, group)
}

func (s *Service[T]) ContainsGroup(ctx context.Context, group string) (bool, error) {
	repo, err := s.grouped()
	if err != nil {
		return false, err
	}
	return repo.ContainsGroup(ctx, group)
}

func (s *Service[T]) GetFullNames(ctx context.Context, group string) ([]string, error) {
	repo, err := s.grouped()
	if err != nil {
		return nil, err
	}
	return repo.GetFullNames(ctx, group)
}

// GetVectors combines the x and y component series between from and to into
// a vector series.
func GetVectors(ctx context.Context, s *Service[float64], xID, yID string, from, to time.Time) (*models.Series[models.Vector], error) {
	x, err := s.GetValues(ctx, xID, from, to)
	if err != nil {
		return nil, err
	}
	y, err := s.GetValues(ctx, yID, from, to)
	if err != nil {
		return nil, err
	}
	return timeseries.CombineVectors(x, y), nil
}
