package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

// mockRepo is a read-only repository.
type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockRepo) Contains(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) Get(ctx context.Context, id string) (models.TimeSeries[float64], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.TimeSeries[float64]), args.Error(1)
}

func (m *mockRepo) GetAll(ctx context.Context) ([]models.TimeSeries[float64], error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.TimeSeries[float64]), args.Error(1)
}

func (m *mockRepo) GetIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockRepo) GetValues(ctx context.Context, id string, from, to time.Time) (*models.Series[float64], error) {
	args := m.Called(ctx, id, from, to)
	s, _ := args.Get(0).(*models.Series[float64])
	return s, args.Error(1)
}

func (m *mockRepo) GetAllValues(ctx context.Context, id string) (*models.Series[float64], error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.Series[float64])
	return s, args.Error(1)
}

func (m *mockRepo) point(method string, args ...any) (models.DataPoint[float64], bool, error) {
	ret := m.MethodCalled(method, args...)
	return ret.Get(0).(models.DataPoint[float64]), ret.Bool(1), ret.Error(2)
}

func (m *mockRepo) GetValue(ctx context.Context, id string, t time.Time) (models.DataPoint[float64], bool, error) {
	return m.point("GetValue", ctx, id, t)
}

func (m *mockRepo) GetFirstValue(ctx context.Context, id string) (models.DataPoint[float64], bool, error) {
	return m.point("GetFirstValue", ctx, id)
}

func (m *mockRepo) GetLastValue(ctx context.Context, id string) (models.DataPoint[float64], bool, error) {
	return m.point("GetLastValue", ctx, id)
}

func (m *mockRepo) GetFirstValueAfter(ctx context.Context, id string, t time.Time) (models.DataPoint[float64], bool, error) {
	return m.point("GetFirstValueAfter", ctx, id, t)
}

func (m *mockRepo) GetLastValueBefore(ctx context.Context, id string, t time.Time) (models.DataPoint[float64], bool, error) {
	return m.point("GetLastValueBefore", ctx, id, t)
}

// mockAggregatingRepo adds aggregation push-down.
type mockAggregatingRepo struct {
	mockRepo
}

func (m *mockAggregatingRepo) GetAggregated(ctx context.Context, id string, kind timeseries.AggregationType, from, to time.Time) (sql.Null[float64], error) {
	args := m.Called(ctx, id, kind, from, to)
	return args.Get(0).(sql.Null[float64]), args.Error(1)
}

// recorder collects every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []Change
	veto   func(Change) error
}

func (r *recorder) HandleEvent(_ context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, c)
	return nil
}

func (r *recorder) Veto(_ context.Context, c Change) error {
	if r.veto == nil {
		return nil
	}
	return r.veto(c)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, c := range r.events {
		out[i] = c.Event
	}
	return out
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func sampleRepo() *repository.Memory[float64] {
	return repository.NewMemory(models.TimeSeries[float64]{
		ID: "rain", Name: "rain", Group: "station-1",
		Data: models.NewSeries(
			models.NewDataPoint(at(0), 5.0),
			models.NullDataPoint[float64](at(30)),
			models.NewDataPoint(at(60), 7.0),
		),
	})
}

func newService(t *testing.T, repo repository.TimeSeriesRepository[float64], opts Options) *Service[float64] {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	svc, err := New(repo, opts)
	require.NoError(t, err)
	return svc
}

func TestMissingIDIsNotForwarded(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepo{}
	repo.On("Contains", ctx, "ghost").Return(false, nil)
	svc := newService(t, repo, Options{})

	_, err := svc.GetValues(ctx, "ghost", at(0), at(60))
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetAggregated(ctx, "ghost", timeseries.Sum, at(0), at(60))
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, _, err = svc.GetInterpolated(ctx, "ghost", at(30))
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.GetAggregatedByPeriod(ctx, "ghost", timeseries.Sum, timeseries.Daily, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)

	repo.AssertNotCalled(t, "GetValues", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GetValue", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GetAllValues", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReadOnlyRepositoryRejectsMutation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, &mockRepo{}, Options{})

	_, err := svc.SetValues(ctx, "rain", models.NewSeries(models.NewDataPoint(at(0), 1.0)))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.Add(ctx, models.TimeSeries[float64]{ID: "a", Name: "a"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.GetByGroup(ctx, "station-1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRemoveValuesRejectsInvalidIntervalFirst(t *testing.T) {
	ctx := context.Background()
	repo := &mockRepo{}
	svc := newService(t, repo, Options{})

	_, err := svc.RemoveValues(ctx, "rain", at(60), at(60))
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
	_, err = svc.RemoveValues(ctx, "rain", at(60), at(0))
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
	repo.AssertNotCalled(t, "Contains", mock.Anything, mock.Anything)
}

func TestRoundTripScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, sampleRepo(), Options{})

	values, err := svc.GetValues(ctx, "rain", at(0), at(60))
	require.NoError(t, err)
	assert.Equal(t, 3, values.Len())

	p, interpolated, err := svc.GetInterpolated(ctx, "rain", at(30))
	require.NoError(t, err)
	assert.True(t, interpolated)
	assert.InDelta(t, 6.0, p.Value.V, 1e-12)

	_, err = svc.RemoveValues(ctx, "rain", at(0), at(60))
	require.NoError(t, err)
	values, err = svc.GetAllValues(ctx, "rain")
	require.NoError(t, err)
	assert.True(t, values.IsEmpty())
}

func TestInterpolationWalksPastNullAnchors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory(models.TimeSeries[float64]{
		ID: "x", Name: "x",
		Data: models.NewSeries(
			models.NewDataPoint(at(0), 0.0),
			models.NullDataPoint[float64](at(10)),
			models.NullDataPoint[float64](at(20)),
			models.NullDataPoint[float64](at(50)),
			models.NewDataPoint(at(60), 60.0),
		),
	})
	svc := newService(t, repo, Options{})

	p, interpolated, err := svc.GetInterpolated(ctx, "x", at(20))
	require.NoError(t, err)
	assert.True(t, interpolated)
	assert.InDelta(t, 20.0, p.Value.V, 1e-12)

	p, interpolated, err = svc.GetInterpolated(ctx, "x", at(20), timeseries.WithGapTolerance(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, interpolated)
	assert.False(t, p.HasValue())

	p, interpolated, err = svc.GetInterpolated(ctx, "x", at(90))
	require.NoError(t, err)
	assert.False(t, interpolated)
	assert.False(t, p.HasValue())
}

func TestMutationEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	svc := newService(t, sampleRepo(), Options{Handlers: []EventHandler{rec}})

	c, err := svc.Add(ctx, models.TimeSeries[float64]{ID: "level", Name: "level", Group: "station-1"})
	require.NoError(t, err)
	assert.Equal(t, EventAdded, c.Event)
	assert.NotEmpty(t, c.ID)

	c, err = svc.SetValues(ctx, "level", models.NewSeries(models.NewDataPoint(at(0), 1.0), models.NewDataPoint(at(60), 2.0)))
	require.NoError(t, err)
	assert.Equal(t, EventValuesSet, c.Event)
	assert.Equal(t, 2, c.Count)
	require.NotNil(t, c.From)
	assert.Equal(t, at(60), *c.To)

	_, err = svc.Update(ctx, models.TimeSeries[float64]{ID: "level", Name: "stage", Group: "station-1"})
	require.NoError(t, err)
	_, err = svc.RemoveValues(ctx, "level", at(0), at(30))
	require.NoError(t, err)
	_, err = svc.Remove(ctx, "level")
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventAdding, EventAdded,
		EventUpdating, EventValuesSet,
		EventUpdating, EventUpdated,
		EventUpdating, EventValuesRemoved,
		EventDeleting, EventDeleted,
	}, rec.types())

	for i := 0; i < len(rec.events); i += 2 {
		assert.Equal(t, rec.events[i].ID, rec.events[i+1].ID, "pre and post events share an id")
		assert.True(t, rec.events[i].Event.IsPre())
		assert.False(t, rec.events[i+1].Event.IsPre())
	}
}

func TestFailedMutationRaisesNoEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	svc := newService(t, sampleRepo(), Options{Handlers: []EventHandler{rec}})

	_, err := svc.Add(ctx, models.TimeSeries[float64]{ID: "rain", Name: "rain"})
	assert.ErrorIs(t, err, models.ErrAlreadyExists)
	_, err = svc.SetValues(ctx, "ghost", models.NewSeries(models.NewDataPoint(at(0), 1.0)))
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.SetValues(ctx, "rain", nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	assert.Empty(t, rec.types())
}

func TestVetoAbortsMutation(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{veto: func(c Change) error {
		if c.Event == EventDeleting {
			return errors.New("protected series")
		}
		return nil
	}}
	repo := sampleRepo()
	svc := newService(t, repo, Options{Handlers: []EventHandler{rec}})

	_, err := svc.Remove(ctx, "rain")
	assert.ErrorIs(t, err, ErrVetoed)
	assert.ErrorContains(t, err, "protected series")

	ok, err := repo.Contains(ctx, "rain")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rec.types())
}

func TestFailingHandlerDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	log, hook := test.NewNullLogger()
	failing := EventHandlerFunc(func(context.Context, Change) error { return errors.New("broker down") })
	svc := newService(t, sampleRepo(), Options{Logger: log, Handlers: []EventHandler{failing}})

	_, err := svc.SetValues(ctx, "rain", models.NewSeries(models.NewDataPoint(at(90), 1.0)))
	require.NoError(t, err)

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestAggregationCacheIsInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := newService(t, sampleRepo(), Options{CacheSize: 16, Metrics: metrics})

	sum, err := svc.GetAggregated(ctx, "rain", timeseries.Sum, at(0), at(120))
	require.NoError(t, err)
	assert.Equal(t, 12.0, sum.V)

	_, err = svc.GetAggregated(ctx, "rain", timeseries.Sum, at(0), at(120))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1, svc.cache.len())

	_, err = svc.SetValues(ctx, "rain", models.NewSeries(models.NewDataPoint(at(90), 3.0)))
	require.NoError(t, err)
	assert.Equal(t, 0, svc.cache.len())

	sum, err = svc.GetAggregated(ctx, "rain", timeseries.Sum, at(0), at(120))
	require.NoError(t, err)
	assert.Equal(t, 15.0, sum.V)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.cacheMisses))
}

func TestAggregationIsPushedDown(t *testing.T) {
	ctx := context.Background()
	repo := &mockAggregatingRepo{}
	repo.On("Contains", ctx, "rain").Return(true, nil)
	repo.On("GetAggregated", ctx, "rain", timeseries.Maximum, at(0), at(60)).Return(models.Null(42.0), nil)
	svc := newService(t, repo, Options{})

	v, err := svc.GetAggregated(ctx, "rain", timeseries.Maximum, at(0), at(60))
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.V)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "GetValues", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregateAbsentAndInvalidKind(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, sampleRepo(), Options{})

	v, err := svc.GetAggregated(ctx, "rain", timeseries.Average, at(30), at(30))
	require.NoError(t, err)
	assert.False(t, v.Valid, "a window of nulls has no aggregate")

	_, err = svc.GetAggregated(ctx, "rain", timeseries.AggregationType(9), at(0), at(60))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = svc.GetAggregatedByPeriod(ctx, "rain", timeseries.Sum, nil, at(0), at(60))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestAggregatedByPeriod(t *testing.T) {
	ctx := context.Background()
	data := &models.Series[float64]{}
	for i := 0; i < 72; i++ {
		data.Append(models.NewDataPoint(t0.Add(time.Duration(i)*time.Hour), 1.0))
	}
	svc := newService(t, repository.NewMemory(models.TimeSeries[float64]{ID: "h", Name: "h", Data: data}), Options{CacheSize: 4})

	daily, err := svc.GetAggregatedByPeriod(ctx, "h", timeseries.Sum, timeseries.Daily, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{24, 24, 24}, timeseries.Values(daily))

	daily.RemoveRange(t0, t0.AddDate(0, 0, 3))
	cached, err := svc.GetAggregatedByPeriod(ctx, "h", timeseries.Sum, timeseries.Daily, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, cached.Len(), "cached results are not shared with callers")

	windowed, err := svc.GetAggregatedByPeriod(ctx, "h", timeseries.Maximum, timeseries.Daily, t0.Add(12*time.Hour), t0.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, windowed.Len())
}

func TestGroupedOperations(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	repo := sampleRepo()
	require.NoError(t, repo.Add(ctx, models.TimeSeries[float64]{ID: "level", Name: "level", Group: "station-1"}))
	require.NoError(t, repo.Add(ctx, models.TimeSeries[float64]{ID: "flow", Name: "flow", Group: "station-2"}))
	svc := newService(t, repo, Options{Handlers: []EventHandler{rec}})

	names, err := svc.GetFullNames(ctx, "station-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"station-1/level", "station-1/rain"}, names)

	ok, err := svc.ContainsGroup(ctx, "station-2")
	require.NoError(t, err)
	assert.True(t, ok)

	changes, err := svc.RemoveByGroup(ctx, "station-1")
	require.NoError(t, err)
	assert.Len(t, changes, 2)
	assert.Equal(t, []EventType{EventDeleting, EventDeleting, EventDeleted, EventDeleted}, rec.types())

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnsupportedValueTypeIsRejectedAtBoundary(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory(models.TimeSeries[string]{
		ID: "notes", Name: "notes",
		Data: models.NewSeries(models.NewDataPoint(at(0), "a")),
	})
	svc, err := New[string](repo, Options{Logger: quietLogger()})
	require.NoError(t, err)

	values, err := svc.GetValues(ctx, "notes", at(0), at(60))
	require.NoError(t, err)
	assert.Equal(t, 1, values.Len())

	_, err = svc.GetAggregated(ctx, "notes", timeseries.Sum, at(0), at(60))
	assert.ErrorIs(t, err, models.ErrUnsupportedValueType)
	_, _, err = svc.GetInterpolated(ctx, "notes", at(30))
	assert.ErrorIs(t, err, models.ErrUnsupportedValueType)

	_, err = NewEnsemble[string](repository.NewMemory[[]string](), Options{})
	assert.ErrorIs(t, err, models.ErrUnsupportedValueType)
}

func TestEnsembleService(t *testing.T) {
	ctx := context.Background()
	members := &models.Series[[]float64]{}
	for i := 0; i < 4; i++ {
		members.Append(models.NewDataPoint(at(i*60), []float64{float64(i), float64(2 * i)}))
	}
	repo := repository.NewMemory(
		models.TimeSeries[[]float64]{ID: "forecast", Name: "forecast", Data: members},
		models.TimeSeries[[]float64]{ID: "hindcast", Name: "hindcast", Data: members.Clone()},
	)
	svc, err := NewEnsemble[float64](repo, Options{Logger: quietLogger()})
	require.NoError(t, err)

	out, err := svc.GetEnsembleAggregated(ctx, "forecast", timeseries.Maximum, at(0), at(180))
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	assert.Equal(t, []float64{0, 2, 4, 6}, timeseries.Values(out))

	batch, err := svc.GetEnsembleAggregatedBatch(ctx, []string{"forecast", "hindcast"}, timeseries.Average, at(0), at(180))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []float64{0, 1.5, 3, 4.5}, timeseries.Values(batch["hindcast"]))

	_, err = svc.GetEnsembleAggregatedBatch(ctx, []string{"forecast", "ghost"}, timeseries.Sum, at(0), at(180))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSpatialAggregation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, sampleRepo(), Options{})
	polygons := []timeseries.Polygon{{ID: "basin"}}

	_, err := svc.GetSpatialAggregated(ctx, "depth", polygons, timeseries.Sum, at(0), at(60))
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "no selector installed")

	svc.SetSpatialSelector(timeseries.SpatialSelectorFunc[float64](func(_ context.Context, id string, _ []timeseries.Polygon) (*models.Series[float64], error) {
		return models.NewSeries(models.NewDataPoint(at(0), 1.0), models.NewDataPoint(at(60), 3.0)), nil
	}))
	v, err := svc.GetSpatialAggregated(ctx, "depth", polygons, timeseries.Average, at(0), at(60))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.V)

	hourly, err := svc.GetSpatialAggregatedByPeriod(ctx, "depth", polygons, timeseries.Sum, timeseries.Hourly)
	require.NoError(t, err)
	assert.Equal(t, 2, hourly.Len())
}

func TestGetVectors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory(
		models.TimeSeries[float64]{ID: "u", Name: "u", Data: models.NewSeries(models.NewDataPoint(at(0), 3.0))},
		models.TimeSeries[float64]{ID: "v", Name: "v", Data: models.NewSeries(models.NewDataPoint(at(0), 4.0))},
	)
	svc := newService(t, repo, Options{})

	vectors, err := GetVectors(ctx, svc, "u", "v", at(0), at(60))
	require.NoError(t, err)
	p, ok := vectors.Get(at(0))
	require.True(t, ok)
	assert.Equal(t, 5.0, p.Value.V.Size())

	_, err = GetVectors(ctx, svc, "u", "w", at(0), at(60))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// bucketRepo records the bucket widths pushed down to it.
type bucketRepo struct {
	*repository.Memory[float64]
	widths []time.Duration
}

func (r *bucketRepo) GetAggregatedByBucket(_ context.Context, id string, _ timeseries.AggregationType, bucket time.Duration, _, _ time.Time) (*models.Series[float64], error) {
	r.widths = append(r.widths, bucket)
	return models.NewSeries(models.NewDataPoint(t0, 42.0)), nil
}

func TestGetAggregatedByPeriodPushDown(t *testing.T) {
	tests := []struct {
		name   string
		period timeseries.Period
		pushed bool
	}{
		{"quarter hour", timeseries.Every(15 * time.Minute), true},
		{"hourly", timeseries.Hourly, true},
		{"daily", timeseries.Daily, true},
		{"seven minutes", timeseries.Every(7 * time.Minute), false},
		{"two days", timeseries.Every(48 * time.Hour), false},
		{"monthly", timeseries.Monthly, false},
		{"sub microsecond remainder", timeseries.Every(1500 * time.Nanosecond), false},
		{"one nanosecond", timeseries.Every(time.Nanosecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &bucketRepo{Memory: repository.NewMemory(models.TimeSeries[float64]{
				ID: "h", Name: "h",
				Data: models.NewSeries(models.NewDataPoint(at(0), 1.0), models.NewDataPoint(at(10), 2.0)),
			})}
			svc, err := New[float64](repo, Options{})
			require.NoError(t, err)

			out, err := svc.GetAggregatedByPeriod(context.Background(), "h", timeseries.Sum, tt.period, time.Time{}, time.Time{})
			require.NoError(t, err)
			var total float64
			for p := range out.All() {
				total += p.Value.V
			}
			if tt.pushed {
				assert.Len(t, repo.widths, 1)
				assert.Equal(t, 42.0, total)
			} else {
				assert.Empty(t, repo.widths)
				assert.Equal(t, 3.0, total)
			}
		})
	}
}

// stallingRepo holds every value read until release is closed.
type stallingRepo struct {
	*repository.Memory[float64]
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallingRepo(ts models.TimeSeries[float64]) *stallingRepo {
	return &stallingRepo{
		Memory:  repository.NewMemory(ts),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *stallingRepo) stall() {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
}

func (r *stallingRepo) GetValues(ctx context.Context, id string, from, to time.Time) (*models.Series[float64], error) {
	data, err := r.Memory.GetValues(ctx, id, from, to)
	r.stall()
	return data, err
}

func (r *stallingRepo) GetAllValues(ctx context.Context, id string) (*models.Series[float64], error) {
	data, err := r.Memory.GetAllValues(ctx, id)
	r.stall()
	return data, err
}

func TestAggregationCacheDropsResultReadBeforeMutation(t *testing.T) {
	ctx := context.Background()
	series := func() models.TimeSeries[float64] {
		return models.TimeSeries[float64]{ID: "rain", Name: "rain", Data: models.NewSeries(models.NewDataPoint(t0, 1.0))}
	}

	t.Run("window", func(t *testing.T) {
		repo := newStallingRepo(series())
		svc := newService(t, repo, Options{CacheSize: 16})

		done := make(chan sql.Null[float64])
		go func() {
			v, err := svc.GetAggregated(ctx, "rain", timeseries.Sum, at(0), at(60))
			assert.NoError(t, err)
			done <- v
		}()

		<-repo.entered
		_, err := svc.SetValues(ctx, "rain", models.NewSeries(models.NewDataPoint(at(30), 100.0)))
		require.NoError(t, err)
		close(repo.release)
		assert.Equal(t, 1.0, (<-done).V)
		assert.Equal(t, 0, svc.cache.len())

		sum, err := svc.GetAggregated(ctx, "rain", timeseries.Sum, at(0), at(60))
		require.NoError(t, err)
		assert.Equal(t, 101.0, sum.V)
		assert.Equal(t, 1, svc.cache.len())
	})

	t.Run("by period", func(t *testing.T) {
		repo := newStallingRepo(series())
		svc := newService(t, repo, Options{CacheSize: 16})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := svc.GetAggregatedByPeriod(ctx, "rain", timeseries.Sum, timeseries.Hourly, time.Time{}, time.Time{})
			assert.NoError(t, err)
		}()

		<-repo.entered
		_, err := svc.SetValues(ctx, "rain", models.NewSeries(models.NewDataPoint(at(30), 100.0)))
		require.NoError(t, err)
		close(repo.release)
		<-done
		assert.Equal(t, 0, svc.cache.len())

		out, err := svc.GetAggregatedByPeriod(ctx, "rain", timeseries.Sum, timeseries.Hourly, time.Time{}, time.Time{})
		require.NoError(t, err)
		p, ok := out.First()
		require.True(t, ok)
		assert.Equal(t, 101.0, p.Value.V)
	})
}
