package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func rainSeries() models.TimeSeries[float64] {
	return models.TimeSeries[float64]{
		ID: "rain", Name: "rain", Group: "station-1", Quantity: "Rainfall", Unit: "mm",
		Data: models.NewSeries(
			models.NewDataPoint(at(0), 5.0),
			models.NullDataPoint[float64](at(30)),
			models.NewFlaggedDataPoint(at(60), models.Null(7.0), "checked"),
		),
	}
}

// testUpdatableContract exercises the behaviour every updatable backend shares.
func testUpdatableContract(t *testing.T, repo repository.UpdatableRepository[float64]) {
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, rainSeries()))
	require.NoError(t, repo.Add(ctx, models.TimeSeries[float64]{ID: "level", Name: "level", Group: "station-1"}))
	assert.ErrorIs(t, repo.Add(ctx, rainSeries()), models.ErrAlreadyExists)
	assert.ErrorIs(t, repo.Add(ctx, models.TimeSeries[float64]{ID: "nameless"}), models.ErrInvalidArgument)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ids, err := repo.GetIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"level", "rain"}, ids)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, ts := range all {
		assert.Nil(t, ts.Data)
	}

	ts, err := repo.Get(ctx, "rain")
	require.NoError(t, err)
	assert.Equal(t, "mm", ts.Unit)
	assert.True(t, rainSeries().Data.ContainsSameData(ts.Data))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	empty, err := repo.GetAllValues(ctx, "level")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	values, err := repo.GetValues(ctx, "rain", at(0), at(30))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(0), at(30)}, values.Times())

	p, ok, err := repo.GetFirstValueAfter(ctx, "rain", at(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(30), p.Time)

	p, ok, err = repo.GetLastValueBefore(ctx, "rain", at(0))
	require.NoError(t, err)
	assert.False(t, ok)

	p, ok, err = repo.GetLastValue(ctx, "rain")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KindFlagged, p.Kind())

	require.NoError(t, repo.SetValues(ctx, "rain", models.NewSeries(
		models.NewDataPoint(at(30), 6.0),
		models.NewDataPoint(at(90), 8.0),
	)))
	p, ok, err = repo.GetValue(ctx, "rain", at(30))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6.0, p.Value.V, "existing timestamps are overwritten")

	require.NoError(t, repo.RemoveValues(ctx, "rain", at(0), at(30)))
	values, err = repo.GetAllValues(ctx, "rain")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(60), at(90)}, values.Times())

	assert.ErrorIs(t, repo.SetValues(ctx, "missing", models.NewSeries[float64]()), models.ErrNotFound)
	assert.ErrorIs(t, repo.RemoveValues(ctx, "missing", at(0), at(1)), models.ErrNotFound)

	renamed := models.TimeSeries[float64]{ID: "rain", Name: "precipitation", Unit: "in"}
	require.NoError(t, repo.Update(ctx, renamed))
	ts, err = repo.Get(ctx, "rain")
	require.NoError(t, err)
	assert.Equal(t, "precipitation", ts.Name)
	assert.Equal(t, 2, ts.Data.Len(), "update without data keeps the points")
	assert.ErrorIs(t, repo.Update(ctx, models.TimeSeries[float64]{ID: "missing", Name: "missing"}), models.ErrNotFound)

	require.NoError(t, repo.Remove(ctx, "rain"))
	ok, err = repo.Contains(ctx, "rain")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, repo.Remove(ctx, "rain"), models.ErrNotFound)
}
