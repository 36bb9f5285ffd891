package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func TestInterpolateIdentity(t *testing.T) {
	flagged := models.NewFlaggedDataPoint(at(30), models.Null(4.0), "manual")
	s := models.NewSeries(models.NewDataPoint(at(0), 0.0), flagged, models.NewDataPoint(at(60), 10.0))

	p, interpolated := Interpolate(s, at(30), Float64)
	assert.False(t, interpolated)
	assert.Equal(t, 4.0, p.Value.V)
	assert.Equal(t, models.KindFlagged, p.Kind(), "exact hit is returned unmodified")
}

func TestInterpolateGapToleranceBoundary(t *testing.T) {
	s := models.NewSeries(models.NewDataPoint(at(0), 0.0), models.NewDataPoint(at(60), 10.0))
	gap := at(60).Sub(at(0))

	tests := []struct {
		name         string
		opts         []InterpolateOption
		wantValue    bool
		interpolated bool
	}{
		{"no tolerance", nil, true, true},
		{"tolerance equals gap", []InterpolateOption{WithGapTolerance(gap)}, true, true},
		{"tolerance just below gap", []InterpolateOption{WithGapTolerance(gap - time.Nanosecond)}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, interpolated := Interpolate(s, at(30), Float64, tt.opts...)
			assert.Equal(t, tt.interpolated, interpolated)
			assert.Equal(t, tt.wantValue, p.HasValue())
			assert.Equal(t, at(30), p.Time)
			if tt.wantValue {
				assert.InDelta(t, 5.0, p.Value.V, 1e-12)
			}
		})
	}
}

func TestInterpolateSkipsNullAnchors(t *testing.T) {
	s := models.NewSeries(
		models.NewDataPoint(at(0), 0.0),
		models.NullDataPoint[float64](at(10)),
		models.NullDataPoint[float64](at(20)),
		models.NewDataPoint(at(40), 8.0),
	)

	p, interpolated := Interpolate(s, at(20), Float64)
	require.True(t, interpolated)
	assert.InDelta(t, 4.0, p.Value.V, 1e-12)
	assert.Equal(t, models.KindPlain, p.Kind())

	_, interpolated = Interpolate(s, at(20), Float64, WithGapTolerance(30*time.Minute))
	assert.False(t, interpolated, "anchors are 40 minutes apart")
}

func TestInterpolateNeverPanicsWithoutAnchors(t *testing.T) {
	tests := []struct {
		name   string
		series *models.Series[float64]
	}{
		{"nil series", nil},
		{"empty series", &models.Series[float64]{}},
		{"only nulls", models.NewSeries(models.NullDataPoint[float64](at(0)), models.NullDataPoint[float64](at(60)))},
		{"single anchor before", models.NewSeries(models.NewDataPoint(at(0), 1.0))},
		{"single anchor after", models.NewSeries(models.NewDataPoint(at(60), 1.0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, interpolated := Interpolate(tt.series, at(30), Float64)
			assert.False(t, interpolated)
			assert.False(t, p.HasValue())
			assert.Equal(t, at(30), p.Time)
		})
	}
}

func TestInterpolateIntegerAndVector(t *testing.T) {
	ints := models.NewSeries(models.NewDataPoint(at(0), int64(0)), models.NewDataPoint(at(30), int64(3)))
	p, ok := Interpolate(ints, at(10), Int64)
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Value.V)

	vectors := models.NewSeries(
		models.NewDataPoint(at(0), models.Vector{X: 0, Y: 10}),
		models.NewDataPoint(at(60), models.Vector{X: 10, Y: 0}),
	)
	v, ok := Interpolate(vectors, at(15), VectorRules)
	require.True(t, ok)
	assert.InDelta(t, 2.5, v.Value.V.X, 1e-12)
	assert.InDelta(t, 7.5, v.Value.V.Y, 1e-12)
}

func TestInterpolateAll(t *testing.T) {
	s := models.NewSeries(models.NewDataPoint(at(0), 0.0), models.NewDataPoint(at(60), 6.0))
	out := InterpolateAll(s, []time.Time{at(30), at(10), at(90), at(30)}, Float64)

	assert.Equal(t, []time.Time{at(10), at(30), at(90)}, out.Times())
	values := Values(out)
	assert.InDeltaSlice(t, []float64{1, 3}, values, 1e-12)
}

func TestRulesFor(t *testing.T) {
	_, err := RulesFor[float64]()
	assert.NoError(t, err)
	_, err = RulesFor[int]()
	assert.NoError(t, err)
	_, err = RulesFor[models.Vector]()
	assert.NoError(t, err)

	_, err = RulesFor[string]()
	assert.ErrorIs(t, err, models.ErrUnsupportedValueType)
	_, err = RulesFor[bool]()
	assert.ErrorIs(t, err, models.ErrUnsupportedValueType)
}
