package timeseries

import (
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

type interpolateOptions struct {
	tolerance    time.Duration
	hasTolerance bool
}

// InterpolateOption configures Interpolate.
type InterpolateOption func(*interpolateOptions)

// WithGapTolerance forbids interpolating across anchors further apart than d.
// A gap of exactly d is still bridged.
func WithGapTolerance(d time.Duration) InterpolateOption {
	return func(o *interpolateOptions) {
		o.tolerance = d
		o.hasTolerance = true
	}
}

// Interpolate returns the value of s at t and whether it was interpolated.
//
// An existing point at t with a value is returned unchanged. Otherwise the
// nearest valued points on either side are used as anchors, skipping null
// points. Without both anchors, or when the anchors are further apart than
// the gap tolerance, a null point at t is returned.
//
// Interpolated points are always plain points; flags and forecast origins of
// the anchors are not carried over.
func Interpolate[T any](s *models.Series[T], t time.Time, rules Rules[T], opts ...InterpolateOption) (models.DataPoint[T], bool) {
	var o interpolateOptions
	for _, opt := range opts {
		opt(&o)
	}

	if p, ok := s.Get(t); ok && p.HasValue() {
		return p, false
	}

	before, ok := s.LastValueBefore(t)
	if !ok {
		return models.NullDataPoint[T](t), false
	}
	after, ok := s.FirstValueAfter(t)
	if !ok {
		return models.NullDataPoint[T](t), false
	}

	gap := after.Time.Sub(before.Time)
	if o.hasTolerance && gap > o.tolerance {
		return models.NullDataPoint[T](t), false
	}

	frac := float64(t.Sub(before.Time)) / float64(gap)
	return models.NewDataPoint(t, rules.Interpolate(before.Value.V, after.Value.V, frac)), true
}

// InterpolateAll resamples s at each of times. Timestamps that cannot be
// resolved produce null points, so the result has one point per distinct time.
func InterpolateAll[T any](s *models.Series[T], times []time.Time, rules Rules[T], opts ...InterpolateOption) *models.Series[T] {
	out := &models.Series[T]{}
	for _, t := range times {
		p, _ := Interpolate(s, t, rules, opts...)
		out.Insert(p)
	}
	return out
}
