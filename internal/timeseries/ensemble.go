package timeseries

import (
	"database/sql"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// EnsembleAggregate reduces the members recorded at each timestamp of s to a
// single value. The output has exactly one point per input point; a null or
// memberless input point yields a null output point.
func EnsembleAggregate[T any](s *models.Series[[]T], kind AggregationType, rules Rules[T]) (*models.Series[T], error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	out := &models.Series[T]{}
	for p := range s.All() {
		var v sql.Null[T]
		if p.HasValue() {
			var err error
			if v, err = Reduce(p.Value.V, kind, rules); err != nil {
				return nil, err
			}
		}
		out.Append(models.DataPoint[T]{Time: p.Time, Value: v})
	}
	return out, nil
}

// Ensemble zips member series into one ensemble series. Each output point
// holds the valued members at that timestamp, in argument order; timestamps
// where no member has a value become null points.
func Ensemble[T any](members ...*models.Series[T]) *models.Series[[]T] {
	byTime := &models.Series[[]T]{}
	for _, m := range members {
		for p := range m.All() {
			cur, ok := byTime.Get(p.Time)
			if !ok {
				cur = models.NullDataPoint[[]T](p.Time)
			}
			if p.HasValue() {
				cur = cur.WithValue(models.Null(append(cur.Value.V, p.Value.V)))
			}
			byTime.Insert(cur)
		}
	}
	return byTime
}
