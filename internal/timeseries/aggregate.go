package timeseries

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// AggregationType is one of the closed set of reducers.
type AggregationType int

const (
	Minimum AggregationType = iota + 1
	Maximum
	Average
	Sum
)

func (a AggregationType) String() string {
	switch a {
	case Minimum:
		return "Minimum"
	case Maximum:
		return "Maximum"
	case Average:
		return "Average"
	case Sum:
		return "Sum"
	default:
		return fmt.Sprintf("AggregationType(%d)", int(a))
	}
}

// SQL returns the SQL aggregate function implementing a.
func (a AggregationType) SQL() string {
	switch a {
	case Minimum:
		return "MIN"
	case Maximum:
		return "MAX"
	case Average:
		return "AVG"
	case Sum:
		return "SUM"
	default:
		return ""
	}
}

func (a AggregationType) Validate() error {
	if a < Minimum || a > Sum {
		return fmt.Errorf("%w: invalid aggregation type %d", models.ErrInvalidArgument, int(a))
	}
	return nil
}

// ParseAggregationType accepts both the short SQL spelling (MIN, MAX, AVG,
// SUM) and the full names, case-insensitively.
func ParseAggregationType(s string) (AggregationType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MIN", "MINIMUM":
		return Minimum, nil
	case "MAX", "MAXIMUM":
		return Maximum, nil
	case "AVG", "AVERAGE", "MEAN":
		return Average, nil
	case "SUM":
		return Sum, nil
	default:
		return 0, fmt.Errorf("%w: invalid aggregation: %s", models.ErrInvalidArgument, s)
	}
}

// Reduce folds values with the reducer for kind. An empty input yields an
// absent result.
func Reduce[T any](values []T, kind AggregationType, rules Rules[T]) (sql.Null[T], error) {
	if err := kind.Validate(); err != nil {
		return sql.Null[T]{}, err
	}
	if len(values) == 0 {
		return sql.Null[T]{}, nil
	}

	acc := values[0]
	for _, v := range values[1:] {
		switch kind {
		case Minimum:
			if rules.Less(v, acc) {
				acc = v
			}
		case Maximum:
			if rules.Less(acc, v) {
				acc = v
			}
		case Average, Sum:
			acc = rules.Add(acc, v)
		}
	}
	if kind == Average {
		acc = rules.Scale(acc, 1/float64(len(values)))
	}
	return models.Null(acc), nil
}

// Values returns the non-null values of s in time order.
func Values[T any](s *models.Series[T]) []T {
	values := make([]T, 0, s.Len())
	for p := range s.All() {
		if p.HasValue() {
			values = append(values, p.Value.V)
		}
	}
	return values
}

// Aggregate reduces the non-null values between from and to, both inclusive.
func Aggregate[T any](s *models.Series[T], kind AggregationType, from, to time.Time, rules Rules[T]) (sql.Null[T], error) {
	return Reduce(Values(s.Slice(from, to)), kind, rules)
}

// AggregateAll reduces every non-null value of s.
func AggregateAll[T any](s *models.Series[T], kind AggregationType, rules Rules[T]) (sql.Null[T], error) {
	return Reduce(Values(s), kind, rules)
}
