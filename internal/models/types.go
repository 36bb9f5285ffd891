package models

import (
	"database/sql"
	"math"
	"time"
)

// Vector represents a two dimensional sample such as a current or wind field.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size returns the magnitude of the vector.
func (v Vector) Size() float64 {
	return math.Hypot(v.X, v.Y)
}

// Direction returns the angle of the vector in radians, counter-clockwise from the x axis.
func (v Vector) Direction() float64 {
	return math.Atan2(v.Y, v.X)
}

// PointKind discriminates the three data point variants.
type PointKind uint8

const (
	KindPlain PointKind = iota
	KindFlagged
	KindForecasted
)

func (k PointKind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindFlagged:
		return "flagged"
	case KindForecasted:
		return "forecasted"
	default:
		return "unknown"
	}
}

// DataPoint is a single sample of a time series.
//
// A point carries either a flag or a forecast origin, never both. Two points
// with the same Time are the same point as far as a Series is concerned.
type DataPoint[T any] struct {
	Time  time.Time
	Value sql.Null[T]

	kind           PointKind
	flag           any
	forecastOrigin time.Time
}

// NewDataPoint returns a plain point holding v.
func NewDataPoint[T any](t time.Time, v T) DataPoint[T] {
	return DataPoint[T]{Time: t, Value: sql.Null[T]{V: v, Valid: true}}
}

// NullDataPoint returns a plain point with a missing value.
func NullDataPoint[T any](t time.Time) DataPoint[T] {
	return DataPoint[T]{Time: t}
}

// NewFlaggedDataPoint returns a point carrying an opaque caller-defined flag.
// A string flag must not parse as a timestamp, or the point cannot be
// serialised.
func NewFlaggedDataPoint[T any](t time.Time, v sql.Null[T], flag any) DataPoint[T] {
	return DataPoint[T]{Time: t, Value: v, kind: KindFlagged, flag: flag}
}

// NewForecastedDataPoint returns a point produced by a forecast issued at origin.
func NewForecastedDataPoint[T any](t time.Time, v sql.Null[T], origin time.Time) DataPoint[T] {
	return DataPoint[T]{Time: t, Value: v, kind: KindForecasted, forecastOrigin: origin}
}

// Null wraps v as a valid nullable value.
func Null[T any](v T) sql.Null[T] {
	return sql.Null[T]{V: v, Valid: true}
}

func (p DataPoint[T]) Kind() PointKind {
	return p.kind
}

// Flag returns the flag payload of a flagged point.
func (p DataPoint[T]) Flag() (any, bool) {
	return p.flag, p.kind == KindFlagged
}

// ForecastOrigin returns the issue time of a forecasted point.
func (p DataPoint[T]) ForecastOrigin() (time.Time, bool) {
	return p.forecastOrigin, p.kind == KindForecasted
}

// HasValue reports whether the point holds a non-null value.
func (p DataPoint[T]) HasValue() bool {
	return p.Value.Valid
}

// ValueOrDefault returns the value, or the zero value of T when null.
func (p DataPoint[T]) ValueOrDefault() T {
	if !p.Value.Valid {
		var zero T
		return zero
	}
	return p.Value.V
}

// WithValue returns a copy of p holding v, keeping its variant.
func (p DataPoint[T]) WithValue(v sql.Null[T]) DataPoint[T] {
	p.Value = v
	return p
}

// SameTime reports whether p and o address the same timestamp.
func (p DataPoint[T]) SameTime(o DataPoint[T]) bool {
	return p.Time.Equal(o.Time)
}

// Compare orders points by timestamp only.
func (p DataPoint[T]) Compare(o DataPoint[T]) int {
	return p.Time.Compare(o.Time)
}
