// Package timeseries implements the query, interpolation and aggregation
// algorithms that operate on an ordered models.Series.
//
// Every algorithm is written against a Rules value describing the arithmetic
// of the series' value type. Rules exist for the built-in float and integer
// types and for models.Vector; RulesFor rejects any other type with
// models.ErrUnsupportedValueType so callers can fail before running anything.
//
// Nothing in this package mutates its input series or blocks on I/O.
package timeseries

import (
	"fmt"
	"math"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// Rules describes how values of T are ordered, combined and interpolated.
type Rules[T any] interface {
	Less(a, b T) bool
	Add(a, b T) T
	Scale(v T, f float64) T
	// Interpolate returns the value at fraction frac (0..1) of the way from v0 to v1.
	Interpolate(v0, v1 T, frac float64) T
}

type floatRules[F ~float32 | ~float64] struct{}

func (floatRules[F]) Less(a, b F) bool       { return a < b }
func (floatRules[F]) Add(a, b F) F           { return a + b }
func (floatRules[F]) Scale(v F, f float64) F { return F(float64(v) * f) }

func (floatRules[F]) Interpolate(v0, v1 F, frac float64) F {
	return F(float64(v0) + (float64(v1)-float64(v0))*frac)
}

// intRules rounds results of Scale and Interpolate to the nearest integer.
type intRules[I ~int | ~int32 | ~int64] struct{}

func (intRules[I]) Less(a, b I) bool       { return a < b }
func (intRules[I]) Add(a, b I) I           { return a + b }
func (intRules[I]) Scale(v I, f float64) I { return I(math.Round(float64(v) * f)) }

func (intRules[I]) Interpolate(v0, v1 I, frac float64) I {
	return I(math.Round(float64(v0) + (float64(v1)-float64(v0))*frac))
}

// vectorRules orders vectors by magnitude and combines them component-wise.
type vectorRules struct{}

func (vectorRules) Less(a, b models.Vector) bool { return a.Size() < b.Size() }

func (vectorRules) Add(a, b models.Vector) models.Vector {
	return models.Vector{X: a.X + b.X, Y: a.Y + b.Y}
}

func (vectorRules) Scale(v models.Vector, f float64) models.Vector {
	return models.Vector{X: v.X * f, Y: v.Y * f}
}

func (vectorRules) Interpolate(v0, v1 models.Vector, frac float64) models.Vector {
	return models.Vector{
		X: v0.X + (v1.X-v0.X)*frac,
		Y: v0.Y + (v1.Y-v0.Y)*frac,
	}
}

var (
	Float64     Rules[float64]       = floatRules[float64]{}
	Float32     Rules[float32]       = floatRules[float32]{}
	Int64       Rules[int64]         = intRules[int64]{}
	VectorRules Rules[models.Vector] = vectorRules{}
)

// RulesFor returns the rules for T, or models.ErrUnsupportedValueType.
func RulesFor[T any]() (Rules[T], error) {
	var zero T
	var rules any
	switch any(zero).(type) {
	case float64:
		rules = Float64
	case float32:
		rules = Float32
	case int:
		rules = intRules[int]{}
	case int32:
		rules = intRules[int32]{}
	case int64:
		rules = Int64
	case models.Vector:
		rules = VectorRules
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnsupportedValueType, zero)
	}
	return rules.(Rules[T]), nil
}
