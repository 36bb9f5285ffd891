package models

import (
	"iter"
	"reflect"
	"slices"
	"time"
)

// Series is an ordered collection of data points with unique timestamps.
//
// Points are kept in ascending time order at all times. A Series is not safe
// for concurrent mutation; concurrent reads of an unchanging Series are safe.
type Series[T any] struct {
	points []DataPoint[T]
}

// NewSeries builds a series from points in any order. When two points share
// a timestamp the later one in the argument list wins.
func NewSeries[T any](points ...DataPoint[T]) *Series[T] {
	s := &Series[T]{points: make([]DataPoint[T], 0, len(points))}
	for _, p := range points {
		s.Insert(p)
	}
	return s
}

func (s *Series[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

func (s *Series[T]) IsEmpty() bool {
	return s.Len() == 0
}

// search returns the index of t, or the insertion index and false.
func (s *Series[T]) search(t time.Time) (int, bool) {
	return slices.BinarySearchFunc(s.points, t, func(p DataPoint[T], t time.Time) int {
		return p.Time.Compare(t)
	})
}

// Get returns the point at exactly t.
func (s *Series[T]) Get(t time.Time) (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	i, found := s.search(t)
	if !found {
		return DataPoint[T]{}, false
	}
	return s.points[i], true
}

func (s *Series[T]) First() (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	return s.points[0], true
}

func (s *Series[T]) Last() (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	return s.points[len(s.points)-1], true
}

// FirstAfter returns the first point strictly after t.
func (s *Series[T]) FirstAfter(t time.Time) (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	i, found := s.search(t)
	if found {
		i++
	}
	if i >= len(s.points) {
		return DataPoint[T]{}, false
	}
	return s.points[i], true
}

// LastBefore returns the last point strictly before t.
func (s *Series[T]) LastBefore(t time.Time) (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	i, _ := s.search(t)
	if i == 0 {
		return DataPoint[T]{}, false
	}
	return s.points[i-1], true
}

// FirstValueAfter returns the first point strictly after t holding a value.
func (s *Series[T]) FirstValueAfter(t time.Time) (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	i, found := s.search(t)
	if found {
		i++
	}
	for ; i < len(s.points); i++ {
		if s.points[i].Value.Valid {
			return s.points[i], true
		}
	}
	return DataPoint[T]{}, false
}

// LastValueBefore returns the last point strictly before t holding a value.
func (s *Series[T]) LastValueBefore(t time.Time) (DataPoint[T], bool) {
	if s.IsEmpty() {
		return DataPoint[T]{}, false
	}
	i, _ := s.search(t)
	for i--; i >= 0; i-- {
		if s.points[i].Value.Valid {
			return s.points[i], true
		}
	}
	return DataPoint[T]{}, false
}

type sliceOptions struct {
	excludeFrom bool
	excludeTo   bool
}

// SliceOption adjusts the bounds of Slice.
type SliceOption func(*sliceOptions)

// ExcludeFrom makes the lower bound of Slice exclusive.
func ExcludeFrom() SliceOption {
	return func(o *sliceOptions) { o.excludeFrom = true }
}

// ExcludeTo makes the upper bound of Slice exclusive.
func ExcludeTo() SliceOption {
	return func(o *sliceOptions) { o.excludeTo = true }
}

// Slice returns the contiguous sub-range between from and to, inclusive of
// both ends by default. A range outside the series yields an empty series.
func (s *Series[T]) Slice(from, to time.Time, opts ...SliceOption) *Series[T] {
	var o sliceOptions
	for _, opt := range opts {
		opt(&o)
	}

	out := &Series[T]{}
	if s.IsEmpty() || to.Before(from) {
		return out
	}
	if s.points[len(s.points)-1].Time.Before(from) || s.points[0].Time.After(to) {
		return out
	}

	lo, found := s.search(from)
	if found && o.excludeFrom {
		lo++
	}
	hi, found := s.search(to)
	if found && !o.excludeTo {
		hi++
	}
	if lo >= hi {
		return out
	}
	out.points = slices.Clone(s.points[lo:hi])
	return out
}

// Append adds p at the end of the series. Points that do not sort after the
// current last point are placed by Insert instead.
func (s *Series[T]) Append(p DataPoint[T]) {
	if n := len(s.points); n > 0 && !p.Time.After(s.points[n-1].Time) {
		s.Insert(p)
		return
	}
	s.points = append(s.points, p)
}

// Insert places p in time order, replacing any point with the same timestamp.
func (s *Series[T]) Insert(p DataPoint[T]) {
	i, found := s.search(p.Time)
	if found {
		s.points[i] = p
		return
	}
	s.points = slices.Insert(s.points, i, p)
}

// Merge inserts every point of other, overwriting matching timestamps.
func (s *Series[T]) Merge(other *Series[T]) {
	for _, p := range other.Points() {
		s.Insert(p)
	}
}

// Remove deletes the point at t.
func (s *Series[T]) Remove(t time.Time) bool {
	if s.IsEmpty() {
		return false
	}
	i, found := s.search(t)
	if !found {
		return false
	}
	s.points = slices.Delete(s.points, i, i+1)
	return true
}

// RemoveRange deletes every point between from and to inclusive and returns
// how many were removed.
func (s *Series[T]) RemoveRange(from, to time.Time) int {
	if s.IsEmpty() || to.Before(from) {
		return 0
	}
	lo, _ := s.search(from)
	hi, found := s.search(to)
	if found {
		hi++
	}
	if lo >= hi {
		return 0
	}
	s.points = slices.Delete(s.points, lo, hi)
	return hi - lo
}

// Points returns a copy of the points in time order.
func (s *Series[T]) Points() []DataPoint[T] {
	if s == nil {
		return nil
	}
	return slices.Clone(s.points)
}

// All iterates the points in time order.
func (s *Series[T]) All() iter.Seq[DataPoint[T]] {
	return func(yield func(DataPoint[T]) bool) {
		if s == nil {
			return
		}
		for _, p := range s.points {
			if !yield(p) {
				return
			}
		}
	}
}

func (s *Series[T]) Times() []time.Time {
	times := make([]time.Time, 0, s.Len())
	for p := range s.All() {
		times = append(times, p.Time)
	}
	return times
}

func (s *Series[T]) Clone() *Series[T] {
	return &Series[T]{points: s.Points()}
}

// ContainsSameData reports whether both series hold the same timestamps with
// the same values, treating a null value as the zero value.
func (s *Series[T]) ContainsSameData(other *Series[T]) bool {
	if s.Len() != other.Len() {
		return false
	}
	a, b := s.Points(), other.Points()
	slices.SortFunc(a, DataPoint[T].Compare)
	slices.SortFunc(b, DataPoint[T].Compare)
	for i := range a {
		if !a[i].Time.Equal(b[i].Time) {
			return false
		}
		if !reflect.DeepEqual(a[i].ValueOrDefault(), b[i].ValueOrDefault()) {
			return false
		}
	}
	return true
}
