package models

import (
	"fmt"
	"strings"
)

// TimeSeries is an identified, named series with opaque descriptive metadata.
// Dimension, Quantity and Unit are carried through untouched.
type TimeSeries[T any] struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Group     string     `json:"group,omitempty"`
	Dimension string     `json:"dimension,omitempty"`
	Quantity  string     `json:"quantity,omitempty"`
	Unit      string     `json:"unit,omitempty"`
	Data      *Series[T] `json:"data,omitempty"`
}

// NewTimeSeries returns a series named after its id.
func NewTimeSeries[T any](id string, data *Series[T]) TimeSeries[T] {
	return TimeSeries[T]{ID: id, Name: id, Data: data}
}

// FullName joins group and name with a slash.
func (ts TimeSeries[T]) FullName() string {
	if ts.Group == "" {
		return ts.Name
	}
	return ts.Group + "/" + ts.Name
}

// HasValues reports whether the entity carries any data points.
func (ts TimeSeries[T]) HasValues() bool {
	return ts.Data.Len() > 0
}

// WithoutData returns a copy of ts stripped of its data points.
func (ts TimeSeries[T]) WithoutData() TimeSeries[T] {
	ts.Data = nil
	return ts
}

// Clone returns a copy whose data can be mutated independently.
func (ts TimeSeries[T]) Clone() TimeSeries[T] {
	if ts.Data != nil {
		ts.Data = ts.Data.Clone()
	}
	return ts
}

func (ts TimeSeries[T]) Validate() error {
	if strings.TrimSpace(ts.ID) == "" {
		return fmt.Errorf("%w: time series id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(ts.Name) == "" {
		return fmt.Errorf("%w: time series %q has no name", ErrInvalidArgument, ts.ID)
	}
	return nil
}

// SplitFullName is the inverse of FullName; the group is everything before the last slash.
func SplitFullName(fullName string) (group, name string) {
	i := strings.LastIndex(fullName, "/")
	if i < 0 {
		return "", fullName
	}
	return fullName[:i], fullName[i+1:]
}
