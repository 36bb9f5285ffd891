package models

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 timestamps and the zone-less forms produced by
// most data providers. Zone-less input is read as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrInvalidArgument, s)
}

// FormatTime renders t the way data points are serialised.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// MarshalJSON encodes the point as [timestamp, value], extended with the flag
// or the forecast origin as a third element. A string flag that parses as a
// timestamp is rejected since it would decode as a forecast origin.
func (p DataPoint[T]) MarshalJSON() ([]byte, error) {
	var value any
	if p.Value.Valid {
		value = p.Value.V
		if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			value = nil
		}
	}

	elems := []any{FormatTime(p.Time), value}
	switch p.kind {
	case KindFlagged:
		if s, ok := p.flag.(string); ok {
			if _, err := ParseTime(s); err == nil {
				return nil, fmt.Errorf("%w: flag %q is indistinguishable from a forecast origin", ErrInvalidArgument, s)
			}
		}
		elems = append(elems, p.flag)
	case KindForecasted:
		elems = append(elems, FormatTime(p.forecastOrigin))
	}
	return json.Marshal(elems)
}

// UnmarshalJSON decodes the array form. A string third element is a forecast
// origin when it parses as a timestamp; any other third element is a flag.
func (p *DataPoint[T]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: data point must be a JSON array: %v", ErrInvalidArgument, err)
	}
	if len(raw) < 2 || len(raw) > 3 {
		return fmt.Errorf("%w: data point must have 2 or 3 elements, got %d", ErrInvalidArgument, len(raw))
	}

	var stamp string
	if err := json.Unmarshal(raw[0], &stamp); err != nil {
		return fmt.Errorf("%w: data point timestamp must be a string", ErrInvalidArgument)
	}
	t, err := ParseTime(stamp)
	if err != nil {
		return err
	}

	var value sql.Null[T]
	if !isJSONNull(raw[1]) {
		if err := json.Unmarshal(raw[1], &value.V); err != nil {
			return fmt.Errorf("%w: data point value: %v", ErrInvalidArgument, err)
		}
		value.Valid = true
	}

	if len(raw) == 2 {
		*p = DataPoint[T]{Time: t, Value: value}
		return nil
	}

	third := bytes.TrimSpace(raw[2])
	if len(third) > 0 && third[0] == '"' {
		var s string
		if err := json.Unmarshal(third, &s); err != nil {
			return fmt.Errorf("%w: data point marker: %v", ErrInvalidArgument, err)
		}
		if origin, err := ParseTime(s); err == nil {
			*p = NewForecastedDataPoint(t, value, origin)
			return nil
		}
		*p = NewFlaggedDataPoint(t, value, s)
		return nil
	}

	var flag any
	if err := json.Unmarshal(third, &flag); err != nil {
		return fmt.Errorf("%w: data point flag: %v", ErrInvalidArgument, err)
	}
	*p = NewFlaggedDataPoint(t, value, flag)
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// MarshalJSON encodes the series as an array of points.
func (s *Series[T]) MarshalJSON() ([]byte, error) {
	points := s.Points()
	if points == nil {
		points = []DataPoint[T]{}
	}
	return json.Marshal(points)
}

// UnmarshalJSON decodes an array of points in any order.
func (s *Series[T]) UnmarshalJSON(data []byte) error {
	var points []DataPoint[T]
	if err := json.Unmarshal(data, &points); err != nil {
		return err
	}
	*s = *NewSeries(points...)
	return nil
}
