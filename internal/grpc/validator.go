package server

import (
	"fmt"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// DefaultMaxTimeRange bounds the span of a single query.
const DefaultMaxTimeRange = 2 * 365 * 24 * time.Hour

// RequestValidator checks query parameters before they reach the service.
type RequestValidator struct {
	maxTimeRange time.Duration
}

// NewRequestValidator returns a validator rejecting ranges longer than
// maxTimeRange; zero selects DefaultMaxTimeRange.
func NewRequestValidator(maxTimeRange time.Duration) *RequestValidator {
	if maxTimeRange <= 0 {
		maxTimeRange = DefaultMaxTimeRange
	}
	return &RequestValidator{maxTimeRange: maxTimeRange}
}

// ValidateRange checks that both timestamps are set and ordered and that
// the range is not too long. Equal timestamps select a single instant.
func (v *RequestValidator) ValidateRange(start, end time.Time) error {
	// Validate timestamps are present
	if start.IsZero() || end.IsZero() || start.Equal(time.Unix(0, 0)) || end.Equal(time.Unix(0, 0)) {
		return fmt.Errorf("missing timestamp")
	}

	// Validate time range
	if start.After(end) {
		return fmt.Errorf("start time must be before end time")
	}

	// Validate maximum time range
	if end.Sub(start) > v.maxTimeRange {
		return fmt.Errorf("time range exceeds maximum allowed")
	}

	return nil
}

// ValidateAggregation parses the aggregation name.
func (v *RequestValidator) ValidateAggregation(aggregation string) (timeseries.AggregationType, error) {
	if aggregation == "" {
		return 0, fmt.Errorf("invalid aggregation")
	}
	kind, err := timeseries.ParseAggregationType(aggregation)
	if err != nil {
		return 0, fmt.Errorf("invalid aggregation: %s", aggregation)
	}
	return kind, nil
}

// ValidateWindow parses the window into a period. Calendar names and any
// positive duration are accepted.
func (v *RequestValidator) ValidateWindow(window string) (timeseries.Period, error) {
	period, err := timeseries.ParsePeriod(window)
	if err != nil {
		return nil, fmt.Errorf("invalid window: %s", window)
	}
	return period, nil
}

// Validate checks if the request parameters of a windowed aggregation are
// valid and returns them parsed.
func (v *RequestValidator) Validate(start, end time.Time, window, aggregation string) (timeseries.Period, timeseries.AggregationType, error) {
	if err := v.ValidateRange(start, end); err != nil {
		return nil, 0, err
	}
	period, err := v.ValidateWindow(window)
	if err != nil {
		return nil, 0, err
	}
	kind, err := v.ValidateAggregation(aggregation)
	if err != nil {
		return nil, 0, err
	}
	return period, kind, nil
}
