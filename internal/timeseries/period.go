package timeseries

import (
	"fmt"
	"strings"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// Period partitions time into repeating intervals. Start maps a timestamp to
// the start of the interval containing it and must be monotonic.
type Period interface {
	Start(t time.Time) time.Time
	String() string
}

// CalendarPeriod is a period aligned to the civil calendar.
type CalendarPeriod int

// Calendar periods are computed in the location of each timestamp.
const (
	Hourly CalendarPeriod = iota + 1
	Daily
	Weekly
	Monthly
	Quarterly
	Yearly
)

func (p CalendarPeriod) Start(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch p {
	case Hourly:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case Daily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Weekly:
		// weeks start on Monday
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Quarterly:
		return time.Date(y, ((m-1)/3)*3+1, 1, 0, 0, 0, 0, loc)
	case Yearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

func (p CalendarPeriod) String() string {
	switch p {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Quarterly:
		return "quarterly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

type fixedPeriod time.Duration

func (p fixedPeriod) Start(t time.Time) time.Time {
	return t.Truncate(time.Duration(p))
}

func (p fixedPeriod) String() string {
	return time.Duration(p).String()
}

// Every returns a period of fixed length d aligned to the zero time.
func Every(d time.Duration) Period {
	return fixedPeriod(d)
}

// FixedLength returns the length of a period created by Every. Of the
// calendar periods only Hourly and Daily have one, and only for UTC times.
func FixedLength(p Period) (time.Duration, bool) {
	switch p := p.(type) {
	case fixedPeriod:
		return time.Duration(p), true
	case CalendarPeriod:
		switch p {
		case Hourly:
			return time.Hour, true
		case Daily:
			return 24 * time.Hour, true
		}
	}
	return 0, false
}

// ParsePeriod accepts calendar names (hourly, daily, weekly, monthly,
// quarterly, yearly), the window shorthands 1m, 5m, 1h and 1d, and any
// positive Go duration string.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly", "hour", "1h":
		return Hourly, nil
	case "daily", "day", "1d":
		return Daily, nil
	case "weekly", "week", "1w":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	case "quarterly", "quarter":
		return Quarterly, nil
	case "yearly", "year", "1y":
		return Yearly, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("%w: invalid period: %s", models.ErrInvalidArgument, s)
	}
	return Every(d), nil
}

type periodOptions struct {
	from, to  time.Time
	hasWindow bool
}

// PeriodOption configures AggregateByPeriod.
type PeriodOption func(*periodOptions)

// WithWindow restricts period aggregation to points between from and to inclusive.
func WithWindow(from, to time.Time) PeriodOption {
	return func(o *periodOptions) {
		o.from, o.to = from, to
		o.hasWindow = true
	}
}

// AggregateByPeriod groups s by period and reduces each group independently.
//
// The result holds one point per period that has at least one point in s,
// timestamped at the period start and in ascending order. A period whose
// points are all null yields a null point.
func AggregateByPeriod[T any](s *models.Series[T], kind AggregationType, period Period, rules Rules[T], opts ...PeriodOption) (*models.Series[T], error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if period == nil {
		return nil, fmt.Errorf("%w: period is required", models.ErrInvalidArgument)
	}

	var o periodOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasWindow {
		s = s.Slice(o.from, o.to)
	}

	out := &models.Series[T]{}
	var (
		current time.Time
		values  []T
		started bool
	)
	flush := func() error {
		v, err := Reduce(values, kind, rules)
		if err != nil {
			return err
		}
		out.Append(models.DataPoint[T]{Time: current, Value: v})
		return nil
	}

	for p := range s.All() {
		start := period.Start(p.Time)
		if !started || !start.Equal(current) {
			if started {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			current = start
			values = values[:0]
			started = true
		}
		if p.HasValue() {
			values = append(values, p.Value.V)
		}
	}
	if started {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
