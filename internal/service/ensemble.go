package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// EnsembleService serves series that hold several member values per
// timestamp. Queries and mutations come from the embedded Service; the
// member-wise aggregations are added here.
type EnsembleService[T any] struct {
	*Service[[]T]
	memberRules timeseries.Rules[T]
}

// NewEnsemble fails with models.ErrUnsupportedValueType when T has no
// arithmetic rules.
func NewEnsemble[T any](repo repository.EnsembleRepository[T], opts Options) (*EnsembleService[T], error) {
	rules, err := timeseries.RulesFor[T]()
	if err != nil {
		return nil, err
	}
	svc, err := New[[]T](repo, opts)
	if err != nil {
		return nil, err
	}
	return &EnsembleService[T]{Service: svc, memberRules: rules}, nil
}

// GetEnsembleAggregated reduces the members of id at each timestamp between
// from and to inclusive, yielding one point per timestamp.
func (e *EnsembleService[T]) GetEnsembleAggregated(ctx context.Context, id string, kind timeseries.AggregationType, from, to time.Time) (out *models.Series[T], err error) {
	defer func(start time.Time) { e.metrics.observe("GetEnsembleAggregated", start, err) }(time.Now())
	if err = kind.Validate(); err != nil {
		return nil, err
	}
	data, err := e.GetValues(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	return timeseries.EnsembleAggregate(data, kind, e.memberRules)
}

// GetEnsembleAggregatedBatch runs GetEnsembleAggregated for each id. Any
// missing id fails the whole batch.
func (e *EnsembleService[T]) GetEnsembleAggregatedBatch(ctx context.Context, ids []string, kind timeseries.AggregationType, from, to time.Time) (map[string]*models.Series[T], error) {
	out := make(map[string]*models.Series[T], len(ids))
	for _, id := range ids {
		s, err := e.GetEnsembleAggregated(ctx, id, kind, from, to)
		if err != nil {
			return nil, fmt.Errorf("ensemble %s: %w", id, err)
		}
		out[id] = s
	}
	return out, nil
}
