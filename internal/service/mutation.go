package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
)

// before consults the vetoers, then announces the pending change.
func (s *Service[T]) before(ctx context.Context, c Change) error {
	for _, h := range s.handlers {
		v, ok := h.(Vetoer)
		if !ok {
			continue
		}
		if err := v.Veto(ctx, c); err != nil {
			return fmt.Errorf("%w: %s %s: %v", ErrVetoed, c.Event, c.SeriesID, err)
		}
	}
	s.notify(ctx, c)
	return nil
}

// after drops cached results for the series and announces the completed change.
func (s *Service[T]) after(ctx context.Context, c Change) Change {
	s.cache.invalidate(c.SeriesID)
	s.log.WithFields(logrus.Fields{
		"id":        c.SeriesID,
		"event":     c.Event,
		"change_id": c.ID,
		"count":     c.Count,
	}).Info("time series changed")
	s.notify(ctx, c)
	return c
}

func (s *Service[T]) notify(ctx context.Context, c Change) {
	for _, h := range s.handlers {
		if err := h.HandleEvent(ctx, c); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"id":    c.SeriesID,
				"event": c.Event,
			}).Warn("event handler failed")
		}
	}
}

// Add stores a new series.
func (s *Service[T]) Add(ctx context.Context, ts models.TimeSeries[T]) (c Change, err error) {
	defer func(start time.Time) { s.metrics.observe("Add", start, err) }(time.Now())
	repo, err := s.updatable()
	if err != nil {
		return c, err
	}
	if err = ts.Validate(); err != nil {
		return c, err
	}
	exists, err := s.repo.Contains(ctx, ts.ID)
	if err != nil {
		return c, err
	}
	if exists {
		return c, fmt.Errorf("%w: %s", models.ErrAlreadyExists, ts.ID)
	}

	c = newChange(EventAdding, ts.ID)
	c.Count = ts.Data.Len()
	if err = s.before(ctx, c); err != nil {
		return c, err
	}
	if err = repo.Add(ctx, ts); err != nil {
		return c, fmt.Errorf("failed to add %s: %w", ts.ID, err)
	}
	return s.after(ctx, c.as(EventAdded)), nil
}

// Update replaces the metadata of an existing series, and its points when
// ts.Data is set.
func (s *Service[T]) Update(ctx context.Context, ts models.TimeSeries[T]) (c Change, err error) {
	defer func(start time.Time) { s.metrics.observe("Update", start, err) }(time.Now())
	repo, err := s.updatable()
	if err != nil {
		return c, err
	}
	if err = ts.Validate(); err != nil {
		return c, err
	}
	if err = s.requireExists(ctx, ts.ID); err != nil {
		return c, err
	}

	c = newChange(EventUpdating, ts.ID)
	c.Count = ts.Data.Len()
	if err = s.before(ctx, c); err != nil {
		return c, err
	}
	if err = repo.Update(ctx, ts); err != nil {
		return c, fmt.Errorf("failed to update %s: %w", ts.ID, err)
	}
	return s.after(ctx, c.as(EventUpdated)), nil
}

// Remove deletes a series and all of its points.
func (s *Service[T]) Remove(ctx context.Context, id string) (c Change, err error) {
	defer func(start time.Time) { s.metrics.observe("Remove", start, err) }(time.Now())
	repo, err := s.updatable()
	if err != nil {
		return c, err
	}
	if err = s.requireExists(ctx, id); err != nil {
		return c, err
	}

	c = newChange(EventDeleting, id)
	if err = s.before(ctx, c); err != nil {
		return c, err
	}
	if err = repo.Remove(ctx, id); err != nil {
		return c, fmt.Errorf("failed to remove %s: %w", id, err)
	}
	return s.after(ctx, c.as(EventDeleted)), nil
}

// SetValues merges data into the series; points at existing timestamps are
// replaced.
func (s *Service[T]) SetValues(ctx context.Context, id string, data *models.Series[T]) (c Change, err error) {
	defer func(start time.Time) { s.metrics.observe("SetValues", start, err) }(time.Now())
	repo, err := s.updatable()
	if err != nil {
		return c, err
	}
	if data == nil {
		return c, fmt.Errorf("%w: no values for %s", models.ErrInvalidArgument, id)
	}
	if err = s.requireExists(ctx, id); err != nil {
		return c, err
	}

	c = newChange(EventUpdating, id)
	c.Count = data.Len()
	first, okFirst := data.First()
	last, okLast := data.Last()
	if okFirst && okLast {
		c = c.withRange(first.Time, last.Time)
	}
	if err = s.before(ctx, c); err != nil {
		return c, err
	}
	if err = repo.SetValues(ctx, id, data); err != nil {
		return c, fmt.Errorf("failed to set values of %s: %w", id, err)
	}
	return s.after(ctx, c.as(EventValuesSet)), nil
}

// RemoveValues deletes the points of id between from and to inclusive.
// from must be strictly before to.
func (s *Service[T]) RemoveValues(ctx context.Context, id string, from, to time.Time) (c Change, err error) {
	defer func(start time.Time) { s.metrics.observe("RemoveValues", start, err) }(time.Now())
	if !from.Before(to) {
		return c, fmt.Errorf("%w: from %s is not before to %s", models.ErrInvalidInterval, models.FormatTime(from), models.FormatTime(to))
	}
	repo, err := s.updatable()
	if err != nil {
		return c, err
	}
	if err = s.requireExists(ctx, id); err != nil {
		return c, err
	}

	c = newChange(EventUpdating, id).withRange(from, to)
	if err = s.before(ctx, c); err != nil {
		return c, err
	}
	if err = repo.RemoveValues(ctx, id, from, to); err != nil {
		return c, fmt.Errorf("failed to remove values of %s: %w", id, err)
	}
	return s.after(ctx, c.as(EventValuesRemoved)), nil
}

// RemoveByGroup deletes every series in group, raising one deleting and one
// deleted event per series.
func (s *Service[T]) RemoveByGroup(ctx context.Context, group string) (changes []Change, err error) {
	defer func(start time.Time) { s.metrics.observe("RemoveByGroup", start, err) }(time.Now())
	repo, ok := s.repo.(repository.GroupedUpdatableRepository[T])
	if !ok {
		return nil, fmt.Errorf("%w: repository does not support group removal", models.ErrInvalidArgument)
	}

	members, err := repo.GetByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	pending := make([]Change, 0, len(members))
	for _, ts := range members {
		c := newChange(EventDeleting, ts.ID)
		if err = s.before(ctx, c); err != nil {
			return nil, err
		}
		pending = append(pending, c)
	}
	if err = repo.RemoveByGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to remove group %s: %w", group, err)
	}
	for _, c := range pending {
		changes = append(changes, s.after(ctx, c.as(EventDeleted)))
	}
	return changes, nil
}
