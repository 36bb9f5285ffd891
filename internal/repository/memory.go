package repository

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// Memory keeps every series in process memory behind a single lock.
//
// Reads and writes copy, down to the members of ensemble values, so a
// caller never observes a later mutation through a value it holds or passed.
type Memory[T any] struct {
	mu     sync.RWMutex
	series map[string]models.TimeSeries[T]
}

func NewMemory[T any](series ...models.TimeSeries[T]) *Memory[T] {
	m := &Memory[T]{series: make(map[string]models.TimeSeries[T], len(series))}
	for _, ts := range series {
		m.series[ts.ID] = m.own(ts)
	}
	return m
}

// own copies ts for storage and guarantees a non-nil container.
func (m *Memory[T]) own(ts models.TimeSeries[T]) models.TimeSeries[T] {
	ts.Data = detach(ts.Data)
	return ts
}

// detach copies s. Slice values such as ensemble members are copied too.
func detach[T any](s *models.Series[T]) *models.Series[T] {
	if s == nil {
		return &models.Series[T]{}
	}
	if reflect.TypeFor[T]().Kind() != reflect.Slice {
		return s.Clone()
	}
	points := s.Points()
	for i := range points {
		points[i] = detachPoint(points[i])
	}
	return models.NewSeries(points...)
}

func detachPoint[T any](p models.DataPoint[T]) models.DataPoint[T] {
	v := reflect.ValueOf(&p.Value.V).Elem()
	if v.Kind() != reflect.Slice || v.IsNil() {
		return p
	}
	members := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(members, v)
	v.Set(members)
	return p
}

func (m *Memory[T]) lookup(id string) (models.TimeSeries[T], error) {
	ts, ok := m.series[id]
	if !ok {
		return ts, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return ts, nil
}

func (m *Memory[T]) sortedIDs() []string {
	ids := make([]string, 0, len(m.series))
	for id := range m.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory[T]) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series), nil
}

func (m *Memory[T]) Contains(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.series[id]
	return ok, nil
}

func (m *Memory[T]) Get(_ context.Context, id string) (models.TimeSeries[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, err := m.lookup(id)
	if err != nil {
		return ts, err
	}
	return m.own(ts), nil
}

func (m *Memory[T]) GetAll(_ context.Context) ([]models.TimeSeries[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]models.TimeSeries[T], 0, len(m.series))
	for _, id := range m.sortedIDs() {
		all = append(all, m.series[id].WithoutData())
	}
	return all, nil
}

func (m *Memory[T]) GetIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDs(), nil
}

func (m *Memory[T]) GetValues(_ context.Context, id string, from, to time.Time) (*models.Series[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return detach(ts.Data.Slice(from, to)), nil
}

func (m *Memory[T]) GetAllValues(_ context.Context, id string) (*models.Series[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return detach(ts.Data), nil
}

// point runs a lookup against the stored series of id under the read lock.
func (m *Memory[T]) point(id string, fn func(*models.Series[T]) (models.DataPoint[T], bool)) (models.DataPoint[T], bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, err := m.lookup(id)
	if err != nil {
		return models.DataPoint[T]{}, false, err
	}
	p, ok := fn(ts.Data)
	return detachPoint(p), ok, nil
}

func (m *Memory[T]) GetValue(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return m.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.Get(t) })
}

func (m *Memory[T]) GetFirstValue(_ context.Context, id string) (models.DataPoint[T], bool, error) {
	return m.point(id, (*models.Series[T]).First)
}

func (m *Memory[T]) GetLastValue(_ context.Context, id string) (models.DataPoint[T], bool, error) {
	return m.point(id, (*models.Series[T]).Last)
}

func (m *Memory[T]) GetFirstValueAfter(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return m.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.FirstAfter(t) })
}

func (m *Memory[T]) GetLastValueBefore(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return m.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.LastBefore(t) })
}

func (m *Memory[T]) Add(_ context.Context, ts models.TimeSeries[T]) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[ts.ID]; ok {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExists, ts.ID)
	}
	m.series[ts.ID] = m.own(ts)
	return nil
}

func (m *Memory[T]) Update(_ context.Context, ts models.TimeSeries[T]) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ts)
}

func (m *Memory[T]) update(ts models.TimeSeries[T]) error {
	current, err := m.lookup(ts.ID)
	if err != nil {
		return err
	}
	if ts.Data == nil {
		ts.Data = current.Data
		m.series[ts.ID] = ts
		return nil
	}
	m.series[ts.ID] = m.own(ts)
	return nil
}

func (m *Memory[T]) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.series, id)
	return nil
}

func (m *Memory[T]) SetValues(_ context.Context, id string, data *models.Series[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, err := m.lookup(id)
	if err != nil {
		return err
	}
	ts.Data.Merge(detach(data))
	return nil
}

func (m *Memory[T]) RemoveValues(_ context.Context, id string, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, err := m.lookup(id)
	if err != nil {
		return err
	}
	ts.Data.RemoveRange(from, to)
	return nil
}

func (m *Memory[T]) GetByGroup(_ context.Context, group string) ([]models.TimeSeries[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TimeSeries[T]
	for _, id := range m.sortedIDs() {
		if ts := m.series[id]; ts.Group == group {
			out = append(out, ts.WithoutData())
		}
	}
	return out, nil
}

func (m *Memory[T]) ContainsGroup(_ context.Context, group string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ts := range m.series {
		if ts.Group == group {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory[T]) GetFullNames(_ context.Context, group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, ts := range m.series {
		if group == "" || ts.Group == group {
			names = append(names, ts.FullName())
		}
	}
	slices.Sort(names)
	return names, nil
}

// AddRange adds all series or none of them.
func (m *Memory[T]) AddRange(_ context.Context, series []models.TimeSeries[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(series))
	for _, ts := range series {
		if err := ts.Validate(); err != nil {
			return err
		}
		if _, ok := m.series[ts.ID]; ok || seen[ts.ID] {
			return fmt.Errorf("%w: %s", models.ErrAlreadyExists, ts.ID)
		}
		seen[ts.ID] = true
	}
	for _, ts := range series {
		m.series[ts.ID] = m.own(ts)
	}
	return nil
}

// UpdateRange updates all series or none of them.
func (m *Memory[T]) UpdateRange(_ context.Context, series []models.TimeSeries[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ts := range series {
		if err := ts.Validate(); err != nil {
			return err
		}
		if _, err := m.lookup(ts.ID); err != nil {
			return err
		}
	}
	for _, ts := range series {
		if err := m.update(ts); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory[T]) RemoveByGroup(_ context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ts := range m.series {
		if ts.Group == group {
			delete(m.series, id)
		}
	}
	return nil
}

var (
	_ GroupedUpdatableRepository[float64]       = (*Memory[float64])(nil)
	_ GroupedUpdatableRepository[models.Vector] = (*Memory[models.Vector])(nil)
	_ EnsembleRepository[float64]               = (*Memory[[]float64])(nil)
)
