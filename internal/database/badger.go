package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
)

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"
)

// BadgerConfig configures an embedded badger store.
type BadgerConfig struct {
	// Path is the data directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	Codec    Codec
	Logger   *logrus.Logger
}

// BadgerRepo stores each series as two keys: meta/<id> holds the JSON
// metadata and data/<id> the compressed point block.
//
// Mutations rewrite the whole block of one series and are serialized by a
// single lock; reads run in badger read transactions.
type BadgerRepo[T any] struct {
	db    *badger.DB
	codec Codec
	log   *logrus.Logger
	mu    sync.RWMutex
}

func NewBadgerRepo[T any](cfg BadgerConfig) (*BadgerRepo[T], error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}

	codec := cfg.Codec
	if codec == nil {
		codec = noneCodec{}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BadgerRepo[T]{db: db, codec: codec, log: log}, nil
}

func metaKey(id string) []byte { return []byte(metaPrefix + id) }
func dataKey(id string) []byte { return []byte(dataPrefix + id) }

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (r *BadgerRepo[T]) exists(txn *badger.Txn, id string) (bool, error) {
	_, err := txn.Get(metaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *BadgerRepo[T]) readMeta(txn *badger.Txn, id string) (models.TimeSeries[T], error) {
	raw, err := getValue(txn, metaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.TimeSeries[T]{}, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.TimeSeries[T]{}, fmt.Errorf("failed to read metadata of %s: %w", id, err)
	}
	return decodeMeta[T](raw)
}

// readData returns the points of an existing series; a missing block is empty.
func (r *BadgerRepo[T]) readData(txn *badger.Txn, id string) (*models.Series[T], error) {
	if ok, err := r.exists(txn, id); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%w: %s", models.ErrNotFound, id)
		}
		return nil, err
	}
	raw, err := getValue(txn, dataKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &models.Series[T]{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read points of %s: %w", id, err)
	}
	return decodeBlock[T](r.codec, raw)
}

func (r *BadgerRepo[T]) writeData(txn *badger.Txn, id string, data *models.Series[T]) error {
	block, err := encodeBlock(r.codec, data)
	if err != nil {
		return err
	}
	return txn.Set(dataKey(id), block)
}

func (r *BadgerRepo[T]) write(txn *badger.Txn, ts models.TimeSeries[T]) error {
	meta, err := encodeMeta(ts)
	if err != nil {
		return err
	}
	if err := txn.Set(metaKey(ts.ID), meta); err != nil {
		return err
	}
	if ts.Data == nil {
		return nil
	}
	return r.writeData(txn, ts.ID, ts.Data)
}

// eachMeta calls fn with the metadata of every series in key order.
func (r *BadgerRepo[T]) eachMeta(txn *badger.Txn, fn func(models.TimeSeries[T]) error) error {
	it := txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   100,
		Prefix:         []byte(metaPrefix),
	})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		ts, err := decodeMeta[T](raw)
		if err != nil {
			return err
		}
		if err := fn(ts); err != nil {
			return err
		}
	}
	return nil
}

func (r *BadgerRepo[T]) view(fn func(txn *badger.Txn) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db.View(fn)
}

func (r *BadgerRepo[T]) update(fn func(txn *badger.Txn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Update(fn)
}

func (r *BadgerRepo[T]) Count(_ context.Context) (int, error) {
	var n int
	err := r.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(metaPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (r *BadgerRepo[T]) Contains(_ context.Context, id string) (bool, error) {
	var ok bool
	err := r.view(func(txn *badger.Txn) error {
		var err error
		ok, err = r.exists(txn, id)
		return err
	})
	return ok, err
}

func (r *BadgerRepo[T]) Get(_ context.Context, id string) (models.TimeSeries[T], error) {
	var ts models.TimeSeries[T]
	err := r.view(func(txn *badger.Txn) error {
		var err error
		if ts, err = r.readMeta(txn, id); err != nil {
			return err
		}
		ts.Data, err = r.readData(txn, id)
		return err
	})
	return ts, err
}

func (r *BadgerRepo[T]) GetAll(_ context.Context) ([]models.TimeSeries[T], error) {
	var all []models.TimeSeries[T]
	err := r.view(func(txn *badger.Txn) error {
		return r.eachMeta(txn, func(ts models.TimeSeries[T]) error {
			all = append(all, ts)
			return nil
		})
	})
	return all, err
}

func (r *BadgerRepo[T]) GetIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := r.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(metaPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), metaPrefix))
		}
		return nil
	})
	return ids, err
}

func (r *BadgerRepo[T]) series(id string) (*models.Series[T], error) {
	var s *models.Series[T]
	err := r.view(func(txn *badger.Txn) error {
		var err error
		s, err = r.readData(txn, id)
		return err
	})
	return s, err
}

func (r *BadgerRepo[T]) GetValues(_ context.Context, id string, from, to time.Time) (*models.Series[T], error) {
	s, err := r.series(id)
	if err != nil {
		return nil, err
	}
	return s.Slice(from, to), nil
}

func (r *BadgerRepo[T]) GetAllValues(_ context.Context, id string) (*models.Series[T], error) {
	return r.series(id)
}

func (r *BadgerRepo[T]) point(id string, fn func(*models.Series[T]) (models.DataPoint[T], bool)) (models.DataPoint[T], bool, error) {
	s, err := r.series(id)
	if err != nil {
		return models.DataPoint[T]{}, false, err
	}
	p, ok := fn(s)
	return p, ok, nil
}

func (r *BadgerRepo[T]) GetValue(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.Get(t) })
}

func (r *BadgerRepo[T]) GetFirstValue(_ context.Context, id string) (models.DataPoint[T], bool, error) {
	return r.point(id, (*models.Series[T]).First)
}

func (r *BadgerRepo[T]) GetLastValue(_ context.Context, id string) (models.DataPoint[T], bool, error) {
	return r.point(id, (*models.Series[T]).Last)
}

func (r *BadgerRepo[T]) GetFirstValueAfter(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.FirstAfter(t) })
}

func (r *BadgerRepo[T]) GetLastValueBefore(_ context.Context, id string, t time.Time) (models.DataPoint[T], bool, error) {
	return r.point(id, func(s *models.Series[T]) (models.DataPoint[T], bool) { return s.LastBefore(t) })
}

func (r *BadgerRepo[T]) Add(ctx context.Context, ts models.TimeSeries[T]) error {
	return r.AddRange(ctx, []models.TimeSeries[T]{ts})
}

func (r *BadgerRepo[T]) Update(ctx context.Context, ts models.TimeSeries[T]) error {
	return r.UpdateRange(ctx, []models.TimeSeries[T]{ts})
}

func (r *BadgerRepo[T]) Remove(_ context.Context, id string) error {
	return r.update(func(txn *badger.Txn) error {
		if ok, err := r.exists(txn, id); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("%w: %s", models.ErrNotFound, id)
			}
			return err
		}
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
}

// modifyData rewrites the point block of id with fn applied.
func (r *BadgerRepo[T]) modifyData(id string, fn func(*models.Series[T])) error {
	return r.update(func(txn *badger.Txn) error {
		s, err := r.readData(txn, id)
		if err != nil {
			return err
		}
		fn(s)
		return r.writeData(txn, id, s)
	})
}

func (r *BadgerRepo[T]) SetValues(_ context.Context, id string, data *models.Series[T]) error {
	return r.modifyData(id, func(s *models.Series[T]) { s.Merge(data) })
}

func (r *BadgerRepo[T]) RemoveValues(_ context.Context, id string, from, to time.Time) error {
	return r.modifyData(id, func(s *models.Series[T]) { s.RemoveRange(from, to) })
}

func (r *BadgerRepo[T]) GetByGroup(_ context.Context, group string) ([]models.TimeSeries[T], error) {
	var out []models.TimeSeries[T]
	err := r.view(func(txn *badger.Txn) error {
		return r.eachMeta(txn, func(ts models.TimeSeries[T]) error {
			if ts.Group == group {
				out = append(out, ts)
			}
			return nil
		})
	})
	return out, err
}

func (r *BadgerRepo[T]) ContainsGroup(ctx context.Context, group string) (bool, error) {
	members, err := r.GetByGroup(ctx, group)
	return len(members) > 0, err
}

func (r *BadgerRepo[T]) GetFullNames(_ context.Context, group string) ([]string, error) {
	var names []string
	err := r.view(func(txn *badger.Txn) error {
		return r.eachMeta(txn, func(ts models.TimeSeries[T]) error {
			if group == "" || ts.Group == group {
				names = append(names, ts.FullName())
			}
			return nil
		})
	})
	slices.Sort(names)
	return names, err
}

// AddRange writes all series in one transaction.
func (r *BadgerRepo[T]) AddRange(_ context.Context, series []models.TimeSeries[T]) error {
	return r.update(func(txn *badger.Txn) error {
		for _, ts := range series {
			if err := ts.Validate(); err != nil {
				return err
			}
			ok, err := r.exists(txn, ts.ID)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("%w: %s", models.ErrAlreadyExists, ts.ID)
			}
			if ts.Data == nil {
				ts.Data = &models.Series[T]{}
			}
			if err := r.write(txn, ts); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateRange rewrites all series in one transaction.
func (r *BadgerRepo[T]) UpdateRange(_ context.Context, series []models.TimeSeries[T]) error {
	return r.update(func(txn *badger.Txn) error {
		for _, ts := range series {
			if err := ts.Validate(); err != nil {
				return err
			}
			ok, err := r.exists(txn, ts.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", models.ErrNotFound, ts.ID)
			}
			if err := r.write(txn, ts); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BadgerRepo[T]) RemoveByGroup(_ context.Context, group string) error {
	return r.update(func(txn *badger.Txn) error {
		var ids []string
		err := r.eachMeta(txn, func(ts models.TimeSeries[T]) error {
			if ts.Group == group {
				ids = append(ids, ts.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := txn.Delete(metaKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(dataKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Maintain reclaims value log space until badger finds nothing to rewrite.
func (r *BadgerRepo[T]) Maintain(ctx context.Context) error {
	for ctx.Err() == nil {
		err := r.db.RunValueLogGC(0.7)
		switch {
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return nil
		case err != nil:
			return fmt.Errorf("value log gc: %w", err)
		}
		r.log.Debug("badger value log gc rewrote a file")
	}
	return ctx.Err()
}

func (r *BadgerRepo[T]) Close() error {
	return r.db.Close()
}

var _ repository.GroupedUpdatableRepository[float64] = (*BadgerRepo[float64])(nil)
