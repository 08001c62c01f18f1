package datastore

import (
	"context"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verdant-app/verdant/internal/datastore/entities"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/kv"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

// HandleStore is a kv.Store on the handle_records table. Transactions read
// outside any database transaction and validate every read version inside
// one at commit.
type HandleStore struct {
	db  *DB
	now func() time.Time
}

var _ kv.Store = (*HandleStore)(nil)

func NewHandleStore(db *DB) *HandleStore {
	return &HandleStore{db: db, now: time.Now}
}

func (s *HandleStore) Get(ctx context.Context, key string) (kv.Record, bool, error) {
	start := time.Now()
	rec, ok, err := s.get(s.db.gorm.WithContext(ctx), key, false)
	s.db.observe(metrics.OpKVGet, start, err)
	if err != nil {
		return kv.Record{}, false, s.classify(err, "get")
	}
	return rec, ok, nil
}

func (s *HandleStore) get(tx *gorm.DB, key string, lock bool) (kv.Record, bool, error) {
	var row entities.HandleRecord
	q := tx.Where("record_key = ?", key)
	if lock && s.db.dialect == DialectMySQL {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return kv.Record{}, false, nil
	case err != nil:
		return kv.Record{}, false, err
	}
	return kv.Record{Key: row.Key, Value: row.Value, Version: row.Version}, true, nil
}

func (s *HandleStore) Scan(ctx context.Context, prefix string, limit int) ([]kv.Record, error) {
	start := time.Now()
	var rows []entities.HandleRecord
	q := s.db.gorm.WithContext(ctx).
		Where("record_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%").
		Order("record_key ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	s.db.observe(metrics.OpKVScan, start, err)
	if err != nil {
		return nil, s.classify(err, "scan")
	}

	out := make([]kv.Record, 0, len(rows))
	for _, row := range rows {
		// LIKE is case-insensitive on some collations
		if !strings.HasPrefix(row.Key, prefix) {
			continue
		}
		out = append(out, kv.Record{Key: row.Key, Value: row.Value, Version: row.Version})
	}
	return out, nil
}

// RunAtomic runs fn against a buffered transaction and commits it with
// version checks. Any key read by fn that changed, appeared or vanished since
// it was read aborts the commit with kv.ErrContention.
func (s *HandleStore) RunAtomic(ctx context.Context, fn func(kv.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &sqlTxn{ctx: ctx, store: s, reads: make(map[string]uint64), writes: make(map[string]*string)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.writes) == 0 {
		return nil
	}

	start := time.Now()
	err := s.db.gorm.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return s.commit(db, tx)
	})
	s.db.observe(metrics.OpTransaction, start, ignoreContention(err))
	switch {
	case err == nil:
		s.db.metrics.RecordTransaction(metrics.LabelSuccess)
		return nil
	case errors.Is(err, kv.ErrContention), isBusy(err), isDuplicate(err), errors.Is(err, gorm.ErrDuplicatedKey):
		s.db.metrics.RecordTransaction(metrics.LabelContention)
		return kv.ErrContention
	default:
		s.db.metrics.RecordTransaction(metrics.LabelError)
		return s.classify(err, "commit")
	}
}

func (s *HandleStore) commit(db *gorm.DB, tx *sqlTxn) error {
	// keys read but not written must still hold the version fn saw
	readOnly := make([]string, 0, len(tx.reads))
	for key := range tx.reads {
		if _, written := tx.writes[key]; !written {
			readOnly = append(readOnly, key)
		}
	}
	slices.Sort(readOnly)
	for _, key := range readOnly {
		if err := s.expect(db, key, tx.reads[key]); err != nil {
			return err
		}
	}

	for _, key := range tx.order {
		expected, read := tx.reads[key]
		if !read {
			cur, _, err := s.get(db, key, true)
			if err != nil {
				return err
			}
			expected = cur.Version
		}
		if err := s.write(db, key, tx.writes[key], expected); err != nil {
			return err
		}
	}
	return nil
}

// expect fails with kv.ErrContention unless key is at version (0 for absent)
func (s *HandleStore) expect(db *gorm.DB, key string, version uint64) error {
	cur, _, err := s.get(db, key, true)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return kv.ErrContention
	}
	return nil
}

// write applies one buffered write conditioned on the expected version
func (s *HandleStore) write(db *gorm.DB, key string, value *string, expected uint64) error {
	switch {
	case value == nil && expected == 0:
		return s.expect(db, key, 0)

	case value == nil:
		res := db.Where("record_key = ? AND version = ?", key, expected).Delete(&entities.HandleRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return kv.ErrContention
		}
		return nil

	case expected == 0:
		return db.Create(&entities.HandleRecord{
			Key:     key,
			Value:   *value,
			Version: s.nextVersion(0),
		}).Error

	default:
		res := db.Model(&entities.HandleRecord{}).
			Where("record_key = ? AND version = ?", key, expected).
			Updates(map[string]any{
				"record_value": *value,
				"version":      s.nextVersion(expected),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return kv.ErrContention
		}
		return nil
	}
}

// nextVersion is time based so a deleted and recreated key never reuses a
// version a concurrent transaction may have read.
func (s *HandleStore) nextVersion(prev uint64) uint64 {
	v := uint64(s.now().UnixNano())
	if v <= prev {
		v = prev + 1
	}
	return v
}

func (s *HandleStore) classify(err error, op string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isBusy(err):
		return kv.ErrContention
	default:
		return dbError(err, "kv_"+op, errors.PriorityMedium)
	}
}

func ignoreContention(err error) error {
	if errors.Is(err, kv.ErrContention) {
		return nil
	}
	return err
}

// escapeLike escapes LIKE wildcards with '!', which both dialects accept
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// sqlTxn buffers writes and remembers the version of the first read of each key
type sqlTxn struct {
	ctx    context.Context
	store  *HandleStore
	reads  map[string]uint64
	writes map[string]*string // nil value deletes
	order  []string
}

func (t *sqlTxn) Get(key string) (kv.Record, bool, error) {
	if w, ok := t.writes[key]; ok {
		if w == nil {
			return kv.Record{}, false, nil
		}
		return kv.Record{Key: key, Value: *w}, true, nil
	}
	rec, ok, err := t.store.Get(t.ctx, key)
	if err != nil {
		return kv.Record{}, false, err
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = rec.Version
	}
	return rec, ok, nil
}

func (t *sqlTxn) Put(key, value string) error {
	t.record(key, &value)
	return nil
}

func (t *sqlTxn) Delete(key string) error {
	t.record(key, nil)
	return nil
}

func (t *sqlTxn) record(key string, value *string) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}
