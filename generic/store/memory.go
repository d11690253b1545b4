// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/warp/people-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory record store (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[key][]generic.Record
	index   map[generic.RecordID]key

	locksMu sync.Mutex
	locks   map[key]*sync.Mutex
}

type key struct {
	Kind      generic.RecordKind
	SubjectID generic.SubjectID
}

var (
	_ generic.TxRecordStore = (*Memory)(nil)
	_ generic.AsOfStore     = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[key][]generic.Record),
		index:   make(map[generic.RecordID]key),
		locks:   make(map[key]*sync.Mutex),
	}
}

func (m *Memory) LoadHistory(_ context.Context, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecords(m.records[key{kind, subjectID}]), nil
}

func (m *Memory) LoadAsOf(_ context.Context, kind generic.RecordKind, subjectID generic.SubjectID, asOf generic.TimePoint) (*generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records[key{kind, subjectID}] {
		if r.Contains(asOf) {
			found := cloneRecord(r)
			return &found, nil
		}
	}
	return nil, nil
}

// Direct writes take the subject lock so they never interleave with a
// unit of work on the same subject.
func (m *Memory) InsertRecord(_ context.Context, rec generic.Record) error {
	k := key{rec.Kind, rec.SubjectID}
	return m.writeSubject(k, func(recs []generic.Record) ([]generic.Record, error) {
		if err := m.checkUnique(rec.ID, k); err != nil {
			return nil, err
		}
		return insertSorted(recs, rec)
	})
}

func (m *Memory) SetEndDate(_ context.Context, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	k, err := m.keyOf(kind, id)
	if err != nil {
		return err
	}
	return m.writeSubject(k, func(recs []generic.Record) ([]generic.Record, error) {
		return recs, setEndDate(recs, id, end)
	})
}

func (m *Memory) DeleteRecord(_ context.Context, kind generic.RecordKind, id generic.RecordID) error {
	k, err := m.keyOf(kind, id)
	if err != nil {
		return err
	}
	return m.writeSubject(k, func(recs []generic.Record) ([]generic.Record, error) {
		return deleteRecord(recs, id)
	})
}

func (m *Memory) keyOf(kind generic.RecordKind, id generic.RecordID) (key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.index[id]
	if !ok || k.Kind != kind {
		return key{}, fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	return k, nil
}

// checkUnique rejects an id already used by another subject. Ids of the
// subject being written are checked against its working rows instead.
func (m *Memory) checkUnique(id generic.RecordID, k key) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if owner, exists := m.index[id]; exists && owner != k {
		return fmt.Errorf("%w: duplicate record id %s", generic.ErrValidation, id)
	}
	return nil
}

func (m *Memory) writeSubject(k key, fn func([]generic.Record) ([]generic.Record, error)) error {
	lock := m.subjectLock(k)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	working := cloneRecords(m.records[k])
	m.mu.RUnlock()

	working, err := fn(working)
	if err != nil {
		return err
	}
	m.commit(k, working)
	return nil
}

// =============================================================================
// TRANSACTIONS - Per-subject lock + staged writes
// =============================================================================

// WithSubjectTx serializes units of work on the same (kind, subject). fn
// works on a private copy of the subject's rows, published only when fn
// succeeds; readers outside the unit see the committed rows throughout.
// Other subjects are untouched and never wait on this lock.
func (m *Memory) WithSubjectTx(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, fn func(generic.RecordStore) error) error {
	k := key{kind, subjectID}
	lock := m.subjectLock(k)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	tv := &txView{parent: m, key: k, records: cloneRecords(m.records[k])}
	m.mu.RUnlock()

	if err := fn(tv); err != nil {
		return err
	}
	m.commit(k, tv.records)
	return nil
}

func (m *Memory) subjectLock(k key) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// commit replaces the subject's rows and reindexes them.
func (m *Memory) commit(k key, recs []generic.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[k] {
		delete(m.index, r.ID)
	}
	m.records[k] = recs
	for _, r := range recs {
		m.index[r.ID] = k
	}
}

// txView is handed to fn inside WithSubjectTx. Writes are limited to the
// locked subject and land in records until commit.
type txView struct {
	parent  *Memory
	key     key
	records []generic.Record
}

func (tv *txView) LoadHistory(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	if (key{kind, subjectID}) != tv.key {
		return tv.parent.LoadHistory(ctx, kind, subjectID)
	}
	return cloneRecords(tv.records), nil
}

func (tv *txView) InsertRecord(_ context.Context, rec generic.Record) error {
	if err := tv.owns(key{rec.Kind, rec.SubjectID}); err != nil {
		return err
	}
	if err := tv.parent.checkUnique(rec.ID, tv.key); err != nil {
		return err
	}
	recs, err := insertSorted(tv.records, rec)
	if err != nil {
		return err
	}
	tv.records = recs
	return nil
}

func (tv *txView) SetEndDate(_ context.Context, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	if kind != tv.key.Kind {
		return fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	return setEndDate(tv.records, id, end)
}

func (tv *txView) DeleteRecord(_ context.Context, kind generic.RecordKind, id generic.RecordID) error {
	if kind != tv.key.Kind {
		return fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	recs, err := deleteRecord(tv.records, id)
	if err != nil {
		return err
	}
	tv.records = recs
	return nil
}

func (tv *txView) owns(k key) error {
	if k != tv.key {
		return fmt.Errorf("%w: write to %s/%s outside unit of work for %s/%s",
			generic.ErrValidation, k.Kind, k.SubjectID, tv.key.Kind, tv.key.SubjectID)
	}
	return nil
}

// =============================================================================
// ROW OPERATIONS - On one subject's rows, ordered by effective date
// =============================================================================

func insertSorted(recs []generic.Record, rec generic.Record) ([]generic.Record, error) {
	for _, r := range recs {
		if r.ID == rec.ID {
			return nil, fmt.Errorf("%w: duplicate record id %s", generic.ErrValidation, rec.ID)
		}
	}
	i, _ := slices.BinarySearchFunc(recs, rec, func(a, b generic.Record) int {
		if a.EffectiveDate.After(b.EffectiveDate) {
			return 1
		}
		return -1
	})
	return slices.Insert(recs, i, cloneRecord(rec)), nil
}

func setEndDate(recs []generic.Record, id generic.RecordID, end *generic.TimePoint) error {
	for i := range recs {
		if recs[i].ID == id {
			recs[i].EndDate = cloneDate(end)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
}

func deleteRecord(recs []generic.Record, id generic.RecordID) ([]generic.Record, error) {
	i := slices.IndexFunc(recs, func(r generic.Record) bool { return r.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	return slices.Delete(recs, i, i+1), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneRecords(in []generic.Record) []generic.Record {
	if in == nil {
		return nil
	}
	out := make([]generic.Record, len(in))
	for i, r := range in {
		out[i] = cloneRecord(r)
	}
	return out
}

func cloneRecord(r generic.Record) generic.Record {
	r.EndDate = cloneDate(r.EndDate)
	r.Payload = slices.Clone(r.Payload)
	return r
}

func cloneDate(tp *generic.TimePoint) *generic.TimePoint {
	if tp == nil {
		return nil
	}
	c := *tp
	return &c
}
