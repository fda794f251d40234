package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/branch-reservation/internal/model"
)

// MemoryStore keeps reservations in process memory.
//
// ListDay is a locking read: the (branch, range) it reads stays locked
// until the transaction ends, so creates on the same branch day queue up
// instead of failing.  Writes that bypass the lock (Update, Delete and
// transactions that never read) are caught at commit: every write stamps
// the document with a sequence number, and a commit fails with
// ErrTxConflict when a document inside one of its read ranges was written,
// inserted or deleted after the read.  Writes outside the ranges read
// never conflict.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]*model.Reservation
	mods  map[string]uint64 // id -> sequence of its last write
	tombs map[string]tombstone
	seq   uint64
	open  int // transactions in flight; tombstones are kept only while > 0

	locksMu sync.Mutex
	locks   map[rangeKey]*rangeLock
}

type tombstone struct {
	branchID string
	at       time.Time
	seq      uint64
}

type rangeKey struct {
	branchID string
	from, to int64
}

type rangeLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]*model.Reservation),
		mods:  make(map[string]uint64),
		tombs: make(map[string]tombstone),
		locks: make(map[rangeKey]*rangeLock),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]*model.Reservation, 0)
	for _, r := range s.docs {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()
	return sortAndPage(out, q.Skip, q.Limit), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	s.seq++
	s.docs[id] = next
	s.mods[id] = s.seq
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	s.seq++
	delete(s.docs, id)
	delete(s.mods, id)
	if s.open > 0 {
		s.tombs[id] = tombstone{branchID: cur.BranchID, at: cur.ScheduledAt, seq: s.seq}
	}
	return nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.open++
	s.mu.Unlock()

	tx := &memoryTx{store: s}
	defer tx.finish()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lockRange(ctx context.Context, k rangeKey) (*rangeLock, error) {
	s.locksMu.Lock()
	l, ok := s.locks[k]
	if !ok {
		l = &rangeLock{ch: make(chan struct{}, 1)}
		s.locks[k] = l
	}
	l.refs++
	s.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return l, nil
	case <-ctx.Done():
		s.releaseRef(k, l)
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) unlockRange(k rangeKey, l *rangeLock) {
	<-l.ch
	s.releaseRef(k, l)
}

func (s *MemoryStore) releaseRef(k rangeKey, l *rangeLock) {
	s.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, k)
	}
	s.locksMu.Unlock()
}

type readRange struct {
	rangeKey
	seq uint64 // store sequence at the time of the read
}

func (r readRange) contains(branchID string, at time.Time) bool {
	ts := at.UnixNano()
	return branchID == r.branchID && ts >= r.from && ts < r.to
}

type memoryTx struct {
	store   *MemoryStore
	reads   []readRange
	held    map[rangeKey]*rangeLock
	pending []*model.Reservation
}

func (t *memoryTx) ListDay(ctx context.Context, branchID string, from, to time.Time) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := t.store
	k := rangeKey{branchID: branchID, from: from.UnixNano(), to: to.UnixNano()}
	if _, ok := t.held[k]; !ok {
		l, err := s.lockRange(ctx, k)
		if err != nil {
			return nil, err
		}
		if t.held == nil {
			t.held = make(map[rangeKey]*rangeLock)
		}
		t.held[k] = l
	}

	q := Query{BranchID: branchID, From: from, To: to}
	var out []*model.Reservation
	s.mu.Lock()
	t.reads = append(t.reads, readRange{rangeKey: k, seq: s.seq})
	for _, r := range s.docs {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()

	for _, r := range t.pending {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) Insert(ctx context.Context, r *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.pending = append(t.pending, r.Clone())
	return nil
}

// stale reports whether a document in one of the read ranges was written
// after the range was read.  Caller holds s.mu.
func (t *memoryTx) stale() bool {
	s := t.store
	for _, rr := range t.reads {
		for id, r := range s.docs {
			if rr.contains(r.BranchID, r.ScheduledAt) && s.mods[id] > rr.seq {
				return true
			}
		}
		for _, tomb := range s.tombs {
			if rr.contains(tomb.branchID, tomb.at) && tomb.seq > rr.seq {
				return true
			}
		}
	}
	return false
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.stale() {
		return ErrTxConflict
	}
	for _, r := range t.pending {
		if _, dup := s.docs[r.ID]; dup {
			return ErrDuplicateID
		}
	}
	for _, r := range t.pending {
		s.seq++
		s.docs[r.ID] = r
		s.mods[r.ID] = s.seq
	}
	return nil
}

// finish releases the range locks and forgets tombstones once no
// transaction can still be validated against them.
func (t *memoryTx) finish() {
	s := t.store
	for k, l := range t.held {
		s.unlockRange(k, l)
	}
	s.mu.Lock()
	s.open--
	if s.open == 0 && len(s.tombs) > 0 {
		s.tombs = make(map[string]tombstone)
	}
	s.mu.Unlock()
}
