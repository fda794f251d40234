package repository

import (
	"bytes"
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/iliyamo/branch-reservation/internal/model"
)

var (
	reservationsBucket = []byte("reservations")
	// branchDayBucket indexes reservations as branch|slot|id -> nil so the
	// reservations of one branch day are a contiguous key range.
	branchDayBucket = []byte("reservations_by_branch_slot")
)

const indexTimeLayout = "20060102T150405Z"

// BoltStore keeps reservations as JSON documents in a single BoltDB file.
// Bolt serializes writers, so a RunInTx body never observes a concurrent
// commit and ErrTxConflict is never returned.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file, ensures the buckets
// exist and rewrites documents stored in an older shape.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	s := &BoltStore{db: db}
	if err := db.Update(s.init); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) init(tx *bolt.Tx) error {
	docs, err := tx.CreateBucketIfNotExists(reservationsBucket)
	if err != nil {
		return err
	}
	idx, err := tx.CreateBucketIfNotExists(branchDayBucket)
	if err != nil {
		return err
	}

	// Collect first: bolt forbids modifying a bucket while iterating it.
	var upgraded []*model.Reservation
	err = docs.ForEach(func(k, v []byte) error {
		r, changed, err := decodeDocument(string(k), v)
		if err != nil {
			return err
		}
		if changed {
			upgraded = append(upgraded, r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range upgraded {
		if err := putDocument(docs, idx, r); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(branchID string, at time.Time, id string) []byte {
	k := make([]byte, 0, len(branchID)+len(indexTimeLayout)+len(id)+2)
	k = append(k, branchID...)
	k = append(k, 0)
	k = at.UTC().AppendFormat(k, indexTimeLayout)
	k = append(k, 0)
	return append(k, id...)
}

func putDocument(docs, idx *bolt.Bucket, r *model.Reservation) error {
	data, err := encodeDocument(r)
	if err != nil {
		return err
	}
	if err := docs.Put([]byte(r.ID), data); err != nil {
		return err
	}
	return idx.Put(indexKey(r.BranchID, r.ScheduledAt, r.ID), nil)
}

func getDocument(docs *bolt.Bucket, id string) (*model.Reservation, error) {
	v := docs.Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	r, _, err := decodeDocument(id, v)
	return r, err
}

func (s *BoltStore) Get(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *model.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = getDocument(tx.Bucket(reservationsBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *BoltStore) List(ctx context.Context, q Query) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Reservation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(reservationsBucket).ForEach(func(k, v []byte) error {
			r, _, err := decodeDocument(string(k), v)
			if err != nil {
				return err
			}
			if q.Matches(r) {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortAndPage(out, q.Skip, q.Limit), nil
}

func (s *BoltStore) Update(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *model.Reservation
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(reservationsBucket)
		cur, err := getDocument(docs, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		// ID, branch and slot are immutable, so the index entry stays valid.
		next.ID, next.BranchID, next.ScheduledAt = cur.ID, cur.BranchID, cur.ScheduledAt
		if err := putDocument(docs, tx.Bucket(branchDayBucket), next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(reservationsBucket)
		cur, err := getDocument(docs, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(branchDayBucket).Delete(indexKey(cur.BranchID, cur.ScheduledAt, cur.ID)); err != nil {
			return err
		}
		return docs.Delete([]byte(id))
	})
}

func (s *BoltStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(ctx, &boltTx{tx: btx})
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) ListDay(ctx context.Context, branchID string, from, to time.Time) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := t.tx.Bucket(reservationsBucket)
	c := t.tx.Bucket(branchDayBucket).Cursor()

	prefix := append([]byte(branchID), 0)
	lo := from.UTC().AppendFormat(append([]byte(nil), prefix...), indexTimeLayout)
	hi := to.UTC().AppendFormat(append([]byte(nil), prefix...), indexTimeLayout)

	var out []*model.Reservation
	for k, _ := c.Seek(lo); k != nil && bytes.Compare(k, hi) < 0; k, _ = c.Next() {
		id := k[bytes.LastIndexByte(k, 0)+1:]
		r, err := getDocument(docs, string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *boltTx) Insert(ctx context.Context, r *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	docs := t.tx.Bucket(reservationsBucket)
	if docs.Get([]byte(r.ID)) != nil {
		return ErrDuplicateID
	}
	return putDocument(docs, t.tx.Bucket(branchDayBucket), r)
}
