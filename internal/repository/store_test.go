package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/branch-reservation/internal/model"
)

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func newReservation(id, branch string, at time.Time, number int) *model.Reservation {
	return &model.Reservation{
		ID:              id,
		UserID:          "user-" + id,
		CompanyID:       "acme",
		BranchID:        branch,
		ScheduledAt:     at,
		ReceptionNumber: number,
		Status:          model.StatusAccepted,
		CreatedAt:       day,
		UpdatedAt:       day,
	}
}

func insert(t *testing.T, s Store, rs ...*model.Reservation) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for _, r := range rs {
			if err := tx.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"bolt": func(t *testing.T) Store {
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "reservations.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			runStoreContract(t, open)
		})
	}
}

func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insert then get", func(t *testing.T) {
		s := open(t)
		confirmed := day.Add(11 * time.Hour)
		r := newReservation("a", "b1", day.Add(10*time.Hour), 1)
		r.Notes = "window seat"
		r.ConfirmedAt = &confirmed
		insert(t, s, r)

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "window seat", got.Notes)
		assert.True(t, got.ScheduledAt.Equal(r.ScheduledAt))
		require.NotNil(t, got.ConfirmedAt)
		assert.True(t, got.ConfirmedAt.Equal(confirmed))

		again, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := open(t)
		insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.Insert(ctx, newReservation("a", "b1", day.Add(11*time.Hour), 2))
		})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("list day is bounded by branch and range", func(t *testing.T) {
		s := open(t)
		insert(t, s,
			newReservation("a", "b1", day.Add(10*time.Hour), 1),
			newReservation("b", "b1", day.Add(23*time.Hour+30*time.Minute), 2),
			newReservation("c", "b1", day.Add(24*time.Hour), 1),
			newReservation("d", "b2", day.Add(10*time.Hour), 1),
			newReservation("e", "b10", day.Add(12*time.Hour), 1),
		)
		var ids []string
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			rs, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
			for _, r := range rs {
				ids = append(ids, r.ID)
			}
			return err
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, ids)
	})

	t.Run("tx sees its own inserts", func(t *testing.T) {
		s := open(t)
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.Insert(ctx, newReservation("a", "b1", day.Add(10*time.Hour), 1)); err != nil {
				return err
			}
			rs, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
			if err != nil {
				return err
			}
			assert.Len(t, rs, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		s := open(t)
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.Insert(ctx, newReservation("a", "b1", day.Add(10*time.Hour), 1)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters order and pages", func(t *testing.T) {
		s := open(t)
		var rs []*model.Reservation
		for i := 0; i < 5; i++ {
			r := newReservation(fmt.Sprintf("r%d", i), "b1", day.Add(time.Duration(10+i)*time.Hour), i+1)
			r.UserID = "u1"
			rs = append(rs, r)
		}
		rs[4].Status = model.StatusCancelled
		other := newReservation("x", "b2", day.Add(9*time.Hour), 1)
		other.UserID = "u2"
		insert(t, s, append(rs, other)...)

		got, err := s.List(ctx, Query{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, "r4", got[0].ID)
		assert.Equal(t, "r0", got[4].ID)

		got, err = s.List(ctx, Query{UserID: "u1", ExcludeCancelled: true, Skip: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r2", got[0].ID)
		assert.Equal(t, "r1", got[1].ID)

		got, err = s.List(ctx, Query{Status: model.StatusCancelled})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r4", got[0].ID)

		got, err = s.List(ctx, Query{BranchID: "b1", From: day.Add(11 * time.Hour), To: day.Add(13 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.List(ctx, Query{UserID: "u1", Skip: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("update", func(t *testing.T) {
		s := open(t)
		insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))

		updated, err := s.Update(ctx, "a", func(r *model.Reservation) error {
			r.Status = model.StatusConfirmed
			r.Notes = "late"
			r.UpdatedAt = day.Add(time.Hour)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, updated.Status)

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "late", got.Notes)
		assert.True(t, got.UpdatedAt.Equal(day.Add(time.Hour)))

		refused := errors.New("refused")
		_, err = s.Update(ctx, "a", func(r *model.Reservation) error {
			r.Notes = "changed"
			return refused
		})
		assert.ErrorIs(t, err, refused)
		got, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "late", got.Notes)

		_, err = s.Update(ctx, "missing", func(*model.Reservation) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))
		require.NoError(t, s.Delete(ctx, "a"))
		assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			rs, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
			assert.Empty(t, rs)
			return err
		})
		require.NoError(t, err)
	})
}

func TestMemoryStoreDetectsConflictingCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
			return err
		}
		// A competing transaction commits after our read.
		insert(t, s, newReservation("other", "b1", day.Add(10*time.Hour), 1))
		return tx.Insert(ctx, newReservation("mine", "b1", day.Add(10*time.Hour), 1))
	})
	assert.ErrorIs(t, err, ErrTxConflict)

	_, err = s.Get(ctx, "mine")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIgnoresOtherBranches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
			return err
		}
		insert(t, s, newReservation("other", "b2", day.Add(10*time.Hour), 1))
		return tx.Insert(ctx, newReservation("mine", "b1", day.Add(10*time.Hour), 1))
	})
	require.NoError(t, err)
}

func TestMemoryStoreUpdateInvalidatesReaders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
			return err
		}
		_, err := s.Update(ctx, "a", func(r *model.Reservation) error {
			r.Status = model.StatusCancelled
			return nil
		})
		require.NoError(t, err)
		return tx.Insert(ctx, newReservation("b", "b1", day.Add(10*time.Hour), 2))
	})
	assert.ErrorIs(t, err, ErrTxConflict)
}

func TestStoreHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.Notes = "mutated"

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, again.Notes)
}

func TestMemoryStoreIgnoresWritesOutsideReadRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	insert(t, s, newReservation("next-week", "b1", day.AddDate(0, 0, 7).Add(10*time.Hour), 1))

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
			return err
		}
		_, err := s.Update(ctx, "next-week", func(r *model.Reservation) error {
			r.Notes = "edited"
			return nil
		})
		require.NoError(t, err)
		return tx.Insert(ctx, newReservation("mine", "b1", day.Add(10*time.Hour), 1))
	})
	require.NoError(t, err)
}

func TestMemoryStoreDeleteInsideReadRangeConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	insert(t, s, newReservation("a", "b1", day.Add(10*time.Hour), 1))

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
			return err
		}
		require.NoError(t, s.Delete(ctx, "a"))
		return tx.Insert(ctx, newReservation("b", "b1", day.Add(11*time.Hour), 2))
	})
	assert.ErrorIs(t, err, ErrTxConflict)
}

func TestMemoryStoreQueuesReadersOfOneDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	read, release := make(chan struct{}), make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour)); err != nil {
				return err
			}
			close(read)
			<-release
			return tx.Insert(ctx, newReservation("first", "b1", day.Add(10*time.Hour), 1))
		})
	}()
	<-read

	second := make(chan int, 1)
	go func() {
		_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			rs, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
			second <- len(rs)
			return err
		})
	}()

	select {
	case <-second:
		t.Fatal("second reader ran while the first held the day")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-first)
	select {
	case n := <-second:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("second reader never ran")
	}
}

func TestMemoryStoreLockWaitHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	held, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
			_, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
			close(held)
			<-release
			return err
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.ListDay(ctx, "b1", day, day.Add(24*time.Hour))
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
