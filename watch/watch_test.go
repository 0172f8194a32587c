package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/codementor/dbopen"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t)
}

func bump(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := Bump(context.Background(), db); err != nil {
		t.Fatal(err)
	}
}

func TestBump(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v, err := PragmaUserVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}

	bump(t, db)
	bump(t, db)
	if v, _ = PragmaUserVersion(ctx, db); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
}

func TestBump_InTx(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if err := Bump(ctx, tx); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	if err == nil {
		t.Fatal("expected rollback error")
	}
	if v, _ := PragmaUserVersion(ctx, db); v != 0 {
		t.Errorf("rolled back bump persisted: %d", v)
	}
}

func TestOnChange_FiresAndPublishes(t *testing.T) {
	db := testDB(t)

	var reloads atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond})
	ch, cancelSub := w.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	bump(t, db)
	select {
	case v := <-ch:
		if v != 1 {
			t.Fatalf("published version: got %d, want 1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	if reloads.Load() != 1 {
		t.Fatalf("expected 1 reload, got %d", reloads.Load())
	}

	time.Sleep(80 * time.Millisecond)
	if reloads.Load() != 1 {
		t.Fatalf("reload without change: %d", reloads.Load())
	}
	if s := w.Stats(); s.Subscribers != 1 || s.Reloads != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := testDB(t)

	var reloads atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Debounce: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		bump(t, db)
		time.Sleep(15 * time.Millisecond)
	}
	if got := reloads.Load(); got != 0 {
		t.Fatalf("expected 0 reloads during debounce, got %d", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 debounced reload, got %d", got)
	}
	if w.Version() != 5 {
		t.Errorf("version: got %d, want 5", w.Version())
	}
}

func TestOnChange_ErrorRetried(t *testing.T) {
	db := testDB(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	bump(t, db)
	time.Sleep(120 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected a retry after failure, got %d calls", got)
	}
	if v := w.Version(); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
}

func TestSubscribe_LatestOnly(t *testing.T) {
	w := New(nil, Options{})
	ch, cancel := w.Subscribe()

	w.publish(1)
	w.publish(2)
	if v := <-ch; v != 2 {
		t.Errorf("got %d, want latest 2", v)
	}

	cancel()
	cancel()
	w.publish(3)
	select {
	case v := <-ch:
		t.Errorf("cancelled subscriber received %d", v)
	default:
	}
}
