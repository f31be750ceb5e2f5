package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wasched/internal/schedule"
	logx "wasched/pkg/logx"
)

type opener func(t *testing.T) Store

func drivers(t *testing.T) map[string]opener {
	t.Helper()
	out := map[string]opener{
		"file": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "s.db"), BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
	}
	if dsn := os.Getenv("WASCHED_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			if _, err := st.(*postgresStore).pool.Exec(ctx, `TRUNCATE scheduled_entries`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return st
		}
	}
	return out
}

// each driver runs sequentially: the postgres table is shared
func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			fn(t, st)
		})
	}
}

var base = time.Date(2030, 12, 25, 9, 0, 0, 0, time.UTC)

func draft(owner int64, at time.Time, text string) schedule.Draft {
	return schedule.Draft{Target: "6281234567890@c.us", TargetDisplayName: "Budi", DateTime: at, Text: text, OwnerID: owner}
}

func mustCreate(t *testing.T, st Store, d schedule.Draft) schedule.Entry {
	t.Helper()
	e, err := st.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func TestDueLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		e := mustCreate(t, st, draft(1, base, "Hello"))

		due, err := st.Due(ctx, base.Add(-time.Second))
		if err != nil || len(due) != 0 {
			t.Fatalf("before due: %v %v", due, err)
		}
		due, err = st.Due(ctx, base)
		if err != nil || len(due) != 1 || due[0].ID != e.ID {
			t.Fatalf("at due: %v %v", due, err)
		}
		if !due[0].DateTime.Equal(base) || due[0].Text != "Hello" || due[0].TargetDisplayName != "Budi" {
			t.Fatalf("round trip mismatch: %+v", due[0])
		}

		ok, err := st.MarkSent(ctx, e.ID)
		if err != nil || !ok {
			t.Fatalf("MarkSent: %v %v", ok, err)
		}
		ok, err = st.MarkSent(ctx, e.ID)
		if err != nil || ok {
			t.Fatalf("second MarkSent should report false: %v %v", ok, err)
		}
		due, err = st.Due(ctx, base.Add(time.Hour))
		if err != nil || len(due) != 0 {
			t.Fatalf("after sent: %v %v", due, err)
		}

		got, found, err := st.Get(ctx, e.ID)
		if err != nil || !found || !got.Sent || got.SentAt == nil {
			t.Fatalf("Get after sent: %+v %v %v", got, found, err)
		}
		if ok, _ := st.MarkSent(ctx, "missing"); ok {
			t.Fatalf("MarkSent on missing id returned true")
		}
	})
}

func TestDueOrdering(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		late := mustCreate(t, st, draft(1, base.Add(2*time.Minute), "late"))
		early := mustCreate(t, st, draft(2, base, "early"))
		mustCreate(t, st, draft(1, base.Add(time.Hour), "future"))

		due, err := st.Due(ctx, base.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("Due: %v", err)
		}
		if len(due) != 2 || due[0].ID != early.ID || due[1].ID != late.ID {
			t.Fatalf("order: %+v", due)
		}
	})
}

func TestCancelRules(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		a := mustCreate(t, st, draft(1, base, "A"))
		b := mustCreate(t, st, draft(1, base.Add(time.Minute), "B"))
		c := mustCreate(t, st, draft(1, base.Add(2*time.Minute), "C"))
		sent := mustCreate(t, st, draft(1, base.Add(3*time.Minute), "S"))
		if ok, err := st.MarkSent(ctx, sent.ID); !ok || err != nil {
			t.Fatalf("MarkSent: %v %v", ok, err)
		}

		cases := []struct {
			name  string
			id    string
			owner int64
			want  bool
		}{
			{"wrong owner", b.ID, 2, false},
			{"already sent", sent.ID, 1, false},
			{"missing", "nope", 1, false},
			{"owner cancels", b.ID, 1, true},
			{"twice", b.ID, 1, false},
		}
		for _, tc := range cases {
			ok, err := st.Cancel(ctx, tc.id, tc.owner)
			if err != nil || ok != tc.want {
				t.Fatalf("%s: ok=%v err=%v want %v", tc.name, ok, err, tc.want)
			}
		}

		active, err := st.ActiveFor(ctx, 1)
		if err != nil {
			t.Fatalf("ActiveFor: %v", err)
		}
		if len(active) != 2 || active[0].ID != a.ID || active[1].ID != c.ID {
			t.Fatalf("active after cancel: %+v", active)
		}
		if _, found, _ := st.Get(ctx, b.ID); found {
			t.Fatalf("cancelled entry still stored")
		}
		if other, _ := st.ActiveFor(ctx, 2); len(other) != 0 {
			t.Fatalf("other owner sees entries: %+v", other)
		}
	})
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		_, err := st.Create(context.Background(), draft(1, base, "   "))
		if !errors.Is(err, schedule.ErrInvalidDraft) {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestConcurrentMarkSentIsExclusive(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		e := mustCreate(t, st, draft(1, base, "once"))

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			won int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := st.MarkSent(context.Background(), e.ID)
				if err != nil {
					t.Errorf("MarkSent: %v", err)
					return
				}
				if ok {
					mu.Lock()
					won++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if won != 1 {
			t.Fatalf("MarkSent succeeded %d times", won)
		}
	})
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "s.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e := mustCreate(t, st, draft(9, base, "persist"))
	_ = st.Close()

	if _, err := st.Due(context.Background(), base); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed store err=%v", err)
	}

	st2, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, found, err := st2.Get(context.Background(), e.ID)
	if err != nil || !found || got.Text != "persist" || got.OwnerID != 9 {
		t.Fatalf("reopened Get: %+v %v %v", got, found, err)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop()); err == nil {
		t.Fatalf("corrupt file accepted")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("postgres without dsn accepted")
	}
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("sqlite without path accepted")
	}
}
