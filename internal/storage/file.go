package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wasched/internal/schedule"
	logx "wasched/pkg/logx"
)

// fileStore keeps the whole collection in one JSON array. Each operation
// reads the file, applies the change and writes it back through a temp
// file + rename, all under one mutex.
type fileStore struct {
	path string
	log  logx.Logger
	now  Clock

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{path: path, log: log, now: time.Now}

	// fail fast on a corrupt file instead of at the first tick
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() ([]schedule.Entry, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	var es []schedule.Entry
	if err := json.Unmarshal(b, &es); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", s.path, err)
	}
	return es, nil
}

func (s *fileStore) save(es []schedule.Entry) error {
	if es == nil {
		es = []schedule.Entry{}
	}
	b, err := json.MarshalIndent(es, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// update runs fn on the current collection and persists the result when
// fn reports a change.
func (s *fileStore) update(ctx context.Context, fn func([]schedule.Entry) ([]schedule.Entry, bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	es, err := s.load()
	if err != nil {
		return err
	}
	next, changed, err := fn(es)
	if err != nil || !changed {
		return err
	}
	return s.save(next)
}

func (s *fileStore) view(ctx context.Context, fn func([]schedule.Entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	es, err := s.load()
	if err != nil {
		return err
	}
	fn(es)
	return nil
}

func (s *fileStore) Create(ctx context.Context, d schedule.Draft) (schedule.Entry, error) {
	e, err := schedule.NewEntry(d, s.now())
	if err != nil {
		return schedule.Entry{}, err
	}
	err = s.update(ctx, func(es []schedule.Entry) ([]schedule.Entry, bool, error) {
		return append(es, e), true, nil
	})
	if err != nil {
		return schedule.Entry{}, err
	}
	s.log.Debug("entry stored", logx.String("id", e.ID), logx.Time("at", e.DateTime))
	return e, nil
}

func (s *fileStore) Due(ctx context.Context, now time.Time) ([]schedule.Entry, error) {
	var out []schedule.Entry
	err := s.view(ctx, func(es []schedule.Entry) {
		for _, e := range es {
			if e.Due(now) {
				out = append(out, e)
			}
		}
	})
	schedule.SortByTime(out)
	return out, err
}

func (s *fileStore) MarkSent(ctx context.Context, id string) (bool, error) {
	marked := false
	err := s.update(ctx, func(es []schedule.Entry) ([]schedule.Entry, bool, error) {
		for i := range es {
			if es[i].ID != id {
				continue
			}
			if es[i].Sent {
				return es, false, nil
			}
			at := s.now().UTC()
			es[i].Sent = true
			es[i].SentAt = &at
			marked = true
			return es, true, nil
		}
		return es, false, nil
	})
	return marked, err
}

func (s *fileStore) ActiveFor(ctx context.Context, ownerID int64) ([]schedule.Entry, error) {
	var out []schedule.Entry
	err := s.view(ctx, func(es []schedule.Entry) {
		for _, e := range es {
			if e.OwnerID == ownerID && !e.Sent {
				out = append(out, e)
			}
		}
	})
	schedule.SortByTime(out)
	return out, err
}

func (s *fileStore) Cancel(ctx context.Context, id string, ownerID int64) (bool, error) {
	removed := false
	err := s.update(ctx, func(es []schedule.Entry) ([]schedule.Entry, bool, error) {
		for i, e := range es {
			if e.ID != id {
				continue
			}
			if e.Sent || e.OwnerID != ownerID {
				return es, false, nil
			}
			removed = true
			return append(es[:i:i], es[i+1:]...), true, nil
		}
		return es, false, nil
	})
	return removed, err
}

func (s *fileStore) Get(ctx context.Context, id string) (schedule.Entry, bool, error) {
	var (
		out   schedule.Entry
		found bool
	)
	err := s.view(ctx, func(es []schedule.Entry) {
		for _, e := range es {
			if e.ID == id {
				out, found = e, true
				return
			}
		}
	})
	return out, found, err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
