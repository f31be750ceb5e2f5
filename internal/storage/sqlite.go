package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wasched/internal/schedule"
	logx "wasched/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now Clock
}

const sqliteColumns = `id, target, target_name, at_ms, body, owner_id, sent, created_ms, sent_ms`

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=sqlite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	ddl, err := migration("sqlite.sql")
	if err == nil {
		_, err = db.ExecContext(ctx, ddl)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Create(ctx context.Context, d schedule.Draft) (schedule.Entry, error) {
	e, err := schedule.NewEntry(d, s.now())
	if err != nil {
		return schedule.Entry{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_entries(`+sqliteColumns+`) VALUES(?,?,?,?,?,?,0,?,NULL)`,
		e.ID, e.Target, e.TargetDisplayName, e.DateTime.UnixMilli(), e.Text, e.OwnerID, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return schedule.Entry{}, err
	}
	return e, nil
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) ([]schedule.Entry, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM scheduled_entries WHERE sent = 0 AND at_ms <= ? ORDER BY at_ms, id`,
		now.UnixMilli())
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_entries SET sent = 1, sent_ms = ? WHERE id = ? AND sent = 0`,
		s.now().UnixMilli(), id)
	return affected(res, err)
}

func (s *sqliteStore) ActiveFor(ctx context.Context, ownerID int64) ([]schedule.Entry, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM scheduled_entries WHERE owner_id = ? AND sent = 0 ORDER BY at_ms, id`,
		ownerID)
}

func (s *sqliteStore) Cancel(ctx context.Context, id string, ownerID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_entries WHERE id = ? AND owner_id = ? AND sent = 0`, id, ownerID)
	return affected(res, err)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (schedule.Entry, bool, error) {
	es, err := s.query(ctx, `SELECT `+sqliteColumns+` FROM scheduled_entries WHERE id = ?`, id)
	if err != nil || len(es) == 0 {
		return schedule.Entry{}, false, err
	}
	return es[0], true, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]schedule.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Entry
	for rows.Next() {
		var (
			e               schedule.Entry
			atMS, createdMS int64
			sent            int
			sentMS          sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Target, &e.TargetDisplayName, &atMS, &e.Text, &e.OwnerID, &sent, &createdMS, &sentMS); err != nil {
			return nil, err
		}
		e.DateTime = time.UnixMilli(atMS).UTC()
		e.CreatedAt = time.UnixMilli(createdMS).UTC()
		e.Sent = sent != 0
		if sentMS.Valid {
			t := time.UnixMilli(sentMS.Int64).UTC()
			e.SentAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
