package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wasched/internal/schedule"
	logx "wasched/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  Clock
}

const pgColumns = `id, target, target_name, at, body, owner_id, sent, created_at, sent_at`

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required when storage.driver=postgres")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: postgres ping: %w", err)
	}
	ddl, err := migration("postgres.sql")
	if err == nil {
		_, err = pool.Exec(ctx, ddl)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: postgres migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

func (s *postgresStore) Create(ctx context.Context, d schedule.Draft) (schedule.Entry, error) {
	e, err := schedule.NewEntry(d, s.now())
	if err != nil {
		return schedule.Entry{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scheduled_entries(`+pgColumns+`) VALUES($1,$2,$3,$4,$5,$6,FALSE,$7,NULL)`,
		e.ID, e.Target, e.TargetDisplayName, e.DateTime, e.Text, e.OwnerID, e.CreatedAt,
	)
	if err != nil {
		return schedule.Entry{}, err
	}
	return e, nil
}

func (s *postgresStore) Due(ctx context.Context, now time.Time) ([]schedule.Entry, error) {
	return s.query(ctx,
		`SELECT `+pgColumns+` FROM scheduled_entries WHERE NOT sent AND at <= $1 ORDER BY at, id`, now.UTC())
}

func (s *postgresStore) MarkSent(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_entries SET sent = TRUE, sent_at = $2 WHERE id = $1 AND NOT sent`, id, s.now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) ActiveFor(ctx context.Context, ownerID int64) ([]schedule.Entry, error) {
	return s.query(ctx,
		`SELECT `+pgColumns+` FROM scheduled_entries WHERE owner_id = $1 AND NOT sent ORDER BY at, id`, ownerID)
}

func (s *postgresStore) Cancel(ctx context.Context, id string, ownerID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scheduled_entries WHERE id = $1 AND owner_id = $2 AND NOT sent`, id, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (schedule.Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM scheduled_entries WHERE id = $1`, id)
	e, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Entry{}, false, nil
	}
	if err != nil {
		return schedule.Entry{}, false, err
	}
	return e, true, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) query(ctx context.Context, q string, args ...any) ([]schedule.Entry, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Entry
	for rows.Next() {
		e, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPG(row pgx.Row) (schedule.Entry, error) {
	var (
		e      schedule.Entry
		sentAt *time.Time
	)
	if err := row.Scan(&e.ID, &e.Target, &e.TargetDisplayName, &e.DateTime, &e.Text, &e.OwnerID, &e.Sent, &e.CreatedAt, &sentAt); err != nil {
		return schedule.Entry{}, err
	}
	e.DateTime = e.DateTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if sentAt != nil {
		t := sentAt.UTC()
		e.SentAt = &t
	}
	return e, nil
}
