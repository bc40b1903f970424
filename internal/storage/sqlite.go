package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "sitewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type sqliteStore struct {
	db  *sqlx.DB
	cap int
	log logx.Logger
}

// Open initializes the registry, creating the database file and schema if
// needed. Any error here means the process must not start.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.MaxSubscribers < 1 {
		return nil, errors.New("max subscribers must be >= 1")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, cap: cfg.MaxSubscribers, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init subscriber schema: %w", err)
	}
	log.Debug("subscriber store ready",
		logx.String("path", cfg.Path),
		logx.Int("max_subscribers", cfg.MaxSubscribers),
	)
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM subscribers`); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) ListSubscribed(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT chat_id FROM subscribers WHERE is_subscribed = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sqliteStore) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	var flag int
	err := s.db.GetContext(ctx, &flag,
		`SELECT is_subscribed FROM subscribers WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag == 1, nil
}

func (s *sqliteStore) Subscribe(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var flag int
	err = tx.GetContext(ctx, &flag,
		`SELECT is_subscribed FROM subscribers WHERE chat_id = ?`, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// New identity: the cap check and insert share this transaction so
		// concurrent subscribes cannot overshoot.
		var total int
		if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM subscribers`); err != nil {
			return err
		}
		if total >= s.cap {
			return ErrCapacityExceeded
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers(chat_id, is_subscribed, created_at, updated_at) VALUES(?, 1, ?, ?)`,
			chatID, now, now,
		); err != nil {
			return err
		}
	case err != nil:
		return err
	case flag == 0:
		// Known identity opting back in; does not count against the cap.
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscribers SET is_subscribed = 1, updated_at = ? WHERE chat_id = ?`,
			now, chatID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE subscribers SET is_subscribed = 0, updated_at = ? WHERE chat_id = ? AND is_subscribed = 1`,
		now, chatID,
	); err != nil {
		return err
	}
	return tx.Commit()
}
