package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "blackoutd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLiteLog is the durable log on a local SQLite file.
type SQLiteLog struct {
	db   *sqlx.DB
	log  logx.Logger
	keep int
}

// DefaultKeepNotifications bounds the notifications table.
const DefaultKeepNotifications = 200

type notificationRow struct {
	ID        int64  `db:"id"`
	Title     string `db:"title"`
	Message   string `db:"message"`
	Type      string `db:"type"`
	Timestamp int64  `db:"timestamp"`
}

// OpenSQLite opens (or creates) the database at cfg.Path, enables WAL mode
// and applies the embedded schema.
func OpenSQLite(cfg Config, log logx.Logger) (*SQLiteLog, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			log.Debug("sqlite busy_timeout pragma failed", logx.Err(err))
		}
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("sqlite WAL pragma failed", logx.Err(err))
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	keep := cfg.KeepNotifications
	if keep <= 0 {
		keep = DefaultKeepNotifications
	}
	s := &SQLiteLog{db: db, log: log, keep: keep}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteLog) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLiteLog) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteLog) AppendNotification(ctx context.Context, r NotificationRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(title, message, type, timestamp) VALUES(?,?,?,?)`,
		r.Title, r.Message, r.Type, r.Timestamp.UnixMilli(),
	); err != nil {
		return err
	}
	// Keep only the newest rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE id NOT IN (
			SELECT id FROM notifications ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, s.keep,
	); err != nil {
		return fmt.Errorf("trimming notifications: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteLog) ListNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, title, message, type, timestamp FROM notifications ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	out := make([]NotificationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, NotificationRecord{
			ID:        r.ID,
			Title:     r.Title,
			Message:   r.Message,
			Type:      r.Type,
			Timestamp: time.UnixMilli(r.Timestamp),
		})
	}
	return out, nil
}

func (s *SQLiteLog) ClearNotifications(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM notifications`)
	return err
}

func (s *SQLiteLog) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, string(value),
	)
	return err
}

func (s *SQLiteLog) GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(v), true, nil
}
