package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"unfollowbot/internal/model"
	logx "unfollowbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the ledger in three tables. Save replaces the whole
// snapshot inside one transaction, so unlike the file driver a crash leaves
// either the old or the new snapshot.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = 'saved_at'`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	snap := Snapshot{Followers: []model.Follower{}, MessagedUsers: []string{}}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM followers ORDER BY pos`)
	if err != nil {
		return Snapshot{}, false, err
	}
	for rows.Next() {
		var f model.Follower
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			_ = rows.Close()
			return Snapshot{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		snap.Followers = append(snap.Followers, f)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Snapshot{}, false, err
	}
	if err := rows.Close(); err != nil {
		return Snapshot{}, false, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id FROM messaged_users ORDER BY pos`)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Snapshot{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		snap.MessagedUsers = append(snap.MessagedUsers, id)
	}
	return snap, true, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM followers`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messaged_users`); err != nil {
		return err
	}

	fstmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO followers(pos, id, name) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer fstmt.Close()
	for i, f := range snap.Followers {
		if _, err := fstmt.ExecContext(ctx, i, f.ID, f.Name); err != nil {
			return err
		}
	}

	mstmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO messaged_users(pos, id) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer mstmt.Close()
	for i, id := range snap.MessagedUsers {
		if _, err := mstmt.ExecContext(ctx, i, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_meta(key, value) VALUES('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}
