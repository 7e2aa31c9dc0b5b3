package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/progress"
	"github.com/mkurata/gh-lang-stats/internal/storage"
)

// sqliteBackend implements the Backend interface for SQLite
type sqliteBackend struct {
	db *sql.DB
}

// NewBackend creates a new SQLite backend instance
func NewBackend(dbPath string) (storage.Backend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	b := &sqliteBackend{db: db}
	if err := b.migrate(context.Background()); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *sqliteBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		user TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repositories (
		user TEXT NOT NULL,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		is_private INTEGER NOT NULL,
		position INTEGER NOT NULL,
		sha_complete INTEGER NOT NULL DEFAULT 0,
		pr_complete INTEGER NOT NULL DEFAULT 0,
		pr_count INTEGER,
		PRIMARY KEY (user, owner, name)
	);

	CREATE TABLE IF NOT EXISTS commits (
		user TEXT NOT NULL,
		repo TEXT NOT NULL,
		sha TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (user, repo, sha)
	);

	CREATE INDEX IF NOT EXISTS idx_commits_user_repo ON commits(user, repo);

	CREATE TABLE IF NOT EXISTS commit_details (
		user TEXT NOT NULL,
		sha TEXT NOT NULL,
		tombstone INTEGER NOT NULL,
		payload TEXT,
		PRIMARY KEY (user, sha)
	);
	`

	_, err := b.db.ExecContext(ctx, schema)
	return err
}

// Load reads the snapshot for a user. A missing or version-mismatched row in
// meta discards any stored rows and yields an empty state.
func (b *sqliteBackend) Load(ctx context.Context, user string) (*progress.State, error) {
	var version int
	err := b.db.QueryRowContext(ctx, `SELECT version FROM meta WHERE user = ?`, user).Scan(&version)
	if err == sql.ErrNoRows {
		return progress.NewState(), nil
	}
	if err != nil {
		return progress.NewState(), nil
	}
	if version != progress.SchemaVersion {
		if err := b.reset(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to reset stale snapshot: %w", err)
		}
		return progress.NewState(), nil
	}

	snap := &progress.Snapshot{
		Version:  progress.SchemaVersion,
		Commits:  make(map[string][]string),
		Details:  make(map[string]*domain.CommitDetail),
		PRCounts: make(map[string]int),
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT owner, name, is_private, sha_complete, pr_complete, pr_count
		FROM repositories WHERE user = ? ORDER BY position`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var repo domain.Repository
		var shaComplete, prComplete bool
		var prCount sql.NullInt64
		if err := rows.Scan(&repo.Owner, &repo.Name, &repo.IsPrivate, &shaComplete, &prComplete, &prCount); err != nil {
			return nil, err
		}
		snap.Repositories = append(snap.Repositories, repo)
		if shaComplete {
			snap.SHAComplete = append(snap.SHAComplete, repo.Key())
		}
		if prComplete {
			snap.PRComplete = append(snap.PRComplete, repo.Key())
		}
		if prCount.Valid {
			snap.PRCounts[repo.Key()] = int(prCount.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	commitRows, err := b.db.QueryContext(ctx, `
		SELECT repo, sha FROM commits WHERE user = ? ORDER BY repo, position`, user)
	if err != nil {
		return nil, err
	}
	defer commitRows.Close()
	for commitRows.Next() {
		var repo, sha string
		if err := commitRows.Scan(&repo, &sha); err != nil {
			return nil, err
		}
		snap.Commits[repo] = append(snap.Commits[repo], sha)
	}
	if err := commitRows.Err(); err != nil {
		return nil, err
	}

	detailRows, err := b.db.QueryContext(ctx, `
		SELECT sha, tombstone, payload FROM commit_details WHERE user = ?`, user)
	if err != nil {
		return nil, err
	}
	defer detailRows.Close()
	for detailRows.Next() {
		var sha string
		var tombstone bool
		var payload sql.NullString
		if err := detailRows.Scan(&sha, &tombstone, &payload); err != nil {
			return nil, err
		}
		if tombstone || !payload.Valid {
			snap.Details[sha] = nil
			continue
		}
		var detail domain.CommitDetail
		if err := json.Unmarshal([]byte(payload.String), &detail); err != nil {
			// Unparseable payload is a cache integrity failure; treat the
			// whole snapshot as unusable.
			if err := b.reset(ctx, user); err != nil {
				return nil, err
			}
			return progress.NewState(), nil
		}
		snap.Details[sha] = &detail
	}
	if err := detailRows.Err(); err != nil {
		return nil, err
	}

	return progress.FromSnapshot(snap), nil
}

// Save replaces the stored snapshot for a user inside one transaction.
func (b *sqliteBackend) Save(ctx context.Context, user string, state *progress.State) error {
	snap := state.Snapshot()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteUserRows(ctx, tx, user); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (user, version) VALUES (?, ?)`, user, snap.Version); err != nil {
		return err
	}

	shaComplete := toSet(snap.SHAComplete)
	prComplete := toSet(snap.PRComplete)
	for i, repo := range snap.Repositories {
		var prCount interface{}
		if n, ok := snap.PRCounts[repo.Key()]; ok {
			prCount = n
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repositories (user, owner, name, is_private, position, sha_complete, pr_complete, pr_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			user, repo.Owner, repo.Name, repo.IsPrivate, i,
			shaComplete[repo.Key()], prComplete[repo.Key()], prCount); err != nil {
			return err
		}
	}

	for repo, shas := range snap.Commits {
		for i, sha := range shas {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commits (user, repo, sha, position) VALUES (?, ?, ?, ?)`,
				user, repo, sha, i); err != nil {
				return err
			}
		}
	}

	for sha, detail := range snap.Details {
		var payload interface{}
		tombstone := detail == nil
		if detail != nil {
			data, err := json.Marshal(detail)
			if err != nil {
				return err
			}
			payload = string(data)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO commit_details (user, sha, tombstone, payload) VALUES (?, ?, ?, ?)`,
			user, sha, tombstone, payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	state.MarkSaved()
	return nil
}

func (b *sqliteBackend) reset(ctx context.Context, user string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteUserRows(ctx, tx, user); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteUserRows(ctx context.Context, tx *sql.Tx, user string) error {
	for _, table := range []string{"meta", "repositories", "commits", "commit_details"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user = ?`, user); err != nil {
			return err
		}
	}
	return nil
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Close closes the database connection
func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
