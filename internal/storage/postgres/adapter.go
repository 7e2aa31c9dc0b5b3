package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/progress"
	"github.com/mkurata/gh-lang-stats/internal/storage"
)

// postgresBackend implements the Backend interface for PostgreSQL
type postgresBackend struct {
	db *sql.DB
}

// NewBackend creates a new PostgreSQL backend instance
func NewBackend(databaseURL string) (storage.Backend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	b := &postgresBackend{db: db}
	if err := b.migrate(context.Background()); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *postgresBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		username TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repositories (
		username TEXT NOT NULL,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		is_private BOOLEAN NOT NULL,
		position INTEGER NOT NULL,
		sha_complete BOOLEAN NOT NULL DEFAULT FALSE,
		pr_complete BOOLEAN NOT NULL DEFAULT FALSE,
		pr_count INTEGER,
		PRIMARY KEY (username, owner, name)
	);

	CREATE TABLE IF NOT EXISTS commits (
		username TEXT NOT NULL,
		repo TEXT NOT NULL,
		sha TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (username, repo, sha)
	);

	CREATE INDEX IF NOT EXISTS idx_commits_username_repo ON commits(username, repo);

	CREATE TABLE IF NOT EXISTS commit_details (
		username TEXT NOT NULL,
		sha TEXT NOT NULL,
		tombstone BOOLEAN NOT NULL,
		payload JSONB,
		PRIMARY KEY (username, sha)
	);
	`

	_, err := b.db.ExecContext(ctx, schema)
	return err
}

// Load reads the snapshot for a user. Missing or version-mismatched state
// yields an empty one.
func (b *postgresBackend) Load(ctx context.Context, user string) (*progress.State, error) {
	var version int
	err := b.db.QueryRowContext(ctx, `SELECT version FROM meta WHERE username = $1`, user).Scan(&version)
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
		FROM repositories WHERE username = $1 ORDER BY position`, user)
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
		SELECT repo, sha FROM commits WHERE username = $1 ORDER BY repo, position`, user)
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
		SELECT sha, tombstone, payload FROM commit_details WHERE username = $1`, user)
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
func (b *postgresBackend) Save(ctx context.Context, user string, state *progress.State) error {
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
		`INSERT INTO meta (username, version) VALUES ($1, $2)`, user, snap.Version); err != nil {
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
			INSERT INTO repositories (username, owner, name, is_private, position, sha_complete, pr_complete, pr_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			user, repo.Owner, repo.Name, repo.IsPrivate, i,
			shaComplete[repo.Key()], prComplete[repo.Key()], prCount); err != nil {
			return err
		}
	}

	for repo, shas := range snap.Commits {
		for i, sha := range shas {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commits (username, repo, sha, position) VALUES ($1, $2, $3, $4)`,
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
			INSERT INTO commit_details (username, sha, tombstone, payload) VALUES ($1, $2, $3, $4)`,
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

func (b *postgresBackend) reset(ctx context.Context, user string) error {
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE username = $1`, user); err != nil {
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
func (b *postgresBackend) Close() error {
	return b.db.Close()
}
