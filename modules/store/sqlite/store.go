package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cooldownd/internal/grant"
)

// GrantStore implements grant.Store on a SQLite database. The (subject_id,
// scope_id) primary key makes TryCreate's conflict detection and Pop's
// delete-and-return atomic at the database level, which is the engine's
// sole serialization point for same-subject operations.
type GrantStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ grant.Store = (*GrantStore)(nil)

// TryCreate inserts the grant if no grant exists for its key, returning
// grant.ErrAlreadyActive otherwise.
func (s *GrantStore) TryCreate(ctx context.Context, g grant.Grant) error {
	backedUp, err := json.Marshal(g.BackedUp)
	if err != nil {
		return fmt.Errorf("sqlite: marshal backed-up entitlements: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (subject_id, scope_id, backed_up, deadline, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, scope_id) DO NOTHING`,
		g.SubjectID, g.ScopeID, string(backedUp),
		g.Deadline.Unix(), g.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert grant: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return grant.ErrAlreadyActive
	}
	return nil
}

// Get returns the grant for the key, with ok=false if absent.
func (s *GrantStore) Get(ctx context.Context, key grant.Key) (grant.Grant, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backed_up, deadline, created_at
		FROM grants WHERE subject_id = ? AND scope_id = ?`,
		key.SubjectID, key.ScopeID,
	)
	g, err := scanGrant(key, row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Grant{}, false, nil
	}
	if err != nil {
		return grant.Grant{}, false, err
	}
	return g, true, nil
}

// Pop atomically removes and returns the grant for the key. Exactly one of
// several racing callers observes the row; the rest get ok=false.
func (s *GrantStore) Pop(ctx context.Context, key grant.Key) (grant.Grant, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM grants WHERE subject_id = ? AND scope_id = ?
		RETURNING backed_up, deadline, created_at`,
		key.SubjectID, key.ScopeID,
	)
	g, err := scanGrant(key, row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Grant{}, false, nil
	}
	if err != nil {
		return grant.Grant{}, false, err
	}
	return g, true, nil
}

// List returns all stored grants.
func (s *GrantStore) List(ctx context.Context) ([]grant.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, scope_id, backed_up, deadline, created_at
		FROM grants ORDER BY deadline`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var grants []grant.Grant
	for rows.Next() {
		var (
			key          grant.Key
			backedUpJSON string
			deadline     int64
			createdAtStr string
		)
		if err := rows.Scan(&key.SubjectID, &key.ScopeID, &backedUpJSON, &deadline, &createdAtStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan grant: %w", err)
		}
		g, err := buildGrant(key, backedUpJSON, deadline, createdAtStr)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan grant rows: %w", err)
	}
	return grants, nil
}

// Len returns the total number of stored grants.
func (s *GrantStore) Len() int {
	var count int
	if err := s.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM grants").Scan(&count); err != nil {
		s.logger.Error("sqlite: count grants failed", "error", err)
		return 0
	}
	return count
}

// scanner is the subset of sql.Row/sql.Rows needed by scanGrant.
type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(key grant.Key, row scanner) (grant.Grant, error) {
	var (
		backedUpJSON string
		deadline     int64
		createdAtStr string
	)
	if err := row.Scan(&backedUpJSON, &deadline, &createdAtStr); err != nil {
		return grant.Grant{}, err
	}
	return buildGrant(key, backedUpJSON, deadline, createdAtStr)
}

func buildGrant(key grant.Key, backedUpJSON string, deadline int64, createdAtStr string) (grant.Grant, error) {
	g := grant.Grant{
		SubjectID: key.SubjectID,
		ScopeID:   key.ScopeID,
		Deadline:  time.Unix(deadline, 0).UTC(),
	}

	if backedUpJSON != "" && backedUpJSON != "[]" && backedUpJSON != "null" {
		if err := json.Unmarshal([]byte(backedUpJSON), &g.BackedUp); err != nil {
			return grant.Grant{}, fmt.Errorf("sqlite: unmarshal backed-up entitlements: %w", err)
		}
	}

	if createdAtStr != "" {
		t, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return grant.Grant{}, fmt.Errorf("sqlite: parse created_at %q: %w", createdAtStr, err)
		}
		g.CreatedAt = t
	}

	return g, nil
}
