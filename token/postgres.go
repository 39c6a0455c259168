package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the tables used by [PostgresStore].
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS gotoken_token_families (
	token_family TEXT PRIMARY KEY,
	revoked_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS gotoken_refresh_tokens (
	id                TEXT PRIMARY KEY,
	token_hash        TEXT NOT NULL UNIQUE,
	jti               TEXT NOT NULL UNIQUE,
	user_id           TEXT NOT NULL,
	token_family      TEXT NOT NULL REFERENCES gotoken_token_families (token_family),
	session_id        TEXT NOT NULL,
	previous_token_id TEXT,
	issued_at         TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	last_used_at      TIMESTAMPTZ,
	usage_count       INTEGER NOT NULL,
	max_usage_count   INTEGER NOT NULL,
	is_active         BOOLEAN NOT NULL,
	is_revoked        BOOLEAN NOT NULL,
	revoked_at        TIMESTAMPTZ,
	revoked_by        TEXT,
	revoked_reason    TEXT,
	device            JSONB NOT NULL,
	flags             JSONB NOT NULL,
	location          JSONB,
	version           BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS gotoken_refresh_tokens_family_idx ON gotoken_refresh_tokens (token_family);
CREATE INDEX IF NOT EXISTS gotoken_refresh_tokens_user_idx ON gotoken_refresh_tokens (user_id);
`

const selectRecordColumns = `
	id, token_hash, jti, user_id, token_family, session_id, previous_token_id,
	issued_at, expires_at, last_used_at, usage_count, max_usage_count,
	is_active, is_revoked, revoked_at, revoked_by, revoked_reason,
	device, flags, location, version
`

// PostgresStore implements [Store] on PostgreSQL. Conditional writes use
// "WHERE version = $n"; inserts take a FOR SHARE lock on the family row so a
// concurrent MarkFamilyRevoked is ordered against them.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed token store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping implements [Pinger] on the pool.
func (s *PostgresStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.pool.Ping(ctx); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

// EnsureSchema applies [PostgresSchema].
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, r Record) error {
	device, flags, location, err := marshalRecordJSON(r)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO gotoken_token_families (token_family) VALUES ($1)
		ON CONFLICT (token_family) DO NOTHING
	`, r.TokenFamily); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var familyRevokedAt *time.Time
	if err := tx.QueryRow(ctx, `
		SELECT revoked_at FROM gotoken_token_families
		WHERE token_family = $1
		FOR SHARE
	`, r.TokenFamily).Scan(&familyRevokedAt); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if familyRevokedAt != nil {
		return ErrFamilyRevoked
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO gotoken_refresh_tokens (
			id, token_hash, jti, user_id, token_family, session_id, previous_token_id,
			issued_at, expires_at, last_used_at, usage_count, max_usage_count,
			is_active, is_revoked, revoked_at, revoked_by, revoked_reason,
			device, flags, location, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21
		)
	`,
		r.ID, r.TokenHash, r.JTI, r.UserID, r.TokenFamily, r.SessionID, nullIfEmpty(r.PreviousTokenID),
		r.IssuedAt, r.ExpiresAt, nullIfZero(r.LastUsedAt), r.UsageCount, r.MaxUsageCount,
		r.IsActive, r.IsRevoked, nullIfZero(r.RevokedAt), nullIfEmpty(r.RevokedBy), nullIfEmpty(string(r.RevokedReason)),
		device, flags, location, r.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetByID implements [Store].
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectRecordColumns+` FROM gotoken_refresh_tokens WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByHash implements [Store].
func (s *PostgresStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectRecordColumns+` FROM gotoken_refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanRecord(row)
}

// ListByFamily implements [Store].
func (s *PostgresStore) ListByFamily(ctx context.Context, family string) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectRecordColumns+` FROM gotoken_refresh_tokens WHERE token_family = $1 ORDER BY id`, family)
}

// ListByUser implements [Store].
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectRecordColumns+` FROM gotoken_refresh_tokens WHERE user_id = $1 ORDER BY id`, userID)
}

// CompareAndSwap implements [Store]. Identity, lineage and device columns are
// immutable and therefore not part of the update.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, next Record, expectedVersion int64) error {
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("next version %d does not follow %d", next.Version, expectedVersion)
	}
	flags, err := json.Marshal(next.Flags)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE gotoken_refresh_tokens
		SET
			last_used_at = $3,
			usage_count = $4,
			is_active = $5,
			is_revoked = $6,
			revoked_at = $7,
			revoked_by = $8,
			revoked_reason = $9,
			flags = $10,
			version = $11
		WHERE id = $1 AND version = $2
	`,
		next.ID, expectedVersion,
		nullIfZero(next.LastUsedAt), next.UsageCount, next.IsActive, next.IsRevoked,
		nullIfZero(next.RevokedAt), nullIfEmpty(next.RevokedBy), nullIfEmpty(string(next.RevokedReason)),
		flags, next.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.missOrConflict(ctx, next.ID)
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM gotoken_refresh_tokens
		WHERE id = $1 AND version = $2
	`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.missOrConflict(ctx, id)
}

// Scan implements [Store] with keyset pagination on id.
func (s *PostgresStore) Scan(ctx context.Context, cursor string, count int) ([]Record, string, error) {
	if count <= 0 {
		count = 100
	}

	records, err := s.query(ctx, `
		SELECT `+selectRecordColumns+` FROM gotoken_refresh_tokens
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, cursor, count)
	if err != nil {
		return nil, "", err
	}
	if len(records) < count {
		return records, "", nil
	}
	return records, records[len(records)-1].ID, nil
}

// MarkFamilyRevoked implements [Store]. The first revocation time is kept.
func (s *PostgresStore) MarkFamilyRevoked(ctx context.Context, family string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gotoken_token_families (token_family, revoked_at) VALUES ($1, $2)
		ON CONFLICT (token_family) DO UPDATE
		SET revoked_at = COALESCE(gotoken_token_families.revoked_at, EXCLUDED.revoked_at)
	`, family, at)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PruneFamilyMarkers implements [Store]. Families that still own rows are kept
// so the foreign key holds.
func (s *PostgresStore) PruneFamilyMarkers(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM gotoken_token_families f
		WHERE f.revoked_at IS NOT NULL
		  AND f.revoked_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM gotoken_refresh_tokens t WHERE t.token_family = f.token_family
		  )
	`, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM gotoken_refresh_tokens WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r             Record
		previousID    *string
		lastUsedAt    *time.Time
		revokedAt     *time.Time
		revokedBy     *string
		revokedReason *string
		device        []byte
		flags         []byte
		location      []byte
	)

	err := row.Scan(
		&r.ID,
		&r.TokenHash,
		&r.JTI,
		&r.UserID,
		&r.TokenFamily,
		&r.SessionID,
		&previousID,
		&r.IssuedAt,
		&r.ExpiresAt,
		&lastUsedAt,
		&r.UsageCount,
		&r.MaxUsageCount,
		&r.IsActive,
		&r.IsRevoked,
		&revokedAt,
		&revokedBy,
		&revokedReason,
		&device,
		&flags,
		&location,
		&r.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if previousID != nil {
		r.PreviousTokenID = *previousID
	}
	if lastUsedAt != nil {
		r.LastUsedAt = lastUsedAt.UTC()
	}
	if revokedAt != nil {
		r.RevokedAt = revokedAt.UTC()
	}
	if revokedBy != nil {
		r.RevokedBy = *revokedBy
	}
	if revokedReason != nil {
		r.RevokedReason = RevokeReason(*revokedReason)
	}
	r.IssuedAt = r.IssuedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()

	if err := json.Unmarshal(device, &r.Device); err != nil {
		return Record{}, ErrCorruptRecord
	}
	if err := json.Unmarshal(flags, &r.Flags); err != nil {
		return Record{}, ErrCorruptRecord
	}
	if len(location) > 0 {
		var loc Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return Record{}, ErrCorruptRecord
		}
		r.Location = &loc
	}

	return r, nil
}

func marshalRecordJSON(r Record) (device, flags, location []byte, err error) {
	device, err = json.Marshal(r.Device)
	if err != nil {
		return nil, nil, nil, err
	}
	flags, err = json.Marshal(r.Flags)
	if err != nil {
		return nil, nil, nil, err
	}
	if r.Location != nil {
		location, err = json.Marshal(r.Location)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return device, flags, location, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
