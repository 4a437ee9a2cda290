// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/decentracode/attendme/internal/app/domain/attendance"
	"github.com/decentracode/attendme/internal/app/domain/reward"
	"github.com/decentracode/attendme/internal/app/domain/session"
	"github.com/decentracode/attendme/internal/app/domain/whitelist"
	"github.com/decentracode/attendme/internal/app/storage"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// Store implements the storage interfaces on top of a sqlx handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.WhitelistStore = (*Store)(nil)
var _ storage.AttendanceStore = (*Store)(nil)
var _ storage.ClaimStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// --- WhitelistStore ---------------------------------------------------------

func (s *Store) AddWhitelistEntry(ctx context.Context, address string) (whitelist.Entry, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelist (address)
		VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`, address)
	if err != nil {
		return whitelist.Entry{}, err
	}

	var entry whitelist.Entry
	if err := s.db.GetContext(ctx, &entry, `
		SELECT address, created_at FROM whitelist WHERE address = $1
	`, address); err != nil {
		return whitelist.Entry{}, err
	}
	return entry, nil
}

func (s *Store) WhitelistContains(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM whitelist WHERE address = $1)
	`, address)
	return exists, err
}

func (s *Store) ListWhitelist(ctx context.Context) ([]whitelist.Entry, error) {
	var entries []whitelist.Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT address, created_at FROM whitelist ORDER BY created_at
	`)
	return entries, err
}

// --- AttendanceStore --------------------------------------------------------

func (s *Store) RegisterAttendance(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return attendance.Record{}, err
	}
	defer tx.Rollback()

	var whitelisted bool
	if err := tx.GetContext(ctx, &whitelisted, `
		SELECT EXISTS (SELECT 1 FROM whitelist WHERE address = $1)
	`, rec.Address); err != nil {
		return attendance.Record{}, err
	}
	if !whitelisted {
		return attendance.Record{}, storage.ErrNotWhitelisted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendances (id, address, name, session_code, message, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Address, rec.Name, rec.SessionCode, rec.Message, rec.Signature, rec.Timestamp)
	if err != nil {
		// The constraint, not the check above, decides races: a concurrent
		// insert surfaces here as a unique violation, a concurrent
		// whitelist removal as an FK violation.
		switch pqCode(err) {
		case pqUniqueViolation:
			return attendance.Record{}, storage.ErrAlreadyRegistered
		case pqForeignKeyViolation:
			return attendance.Record{}, storage.ErrNotWhitelisted
		}
		return attendance.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return attendance.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListAttendanceByAddress(ctx context.Context, address string) ([]attendance.Record, error) {
	var records []attendance.Record
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, address, name, session_code, message, signature, created_at
		FROM attendances
		WHERE address = $1
		ORDER BY created_at ASC
	`, address)
	return records, err
}

// --- ClaimStore -------------------------------------------------------------

func (s *Store) ReserveClaim(ctx context.Context, claim reward.Claim) (reward.Claim, error) {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	claim.Status = reward.StatusPending
	claim.CreatedAt = now
	claim.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (id, address, amount, tx_hash, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, '', $5, $6)
	`, claim.ID, claim.Address, claim.Amount, claim.Status, claim.CreatedAt, claim.UpdatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return reward.Claim{}, storage.ErrClaimExists
		}
		return reward.Claim{}, err
	}
	return claim, nil
}

func (s *Store) SetClaimTxHash(ctx context.Context, id, txHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE claims SET tx_hash = $2, updated_at = $3 WHERE id = $1
	`, id, txHash, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SettleClaim(ctx context.Context, id string, status reward.Status, cause string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = $2, error = $3, updated_at = $4 WHERE id = $1
	`, id, status, cause, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (reward.Claim, error) {
	var claim reward.Claim
	err := s.db.GetContext(ctx, &claim, `
		SELECT id, address, amount, tx_hash, status, error, created_at, updated_at
		FROM claims
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.Claim{}, storage.ErrNotFound
	}
	return claim, err
}

func (s *Store) GetActiveClaimByAddress(ctx context.Context, address string) (reward.Claim, error) {
	var claim reward.Claim
	err := s.db.GetContext(ctx, &claim, `
		SELECT id, address, amount, tx_hash, status, error, created_at, updated_at
		FROM claims
		WHERE address = $1 AND status IN ('pending', 'succeeded')
	`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.Claim{}, storage.ErrNotFound
	}
	return claim, err
}

func (s *Store) ListPendingClaims(ctx context.Context) ([]reward.Claim, error) {
	var claims []reward.Claim
	err := s.db.SelectContext(ctx, &claims, `
		SELECT id, address, amount, tx_hash, status, error, created_at, updated_at
		FROM claims
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`)
	return claims, err
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) UpsertSession(ctx context.Context, sess session.Session) (session.Session, error) {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (code, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET name = $2, active = $3, updated_at = $5
	`, sess.Code, sess.Name, sess.Active, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	return s.GetSession(ctx, sess.Code)
}

func (s *Store) GetSession(ctx context.Context, code string) (session.Session, error) {
	var sess session.Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT code, name, active, created_at, updated_at
		FROM sessions
		WHERE code = $1
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT code, name, active, created_at, updated_at
		FROM sessions
		ORDER BY created_at
	`)
	return sessions, err
}
