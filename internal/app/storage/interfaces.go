package storage

import (
	"context"

	"github.com/decentracode/attendme/internal/app/domain/attendance"
	"github.com/decentracode/attendme/internal/app/domain/reward"
	"github.com/decentracode/attendme/internal/app/domain/session"
	"github.com/decentracode/attendme/internal/app/domain/whitelist"
)

// WhitelistStore persists the set of addresses permitted to register.
type WhitelistStore interface {
	// AddWhitelistEntry inserts an address; adding an existing address is a
	// no-op that returns the stored entry.
	AddWhitelistEntry(ctx context.Context, address string) (whitelist.Entry, error)
	WhitelistContains(ctx context.Context, address string) (bool, error)
	ListWhitelist(ctx context.Context) ([]whitelist.Entry, error)
}

// AttendanceStore persists attendance records.
type AttendanceStore interface {
	// RegisterAttendance inserts the record inside one transaction: the
	// whitelist membership check and the insert under the
	// (address, session_code) unique constraint either both happen or
	// neither does. Returns ErrNotWhitelisted or ErrAlreadyRegistered.
	RegisterAttendance(ctx context.Context, rec attendance.Record) (attendance.Record, error)
	// ListAttendanceByAddress returns records ordered by timestamp ascending.
	ListAttendanceByAddress(ctx context.Context, address string) ([]attendance.Record, error)
}

// ClaimStore persists reward claims.
type ClaimStore interface {
	// ReserveClaim inserts a pending claim. A pending or succeeded claim
	// already held by the address makes this fail with ErrClaimExists; the
	// store's partial unique index is the arbiter under concurrency.
	ReserveClaim(ctx context.Context, claim reward.Claim) (reward.Claim, error)
	// SetClaimTxHash records the submitted transaction hash on a pending claim.
	SetClaimTxHash(ctx context.Context, id, txHash string) error
	// SettleClaim moves a claim to succeeded or failed.
	SettleClaim(ctx context.Context, id string, status reward.Status, cause string) error
	GetClaim(ctx context.Context, id string) (reward.Claim, error)
	// GetActiveClaimByAddress returns the address's pending or succeeded
	// claim, or ErrNotFound.
	GetActiveClaimByAddress(ctx context.Context, address string) (reward.Claim, error)
	// ListPendingClaims returns claims awaiting settlement, oldest first.
	ListPendingClaims(ctx context.Context) ([]reward.Claim, error)
}

// SessionStore persists the session registry.
type SessionStore interface {
	UpsertSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, code string) (session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
}
