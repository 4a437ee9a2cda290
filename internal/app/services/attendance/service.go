// Package attendance orchestrates proof-of-attendance registration: session
// validation, signature verification and durable recording.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/decentracode/attendme/internal/app/domain/attendance"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/internal/ethsign"
	"github.com/decentracode/attendme/pkg/logger"
)

// Sentinel errors surfaced to the HTTP boundary.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidSession       = errors.New("invalid session code")
	ErrAuthenticationFailed = errors.New("signature does not match address")
)

// SessionChecker is the external active-session source.
type SessionChecker interface {
	IsActive(ctx context.Context, code string) (bool, error)
}

// Service implements attendance registration and the history read path.
type Service struct {
	store    storage.AttendanceStore
	sessions SessionChecker
	log      *logger.Logger
}

// New constructs an attendance service.
func New(store storage.AttendanceStore, sessions SessionChecker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("attendance")
	}
	return &Service{store: store, sessions: sessions, log: log}
}

// ExpectedMessage builds the exact message a wallet must sign for a
// registration. Binding name and session code into the signed text prevents
// a signature from being replayed for a different session.
func ExpectedMessage(name, sessionCode string) string {
	return fmt.Sprintf("I, %s, am registering attendance for session: %s.", name, sessionCode)
}

// Register validates and records one attendance proof. The store's unique
// constraint decides concurrent duplicates; this method never pre-checks
// existence.
func (s *Service) Register(ctx context.Context, address, name, sessionCode, message, signature string) (attendance.Record, error) {
	name = strings.TrimSpace(name)
	sessionCode = strings.TrimSpace(sessionCode)

	if !ethsign.IsHexAddress(address) {
		return attendance.Record{}, fmt.Errorf("%w: invalid address", ErrValidation)
	}
	if name == "" {
		return attendance.Record{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if sessionCode == "" {
		return attendance.Record{}, fmt.Errorf("%w: session code is required", ErrValidation)
	}
	if message != ExpectedMessage(name, sessionCode) {
		return attendance.Record{}, fmt.Errorf("%w: message does not match expected format", ErrValidation)
	}

	active, err := s.sessions.IsActive(ctx, sessionCode)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return attendance.Record{}, ErrInvalidSession
	}

	sig, err := ethsign.ParseSignature(signature)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("%w: malformed signature", ErrValidation)
	}
	signer, err := ethsign.Recover(message, sig)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("%w: malformed signature", ErrValidation)
	}
	if !ethsign.Equal(signer.Hex(), address) {
		return attendance.Record{}, ErrAuthenticationFailed
	}

	rec, err := s.store.RegisterAttendance(ctx, attendance.Record{
		Address:     ethsign.Normalize(address),
		Name:        name,
		SessionCode: sessionCode,
		Message:     message,
		Signature:   signature,
	})
	if err != nil {
		return attendance.Record{}, err
	}

	s.log.WithField("address", rec.Address).
		WithField("session", rec.SessionCode).
		Info("attendance registered")
	return rec, nil
}

// History returns an address's attendance records ordered by timestamp
// ascending. Growth is unbounded per address; callers serving large cohorts
// should paginate.
func (s *Service) History(ctx context.Context, address string) ([]attendance.Record, error) {
	if !ethsign.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid address", ErrValidation)
	}
	return s.store.ListAttendanceByAddress(ctx, ethsign.Normalize(address))
}
