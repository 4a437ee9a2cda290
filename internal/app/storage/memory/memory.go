// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decentracode/attendme/internal/app/domain/attendance"
	"github.com/decentracode/attendme/internal/app/domain/reward"
	"github.com/decentracode/attendme/internal/app/domain/session"
	"github.com/decentracode/attendme/internal/app/domain/whitelist"
	"github.com/decentracode/attendme/internal/app/storage"
)

// Store keeps all records in maps guarded by one mutex, mirroring the
// constraint semantics of the Postgres schema.
type Store struct {
	mu          sync.Mutex
	whitelist   map[string]whitelist.Entry
	attendances map[string][]attendance.Record // keyed by address
	claims      map[string]reward.Claim        // keyed by claim id
	sessions    map[string]session.Session
}

var _ storage.WhitelistStore = (*Store)(nil)
var _ storage.AttendanceStore = (*Store)(nil)
var _ storage.ClaimStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		whitelist:   make(map[string]whitelist.Entry),
		attendances: make(map[string][]attendance.Record),
		claims:      make(map[string]reward.Claim),
		sessions:    make(map[string]session.Session),
	}
}

// --- WhitelistStore ---------------------------------------------------------

func (s *Store) AddWhitelistEntry(_ context.Context, address string) (whitelist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.whitelist[address]; ok {
		return entry, nil
	}
	entry := whitelist.Entry{Address: address, CreatedAt: time.Now().UTC()}
	s.whitelist[address] = entry
	return entry, nil
}

func (s *Store) WhitelistContains(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.whitelist[address]
	return ok, nil
}

func (s *Store) ListWhitelist(_ context.Context) ([]whitelist.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]whitelist.Entry, 0, len(s.whitelist))
	for _, entry := range s.whitelist {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// --- AttendanceStore --------------------------------------------------------

func (s *Store) RegisterAttendance(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whitelist[rec.Address]; !ok {
		return attendance.Record{}, storage.ErrNotWhitelisted
	}
	for _, existing := range s.attendances[rec.Address] {
		if existing.SessionCode == rec.SessionCode {
			return attendance.Record{}, storage.ErrAlreadyRegistered
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = time.Now().UTC()
	s.attendances[rec.Address] = append(s.attendances[rec.Address], rec)
	return rec, nil
}

func (s *Store) ListAttendanceByAddress(_ context.Context, address string) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]attendance.Record, len(s.attendances[address]))
	copy(records, s.attendances[address])
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

// --- ClaimStore -------------------------------------------------------------

func (s *Store) ReserveClaim(_ context.Context, claim reward.Claim) (reward.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.claims {
		if existing.Address == claim.Address && existing.Status != reward.StatusFailed {
			return reward.Claim{}, storage.ErrClaimExists
		}
	}

	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	claim.Status = reward.StatusPending
	claim.TxHash = ""
	claim.Error = ""
	claim.CreatedAt = now
	claim.UpdatedAt = now
	s.claims[claim.ID] = claim
	return claim, nil
}

func (s *Store) SetClaimTxHash(_ context.Context, id, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return storage.ErrNotFound
	}
	claim.TxHash = txHash
	claim.UpdatedAt = time.Now().UTC()
	s.claims[id] = claim
	return nil
}

func (s *Store) SettleClaim(_ context.Context, id string, status reward.Status, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return storage.ErrNotFound
	}
	claim.Status = status
	claim.Error = cause
	claim.UpdatedAt = time.Now().UTC()
	s.claims[id] = claim
	return nil
}

func (s *Store) GetClaim(_ context.Context, id string) (reward.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return reward.Claim{}, storage.ErrNotFound
	}
	return claim, nil
}

func (s *Store) GetActiveClaimByAddress(_ context.Context, address string) (reward.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, claim := range s.claims {
		if claim.Address == address && claim.Status != reward.StatusFailed {
			return claim, nil
		}
	}
	return reward.Claim{}, storage.ErrNotFound
}

func (s *Store) ListPendingClaims(_ context.Context) ([]reward.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []reward.Claim
	for _, claim := range s.claims {
		if claim.Status == reward.StatusPending {
			pending = append(pending, claim)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) UpsertSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.sessions[sess.Code]; ok {
		sess.CreatedAt = existing.CreatedAt
	} else {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[sess.Code] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, code string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[code]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ListSessions(_ context.Context) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}
