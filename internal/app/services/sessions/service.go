// Package sessions manages the registry of session codes attendance can be
// registered against. The registry replaces the fixed session-code constant
// of earlier revisions with managed data.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/decentracode/attendme/internal/app/domain/session"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/pkg/logger"
)

// Service exposes the active-session source.
type Service struct {
	store storage.SessionStore
	log   *logger.Logger
}

// New constructs a session service.
func New(store storage.SessionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	return &Service{store: store, log: log}
}

// IsActive reports whether code names an active session.
func (s *Service) IsActive(ctx context.Context, code string) (bool, error) {
	sess, err := s.store.GetSession(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Active, nil
}

// Upsert creates or updates a session entry.
func (s *Service) Upsert(ctx context.Context, code, name string, active bool) (session.Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return session.Session{}, fmt.Errorf("session code is required")
	}

	sess, err := s.store.UpsertSession(ctx, session.Session{Code: code, Name: strings.TrimSpace(name), Active: active})
	if err != nil {
		return session.Session{}, err
	}
	s.log.WithField("code", sess.Code).WithField("active", sess.Active).Info("session upserted")
	return sess, nil
}

// List returns all known sessions.
func (s *Service) List(ctx context.Context) ([]session.Session, error) {
	return s.store.ListSessions(ctx)
}

// Seed registers sessions from configuration, skipping blank codes. Existing
// entries are updated so a config change takes effect on restart.
func (s *Service) Seed(ctx context.Context, seeds []session.Session) error {
	for _, seed := range seeds {
		if strings.TrimSpace(seed.Code) == "" {
			continue
		}
		if _, err := s.Upsert(ctx, seed.Code, seed.Name, seed.Active); err != nil {
			return fmt.Errorf("seed session %s: %w", seed.Code, err)
		}
	}
	return nil
}
