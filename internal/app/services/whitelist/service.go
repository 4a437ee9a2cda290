// Package whitelist manages the set of addresses permitted to register
// attendance.
package whitelist

import (
	"context"
	"errors"
	"fmt"

	"github.com/decentracode/attendme/internal/app/domain/whitelist"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/internal/ethsign"
	"github.com/decentracode/attendme/pkg/logger"
)

// ErrValidation marks rejected input.
var ErrValidation = errors.New("validation failed")

// Service exposes whitelist administration.
type Service struct {
	store storage.WhitelistStore
	log   *logger.Logger
}

// New constructs a whitelist service.
func New(store storage.WhitelistStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("whitelist")
	}
	return &Service{store: store, log: log}
}

// Add whitelists an address. Adding an address twice is a no-op.
func (s *Service) Add(ctx context.Context, address string) (whitelist.Entry, error) {
	if !ethsign.IsHexAddress(address) {
		return whitelist.Entry{}, fmt.Errorf("%w: invalid address %q", ErrValidation, address)
	}

	entry, err := s.store.AddWhitelistEntry(ctx, ethsign.Normalize(address))
	if err != nil {
		return whitelist.Entry{}, err
	}
	s.log.WithField("address", entry.Address).Info("address whitelisted")
	return entry, nil
}

// Contains reports whether an address is whitelisted.
func (s *Service) Contains(ctx context.Context, address string) (bool, error) {
	if !ethsign.IsHexAddress(address) {
		return false, nil
	}
	return s.store.WhitelistContains(ctx, ethsign.Normalize(address))
}

// List returns all whitelisted addresses.
func (s *Service) List(ctx context.Context) ([]whitelist.Entry, error) {
	return s.store.ListWhitelist(ctx)
}
