package storage

import "errors"

// Sentinel errors shared by all store implementations. Services translate
// these into caller-facing failures at the HTTP boundary.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotWhitelisted    = errors.New("address not whitelisted")
	ErrAlreadyRegistered = errors.New("already registered for this session")
	ErrClaimExists       = errors.New("claim already exists for this address")
)
