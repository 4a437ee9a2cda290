package attendance

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/internal/app/storage/memory"
)

type staticSessions map[string]bool

func (s staticSessions) IsActive(_ context.Context, code string) (bool, error) {
	return s[code], nil
}

type signer struct {
	address string
	sign    func(message string) string
}

func newSigner(t *testing.T) signer {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return signer{
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		sign: func(message string) string {
			sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			sig[64] += 27
			return "0x" + hex.EncodeToString(sig)
		},
	}
}

func newService(t *testing.T, store *memory.Store) *Service {
	t.Helper()
	return New(store, staticSessions{"SESSION123": true, "EXPIRED": false}, nil)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)
	wallet := newSigner(t)

	if _, err := store.AddWhitelistEntry(ctx, normalized(wallet.address)); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	message := ExpectedMessage("Alice", "SESSION123")
	rec, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", message, wallet.sign(message))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Address != normalized(wallet.address) {
		t.Fatalf("address not normalised: %s", rec.Address)
	}
	if rec.SessionCode != "SESSION123" || rec.Name != "Alice" {
		t.Fatalf("record fields: %+v", rec)
	}

	// Repeating the identical call hits the uniqueness constraint.
	if _, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", message, wallet.sign(message)); !errors.Is(err, storage.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterRejectsWrongSigner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)
	wallet := newSigner(t)
	impostor := newSigner(t)

	if _, err := store.AddWhitelistEntry(ctx, normalized(wallet.address)); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	message := ExpectedMessage("Alice", "SESSION123")
	_, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", message, impostor.sign(message))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.New())
	wallet := newSigner(t)
	message := ExpectedMessage("Alice", "SESSION123")
	sig := wallet.sign(message)

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"bad address", func() error {
			_, err := svc.Register(ctx, "not-an-address", "Alice", "SESSION123", message, sig)
			return err
		}, ErrValidation},
		{"empty name", func() error {
			_, err := svc.Register(ctx, wallet.address, "  ", "SESSION123", message, sig)
			return err
		}, ErrValidation},
		{"empty session", func() error {
			_, err := svc.Register(ctx, wallet.address, "Alice", "", message, sig)
			return err
		}, ErrValidation},
		{"message mismatch", func() error {
			_, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", "I attended, trust me.", sig)
			return err
		}, ErrValidation},
		{"garbage signature", func() error {
			_, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", message, "0x1234")
			return err
		}, ErrValidation},
		{"inactive session", func() error {
			msg := ExpectedMessage("Alice", "EXPIRED")
			_, err := svc.Register(ctx, wallet.address, "Alice", "EXPIRED", msg, wallet.sign(msg))
			return err
		}, ErrInvalidSession},
		{"unknown session", func() error {
			msg := ExpectedMessage("Alice", "NOPE")
			_, err := svc.Register(ctx, wallet.address, "Alice", "NOPE", msg, wallet.sign(msg))
			return err
		}, ErrInvalidSession},
	}

	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRegisterNotWhitelisted(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memory.New())
	wallet := newSigner(t)

	message := ExpectedMessage("Alice", "SESSION123")
	_, err := svc.Register(ctx, wallet.address, "Alice", "SESSION123", message, wallet.sign(message))
	if !errors.Is(err, storage.ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)
	wallet := newSigner(t)

	if _, err := store.AddWhitelistEntry(ctx, normalized(wallet.address)); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	svcSessions := staticSessions{"SESSION123": true, "SESSION456": true}
	svc = New(store, svcSessions, nil)

	for _, code := range []string{"SESSION123", "SESSION456"} {
		message := ExpectedMessage("Alice", code)
		if _, err := svc.Register(ctx, wallet.address, "Alice", code, message, wallet.sign(message)); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}

	// Mixed-case address resolves to the same history.
	records, err := svc.History(ctx, wallet.address)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SessionCode != "SESSION123" || records[1].SessionCode != "SESSION456" {
		t.Fatalf("unexpected order: %+v", records)
	}

	if _, err := svc.History(ctx, "nope"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExpectedMessage(t *testing.T) {
	got := ExpectedMessage("Alice", "SESSION123")
	want := "I, Alice, am registering attendance for session: SESSION123."
	if got != want {
		t.Fatalf("ExpectedMessage = %q, want %q", got, want)
	}
}

func normalized(address string) string {
	return strings.ToLower(address)
}
