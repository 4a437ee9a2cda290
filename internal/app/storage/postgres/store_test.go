package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/decentracode/attendme/internal/app/domain/attendance"
	"github.com/decentracode/attendme/internal/app/domain/reward"
	"github.com/decentracode/attendme/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})

	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAddWhitelistEntry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO whitelist")).
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT address, created_at FROM whitelist WHERE address = $1")).
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"address", "created_at"}).AddRow("0xabc", time.Now()))

	entry, err := store.AddWhitelistEntry(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if entry.Address != "0xabc" {
		t.Fatalf("address = %s", entry.Address)
	}
}

func TestWhitelistContains(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.WhitelistContains(context.Background(), "0xabc")
	if err != nil || !ok {
		t.Fatalf("contains = %v, %v", ok, err)
	}
}

func TestRegisterAttendance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendances")).
		WithArgs(sqlmock.AnyArg(), "0xabc", "Alice", "SESSION123", "msg", "sig", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := store.RegisterAttendance(context.Background(), attendance.Record{
		Address:     "0xabc",
		Name:        "Alice",
		SessionCode: "SESSION123",
		Message:     "msg",
		Signature:   "sig",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.ID == "" || rec.Timestamp.IsZero() {
		t.Fatalf("record not populated: %+v", rec)
	}
}

func TestRegisterAttendanceDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendances")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "attendances_address_session_key"})
	mock.ExpectRollback()

	_, err := store.RegisterAttendance(context.Background(), attendance.Record{
		Address:     "0xabc",
		SessionCode: "SESSION123",
	})
	if !errors.Is(err, storage.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterAttendanceNotWhitelisted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := store.RegisterAttendance(context.Background(), attendance.Record{Address: "0xabc"})
	if !errors.Is(err, storage.ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
}

func TestRegisterAttendanceConcurrentWhitelistRemoval(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendances")).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "attendances_address_fkey"})
	mock.ExpectRollback()

	_, err := store.RegisterAttendance(context.Background(), attendance.Record{Address: "0xabc"})
	if !errors.Is(err, storage.ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
}

func TestReserveClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
		WithArgs(sqlmock.AnyArg(), "0xabc", "10", reward.StatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claim, err := store.ReserveClaim(context.Background(), reward.Claim{Address: "0xabc", Amount: "10"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if claim.Status != reward.StatusPending || claim.ID == "" {
		t.Fatalf("claim not populated: %+v", claim)
	}
}

func TestReserveClaimConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "claims_active_address_key"})

	_, err := store.ReserveClaim(context.Background(), reward.Claim{Address: "0xabc", Amount: "10"})
	if !errors.Is(err, storage.ErrClaimExists) {
		t.Fatalf("expected ErrClaimExists, got %v", err)
	}
}

func TestSetClaimTxHashMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET tx_hash")).
		WithArgs("missing", "0xhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.SetClaimTxHash(context.Background(), "missing", "0xhash"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettleClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET status")).
		WithArgs("claim-1", reward.StatusFailed, "reverted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SettleClaim(context.Background(), "claim-1", reward.StatusFailed, "reverted"); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestGetClaimNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, address, amount").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetClaim(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetActiveClaimByAddress(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "address", "amount", "tx_hash", "status", "error", "created_at", "updated_at"}).
		AddRow("claim-1", "0xabc", "10", "0xhash", "succeeded", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("status IN ('pending', 'succeeded')")).
		WithArgs("0xabc").
		WillReturnRows(rows)

	claim, err := store.GetActiveClaimByAddress(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if claim.Status != reward.StatusSucceeded || claim.TxHash != "0xhash" {
		t.Fatalf("claim = %+v", claim)
	}
}
