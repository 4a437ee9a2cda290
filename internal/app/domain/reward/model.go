package reward

import "time"

// Status of a claim through its lifecycle. A claim is reserved as pending
// before any transfer is submitted; it settles to succeeded or failed once
// the ledger answers.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Claim records one reward issuance attempt for a wallet. At most one
// pending-or-succeeded claim may exist per address; the store's partial
// unique index arbitrates concurrent attempts.
type Claim struct {
	ID        string    `json:"id" db:"id"`
	Address   string    `json:"address" db:"address"`
	Amount    string    `json:"amount" db:"amount"`
	TxHash    string    `json:"transactionHash,omitempty" db:"tx_hash"`
	Status    Status    `json:"status" db:"status"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
