package attendance

import "time"

// Record is one proof of attendance for a wallet at a session. A wallet can
// hold at most one record per session code; the store enforces the pair
// uniqueness.
type Record struct {
	ID          string    `json:"id" db:"id"`
	Address     string    `json:"address" db:"address"`
	Name        string    `json:"name" db:"name"`
	SessionCode string    `json:"sessionCode" db:"session_code"`
	Message     string    `json:"message" db:"message"`
	Signature   string    `json:"signature" db:"signature"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}
