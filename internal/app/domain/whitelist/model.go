package whitelist

import "time"

// Entry is an address authorised to register attendance. Addresses are stored
// lowercase; deleting an entry cascades to its attendance records.
type Entry struct {
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
