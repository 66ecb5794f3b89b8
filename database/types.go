package database

import (
	"time"

	"github.com/google/uuid"
)

// ScreeningEntry stores the outcome of one screened withdrawal
type ScreeningEntry struct {
	Id          uuid.UUID `db:"id"`
	BatchId     uuid.UUID `db:"batch_id"` // all withdrawals of one request share it
	Position    int       `db:"position"` // index in the batch
	RequestId   int64     `db:"request_id"`
	Recipient   string    `db:"recipient"`
	Amount      int64     `db:"amount"`
	Fingerprint string    `db:"fingerprint"`
	Verdict     string    `db:"verdict"`
	Status      string    `db:"status"`
	RiskScore   float64   `db:"risk_score"`
	Reason      string    `db:"reason"`
	Source      string    `db:"source"` // blocklist, cache or provider
	DecidedAt   time.Time `db:"decided_at"`
	ReceivedAt  time.Time `db:"received_at"`
	InsertedAt  time.Time `db:"inserted_at"`
}
