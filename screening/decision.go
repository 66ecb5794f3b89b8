package screening

import (
	"context"
	"time"
)

// Verdict is the outcome of screening a fingerprint.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	// VerdictUnknown is terminal: the provider could not tell. It is passed
	// through to the caller and never replaced by allow or deny.
	VerdictUnknown Verdict = "unknown"
)

// Status is the resolved status of a withdrawal.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusUnknown  Status = "unknown"
)

// Source tells where a decision came from.
type Source string

const (
	SourceBlocklist Source = "blocklist"
	SourceCache     Source = "cache"
	SourceProvider  Source = "provider"
)

type Decision struct {
	Verdict Verdict `json:"verdict"`
	// Provider defined risk score, 0 when the provider gave none.
	Score      float64   `json:"score"`
	Reason     string    `json:"reason"`
	ComputedAt time.Time `json:"computedAt"`
}

func UnknownDecision(reason string, at time.Time) Decision {
	return Decision{
		Verdict:    VerdictUnknown,
		Reason:     reason,
		ComputedAt: at,
	}
}

// Status maps the verdict to a withdrawal status.
func (v Verdict) Status() Status {
	switch v {
	case VerdictAllow:
		return StatusAccepted
	case VerdictDeny:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// WithdrawalRequest is a withdrawal admitted to a screening batch.
type WithdrawalRequest struct {
	RequestID uint64
	Recipient string
	Amount    uint64
}

// Result is the screening outcome of one withdrawal request.
type Result struct {
	Request     WithdrawalRequest
	Fingerprint Fingerprint
	Decision    Decision
	Status      Status
	Source      Source
}

// RiskProvider looks up the risk of an address. Provider failures are
// reported as an unknown decision; an error is returned only when ctx is done.
type RiskProvider interface {
	Lookup(ctx context.Context, address string) (Decision, error)
}
