package types

import (
	"time"
)

// Withdrawal statuses as exposed on the wire.
const (
	WithdrawalStatusAccepted = "accepted"
	WithdrawalStatusRejected = "rejected"
	WithdrawalStatusUnknown  = "unknown"
)

// WithdrawalUpdate is a single withdrawal to be screened.
type WithdrawalUpdate struct {
	RequestId uint64 `json:"requestId"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

// UpdateWithdrawalsRequestBody is the batch update request. The order of
// withdrawals is preserved in the response.
type UpdateWithdrawalsRequestBody struct {
	Withdrawals []WithdrawalUpdate `json:"withdrawals"`
}

// Withdrawal is a screened withdrawal with its resolved status.
type Withdrawal struct {
	RequestId           uint64 `json:"requestId"`
	Recipient           string `json:"recipient"`
	Amount              uint64 `json:"amount"`
	Status              string `json:"status"`
	StatusMessage       string `json:"statusMessage"`
	LastUpdateTimestamp int64  `json:"lastUpdateTimestamp"`
}

// UpdateWithdrawalsResponse is the response to an update withdrawals request.
type UpdateWithdrawalsResponse struct {
	Withdrawals []Withdrawal `json:"withdrawals"`
}

// ScreenResponse is the result of screening a single address.
type ScreenResponse struct {
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	RiskScore float64   `json:"riskScore"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checkedAt"`
}

type HealthResponse struct {
	Now       time.Time `json:"time"`
	StartTime time.Time `json:"startTime"`
	Version   string    `json:"version"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
