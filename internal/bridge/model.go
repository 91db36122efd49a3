package bridge

import "time"

// Kind classifies the direction of a value movement.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// Status tracks a transaction along its lifecycle. Confirmed and failed are
// terminal; no transition leaves them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Transaction records a single value movement. Rows are never deleted; they
// double as the audit trail.
type Transaction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Kind              Kind      `json:"kind"`
	Status            Status    `json:"status"`
	Amount            int64     `json:"amount"`
	Asset             string    `json:"asset"`
	Reference         string    `json:"reference"`
	ProviderRequestID string    `json:"provider_request_id,omitempty"`
	Receipt           string    `json:"receipt,omitempty"`
	TxHash            string    `json:"tx_hash,omitempty"`
	Destination       string    `json:"destination,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}
