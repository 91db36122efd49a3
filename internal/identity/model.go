package identity

import "time"

// Status is the verification state of a user. Verified is terminal; a user
// never reverts from it.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// User anchors a phone-based identity. HashedPhone is the unique lookup key
// and the subject of issued session credentials; the raw phone is kept only
// for outbound provider contact.
type User struct {
	ID                    string
	Phone                 string
	HashedPhone           string
	Status                Status
	VerificationReference string
	ProviderRequestID     string
	VerificationReceipt   string
	VerifiedAt            time.Time
	CreatedAt             time.Time
}
