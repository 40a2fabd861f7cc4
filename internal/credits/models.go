package credits

import "time"

// Entry is an immutable append-only credit ledger row. Every balance change
// has a corresponding entry; nothing mutates a balance directly.
//
// Delta is signed: grants are positive, call consumption is negative.
type Entry struct {
	ID           string `json:"id" db:"id"`
	SubscriberID string `json:"subscriber_id" db:"subscriber_id"`

	Delta  int64  `json:"delta" db:"delta"`
	Reason string `json:"reason" db:"reason"`

	// IdempotencyKey makes retried postings safe. Call consumption uses the
	// session id, so re-initiating a retried call never double-charges.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Balance is the per-subscriber projection maintained alongside ledger
// inserts.
type Balance struct {
	SubscriberID string    `json:"subscriber_id" db:"subscriber_id"`
	Credits      int64     `json:"credits" db:"credits"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
