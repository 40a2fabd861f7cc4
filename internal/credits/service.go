package credits

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"checkline/pkg/utils"

	"github.com/google/uuid"
)

// Service provides call-credit operations.
//
// Invariants:
// - No balance update without a ledger entry.
// - The ledger is append-only.
// - All credit operations run in a DB transaction with the balance row locked,
//   so concurrent schedule firings for one subscriber serialize.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

var (
	ErrNotFound            = errors.New("credits: not found")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidArgument     = errors.New("credits: invalid argument")
)

func (s *Service) Balance(ctx context.Context, subscriberID string) (Balance, error) {
	if subscriberID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, subscriberID)
}

// Consume debits one credit for an initiated call. The session id doubles as
// the idempotency key: a duplicate consume for the same session returns the
// prior entry without charging again.
func (s *Service) Consume(ctx context.Context, subscriberID, sessionID string) (Entry, Balance, error) {
	if subscriberID == "" || sessionID == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var outEntry Entry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := getBalanceForUpdate(ctx, tx, subscriberID)
		if errors.Is(err, ErrNotFound) {
			// Never granted anything: nothing to consume.
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}

		if existing, ok, err := findEntryByIdempotency(ctx, tx, subscriberID, "call:"+sessionID); err != nil {
			return err
		} else if ok {
			outEntry = existing
			outBal = bal
			return nil
		}

		if bal.Credits < 1 {
			return ErrInsufficientCredits
		}

		entry := Entry{
			ID:             uuid.NewString(),
			SubscriberID:   subscriberID,
			Delta:          -1,
			Reason:         "check_in_call",
			IdempotencyKey: "call:" + sessionID,
			CreatedAt:      now,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyDelta(ctx, tx, subscriberID, -1, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = b
		return nil
	})
	return outEntry, outBal, err
}

// Grant credits a subscriber (purchase, promo, manual adjustment).
func (s *Service) Grant(ctx context.Context, subscriberID string, amount int64, reason, idempotencyKey string) (Entry, Balance, error) {
	if subscriberID == "" || reason == "" || idempotencyKey == "" {
		return Entry{}, Balance{}, ErrInvalidArgument
	}
	if amount <= 0 {
		return Entry{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var outEntry Entry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if existing, ok, err := findEntryByIdempotency(ctx, tx, subscriberID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := getBalanceTx(ctx, tx, subscriberID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := Entry{
			ID:             uuid.NewString(),
			SubscriberID:   subscriberID,
			Delta:          amount,
			Reason:         reason,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyDelta(ctx, tx, subscriberID, amount, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = b
		return nil
	})
	return outEntry, outBal, err
}
