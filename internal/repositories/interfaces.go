package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Credits() CreditRepository
	History() HistoryRepository
	Ledger() LedgerRepository
	Counters() CounterRepository
	Addresses() AddressRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository stores the transient per-user cart with optimistic locking on Cart.Version.
type CartRepository interface {
	// GetCart returns a not-found RepositoryError when the user has no cart.
	GetCart(ctx context.Context, userID int64) (domain.Cart, error)
	// SaveCart persists the cart when the stored version equals cart.Version and returns it with the
	// version incremented. A mismatch yields a conflict RepositoryError.
	SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID int64) error
}

// CreditRepository is the append-only credit transaction store.
type CreditRepository interface {
	// ListTransactions returns every transaction for the key ordered by sequence.
	ListTransactions(ctx context.Context, userID int64, costCenter string) ([]domain.CreditTransaction, error)
	// LastTransaction returns a not-found RepositoryError when the key has no transactions.
	LastTransaction(ctx context.Context, userID int64, costCenter string) (domain.CreditTransaction, error)
	// AppendTransaction stores txn only when the newest stored transaction matches expected
	// (sequence and balance); otherwise a conflict RepositoryError is returned.
	AppendTransaction(ctx context.Context, txn domain.CreditTransaction, expected CreditHead) error
}

// CreditHead is the last known position of a credit ledger key.
type CreditHead struct {
	Sequence int64
	Balance  decimal.Decimal
}

// HistoryRepository persists purchase history records.
type HistoryRepository interface {
	Insert(ctx context.Context, record domain.HistoryRecord) error
	Get(ctx context.Context, id string) (domain.HistoryRecord, error)
	// FindLatest returns the newest successful record of the user for the item.
	FindLatest(ctx context.Context, userID int64, key domain.ItemKey) (domain.HistoryRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.HistoryRecord, error)
	ListByIdentifier(ctx context.Context, identifier int64) ([]domain.HistoryRecord, error)
	// CountPaid counts successful records of the user for the item.
	CountPaid(ctx context.Context, userID int64, key domain.ItemKey) (int, error)
	// MarkCanceled flips a successful record to canceled. Canceling twice yields a conflict.
	MarkCanceled(ctx context.Context, id string, canceledAt time.Time, operatorID int64) (domain.HistoryRecord, error)
}

// LedgerRepository persists immutable ledger entries.
type LedgerRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	// ListBetween returns entries created in [from, to) ordered by creation time.
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error)
	// CountSince counts entries of the user for component/area created at or after since.
	CountSince(ctx context.Context, userID int64, component, area string, since time.Time) (int, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// AddressRepository exposes the address book of a user.
type AddressRepository interface {
	List(ctx context.Context, userID int64) ([]domain.Address, error)
}
