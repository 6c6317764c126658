// Package memory provides in-process repository implementations used for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

// Registry bundles the in-memory repositories.
type Registry struct {
	carts     *CartRepository
	credits   *CreditRepository
	history   *HistoryRepository
	ledger    *LedgerRepository
	counters  *CounterRepository
	addresses *AddressRepository
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry(clock func() time.Time) *Registry {
	return &Registry{
		carts:     NewCartRepository(clock),
		credits:   NewCreditRepository(),
		history:   NewHistoryRepository(),
		ledger:    NewLedgerRepository(),
		counters:  NewCounterRepository(),
		addresses: NewAddressRepository(),
	}
}

func (r *Registry) Close(context.Context) error               { return nil }
func (r *Registry) Carts() repositories.CartRepository        { return r.carts }
func (r *Registry) Credits() repositories.CreditRepository    { return r.credits }
func (r *Registry) History() repositories.HistoryRepository   { return r.history }
func (r *Registry) Ledger() repositories.LedgerRepository     { return r.ledger }
func (r *Registry) Counters() repositories.CounterRepository  { return r.counters }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) AddressBook() *AddressRepository           { return r.addresses }
func (r *Registry) CreditStore() *CreditRepository            { return r.credits }

// CartRepository keeps carts in a map keyed by user id and honours the TTL passed on save.
type CartRepository struct {
	mu    sync.Mutex
	now   func() time.Time
	carts map[int64]cartEntry
}

type cartEntry struct {
	cart    domain.Cart
	expires time.Time
}

// NewCartRepository constructs an empty cart repository.
func NewCartRepository(clock func() time.Time) *CartRepository {
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{now: clock, carts: make(map[int64]cartEntry)}
}

// GetCart implements repositories.CartRepository.
func (r *CartRepository) GetCart(_ context.Context, userID int64) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.carts[userID]
	if !ok || r.expired(entry) {
		delete(r.carts, userID)
		return domain.Cart{}, repositories.NotFound("carts.get")
	}
	return CloneCart(entry.cart), nil
}

// SaveCart implements repositories.CartRepository.
func (r *CartRepository) SaveCart(_ context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current int64
	if entry, ok := r.carts[cart.UserID]; ok && !r.expired(entry) {
		current = entry.cart.Version
	}
	if current != cart.Version {
		return domain.Cart{}, repositories.Conflict("carts.save", fmt.Errorf("version %d, stored %d", cart.Version, current))
	}
	saved := CloneCart(cart)
	saved.Version++
	entry := cartEntry{cart: saved}
	if ttl > 0 {
		entry.expires = r.now().Add(ttl)
	}
	r.carts[cart.UserID] = entry
	return CloneCart(saved), nil
}

// DeleteCart implements repositories.CartRepository.
func (r *CartRepository) DeleteCart(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

func (r *CartRepository) expired(entry cartEntry) bool {
	return !entry.expires.IsZero() && !r.now().Before(entry.expires)
}

// CloneCart returns a deep copy of the cart so callers never share slices or maps.
func CloneCart(cart domain.Cart) domain.Cart {
	out := cart
	if cart.Items != nil {
		out.Items = make([]domain.CartItem, len(cart.Items))
		copy(out.Items, cart.Items)
	}
	if cart.Addresses != nil {
		out.Addresses = make(map[string]string, len(cart.Addresses))
		for k, v := range cart.Addresses {
			out.Addresses[k] = v
		}
	}
	if cart.Steps != nil {
		out.Steps = make(map[string]domain.StepState, len(cart.Steps))
		for k, v := range cart.Steps {
			if v.Data != nil {
				data := make(map[string]string, len(v.Data))
				for dk, dv := range v.Data {
					data[dk] = dv
				}
				v.Data = data
			}
			out.Steps[k] = v
		}
	}
	if cart.Credit != nil {
		credit := *cart.Credit
		out.Credit = &credit
	}
	if cart.Prepared != nil {
		prepared := *cart.Prepared
		prepared.Items = append([]domain.PricedItem(nil), cart.Prepared.Items...)
		prepared.Installments = append([]domain.InstallmentDue(nil), cart.Prepared.Installments...)
		out.Prepared = &prepared
	}
	return out
}

// CreditRepository stores credit transactions per user and cost center.
type CreditRepository struct {
	mu   sync.Mutex
	rows map[string][]domain.CreditTransaction
}

// NewCreditRepository constructs an empty credit repository.
func NewCreditRepository() *CreditRepository {
	return &CreditRepository{rows: make(map[string][]domain.CreditTransaction)}
}

func creditKey(userID int64, costCenter string) string {
	return fmt.Sprintf("%d|%s", userID, strings.TrimSpace(costCenter))
}

// ListTransactions implements repositories.CreditRepository.
func (r *CreditRepository) ListTransactions(_ context.Context, userID int64, costCenter string) ([]domain.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rows[creditKey(userID, costCenter)]
	return append([]domain.CreditTransaction(nil), rows...), nil
}

// LastTransaction implements repositories.CreditRepository.
func (r *CreditRepository) LastTransaction(_ context.Context, userID int64, costCenter string) (domain.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rows[creditKey(userID, costCenter)]
	if len(rows) == 0 {
		return domain.CreditTransaction{}, repositories.NotFound("credits.last")
	}
	return rows[len(rows)-1], nil
}

// AppendTransaction implements repositories.CreditRepository.
func (r *CreditRepository) AppendTransaction(_ context.Context, txn domain.CreditTransaction, expected repositories.CreditHead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := creditKey(txn.UserID, txn.CostCenter)
	rows := r.rows[key]
	var head repositories.CreditHead
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		head = repositories.CreditHead{Sequence: last.Sequence, Balance: last.Balance}
	}
	if head.Sequence != expected.Sequence || !head.Balance.Equal(expected.Balance) {
		return repositories.Conflict("credits.append", errors.New("credit ledger head moved"))
	}
	if txn.ID == "" {
		txn.ID = ulid.Make().String()
	}
	r.rows[key] = append(rows, txn)
	return nil
}

// Inject appends a row without any checks. It exists so tests can simulate out-of-band writes.
func (r *CreditRepository) Inject(txn domain.CreditTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := creditKey(txn.UserID, txn.CostCenter)
	r.rows[key] = append(r.rows[key], txn)
}

// HistoryRepository stores history records in insertion order.
type HistoryRepository struct {
	mu      sync.Mutex
	records []domain.HistoryRecord
}

// NewHistoryRepository constructs an empty history repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Insert implements repositories.HistoryRepository.
func (r *HistoryRepository) Insert(_ context.Context, record domain.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	for _, existing := range r.records {
		if existing.ID == record.ID {
			return repositories.Conflict("history.insert", fmt.Errorf("record %s exists", record.ID))
		}
	}
	r.records = append(r.records, record)
	return nil
}

// Get implements repositories.HistoryRepository.
func (r *HistoryRepository) Get(_ context.Context, id string) (domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ID == id {
			return record, nil
		}
	}
	return domain.HistoryRecord{}, repositories.NotFound("history.get")
}

// FindLatest implements repositories.HistoryRepository.
func (r *HistoryRepository) FindLatest(_ context.Context, userID int64, key domain.ItemKey) (domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		found  domain.HistoryRecord
		exists bool
	)
	for _, record := range r.records {
		if record.UserID != userID || record.Key() != key || record.PaymentStatus != domain.PaymentStatusSuccess {
			continue
		}
		if !exists || !record.CreatedAt.Before(found.CreatedAt) {
			found = record
			exists = true
		}
	}
	if !exists {
		return domain.HistoryRecord{}, repositories.NotFound("history.find_latest")
	}
	return found, nil
}

// ListByUser implements repositories.HistoryRepository. Newest records come first.
func (r *HistoryRepository) ListByUser(_ context.Context, userID int64) ([]domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.HistoryRecord
	for _, record := range r.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByIdentifier implements repositories.HistoryRepository.
func (r *HistoryRepository) ListByIdentifier(_ context.Context, identifier int64) ([]domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.HistoryRecord
	for _, record := range r.records {
		if record.Identifier == identifier {
			out = append(out, record)
		}
	}
	return out, nil
}

// CountPaid implements repositories.HistoryRepository.
func (r *HistoryRepository) CountPaid(_ context.Context, userID int64, key domain.ItemKey) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.UserID == userID && record.Key() == key && record.PaymentStatus == domain.PaymentStatusSuccess {
			count++
		}
	}
	return count, nil
}

// MarkCanceled implements repositories.HistoryRepository.
func (r *HistoryRepository) MarkCanceled(_ context.Context, id string, canceledAt time.Time, operatorID int64) (domain.HistoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, record := range r.records {
		if record.ID != id {
			continue
		}
		if record.PaymentStatus == domain.PaymentStatusCanceled {
			return domain.HistoryRecord{}, repositories.Conflict("history.cancel", fmt.Errorf("record %s already canceled", id))
		}
		at := canceledAt
		record.PaymentStatus = domain.PaymentStatusCanceled
		record.CanceledAt = &at
		record.UpdatedAt = canceledAt
		record.OperatorID = operatorID
		r.records[i] = record
		return record, nil
	}
	return domain.HistoryRecord{}, repositories.NotFound("history.cancel")
}

// LedgerRepository stores ledger entries in insertion order.
type LedgerRepository struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

// NewLedgerRepository constructs an empty ledger repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

// Append implements repositories.LedgerRepository.
func (r *LedgerRepository) Append(_ context.Context, entry domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	r.entries = append(r.entries, entry)
	return nil
}

// ListBetween implements repositories.LedgerRepository.
func (r *LedgerRepository) ListBetween(_ context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.LedgerEntry
	for _, entry := range r.entries {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountSince implements repositories.LedgerRepository.
func (r *LedgerRepository) CountSince(_ context.Context, userID int64, component, area string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.entries {
		if entry.UserID == userID && entry.Component == component && entry.Area == area && !entry.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Entries returns a copy of every stored entry.
func (r *LedgerRepository) Entries() []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LedgerEntry(nil), r.entries...)
}

// CounterRepository hands out increasing sequence numbers per counter id.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounterRepository constructs an empty counter repository.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

// Next implements repositories.CounterRepository.
func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}

// AddressRepository is a static address book.
type AddressRepository struct {
	mu        sync.Mutex
	addresses map[int64][]domain.Address
}

// NewAddressRepository constructs an empty address book.
func NewAddressRepository() *AddressRepository {
	return &AddressRepository{addresses: make(map[int64][]domain.Address)}
}

// Put stores an address for its user.
func (r *AddressRepository) Put(addr domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses[addr.UserID] = append(r.addresses[addr.UserID], addr)
}

// List implements repositories.AddressRepository.
func (r *AddressRepository) List(_ context.Context, userID int64) ([]domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Address(nil), r.addresses[userID]...), nil
}
