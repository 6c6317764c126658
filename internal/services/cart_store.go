package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const (
	// TaskExpireCart is the scheduler task that releases abandoned carts.
	TaskExpireCart = "cart.expire"

	defaultCartTTL       = 30 * time.Minute
	defaultCartMaxItems  = 10
	defaultCartRetention = 24 * time.Hour
	maxCartWriteAttempts = 3
)

var (
	errCartRepositoryRequired = errors.New("cart store: repository is required")
	errCartPricerRequired     = errors.New("cart store: pricing engine is required")

	// errCartUnchanged lets a mutation end without writing.
	errCartUnchanged = errors.New("cart store: unchanged")
)

// BookingFeeHook runs before a purchasable item is inserted and may add a booking fee to the cart.
type BookingFeeHook interface {
	BeforeAdd(ctx context.Context, cart *Cart, item CartItem) error
}

// CartStoreDeps wires the cart store.
type CartStoreDeps struct {
	Repository repositories.CartRepository
	Pricer     PricingEngine
	Scheduler  TaskScheduler
	FeePolicy  BookingFeeHook
	MaxItems   int
	TTL        time.Duration
	// Retention bounds how long an abandoned cart survives in the backend after its expiration.
	Retention time.Duration
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type cartStore struct {
	repo      repositories.CartRepository
	pricer    PricingEngine
	scheduler TaskScheduler
	fees      BookingFeeHook
	maxItems  int
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	locks     *keyedMutex
}

type mutateOptions struct {
	create    bool
	touch     bool
	dropEmpty bool
}

// NewCartStore constructs the cart store.
func NewCartStore(deps CartStoreDeps) (CartStore, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	maxItems := deps.MaxItems
	if maxItems <= 0 {
		maxItems = defaultCartMaxItems
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	retention := deps.Retention
	if retention <= 0 {
		retention = defaultCartRetention
	}
	return &cartStore{
		repo:      deps.Repository,
		pricer:    deps.Pricer,
		scheduler: deps.Scheduler,
		fees:      deps.FeePolicy,
		maxItems:  maxItems,
		ttl:       ttl,
		retention: ttl + retention,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		locks:     newKeyedMutex(),
	}, nil
}

// Get returns the user's cart or an empty cart when none is stored.
func (s *cartStore) Get(ctx context.Context, userID int64) (Cart, error) {
	if userID == 0 {
		return Cart{}, ErrCartInvalidInput
	}
	cart, _, err := s.load(ctx, userID)
	return cart, err
}

// AddItem inserts the item unless it is already present or the cart is full.
func (s *cartStore) AddItem(ctx context.Context, item CartItem) (Cart, Verdict, error) {
	if item.UserID == 0 || strings.TrimSpace(item.Component) == "" || strings.TrimSpace(item.Area) == "" {
		return Cart{}, domain.VerdictError, ErrCartInvalidInput
	}

	verdict := domain.VerdictSuccess
	cart, err := s.mutate(ctx, item.UserID, mutateOptions{create: true, touch: true}, func(cart *Cart) error {
		if cart.Has(item.Key()) {
			verdict = domain.VerdictAlreadyInCart
			return errCartUnchanged
		}
		if !item.IsAuxiliary() {
			if cart.PurchasableCount() >= s.maxItems {
				verdict = domain.VerdictCartIsFull
				return errCartUnchanged
			}
			if s.fees != nil {
				if err := s.fees.BeforeAdd(ctx, cart, item); err != nil {
					return err
				}
			}
		}
		added := item
		added.AddedAt = s.now()
		cart.Items = append(cart.Items, added)
		cart.Prepared = nil
		verdict = domain.VerdictSuccess
		return nil
	})
	if err != nil {
		return Cart{}, domain.VerdictError, err
	}
	return cart, verdict, nil
}

// DeleteItem removes the item. When only booking fees, rebooking credits or rebook markers remain,
// the whole cart is cleared.
func (s *cartStore) DeleteItem(ctx context.Context, userID int64, key ItemKey) (Cart, error) {
	if userID == 0 {
		return Cart{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, userID, mutateOptions{create: true, touch: true, dropEmpty: true}, func(cart *Cart) error {
		idx := cart.Find(key)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotInCart, key)
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		pruneAuxiliaryItems(cart)
		cart.Prepared = nil
		return nil
	})
}

// RemoveItems drops every listed item that is still present.
func (s *cartStore) RemoveItems(ctx context.Context, userID int64, keys []ItemKey) (Cart, error) {
	if userID == 0 {
		return Cart{}, ErrCartInvalidInput
	}
	drop := make(map[ItemKey]struct{}, len(keys))
	for _, key := range keys {
		drop[key] = struct{}{}
	}
	return s.mutate(ctx, userID, mutateOptions{touch: true, dropEmpty: true}, func(cart *Cart) error {
		kept := cart.Items[:0]
		for _, item := range cart.Items {
			if _, ok := drop[item.Key()]; !ok {
				kept = append(kept, item)
			}
		}
		cart.Items = kept
		pruneAuxiliaryItems(cart)
		cart.Prepared = nil
		return nil
	})
}

// Update applies fn to the stored cart, creating it when absent.
func (s *cartStore) Update(ctx context.Context, userID int64, fn func(*Cart) error) (Cart, error) {
	if userID == 0 || fn == nil {
		return Cart{}, ErrCartInvalidInput
	}
	return s.mutate(ctx, userID, mutateOptions{create: true, touch: true}, fn)
}

// Clear deletes the cart.
func (s *cartStore) Clear(ctx context.Context, userID int64) error {
	if userID == 0 {
		return ErrCartInvalidInput
	}
	unlock := s.locks.Lock(strconv.FormatInt(userID, 10))
	defer unlock()
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// Data prices the current cart.
func (s *cartStore) Data(ctx context.Context, userID int64) (CheckoutData, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return CheckoutData{}, err
	}
	return s.pricer.Calculate(ctx, PriceCartCommand{Cart: cart})
}

// RefreshCredit updates the cached credit of an existing cart without touching its expiration.
func (s *cartStore) RefreshCredit(ctx context.Context, userID int64, view domain.CreditView) error {
	_, err := s.mutate(ctx, userID, mutateOptions{}, func(cart *Cart) error {
		copied := view
		cart.Credit = &copied
		return nil
	})
	return err
}

func (s *cartStore) mutate(ctx context.Context, userID int64, opts mutateOptions, fn func(*Cart) error) (Cart, error) {
	unlock := s.locks.Lock(strconv.FormatInt(userID, 10))
	defer unlock()

	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		cart, exists, err := s.load(ctx, userID)
		if err != nil {
			return Cart{}, err
		}
		if !exists && !opts.create {
			return cart, nil
		}
		if err := fn(&cart); err != nil {
			if errors.Is(err, errCartUnchanged) {
				return cart, nil
			}
			return Cart{}, err
		}

		if opts.dropEmpty && len(cart.Items) == 0 {
			if err := s.repo.DeleteCart(ctx, userID); err != nil {
				return Cart{}, s.translateRepoError(err)
			}
			return Cart{UserID: userID}, nil
		}

		now := s.now()
		cart.UpdatedAt = now
		if opts.touch {
			cart.ExpiresAt = now.Add(s.ttl)
		}
		saved, err := s.repo.SaveCart(ctx, cart, s.retention)
		if err != nil {
			if isRepoConflict(err) {
				s.logger(ctx, "cart.write_conflict", map[string]any{"userID": userID, "attempt": attempt})
				continue
			}
			return Cart{}, s.translateRepoError(err)
		}
		if opts.touch && len(saved.Items) > 0 {
			s.scheduleExpiry(ctx, saved)
		}
		return saved, nil
	}
	return Cart{}, ErrCartConflict
}

func (s *cartStore) load(ctx context.Context, userID int64) (Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{UserID: userID}, false, nil
		}
		return Cart{}, false, s.translateRepoError(err)
	}
	cart.UserID = userID
	return cart, true, nil
}

func (s *cartStore) scheduleExpiry(ctx context.Context, cart Cart) {
	if s.scheduler == nil {
		return
	}
	payload := map[string]string{
		"userId":    strconv.FormatInt(cart.UserID, 10),
		"expiresAt": cart.ExpiresAt.Format(time.RFC3339Nano),
	}
	if err := s.scheduler.RescheduleOrQueue(ctx, TaskExpireCart, cart.UserID, payload, cart.ExpiresAt); err != nil {
		s.logger(ctx, "cart.expiry_schedule_failed", map[string]any{
			"userID": cart.UserID,
			"runAt":  cart.ExpiresAt,
			"error":  err.Error(),
		})
	}
}

func (s *cartStore) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if isContextError(err) {
		return err
	}
	if isRepoConflict(err) {
		return ErrCartConflict
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

// pruneAuxiliaryItems enforces that fees, rebooking credits and rebook markers never remain alone,
// and that a rebooking credit never outlives the markers it was granted for.
func pruneAuxiliaryItems(cart *Cart) {
	if cart.PurchasableCount() == 0 {
		cart.Items = nil
		return
	}
	if len(cart.RebookMarkers()) > 0 {
		return
	}
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if !item.IsRebookingCredit() {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
}
