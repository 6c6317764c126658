package services

import (
	"context"
	"errors"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates the cart backend cannot serve the request.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartConflict indicates the cart changed concurrently and the write gave up after retrying.
	ErrCartConflict = errors.New("cart: conflict")
	// ErrItemNotInCart indicates the item key is not part of the cart.
	ErrItemNotInCart = errors.New("cart: item not in cart")

	// ErrPermissionDenied indicates the operator lacks the capability for the operation.
	ErrPermissionDenied = errors.New("purchase: permission denied")
	// ErrPurchaseNotFound indicates no history record matches the request.
	ErrPurchaseNotFound = errors.New("purchase: not found")
	// ErrPurchaseAlreadyCanceled indicates the history record was canceled before.
	ErrPurchaseAlreadyCanceled = errors.New("purchase: already canceled")
	// ErrCancellationWindowClosed indicates the cancel-until time has passed.
	ErrCancellationWindowClosed = errors.New("purchase: cancellation window closed")
	// ErrCancellationRejected indicates the purchase cannot be canceled or the provider refused.
	ErrCancellationRejected = errors.New("purchase: cancellation rejected")
	// ErrCheckoutNotPrepared indicates the gateway path referenced an unknown or stale snapshot.
	ErrCheckoutNotPrepared = errors.New("purchase: checkout not prepared")
	// ErrCheckoutInvalid indicates an unknown checkout step or incomplete mandatory steps.
	ErrCheckoutInvalid = errors.New("purchase: checkout invalid")
	// ErrCartEmpty indicates there is nothing to check out.
	ErrCartEmpty = errors.New("purchase: cart is empty")
	// ErrPaymentNotVerified indicates the gateway did not confirm the payment.
	ErrPaymentNotVerified = errors.New("purchase: payment not verified")
	// ErrRebookingDisabled indicates rebooking is switched off.
	ErrRebookingDisabled = errors.New("purchase: rebooking disabled")

	// ErrLedgerInconsistent indicates the stored credit balances do not match the transaction sum.
	ErrLedgerInconsistent = errors.New("credit ledger: inconsistent balance")
	// ErrCreditInvalidInput indicates an invalid credit movement.
	ErrCreditInvalidInput = errors.New("credit ledger: invalid input")
	// ErrInsufficientCredit indicates the movement would make the balance negative.
	ErrInsufficientCredit = errors.New("credit ledger: insufficient credit")
	// ErrCreditConflict indicates a concurrent ledger write won the race.
	ErrCreditConflict = errors.New("credit ledger: conflict")
	// ErrCreditUnavailable indicates the ledger backend failed.
	ErrCreditUnavailable = errors.New("credit ledger: unavailable")

	// ErrPricingInvalidInput signals data the pricing engine cannot price.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCurrencyMismatch is returned when items use multiple currencies.
	ErrPricingCurrencyMismatch = errors.New("pricing: currency mismatch")

	// ErrProviderNotRegistered indicates no item provider serves the component.
	ErrProviderNotRegistered = errors.New("provider: not registered")
	// ErrProviderUnavailable indicates a provider callback failed, timed out or was short-circuited.
	ErrProviderUnavailable = errors.New("provider: unavailable")

	// ErrHistoryUnavailable indicates the history or ledger backend failed.
	ErrHistoryUnavailable = errors.New("history: unavailable")
)

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
