package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

// SummaryExporter stores a rendered cash summary and returns where it was written.
type SummaryExporter interface {
	ExportCashSummary(ctx context.Context, summary CashSummary) (string, error)
}

// HistoryServiceDeps wires the history service.
type HistoryServiceDeps struct {
	History     repositories.HistoryRepository
	Ledger      repositories.LedgerRepository
	Permissions PermissionChecker
	Exporter    SummaryExporter
	Location    *time.Location
	Logger      func(context.Context, string, map[string]any)
}

type historyService struct {
	history  repositories.HistoryRepository
	ledger   repositories.LedgerRepository
	perms    PermissionChecker
	exporter SummaryExporter
	location *time.Location
	logger   func(context.Context, string, map[string]any)
}

// NewHistoryService constructs the history service.
func NewHistoryService(deps HistoryServiceDeps) (HistoryService, error) {
	if deps.History == nil {
		return nil, errors.New("history service: history repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("history service: ledger repository is required")
	}
	if deps.Permissions == nil {
		return nil, errors.New("history service: permission checker is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &historyService{
		history:  deps.History,
		ledger:   deps.Ledger,
		perms:    deps.Permissions,
		exporter: deps.Exporter,
		location: location,
		logger:   logger,
	}, nil
}

// ListHistory returns the purchases of the target user, newest first.
func (s *historyService) ListHistory(ctx context.Context, acting ActingContext) ([]HistoryRecord, error) {
	if acting.TargetUserID == 0 {
		return nil, ErrCartInvalidInput
	}
	if acting.OnBehalf() && !s.perms.IsCashier(ctx, acting.OperatorID) {
		return nil, ErrPermissionDenied
	}
	records, err := s.history.ListByUser(ctx, acting.TargetUserID)
	if err != nil {
		if isContextError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ListLedger returns every ledger row written on day in the configured timezone, oldest first.
func (s *historyService) ListLedger(ctx context.Context, acting ActingContext, day time.Time) ([]LedgerEntry, error) {
	if !s.perms.IsCashier(ctx, acting.OperatorID) {
		return nil, ErrPermissionDenied
	}
	from, to := s.dayBounds(day)
	entries, err := s.ledger.ListBetween(ctx, from.UTC(), to.UTC())
	if err != nil {
		if isContextError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// DailySummary aggregates the money that crossed the desk on day, grouped by payment method.
// Credits spent and canceled entries move no money and are left out.
func (s *historyService) DailySummary(ctx context.Context, acting ActingContext, day time.Time) (CashSummary, error) {
	if !s.perms.IsCashier(ctx, acting.OperatorID) {
		return CashSummary{}, ErrPermissionDenied
	}
	from, to := s.dayBounds(day)
	entries, err := s.ledger.ListBetween(ctx, from.UTC(), to.UTC())
	if err != nil {
		if isContextError(err) {
			return CashSummary{}, err
		}
		return CashSummary{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return summarize(from, entries), nil
}

// ExportDailySummary renders the daily summary through the configured exporter.
func (s *historyService) ExportDailySummary(ctx context.Context, acting ActingContext, day time.Time) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("%w: no summary exporter configured", ErrHistoryUnavailable)
	}
	summary, err := s.DailySummary(ctx, acting, day)
	if err != nil {
		return "", err
	}
	location, err := s.exporter.ExportCashSummary(ctx, summary)
	if err != nil {
		return "", fmt.Errorf("%w: export: %v", ErrHistoryUnavailable, err)
	}
	s.logger(ctx, "history.summary_exported", map[string]any{
		"operatorID": acting.OperatorID,
		"day":        summary.Day.Format(time.DateOnly),
		"location":   location,
	})
	return location, nil
}

func (s *historyService) dayBounds(day time.Time) (time.Time, time.Time) {
	local := day.In(s.location)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	return from, from.AddDate(0, 0, 1)
}

func summarize(day time.Time, entries []LedgerEntry) CashSummary {
	type groupKey struct {
		method   PaymentMethod
		currency string
	}
	groups := make(map[groupKey]*domain.CashSummaryLine)
	total := decimal.Zero
	for _, entry := range entries {
		if entry.PaymentStatus != domain.PaymentStatusSuccess {
			continue
		}
		amount := entry.Price.Sub(entry.Credits)
		key := groupKey{method: entry.PaymentMethod, currency: entry.Currency}
		line, ok := groups[key]
		if !ok {
			line = &domain.CashSummaryLine{PaymentMethod: entry.PaymentMethod, Currency: entry.Currency}
			groups[key] = line
		}
		line.Count++
		line.Amount = line.Amount.Add(amount)
		total = total.Add(amount)
	}

	summary := CashSummary{Day: day, Total: total}
	for _, line := range groups {
		summary.Lines = append(summary.Lines, *line)
	}
	sort.Slice(summary.Lines, func(i, j int) bool {
		if summary.Lines[i].PaymentMethod != summary.Lines[j].PaymentMethod {
			return summary.Lines[i].PaymentMethod < summary.Lines[j].PaymentMethod
		}
		return summary.Lines[i].Currency < summary.Lines[j].Currency
	})
	return summary
}
