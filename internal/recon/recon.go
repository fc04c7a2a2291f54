// Package recon checks that every wallet still agrees with its ledger.
//
// The available balance must equal the signed sum of balance-affecting
// entries, and the balance must exceed it by exactly the amount of
// withdrawals still pending. A wallet that disagrees has drifted: the sweep
// reports it and emits wallet.drift_detected, but never repairs it.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
)

// Config holds reconciliation configuration
type Config struct {
	Interval             time.Duration `envconfig:"RECON_INTERVAL" default:"10m"`
	Concurrency          int           `envconfig:"RECON_CONCURRENCY" default:"8"`
	PageSize             int           `envconfig:"RECON_PAGE_SIZE" default:"500"`
	StaleWithdrawalAfter time.Duration `envconfig:"RECON_STALE_WITHDRAWAL_AFTER" default:"24h"`
}

// Snapshot is one consistent read of a wallet and the figures it is derived from
type Snapshot struct {
	MerchantID         string
	Currency           money.Currency
	Balance            int64
	AvailableBalance   int64
	LedgerSum          int64
	PendingWithdrawals int64
}

// Store reads what the check compares
type Store interface {
	// MerchantIDs pages through wallets in merchant id order.
	MerchantIDs(ctx context.Context, after string, limit int) ([]string, error)
	// Snapshot returns domain.ErrWalletNotFound for a merchant without a wallet.
	Snapshot(ctx context.Context, merchantID string) (*Snapshot, error)
}

// Ledger runs the unit drift events are written in
type Ledger interface {
	InTx(ctx context.Context, fn func(ledger.Tx) error) error
}

// Withdrawals finds withdrawals left pending too long
type Withdrawals interface {
	Stale(ctx context.Context, age time.Duration, limit int) ([]*withdrawal.Withdrawal, error)
}

// Report is the outcome of checking one wallet
type Report struct {
	MerchantID         string         `json:"merchant_id"`
	Currency           money.Currency `json:"currency"`
	Balance            int64          `json:"balance"`
	AvailableBalance   int64          `json:"available_balance"`
	LedgerSum          int64          `json:"ledger_sum"`
	PendingWithdrawals int64          `json:"pending_withdrawals"`
	ExpectedBalance    int64          `json:"expected_balance"`
	ExpectedAvailable  int64          `json:"expected_available"`
	BalanceDrift       int64          `json:"balance_drift"`
	AvailableDrift     int64          `json:"available_drift"`
	Drifted            bool           `json:"drifted"`
	CheckedAt          time.Time      `json:"checked_at"`
}

// Compare derives a report from a snapshot
func Compare(s *Snapshot) *Report {
	r := &Report{
		MerchantID:         s.MerchantID,
		Currency:           s.Currency,
		Balance:            s.Balance,
		AvailableBalance:   s.AvailableBalance,
		LedgerSum:          s.LedgerSum,
		PendingWithdrawals: s.PendingWithdrawals,
		ExpectedAvailable:  s.LedgerSum,
		ExpectedBalance:    s.LedgerSum + s.PendingWithdrawals,
		CheckedAt:          time.Now().UTC(),
	}
	r.AvailableDrift = r.AvailableBalance - r.ExpectedAvailable
	r.BalanceDrift = r.Balance - r.ExpectedBalance
	r.Drifted = r.AvailableDrift != 0 || r.BalanceDrift != 0
	return r
}

// SweepResult summarizes one pass over all wallets
type SweepResult struct {
	Checked int
	Drifted []*Report
	Stale   []*withdrawal.Withdrawal
}

// Service runs reconciliation
type Service struct {
	store       Store
	ledger      Ledger
	withdrawals Withdrawals
	config      Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewService creates a reconciliation service
func NewService(store Store, l Ledger, withdrawals Withdrawals, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.StaleWithdrawalAfter <= 0 {
		cfg.StaleWithdrawalAfter = 24 * time.Hour
	}
	return &Service{
		store:       store,
		ledger:      l,
		withdrawals: withdrawals,
		config:      cfg,
		metrics:     m,
		logger:      logger,
	}
}

// Check reconciles one merchant's wallet. A merchant without a wallet has
// nothing to drift and gets an empty report.
func (s *Service) Check(ctx context.Context, merchantID string) (*Report, error) {
	snap, err := s.store.Snapshot(ctx, merchantID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return Compare(&Snapshot{MerchantID: merchantID}), nil
	}
	if err != nil {
		return nil, err
	}
	return Compare(snap), nil
}

// Sweep checks every wallet with bounded concurrency, then lists stale
// pending withdrawals. Drift is reported and emitted, never corrected.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	var (
		mu     sync.Mutex
		result SweepResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	after := ""
	for {
		ids, err := s.store.MerchantIDs(gctx, after, s.config.PageSize)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("listing wallets: %w", err)
		}
		for _, id := range ids {
			g.Go(func() error {
				report, err := s.Check(gctx, id)
				if err != nil {
					return fmt.Errorf("checking %s: %w", id, err)
				}
				mu.Lock()
				result.Checked++
				if report.Drifted {
					result.Drifted = append(result.Drifted, report)
				}
				mu.Unlock()
				if report.Drifted {
					return s.reportDrift(gctx, report)
				}
				return nil
			})
		}
		if len(ids) < s.config.PageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	if err := g.Wait(); err != nil {
		s.metrics.ReconciliationRun("error", len(result.Drifted), 0)
		return nil, err
	}

	stale, err := s.withdrawals.Stale(ctx, s.config.StaleWithdrawalAfter, s.config.PageSize)
	if err != nil {
		s.metrics.ReconciliationRun("error", len(result.Drifted), 0)
		return nil, fmt.Errorf("listing stale withdrawals: %w", err)
	}
	result.Stale = stale
	for _, w := range stale {
		s.logger.Warn("withdrawal pending past deadline",
			"merchant_id", w.MerchantID,
			"reference", w.Reference,
			"amount", w.Amount,
			"created_at", w.CreatedAt,
		)
	}

	outcome := "clean"
	if len(result.Drifted) > 0 {
		outcome = "drift"
	}
	s.metrics.ReconciliationRun(outcome, len(result.Drifted), len(stale))
	s.logger.Info("reconciliation sweep finished",
		"checked", result.Checked,
		"drifted", len(result.Drifted),
		"stale_withdrawals", len(stale),
	)
	return &result, nil
}

func (s *Service) reportDrift(ctx context.Context, r *Report) error {
	s.logger.Error("wallet drift detected",
		"merchant_id", r.MerchantID,
		"balance", r.Balance,
		"available_balance", r.AvailableBalance,
		"ledger_sum", r.LedgerSum,
		"pending_withdrawals", r.PendingWithdrawals,
		"balance_drift", r.BalanceDrift,
		"available_drift", r.AvailableDrift,
	)
	evt, err := events.NewEvent(events.EventDriftDetected, r.MerchantID, events.AggregateWallet, r.MerchantID, events.DriftData{
		Balance:            r.Balance,
		AvailableBalance:   r.AvailableBalance,
		LedgerSum:          r.LedgerSum,
		PendingWithdrawals: r.PendingWithdrawals,
		BalanceDrift:       r.BalanceDrift,
		AvailableDrift:     r.AvailableDrift,
	})
	if err != nil {
		return fmt.Errorf("building drift event: %w", err)
	}
	return s.ledger.InTx(ctx, func(tx ledger.Tx) error {
		return tx.Emit(ctx, evt)
	})
}

// Run sweeps every interval until ctx is done
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("reconciliation started", "interval", s.config.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
