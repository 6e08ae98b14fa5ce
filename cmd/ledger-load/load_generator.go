// Package main implements a load generator for the lending ledger. It drives issue, return and
// total adjustment traffic at a configurable rate and checks every item for consistency afterwards.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
)

const (
	scenarioCatalog = "catalog"
	scenarioLending = "lending"

	operationTimeout = 5 * time.Second
	statsInterval    = 10 * time.Second
)

// ErrInconsistentItems is returned by Verify when at least one item's counters disagree with its open loans.
var ErrInconsistentItems = errors.New("inconsistent items found")

// Config holds the knobs of one load run.
type Config struct {
	Rate            int
	Items           int
	CopiesPerItem   int
	Borrowers       int
	ScenarioWeights []int // catalog, lending
	MaxInFlight     int64
	Seed            uint64
}

// Stats counts scenario outcomes.
type Stats struct {
	Requests  int64
	Succeeded int64
	Rejected  int64
	Failed    int64
	Dropped   int64
}

// LoadGenerator runs randomized ledger traffic against an Engine.
type LoadGenerator struct {
	engine   *engine.Engine
	config   Config
	logger   *slog.Logger
	inFlight *semaphore.Weighted
	wg       sync.WaitGroup

	mu        sync.Mutex
	rng       *rand.Rand
	items     []uuid.UUID
	borrowers []uuid.UUID
	openLoans []uuid.UUID

	succeeded atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	startTime time.Time
}

// NewLoadGenerator creates a LoadGenerator. The Engine should reject stranding shrinks, otherwise Verify reports
// items that a clamped shrink left unbalanced.
func NewLoadGenerator(e *engine.Engine, config Config, logger *slog.Logger) *LoadGenerator {
	return &LoadGenerator{
		engine:   e,
		config:   config,
		logger:   logger,
		inFlight: semaphore.NewWeighted(config.MaxInFlight),
		rng:      rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)), //nolint:gosec
	}
}

// Seed creates the items and borrowers the scenarios pick from.
func (lg *LoadGenerator) Seed(ctx context.Context) error {
	for i := 1; i <= lg.config.Items; i++ {
		item, err := lg.engine.CreateItem(
			ctx,
			ledger.ItemDetails{Title: fmt.Sprintf("Load Test Item %04d", i), Author: "Load Generator"},
			lg.config.CopiesPerItem,
		)
		if err != nil {
			return fmt.Errorf("seeding item %d: %w", i, err)
		}

		lg.items = append(lg.items, item.ID)
	}

	for i := 1; i <= lg.config.Borrowers; i++ {
		borrower, err := lg.engine.RegisterBorrower(ctx, fmt.Sprintf("Load Test Borrower %04d", i), "")
		if err != nil {
			return fmt.Errorf("seeding borrower %d: %w", i, err)
		}

		lg.borrowers = append(lg.borrowers, borrower.ID)
	}

	lg.logger.Info("seeded ledger", "items", len(lg.items), "borrowers", len(lg.borrowers))

	return nil
}

// Start generates traffic at the configured rate until ctx is done. Ticks that find MaxInFlight scenarios
// still running are dropped.
func (lg *LoadGenerator) Start(ctx context.Context) {
	lg.startTime = time.Now()

	interval := max(time.Second/time.Duration(lg.config.Rate), time.Nanosecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	lg.logger.Info("load generator started", "rate", lg.config.Rate, "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			return

		case <-statsTicker.C:
			lg.logStats("load generator stats")

		case <-ticker.C:
			if !lg.inFlight.TryAcquire(1) {
				lg.dropped.Add(1)
				continue
			}

			lg.wg.Add(1)

			go func() {
				defer lg.wg.Done()
				defer lg.inFlight.Release(1)

				lg.executeScenario(context.WithoutCancel(ctx))
			}()
		}
	}
}

// Wait blocks until all running scenarios are finished or ctx is done.
func (lg *LoadGenerator) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		lg.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lg.logStats("load generator finished")
		return nil

	case <-ctx.Done():
		lg.logStats("load generator finished")
		return fmt.Errorf("waiting for running scenarios: %w", ctx.Err())
	}
}

// Verify checks every seeded item and returns ErrInconsistentItems if any of them is out of bounds or unbalanced.
func (lg *LoadGenerator) Verify(ctx context.Context) error {
	inconsistent := 0

	for _, itemID := range lg.items {
		report, err := lg.engine.CheckItemConsistency(ctx, itemID)
		if err != nil {
			return err
		}

		if report.WithinBounds && report.Balanced {
			continue
		}

		inconsistent++
		lg.logger.Error("inconsistent item",
			"item_id", report.ItemID.String(),
			"total_copies", report.TotalCopies,
			"available_copies", report.AvailableCopies,
			"open_loans", report.OpenLoans,
		)
	}

	if inconsistent > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInconsistentItems, inconsistent, len(lg.items))
	}

	lg.logger.Info("all items consistent", "items", len(lg.items))

	return nil
}

// Stats returns the outcome counters so far.
func (lg *LoadGenerator) Stats() Stats {
	succeeded, rejected, failed := lg.succeeded.Load(), lg.rejected.Load(), lg.failed.Load()

	return Stats{
		Requests:  succeeded + rejected + failed,
		Succeeded: succeeded,
		Rejected:  rejected,
		Failed:    failed,
		Dropped:   lg.dropped.Load(),
	}
}

func (lg *LoadGenerator) executeScenario(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	scenario := lg.selectScenario()

	var err error
	switch scenario {
	case scenarioCatalog:
		err = lg.runCatalogScenario(ctx)
	default:
		err = lg.runLendingScenario(ctx)
	}

	switch engine.ClassifyStatus(err) {
	case engine.StatusSuccess:
		lg.succeeded.Add(1)
	case engine.StatusRejected:
		lg.rejected.Add(1)
	default:
		lg.failed.Add(1)
		lg.logger.Warn("scenario failed", "scenario", scenario, "error", err.Error())
	}
}

// selectScenario applies the weights: [20, 80] picks catalog for 0-19 and lending for 20-99.
func (lg *LoadGenerator) selectScenario() string {
	if lg.intN(100) < lg.config.ScenarioWeights[0] {
		return scenarioCatalog
	}

	return scenarioLending
}

// runCatalogScenario sets a random item to a random total between one and twice the seeded copies.
func (lg *LoadGenerator) runCatalogScenario(ctx context.Context) error {
	itemID := lg.pick(lg.items)
	newTotal := 1 + lg.intN(2*lg.config.CopiesPerItem)

	_, err := lg.engine.AdjustItemTotal(ctx, itemID, newTotal)

	return err
}

// runLendingScenario either returns a random open loan or issues a copy of a random item.
func (lg *LoadGenerator) runLendingScenario(ctx context.Context) error {
	if lg.intN(2) == 0 {
		if loanID, ok := lg.takeOpenLoan(); ok {
			_, err := lg.engine.ReturnCopy(ctx, loanID, time.Time{})
			if engine.ClassifyStatus(err) == engine.StatusError {
				lg.putOpenLoan(loanID)
			}

			return err
		}
	}

	loan, err := lg.engine.IssueCopy(ctx, lg.pick(lg.borrowers), lg.pick(lg.items), time.Time{}, nil)
	if err != nil {
		return err
	}

	lg.putOpenLoan(loan.ID)

	return nil
}

func (lg *LoadGenerator) intN(n int) int {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	return lg.rng.IntN(n)
}

func (lg *LoadGenerator) pick(ids []uuid.UUID) uuid.UUID {
	return ids[lg.intN(len(ids))]
}

// takeOpenLoan removes a random loan from the open set so no two scenarios return the same loan.
func (lg *LoadGenerator) takeOpenLoan() (uuid.UUID, bool) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if len(lg.openLoans) == 0 {
		return uuid.Nil, false
	}

	i := lg.rng.IntN(len(lg.openLoans))
	loanID := lg.openLoans[i]
	lg.openLoans[i] = lg.openLoans[len(lg.openLoans)-1]
	lg.openLoans = lg.openLoans[:len(lg.openLoans)-1]

	return loanID, true
}

func (lg *LoadGenerator) putOpenLoan(loanID uuid.UUID) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	lg.openLoans = append(lg.openLoans, loanID)
}

func (lg *LoadGenerator) logStats(msg string) {
	stats := lg.Stats()
	elapsed := time.Since(lg.startTime)

	var rps float64
	if elapsed > 0 {
		rps = float64(stats.Requests) / elapsed.Seconds()
	}

	lg.logger.Info(msg,
		"requests", stats.Requests,
		"succeeded", stats.Succeeded,
		"rejected", stats.Rejected,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"requests_per_second", rps,
		"elapsed", elapsed.Truncate(time.Second).String(),
		"goroutines", runtime.NumGoroutine(),
	)
}
