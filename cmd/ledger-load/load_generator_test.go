package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/memengine"
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper"
)

func testConfig() Config {
	return Config{
		Rate:            1000,
		Items:           5,
		CopiesPerItem:   2,
		Borrowers:       4,
		ScenarioWeights: []int{20, 80},
		MaxInFlight:     8,
		Seed:            42,
	}
}

func setupLoadGenerator(t *testing.T, config Config, shrinkPolicy engine.ShrinkPolicy) (*LoadGenerator, *engine.Engine) {
	store, err := memengine.NewStore()
	require.NoError(t, err, "error in test setup")

	e, err := engine.New(store, engine.WithClock(helper.FixedClock), engine.WithShrinkPolicy(shrinkPolicy))
	require.NoError(t, err, "error in test setup")

	lg := NewLoadGenerator(e, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, lg.Seed(t.Context()), "error in test setup")

	return lg, e
}

func Test_LoadGenerator_Seed_CreatesItemsAndBorrowers(t *testing.T) {
	// setup
	lg, e := setupLoadGenerator(t, testConfig(), engine.ShrinkRejectStranding)

	// act
	items, err := e.ListItems(t.Context())
	require.NoError(t, err)
	borrowers, err := e.ListBorrowers(t.Context())
	require.NoError(t, err)

	// assert
	assert.Len(t, items, 5)
	assert.Len(t, borrowers, 4)
	assert.Len(t, lg.items, 5)
	assert.Len(t, lg.borrowers, 4)

	for _, item := range items {
		assert.Equal(t, 2, item.TotalCopies)
	}
}

func Test_LoadGenerator_ConcurrentScenarios_KeepEveryItemConsistent(t *testing.T) {
	// setup
	lg, e := setupLoadGenerator(t, testConfig(), engine.ShrinkRejectStranding)

	// act
	for range 400 {
		lg.wg.Add(1)

		go func() {
			defer lg.wg.Done()
			lg.executeScenario(t.Context())
		}()
	}

	require.NoError(t, lg.Wait(t.Context()))

	// assert
	require.NoError(t, lg.Verify(t.Context()))

	stats := lg.Stats()
	assert.Equal(t, int64(400), stats.Requests)
	assert.Zero(t, stats.Failed)
	assert.Positive(t, stats.Succeeded)

	openLoans, err := e.ListOpenLoans(t.Context())
	require.NoError(t, err)
	assert.Len(t, openLoans, len(lg.openLoans), "tracked open loans match the ledger")
}

func Test_LoadGenerator_Verify_ReportsUnbalancedItems(t *testing.T) {
	// setup
	config := testConfig()
	config.Items = 1
	lg, e := setupLoadGenerator(t, config, engine.ShrinkClamp)
	itemID := lg.items[0]

	helper.GivenCopyWasIssued(t, t.Context(), e, lg.borrowers[0], itemID)
	helper.GivenCopyWasIssued(t, t.Context(), e, lg.borrowers[1], itemID)

	_, err := e.AdjustItemTotal(t.Context(), itemID, 1)
	require.NoError(t, err, "error in test setup")

	// act
	err = lg.Verify(t.Context())

	// assert
	assert.ErrorIs(t, err, ErrInconsistentItems)
}

func Test_LoadGenerator_SelectScenario_FollowsWeights(t *testing.T) {
	testCases := []struct {
		name     string
		weights  []int
		expected string
	}{
		{name: "only catalog", weights: []int{100, 0}, expected: scenarioCatalog},
		{name: "only lending", weights: []int{0, 100}, expected: scenarioLending},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig()
			config.ScenarioWeights = tc.weights
			lg, _ := setupLoadGenerator(t, config, engine.ShrinkRejectStranding)

			for range 50 {
				assert.Equal(t, tc.expected, lg.selectScenario())
			}
		})
	}
}

func Test_LoadGenerator_TakeOpenLoan_NeverHandsOutALoanTwice(t *testing.T) {
	// setup
	lg, _ := setupLoadGenerator(t, testConfig(), engine.ShrinkRejectStranding)
	first, second := helper.GivenUniqueID(t), helper.GivenUniqueID(t)
	lg.putOpenLoan(first)
	lg.putOpenLoan(second)

	// act
	a, okA := lg.takeOpenLoan()
	b, okB := lg.takeOpenLoan()
	_, okC := lg.takeOpenLoan()

	// assert
	assert.True(t, okA)
	assert.True(t, okB)
	assert.False(t, okC)
	assert.ElementsMatch(t, []any{first, second}, []any{a, b})
}

func Test_ParseScenarioWeights(t *testing.T) {
	testCases := []struct {
		input       string
		expected    []int
		expectedErr bool
	}{
		{input: "20,80", expected: []int{20, 80}},
		{input: " 0 , 100 ", expected: []int{0, 100}},
		{input: "50", expectedErr: true},
		{input: "50,40", expectedErr: true},
		{input: "120,-20", expectedErr: true},
		{input: "a,b", expectedErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			weights, err := parseScenarioWeights(tc.input)

			if tc.expectedErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, weights)
		})
	}
}

func Test_ParseFlags_RejectsInvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "zero rate", args: []string{"-rate", "0"}},
		{name: "rate beyond one per nanosecond", args: []string{"-rate", "1000000001"}},
		{name: "no items", args: []string{"-items", "0"}},
		{name: "no copies", args: []string{"-copies", "0"}},
		{name: "no in-flight slots", args: []string{"-max-in-flight", "0"}},
		{name: "bad weights", args: []string{"-scenario-weights", "10,10"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFlags(tc.args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func Test_ParseFlags_Defaults(t *testing.T) {
	f, err := parseFlags(nil, &bytes.Buffer{})

	require.NoError(t, err)
	assert.Equal(t, defaultRate, f.config.Rate)
	assert.Equal(t, []int{20, 80}, f.config.ScenarioWeights)
	assert.Zero(t, f.duration)
}

func Test_Run_WithInvalidFlags_ReturnsUsageExitCode(t *testing.T) {
	assert.Equal(t, 2, run(t.Context(), []string{"-rate", "-1"}, &bytes.Buffer{}))
}
