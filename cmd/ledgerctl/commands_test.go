package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/auditexport"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/memengine"
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper"
)

type schemaStub struct {
	calls int
	err   error
}

func (s *schemaStub) CreateSchema(context.Context) error {
	s.calls++
	return s.err
}

type testApp struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func setupApp(t *testing.T, schema schemaCreator) *testApp {
	store, err := memengine.NewStore()
	require.NoError(t, err, "error in test setup")

	e, err := engine.New(store, engine.WithClock(helper.FixedClock))
	require.NoError(t, err, "error in test setup")

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	return &testApp{
		app: &app{
			engine: e,
			schema: schema,
			out:    stdout,
			errOut: stderr,
			logger: slog.New(slog.NewTextHandler(stderr, nil)),
			clock:  helper.FixedClock,
		},
		stdout: stdout,
		stderr: stderr,
	}
}

// runOK runs a command, expects success and decodes its output into target.
func (ta *testApp) runOK(t *testing.T, target any, args ...string) {
	t.Helper()

	ta.stdout.Reset()
	ta.stderr.Reset()

	code := ta.app.dispatch(t.Context(), args)
	require.Equal(t, exitOK, code, "stderr: %s", ta.stderr.String())

	if target != nil {
		require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(ta.stdout.Bytes(), target))
	}
}

func (ta *testApp) run(t *testing.T, args ...string) int {
	ta.stdout.Reset()
	ta.stderr.Reset()

	return ta.app.dispatch(t.Context(), args)
}

func Test_Run_WithoutCommand_PrintsUsage(t *testing.T) {
	// setup
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	// act
	code := run(t.Context(), []string{"-log-level", "debug"}, stdout, stderr)

	// assert
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "usage: ledgerctl")
	assert.Empty(t, stdout.String())
}

func Test_Run_WithUnknownGlobalFlag_ReturnsUsageExitCode(t *testing.T) {
	code := run(t.Context(), []string{"-no-such-flag", "items"}, &bytes.Buffer{}, &bytes.Buffer{})

	assert.Equal(t, exitUsage, code)
}

func Test_Usage_ListsEveryCommand(t *testing.T) {
	text := usage()

	for name := range commands {
		assert.Contains(t, text, "  "+name+" ")
	}
}

func Test_Dispatch_UnknownCommand_ReturnsUsageExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, nil)

	// act
	code := ta.run(t, "lend")

	// assert
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, ta.stderr.String(), `unknown command "lend"`)
}

func Test_Schema_CreatesSchemaOfTheStore(t *testing.T) {
	// setup
	schema := &schemaStub{}
	ta := setupApp(t, schema)

	// act
	ta.runOK(t, nil, "schema")

	// assert
	assert.Equal(t, 1, schema.calls)
	assert.JSONEq(t, `{"schema":"ok"}`, ta.stdout.String())
}

func Test_Schema_Failing_ReturnsErrorExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, &schemaStub{err: errors.New("permission denied")})

	// act
	code := ta.run(t, "schema")

	// assert
	assert.Equal(t, exitError, code)
	assert.Contains(t, ta.stderr.String(), "permission denied")
}

func Test_Schema_WithoutSchemaSupport_ReturnsErrorExitCode(t *testing.T) {
	ta := setupApp(t, nil)

	assert.Equal(t, exitError, ta.run(t, "schema"))
}

func Test_AddItem_PrintsTheCreatedItem(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item

	// act
	ta.runOK(t, &item, "add-item", "-title", "Dune", "-author", "Frank Herbert", "-code", "978-0441013593", "-total", "3")

	// assert
	assert.Equal(t, "Dune", item.Title)
	assert.Equal(t, "Frank Herbert", item.Author)
	assert.Equal(t, "978-0441013593", item.Code)
	assert.Equal(t, 3, item.TotalCopies)
	assert.Equal(t, 3, item.AvailableCopies)
}

func Test_AddItem_WithoutTitle_ReturnsRejectedExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, nil)

	// act
	code := ta.run(t, "add-item", "-total", "2")

	// assert
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, ta.stderr.String(), "rejected:")
	assert.Empty(t, ta.stdout.String())
}

func Test_AddItem_WithMalformedFlag_ReturnsUsageExitCode(t *testing.T) {
	ta := setupApp(t, nil)

	assert.Equal(t, exitUsage, ta.run(t, "add-item", "-total", "many"))
}

func Test_IssueAndReturn_KeepTheCountersBalanced(t *testing.T) {
	// setup
	ta := setupApp(t, nil)

	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune", "-total", "2")

	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada", "-contact", "ada@example.org")

	// act
	var issued loanJSON
	ta.runOK(t, &issued, "issue",
		"-borrower", borrower.ID.String(), "-item", item.ID.String(), "-issued", "2024-03-04", "-due", "2024-03-18")

	var open []ledger.LoanView
	ta.runOK(t, &open, "open-loans")

	var returned loanJSON
	ta.runOK(t, &returned, "return", "-loan", issued.ID.String(), "-returned", "2024-03-11")

	var report ledger.ConsistencyReport
	ta.runOK(t, &report, "check", "-item", item.ID.String())

	// assert
	assert.Equal(t, "2024-03-04", issued.IssuedOn)
	require.NotNil(t, issued.DueOn)
	assert.Equal(t, "2024-03-18", *issued.DueOn)
	assert.Nil(t, issued.ReturnedOn)

	require.Len(t, open, 1)
	assert.Equal(t, issued.ID, open[0].LoanID)
	assert.Equal(t, "Ada", open[0].BorrowerName)
	assert.Equal(t, "Dune", open[0].ItemTitle)

	require.NotNil(t, returned.ReturnedOn)
	assert.Equal(t, "2024-03-11", *returned.ReturnedOn)
	assert.NotEqual(t, issued.State, returned.State)

	assert.Equal(t, 2, report.AvailableCopies)
	assert.Equal(t, 0, report.OpenLoans)
	assert.True(t, report.Balanced)
	assert.True(t, report.WithinBounds)
}

func Test_Issue_WithoutDates_UsesToday(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")

	// act
	var issued loanJSON
	ta.runOK(t, &issued, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())

	// assert
	assert.Equal(t, helper.FakeClock.Format(dateLayout), issued.IssuedOn)
	assert.Nil(t, issued.DueOn)
}

func Test_Issue_LastCopyGone_ReturnsRejectedExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune", "-total", "1")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")
	ta.runOK(t, nil, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())

	// act
	code := ta.run(t, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())

	// assert
	assert.Equal(t, exitRejected, code)

	var available []ledger.Item
	ta.runOK(t, &available, "available")
	assert.Empty(t, available)
}

func Test_Issue_WithMalformedInput_ReturnsRejectedExitCode(t *testing.T) {
	ta := setupApp(t, nil)

	testCases := []struct {
		name string
		args []string
	}{
		{name: "borrower is not a uuid", args: []string{"issue", "-borrower", "ada", "-item", helper.GivenUniqueID(t).String()}},
		{name: "item is not a uuid", args: []string{"issue", "-borrower", helper.GivenUniqueID(t).String(), "-item", "dune"}},
		{name: "date is not a date", args: []string{
			"issue", "-borrower", helper.GivenUniqueID(t).String(), "-item", helper.GivenUniqueID(t).String(), "-issued", "04.03.2024",
		}},
		{name: "unknown references", args: []string{
			"issue", "-borrower", helper.GivenUniqueID(t).String(), "-item", helper.GivenUniqueID(t).String(),
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, exitRejected, ta.run(t, tc.args...))
		})
	}
}

func Test_Return_Twice_ReturnsRejectedExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")
	var issued loanJSON
	ta.runOK(t, &issued, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())
	ta.runOK(t, nil, "return", "-loan", issued.ID.String())

	// act
	code := ta.run(t, "return", "-loan", issued.ID.String())

	// assert
	assert.Equal(t, exitRejected, code)
	assert.Contains(t, ta.stderr.String(), ledger.ErrAlreadyReturned.Error())
}

func Test_CatalogCommands_ReviseAdjustAndDelete(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune", "-total", "2")

	// act
	var revised ledger.Item
	ta.runOK(t, &revised, "revise-item", "-id", item.ID.String(), "-title", "Dune Messiah", "-author", "Frank Herbert", "-total", "4")

	var adjusted ledger.Item
	ta.runOK(t, &adjusted, "adjust", "-id", item.ID.String(), "-total", "1")

	ta.runOK(t, nil, "delete-item", "-id", item.ID.String())

	var items []ledger.Item
	ta.runOK(t, &items, "items")

	// assert
	assert.Equal(t, "Dune Messiah", revised.Title)
	assert.Equal(t, 4, revised.TotalCopies)
	assert.Equal(t, 1, adjusted.TotalCopies)
	assert.Equal(t, 1, adjusted.AvailableCopies)
	assert.Empty(t, items)
}

func Test_DeleteItem_WithOpenLoan_ReturnsRejectedExitCode(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")
	ta.runOK(t, nil, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())

	// act
	code := ta.run(t, "delete-item", "-id", item.ID.String())

	// assert
	assert.Equal(t, exitRejected, code)
}

func Test_OpenLoans_ForOneItem_ListsOnlyItsLoans(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var dune, emma ledger.Item
	ta.runOK(t, &dune, "add-item", "-title", "Dune")
	ta.runOK(t, &emma, "add-item", "-title", "Emma")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")
	ta.runOK(t, nil, "issue", "-borrower", borrower.ID.String(), "-item", dune.ID.String())
	ta.runOK(t, nil, "issue", "-borrower", borrower.ID.String(), "-item", emma.ID.String())

	// act
	var loans []loanJSON
	ta.runOK(t, &loans, "open-loans", "-item", emma.ID.String())

	var all []ledger.LoanView
	ta.runOK(t, &all, "loans")

	var borrowers []ledger.Borrower
	ta.runOK(t, &borrowers, "borrowers")

	// assert
	require.Len(t, loans, 1)
	assert.Equal(t, emma.ID, loans[0].ItemID)
	assert.Len(t, all, 2)
	assert.Equal(t, "Emma", all[0].ItemTitle, "newest loan first")
	require.Len(t, borrowers, 1)
	assert.Equal(t, "Ada", borrowers[0].Name)
}

func Test_Export_ToDirectory_WritesJSONLines(t *testing.T) {
	// setup
	ta := setupApp(t, nil)
	var item ledger.Item
	ta.runOK(t, &item, "add-item", "-title", "Dune")
	var borrower ledger.Borrower
	ta.runOK(t, &borrower, "add-borrower", "-name", "Ada")
	ta.runOK(t, nil, "issue", "-borrower", borrower.ID.String(), "-item", item.ID.String())
	dir := t.TempDir()

	// act
	var result auditexport.Result
	ta.runOK(t, &result, "export", "-dir", dir)

	// assert
	assert.Equal(t, auditexport.ObjectKey(helper.FakeClock), result.Key)
	assert.Equal(t, 1, result.Loans)

	body, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(result.Key)))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(body, []byte("\n")))
}

func Test_Export_WithoutTarget_ReturnsUsageExitCode(t *testing.T) {
	// setup
	t.Setenv(auditexport.EnvS3Bucket, "")
	ta := setupApp(t, nil)

	// act
	code := ta.run(t, "export")

	// assert
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, ta.stderr.String(), "export needs -dir or -s3-bucket")
}
