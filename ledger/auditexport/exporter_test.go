package auditexport_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/auditexport"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/memengine"
	. "github.com/AntonStoeckl/lending-ledger-go/testutil/helper" //nolint:revive
)

func setupEngine(t *testing.T) *engine.Engine {
	store, err := memengine.NewStore()
	require.NoError(t, err, "error in test setup")

	e, err := engine.New(store, engine.WithClock(FixedClock))
	require.NoError(t, err, "error in test setup")

	return e
}

func decodeLines(t *testing.T, body []byte) []ledger.LoanView {
	t.Helper()

	var views []ledger.LoanView
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var view ledger.LoanView
		require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(scanner.Bytes(), &view))
		views = append(views, view)
	}
	require.NoError(t, scanner.Err())

	return views
}

type failingSource struct{}

func (failingSource) ListLoans(context.Context) ([]ledger.LoanView, error) {
	return nil, errors.New("store down")
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func Test_NewExporter_RejectsMissingParts(t *testing.T) {
	sink, err := auditexport.NewFSSink(t.TempDir())
	require.NoError(t, err)

	_, sourceErr := auditexport.NewExporter(nil, sink)
	_, sinkErr := auditexport.NewExporter(failingSource{}, nil)
	_, clockErr := auditexport.NewExporter(failingSource{}, sink, auditexport.WithClock(nil))

	assert.ErrorIs(t, sourceErr, auditexport.ErrNilSource)
	assert.ErrorIs(t, sinkErr, auditexport.ErrNilSink)
	assert.Error(t, clockErr)
}

func Test_ObjectKey_UsesUTCTimestamp(t *testing.T) {
	local := time.Date(2024, time.March, 4, 12, 30, 15, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "loans/20240304T113015Z.jsonl", auditexport.ObjectKey(local))
}

func Test_Export_WritesOneLinePerLoan_ToDirectory(t *testing.T) {
	// setup
	ctx := t.Context()
	e := setupEngine(t)
	root := t.TempDir()
	sink, err := auditexport.NewFSSink(root)
	require.NoError(t, err)
	logHandler := NewLogHandlerSpy(false)
	exporter, err := auditexport.NewExporter(e, sink, auditexport.WithClock(FixedClock), auditexport.WithLogger(slog.New(logHandler)))
	require.NoError(t, err)

	// arrange
	item := GivenItemWithTitleWasCreated(t, ctx, e, "Refactoring", 2)
	ada := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	grace := GivenBorrowerWasRegistered(t, ctx, e, "Grace")
	returned := GivenCopyWasIssued(t, ctx, e, ada.ID, item.ID)
	GivenCopyWasReturned(t, ctx, e, returned.ID)
	open := GivenCopyWasIssued(t, ctx, e, grace.ID, item.ID)

	// act
	result, err := exporter.Export(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "loans/20240304T100000Z.jsonl", result.Key)
	assert.Equal(t, 2, result.Loans)

	body, err := os.ReadFile(filepath.Join(root, "loans", "20240304T100000Z.jsonl"))
	require.NoError(t, err)

	views := decodeLines(t, body)
	require.Len(t, views, 2)
	assert.Equal(t, open.ID, views[0].LoanID)
	assert.Equal(t, "Grace", views[0].BorrowerName)
	assert.True(t, views[0].IsOpen())
	assert.Equal(t, returned.ID, views[1].LoanID)
	assert.Equal(t, "Refactoring", views[1].ItemTitle)
	assert.False(t, views[1].IsOpen())

	assert.True(t, logHandler.HasInfoLogWithMessage("loan ledger exported").WithIntAttr("loans", 2).Assert())
}

func Test_Export_EmptyLedger_WritesEmptyObject(t *testing.T) {
	// setup
	root := t.TempDir()
	sink, err := auditexport.NewFSSink(root)
	require.NoError(t, err)
	exporter, err := auditexport.NewExporter(setupEngine(t), sink, auditexport.WithClock(FixedClock))
	require.NoError(t, err)

	// act
	result, err := exporter.Export(t.Context())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, result.Loans)

	body, readErr := os.ReadFile(filepath.Join(root, filepath.FromSlash(result.Key)))
	require.NoError(t, readErr)
	assert.Empty(t, body)
}

func Test_Export_SourceFailure(t *testing.T) {
	sink, err := auditexport.NewFSSink(t.TempDir())
	require.NoError(t, err)
	exporter, err := auditexport.NewExporter(failingSource{}, sink)
	require.NoError(t, err)

	_, exportErr := exporter.Export(t.Context())

	assert.ErrorIs(t, exportErr, auditexport.ErrExportFailed)
}

func Test_Export_SinkFailure(t *testing.T) {
	exporter, err := auditexport.NewExporter(setupEngine(t), failingSink{})
	require.NoError(t, err)

	_, exportErr := exporter.Export(t.Context())

	assert.ErrorIs(t, exportErr, auditexport.ErrExportFailed)
	assert.ErrorIs(t, exportErr, auditexport.ErrWritingFailed)
}

func Test_FSSink_RefusesEscapingAndExistingKeys(t *testing.T) {
	// setup
	ctx := t.Context()
	sink, err := auditexport.NewFSSink(t.TempDir())
	require.NoError(t, err)

	// act
	firstErr := sink.Put(ctx, "loans/a.jsonl", "", []byte("{}\n"))
	secondErr := sink.Put(ctx, "loans/a.jsonl", "", []byte("{}\n"))
	traversalErr := sink.Put(ctx, "../outside.jsonl", "", nil)
	absoluteErr := sink.Put(ctx, "/etc/passwd", "", nil)

	// assert
	assert.NoError(t, firstErr)
	assert.ErrorIs(t, secondErr, auditexport.ErrExportExists)
	assert.Error(t, traversalErr)
	assert.Error(t, absoluteErr)
}

func Test_FSSink_ConcurrentPutsOfOneKey_KeepExactlyOneExport(t *testing.T) {
	// setup
	ctx := t.Context()
	dir := t.TempDir()
	sink, err := auditexport.NewFSSink(dir)
	require.NoError(t, err)

	const writers = 16
	errs := make([]error, writers)
	start := make(chan struct{})
	var wg sync.WaitGroup

	// act
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = sink.Put(ctx, "loans/race.jsonl", "", []byte{byte('a' + i), '\n'})
		}()
	}
	close(start)
	wg.Wait()

	// assert
	winner := -1
	for i, putErr := range errs {
		if putErr == nil {
			assert.Equal(t, -1, winner, "more than one Put succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, putErr, auditexport.ErrExportExists)
	}
	require.NotEqual(t, -1, winner, "no Put succeeded")

	content, err := os.ReadFile(filepath.Join(dir, "loans", "race.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte('a' + winner), '\n'}, content)

	entries, err := os.ReadDir(filepath.Join(dir, "loans"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}
