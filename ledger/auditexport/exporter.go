package auditexport

import (
	"bytes"
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	keyPrefix       = "loans/"
	keySuffix       = ".jsonl"
	keyTimeLayout   = "20060102T150405Z"
	contentTypeJSON = "application/x-ndjson"

	logMsgExported     = "loan ledger exported"
	logMsgExportFailed = "loan ledger export failed"

	logAttrKey   = "key"
	logAttrLoans = "loans"
	logAttrError = "error"
)

var (
	// ErrNilSource is returned by NewExporter when no LoanSource is given.
	ErrNilSource = errors.New("export source must not be nil")

	// ErrNilSink is returned by NewExporter when no Sink is given.
	ErrNilSink = errors.New("export sink must not be nil")

	// ErrExportFailed wraps every error returned by Export.
	ErrExportFailed = errors.New("exporting loan ledger failed")

	// ErrEncodingFailed is joined into ErrExportFailed when a loan cannot be encoded.
	ErrEncodingFailed = errors.New("encoding loan failed")

	// ErrWritingFailed is joined into ErrExportFailed when the sink rejects the export.
	ErrWritingFailed = errors.New("writing export failed")
)

// LoanSource is the view the exporter reads. *engine.Engine satisfies it.
type LoanSource interface {
	ListLoans(ctx context.Context) ([]ledger.LoanView, error)
}

// Sink stores one finished export under key.
type Sink interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Result describes a finished export.
type Result struct {
	Key   string `json:"key"`
	Loans int    `json:"loans"`
}

// Exporter writes the loan ledger to a Sink.
type Exporter struct {
	source LoanSource
	sink   Sink
	clock  func() time.Time
	logger ledger.Logger
}

// Option configures the Exporter.
type Option func(*Exporter) error

// WithClock sets the clock that names the export. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Exporter) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}

		e.clock = clock

		return nil
	}
}

// WithLogger sets the logger for the Exporter.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Exporter) error {
		e.logger = logger
		return nil
	}
}

// NewExporter creates an Exporter reading from source and writing to sink.
func NewExporter(source LoanSource, sink Sink, options ...Option) (*Exporter, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	if sink == nil {
		return nil, ErrNilSink
	}

	e := &Exporter{source: source, sink: sink, clock: time.Now}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Export reads all loans and writes them as one JSON lines object.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	key := ObjectKey(e.clock())

	loans, err := e.source.ListLoans(ctx)
	if err != nil {
		return Result{}, e.failed(key, err)
	}

	body, err := EncodeJSONLines(loans)
	if err != nil {
		return Result{}, e.failed(key, err)
	}

	if err = e.sink.Put(ctx, key, contentTypeJSON, body); err != nil {
		return Result{}, e.failed(key, errors.Join(ErrWritingFailed, err))
	}

	if e.logger != nil {
		e.logger.Info(logMsgExported, logAttrKey, key, logAttrLoans, len(loans))
	}

	return Result{Key: key, Loans: len(loans)}, nil
}

func (e *Exporter) failed(key string, err error) error {
	if e.logger != nil {
		e.logger.Error(logMsgExportFailed, logAttrKey, key, logAttrError, err.Error())
	}

	return errors.Join(ErrExportFailed, err)
}

// ObjectKey names the export taken at t.
func ObjectKey(t time.Time) string {
	return keyPrefix + t.UTC().Format(keyTimeLayout) + keySuffix
}

// EncodeJSONLines encodes one loan per line.
func EncodeJSONLines(loans []ledger.LoanView) ([]byte, error) {
	var buf bytes.Buffer
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(&buf)

	for _, loan := range loans {
		if err := encoder.Encode(loan); err != nil {
			return nil, errors.Join(ErrEncodingFailed, err)
		}
	}

	return buf.Bytes(), nil
}
