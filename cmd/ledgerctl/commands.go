package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/auditexport"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
)

const dateLayout = "2006-01-02"

// errUsage marks malformed command lines. The flag set has already printed the details.
var errUsage = errors.New("usage error")

// schemaCreator is implemented by stores that manage their own tables.
type schemaCreator interface {
	CreateSchema(ctx context.Context) error
}

type app struct {
	engine *engine.Engine
	schema schemaCreator
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	clock  func() time.Time
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"schema":       {"create tables and indexes", runSchema},
	"add-item":     {"add an item: -title -author -code -total", runAddItem},
	"revise-item":  {"replace title, author, code and total: -id -title -author -code -total", runReviseItem},
	"adjust":       {"set the total number of copies: -id -total", runAdjust},
	"delete-item":  {"delete an item without open loans: -id", runDeleteItem},
	"items":        {"list all items", runItems},
	"available":    {"list items with an available copy, by title", runAvailable},
	"add-borrower": {"register a borrower: -name -contact", runAddBorrower},
	"borrowers":    {"list borrowers by name", runBorrowers},
	"issue":        {"lend a copy: -borrower -item [-issued YYYY-MM-DD] [-due YYYY-MM-DD]", runIssue},
	"return":       {"return a copy: -loan [-returned YYYY-MM-DD]", runReturn},
	"open-loans":   {"list open loans, optionally of one item: [-item]", runOpenLoans},
	"loans":        {"list all loans, newest first", runLoans},
	"check":        {"compare the counters of an item with its open loans: -item", runCheck},
	"export":       {"export the loan ledger as JSON lines: -dir | -s3-bucket [-s3-endpoint -s3-path-style]", runExport},
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: ledgerctl [global flags] <command> [command flags]\n\ncommands:\n")
	for _, name := range names {
		_, _ = fmt.Fprintf(&b, "  %-13s %s\n", name, commands[name].summary)
	}

	return b.String()
}

// dispatch runs one command and maps its outcome to an exit code.
func (a *app) dispatch(ctx context.Context, args []string) int {
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(a.errOut, "unknown command %q\n\n%s", args[0], usage())
		return exitUsage
	}

	err := cmd.run(ctx, a, args[1:])

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case engine.ClassifyStatus(err) == engine.StatusRejected:
		_, _ = fmt.Fprintf(a.errOut, "rejected: %v\n", err)
		return exitRejected
	default:
		_, _ = fmt.Fprintf(a.errOut, "error: %v\n", err)
		return exitError
	}
}

func (a *app) print(v any) error {
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)

	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	return nil
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: -%s must be a UUID, got %q", ledger.ErrValidation, name, value)
	}

	return id, nil
}

// parseDate reads YYYY-MM-DD. An empty value yields the zero time, which the engine treats as today.
func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	d, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: -%s must be a date like 2024-03-04, got %q", ledger.ErrValidation, name, value)
	}

	return d, nil
}

func runSchema(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "schema"), args); err != nil {
		return err
	}

	if a.schema == nil {
		return errors.New("the store does not manage a schema")
	}

	if err := a.schema.CreateSchema(ctx); err != nil {
		return err
	}

	return a.print(map[string]string{"schema": "ok"})
}

func itemFlags(fs *flag.FlagSet) (*ledger.ItemDetails, *int) {
	details := &ledger.ItemDetails{}
	total := new(int)

	fs.StringVar(&details.Title, "title", "", "title (required)")
	fs.StringVar(&details.Author, "author", "", "author")
	fs.StringVar(&details.Code, "code", "", "external code, unique among items")
	fs.IntVar(total, "total", 1, "total number of copies")

	return details, total
}

func runAddItem(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "add-item")
	details, total := itemFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	item, err := a.engine.CreateItem(ctx, *details, *total)
	if err != nil {
		return err
	}

	return a.print(item)
}

func runReviseItem(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "revise-item")
	id := fs.String("id", "", "item id")
	details, total := itemFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	itemID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	item, err := a.engine.ReviseItem(ctx, itemID, *details, *total)
	if err != nil {
		return err
	}

	return a.print(item)
}

func runAdjust(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "adjust")
	id := fs.String("id", "", "item id")
	total := fs.Int("total", 0, "new total number of copies")
	if err := parse(fs, args); err != nil {
		return err
	}

	itemID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	item, err := a.engine.AdjustItemTotal(ctx, itemID, *total)
	if err != nil {
		return err
	}

	return a.print(item)
}

func runDeleteItem(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "delete-item")
	id := fs.String("id", "", "item id")
	if err := parse(fs, args); err != nil {
		return err
	}

	itemID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	if err = a.engine.DeleteItem(ctx, itemID); err != nil {
		return err
	}

	return a.print(map[string]string{"deleted": itemID.String()})
}

func runItems(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "items"), args); err != nil {
		return err
	}

	items, err := a.engine.ListItems(ctx)
	if err != nil {
		return err
	}

	return a.print(items)
}

func runAvailable(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "available"), args); err != nil {
		return err
	}

	items, err := a.engine.ListAvailableItems(ctx)
	if err != nil {
		return err
	}

	return a.print(items)
}

func runAddBorrower(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "add-borrower")
	name := fs.String("name", "", "borrower name (required)")
	contact := fs.String("contact", "", "contact details")
	if err := parse(fs, args); err != nil {
		return err
	}

	borrower, err := a.engine.RegisterBorrower(ctx, *name, *contact)
	if err != nil {
		return err
	}

	return a.print(borrower)
}

func runBorrowers(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "borrowers"), args); err != nil {
		return err
	}

	borrowers, err := a.engine.ListBorrowers(ctx)
	if err != nil {
		return err
	}

	return a.print(borrowers)
}

func runIssue(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "issue")
	borrower := fs.String("borrower", "", "borrower id")
	item := fs.String("item", "", "item id")
	issued := fs.String("issued", "", "issue date, defaults to today")
	due := fs.String("due", "", "due date (optional)")
	if err := parse(fs, args); err != nil {
		return err
	}

	borrowerID, err := parseID("borrower", *borrower)
	if err != nil {
		return err
	}

	itemID, err := parseID("item", *item)
	if err != nil {
		return err
	}

	issuedOn, err := parseDate("issued", *issued)
	if err != nil {
		return err
	}

	dueOn, err := parseDate("due", *due)
	if err != nil {
		return err
	}

	var duePtr *time.Time
	if !dueOn.IsZero() {
		duePtr = &dueOn
	}

	loan, err := a.engine.IssueCopy(ctx, borrowerID, itemID, issuedOn, duePtr)
	if err != nil {
		return err
	}

	return a.print(loanOutput(loan))
}

func runReturn(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "return")
	loan := fs.String("loan", "", "loan id")
	returned := fs.String("returned", "", "return date, defaults to today")
	if err := parse(fs, args); err != nil {
		return err
	}

	loanID, err := parseID("loan", *loan)
	if err != nil {
		return err
	}

	returnedOn, err := parseDate("returned", *returned)
	if err != nil {
		return err
	}

	closed, err := a.engine.ReturnCopy(ctx, loanID, returnedOn)
	if err != nil {
		return err
	}

	return a.print(loanOutput(closed))
}

func runOpenLoans(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "open-loans")
	item := fs.String("item", "", "only loans of this item")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *item == "" {
		views, err := a.engine.ListOpenLoans(ctx)
		if err != nil {
			return err
		}

		return a.print(views)
	}

	itemID, err := parseID("item", *item)
	if err != nil {
		return err
	}

	loans, err := a.engine.ListOpenLoansForItem(ctx, itemID)
	if err != nil {
		return err
	}

	out := make([]loanJSON, 0, len(loans))
	for _, loan := range loans {
		out = append(out, loanOutput(loan))
	}

	return a.print(out)
}

func runLoans(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlagSet(a, "loans"), args); err != nil {
		return err
	}

	views, err := a.engine.ListLoans(ctx)
	if err != nil {
		return err
	}

	return a.print(views)
}

func runCheck(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "check")
	item := fs.String("item", "", "item id")
	if err := parse(fs, args); err != nil {
		return err
	}

	itemID, err := parseID("item", *item)
	if err != nil {
		return err
	}

	report, err := a.engine.CheckItemConsistency(ctx, itemID)
	if err != nil {
		return err
	}

	return a.print(report)
}

func runExport(ctx context.Context, a *app, args []string) error {
	s3Config := auditexport.S3ConfigFromEnv()

	fs := newFlagSet(a, "export")
	dir := fs.String("dir", "", "write the export below this directory")
	fs.StringVar(&s3Config.Bucket, "s3-bucket", s3Config.Bucket, "write the export into this S3 bucket")
	fs.StringVar(&s3Config.Region, "s3-region", s3Config.Region, "S3 region")
	fs.StringVar(&s3Config.Endpoint, "s3-endpoint", s3Config.Endpoint, "S3 endpoint for S3-compatible stores")
	fs.BoolVar(&s3Config.PathStyle, "s3-path-style", s3Config.PathStyle, "use path-style S3 addressing")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		sink auditexport.Sink
		err  error
	)

	switch {
	case *dir != "":
		sink, err = auditexport.NewFSSink(*dir)
	case s3Config.Bucket != "":
		s3Config.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		s3Config.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		sink, err = auditexport.NewS3Sink(ctx, s3Config)
	default:
		_, _ = fmt.Fprintln(a.errOut, "export needs -dir or -s3-bucket")
		return errUsage
	}

	if err != nil {
		return err
	}

	exporter, err := auditexport.NewExporter(a.engine, sink, auditexport.WithClock(a.clock), auditexport.WithLogger(a.logger))
	if err != nil {
		return err
	}

	result, err := exporter.Export(ctx)
	if err != nil {
		return err
	}

	return a.print(result)
}

// loanJSON is the printed form of a ledger.Loan, whose return date is not an exported field.
type loanJSON struct {
	ID         uuid.UUID `json:"id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	ItemID     uuid.UUID `json:"item_id"`
	IssuedOn   string    `json:"issued_on"`
	DueOn      *string   `json:"due_on"`
	ReturnedOn *string   `json:"returned_on"`
	State      string    `json:"state"`
}

func loanOutput(loan ledger.Loan) loanJSON {
	return loanJSON{
		ID:         loan.ID,
		BorrowerID: loan.BorrowerID,
		ItemID:     loan.ItemID,
		IssuedOn:   loan.IssuedOn.Format(dateLayout),
		DueOn:      formatDate(loan.DueOn),
		ReturnedOn: formatDate(loan.ReturnedOnPtr()),
		State:      loan.State().String(),
	}
}

func formatDate(d *time.Time) *string {
	if d == nil {
		return nil
	}

	s := d.Format(dateLayout)

	return &s
}
