package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rechnungen/internal/logger"
	"rechnungen/pkg/models"
)

// Outcome tells which branch an upsert took.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Updated  Outcome = "updated"
)

// InvoiceStore reconciles extracted invoices with the invoice table.
type InvoiceStore struct {
	db  *DB
	now func() time.Time
	log zerolog.Logger
}

// NewInvoiceStore creates a store on an open, migrated database.
func NewInvoiceStore(db *DB) *InvoiceStore {
	return NewInvoiceStoreWithClock(db, time.Now)
}

// NewInvoiceStoreWithClock creates a store with an explicit clock (for testing).
func NewInvoiceStoreWithClock(db *DB, now func() time.Time) *InvoiceStore {
	return &InvoiceStore{
		db:  db,
		now: now,
		log: logger.WithComponent("invoice-store"),
	}
}

// Upsert inserts inv, or fully updates the row with the same invoice number.
// The lookup is an exact, case-sensitive match. All writes for one record
// happen in one transaction. On success inv carries the persisted ID,
// defaults and timestamps.
func (s *InvoiceStore) Upsert(ctx context.Context, inv *models.Invoice) (Outcome, error) {
	const op = "InvoiceStore.Upsert"

	if err := inv.Validate(); err != nil {
		s.log.Warn().
			Err(err).
			Str("invoice_number", inv.InvoiceNumber).
			Str("supplier", inv.Supplier).
			Msg("Invoice rejected before storage")
		return "", WrapStoreError(op, fmt.Errorf("%w: %v", ErrValidation, err), inv.InvoiceNumber)
	}

	now := s.now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", WrapStoreError(op, err, "failed to begin transaction")
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback() }()

	var id string
	var created sqlTime
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM invoices WHERE invoice_number = $1`,
		inv.InvoiceNumber,
	).Scan(&id, &created)

	var outcome Outcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = Inserted
		id = uuid.NewString()
		created = sqlTime{Time: now, Valid: true}
		if err := s.insert(ctx, tx, id, inv, now); err != nil {
			return "", WrapStoreError(op, err, "insert "+inv.InvoiceNumber)
		}
	case err != nil:
		return "", WrapStoreError(op, err, "lookup "+inv.InvoiceNumber)
	default:
		outcome = Updated
		if err := s.update(ctx, tx, id, inv, now); err != nil {
			return "", WrapStoreError(op, err, "update "+inv.InvoiceNumber)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", WrapStoreError(op, err, "commit "+inv.InvoiceNumber)
	}

	inv.ID = id
	inv.CreatedAt = created.Time
	inv.UpdatedAt = now
	inv.ProcessedAt = now
	applyDefaults(inv, outcome, now)

	s.log.Info().
		Str("outcome", string(outcome)).
		Str("id", id).
		Str("invoice_number", inv.InvoiceNumber).
		Str("supplier", inv.Supplier).
		Str("gross", inv.GrossAmount.Decimal.StringFixed(2)).
		Msg("Invoice stored")

	return outcome, nil
}

func (s *InvoiceStore) insert(ctx context.Context, tx *sql.Tx, id string, inv *models.Invoice, now time.Time) error {
	status := inv.Status
	if status == "" {
		status = models.StatusNew
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO invoices (
			id, invoice_number, invoice_date, supplier,
			net_amount, vat_rate, vat_amount, gross_amount,
			service_period, source_file_path, status,
			processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, inv.InvoiceNumber, dateArg(storedDate(inv.Date, now)), inv.Supplier,
		amountArg(inv.NetAmount), vatRateArg(inv.VATRate), amountArg(inv.VATAmount), amountArg(inv.GrossAmount),
		nullString(inv.ServicePeriod), nullString(inv.SourceFilePath), string(status),
		now, now, now,
	)
	return err
}

// update overwrites every mutable field. Status and source path are kept
// when the record does not carry them.
func (s *InvoiceStore) update(ctx context.Context, tx *sql.Tx, id string, inv *models.Invoice, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices SET
			invoice_date = $1,
			supplier = $2,
			net_amount = $3,
			vat_rate = $4,
			vat_amount = $5,
			gross_amount = $6,
			service_period = $7,
			source_file_path = COALESCE($8, source_file_path),
			status = COALESCE($9, status),
			processed_at = $10,
			updated_at = $11
		WHERE id = $12`,
		dateArg(storedDate(inv.Date, now)), inv.Supplier,
		amountArg(inv.NetAmount), vatRateArg(inv.VATRate), amountArg(inv.VATAmount), amountArg(inv.GrossAmount),
		nullString(inv.ServicePeriod), nullString(inv.SourceFilePath), nullString(string(inv.Status)),
		now, now, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("updated %d rows, want 1", n)
	}
	return nil
}

// applyDefaults mirrors the persisted defaults onto the in-memory record.
func applyDefaults(inv *models.Invoice, outcome Outcome, now time.Time) {
	inv.Date = storedDate(inv.Date, now)
	if inv.VATRate == "" {
		inv.VATRate = models.DefaultVATRate
	}
	for _, amt := range []*decimal.NullDecimal{&inv.NetAmount, &inv.VATAmount, &inv.GrossAmount} {
		if !amt.Valid {
			*amt = decimal.NullDecimal{Decimal: decimal.Zero, Valid: true}
		}
	}
	if inv.Status == "" && outcome == Inserted {
		inv.Status = models.StatusNew
	}
}

const invoiceColumns = `id, invoice_number, invoice_date, supplier,
	net_amount, vat_rate, vat_amount, gross_amount,
	service_period, source_file_path, status,
	processed_at, created_at, updated_at`

// FindByNumber returns the invoice with the given number, or ErrNotFound.
func (s *InvoiceStore) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	const op = "InvoiceStore.FindByNumber"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number = $1`, number)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, WrapStoreError(op, ErrNotFound, number)
	}
	if err != nil {
		return nil, WrapStoreError(op, err, number)
	}
	return inv, nil
}

// ListOptions filters List. Zero values disable a filter.
type ListOptions struct {
	From   time.Time // invoice date, inclusive
	To     time.Time // invoice date, inclusive
	Status models.Status
	Limit  int
}

// List returns stored invoices, newest invoice date first.
func (s *InvoiceStore) List(ctx context.Context, opts ListOptions) ([]models.Invoice, error) {
	const op = "InvoiceStore.List"

	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !opts.From.IsZero() {
		add("invoice_date >= $%d", opts.From.Format(models.DateLayout))
	}
	if !opts.To.IsZero() {
		add("invoice_date <= $%d", opts.To.Format(models.DateLayout))
	}
	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY invoice_date DESC, created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapStoreError(op, err, "query")
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, WrapStoreError(op, err, "scan")
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapStoreError(op, err, "rows")
	}
	return invoices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv                       models.Invoice
		date                      sqlTime
		servicePeriod, sourcePath sql.NullString
		status                    string
		processed, created, upd   sqlTime
	)
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &date, &inv.Supplier,
		&inv.NetAmount, &inv.VATRate, &inv.VATAmount, &inv.GrossAmount,
		&servicePeriod, &sourcePath, &status,
		&processed, &created, &upd,
	)
	if err != nil {
		return nil, err
	}
	if date.Valid {
		y, m, d := date.Time.Date()
		inv.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	inv.ServicePeriod = servicePeriod.String
	inv.SourceFilePath = sourcePath.String
	inv.Status = models.Status(status)
	inv.ProcessedAt = processed.Time
	inv.CreatedAt = created.Time
	inv.UpdatedAt = upd.Time
	return &inv, nil
}

// storedDate is the invoice date written for d: the day of now when d is unset.
func storedDate(d, now time.Time) time.Time {
	if d.IsZero() {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return d
}

func dateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(models.DateLayout)
}

func amountArg(d decimal.NullDecimal) string {
	if !d.Valid {
		return decimal.Zero.StringFixed(2)
	}
	return d.Decimal.StringFixed(2)
}

func vatRateArg(rate string) string {
	if rate == "" {
		return models.DefaultVATRate
	}
	return rate
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sqlTime scans timestamps and dates from both engines: pgx returns
// time.Time, SQLite may return text.
type sqlTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	models.DateLayout,
}

// Scan implements sql.Scanner.
func (t *sqlTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*t = sqlTime{}
		return nil
	case time.Time:
		*t = sqlTime{Time: x.UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	}
	return fmt.Errorf("cannot scan %T into a time", v)
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = sqlTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}
