package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rechnungen/pkg/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*InvoiceStore, *DB, *clock) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	c := &clock{t: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)}
	return NewInvoiceStoreWithClock(db, c.now), db, c
}

func money(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func countRows(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM invoices`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestUpsertInsertAppliesDefaults(t *testing.T) {
	s, db, c := newTestStore(t)
	ctx := context.Background()

	inv := &models.Invoice{
		InvoiceNumber:  "12345",
		Supplier:       "Meine Firma GmbH",
		Date:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		NetAmount:      money("1000.00"),
		SourceFilePath: "invoices/m1_rechnung.pdf",
	}
	outcome, err := s.Upsert(ctx, inv)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if outcome != Inserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}
	if inv.ID == "" {
		t.Errorf("ID not set")
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("rows = %d", n)
	}

	got, err := s.FindByNumber(ctx, "12345")
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if got.ID != inv.ID {
		t.Errorf("ID = %q, want %q", got.ID, inv.ID)
	}
	if got.Status != models.StatusNew {
		t.Errorf("Status = %q", got.Status)
	}
	if got.VATRate != "19%" {
		t.Errorf("VATRate = %q", got.VATRate)
	}
	if !got.NetAmount.Decimal.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("NetAmount = %s", got.NetAmount.Decimal)
	}
	for name, amount := range map[string]decimal.NullDecimal{"vat": got.VATAmount, "gross": got.GrossAmount} {
		if !amount.Valid || !amount.Decimal.IsZero() {
			t.Errorf("%s = %v, want 0", name, amount)
		}
	}
	if got.DateString() != "2024-03-01" {
		t.Errorf("Date = %q", got.DateString())
	}
	if got.ServicePeriod != "" || got.SourceFilePath != "invoices/m1_rechnung.pdf" {
		t.Errorf("period/path = %q / %q", got.ServicePeriod, got.SourceFilePath)
	}
	for name, ts := range map[string]time.Time{"created": got.CreatedAt, "updated": got.UpdatedAt, "processed": got.ProcessedAt} {
		if !ts.Equal(c.t) {
			t.Errorf("%s = %v, want %v", name, ts, c.t)
		}
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	s, db, c := newTestStore(t)
	ctx := context.Background()

	first := &models.Invoice{InvoiceNumber: "R-1", Supplier: "Alt GmbH", GrossAmount: money("10.00"), Status: models.StatusUnpaid}
	if _, err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	created := c.t

	c.advance(time.Hour)
	second := &models.Invoice{InvoiceNumber: "R-1", Supplier: "Neu GmbH", GrossAmount: money("11.90"), ServicePeriod: "03.2024"}
	outcome, err := s.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if outcome != Updated {
		t.Fatalf("outcome = %s, want updated", outcome)
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	got, err := s.FindByNumber(ctx, "R-1")
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if got.ID != first.ID || second.ID != first.ID {
		t.Errorf("ID changed: %q -> %q", first.ID, got.ID)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.After(created) || !got.ProcessedAt.Equal(got.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, ProcessedAt = %v", got.UpdatedAt, got.ProcessedAt)
	}
	if got.Supplier != "Neu GmbH" || got.ServicePeriod != "03.2024" {
		t.Errorf("fields not updated: %+v", got)
	}
	if got.Status != models.StatusUnpaid {
		t.Errorf("Status = %q, want it untouched", got.Status)
	}

	c.advance(time.Hour)
	if _, err := s.Upsert(ctx, &models.Invoice{InvoiceNumber: "R-1", Supplier: "Neu GmbH", Status: models.StatusPaid}); err != nil {
		t.Fatalf("third Upsert: %v", err)
	}
	if got, _ := s.FindByNumber(ctx, "R-1"); got.Status != models.StatusPaid {
		t.Errorf("explicit status not applied: %q", got.Status)
	}
}

func TestUpsertDefaultsMissingDate(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()

	inv := &models.Invoice{InvoiceNumber: "A1", Supplier: "X GmbH"}
	if _, err := s.Upsert(ctx, inv); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if inv.DateString() != "2024-03-05" {
		t.Errorf("in-memory Date = %q", inv.DateString())
	}
	if got, _ := s.FindByNumber(ctx, "A1"); got.DateString() != "2024-03-05" {
		t.Errorf("stored Date = %q, want 2024-03-05", got.DateString())
	}

	dated := &models.Invoice{InvoiceNumber: "B1", Supplier: "X GmbH", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if _, err := s.Upsert(ctx, dated); err != nil {
		t.Fatalf("Upsert B1: %v", err)
	}
	c.advance(48 * time.Hour)
	if _, err := s.Upsert(ctx, &models.Invoice{InvoiceNumber: "B1", Supplier: "X GmbH"}); err != nil {
		t.Fatalf("update B1: %v", err)
	}
	if got, _ := s.FindByNumber(ctx, "B1"); got.DateString() != "2024-03-07" {
		t.Errorf("updated Date = %q, want 2024-03-07", got.DateString())
	}
}

func TestUpsertKeyIsCaseSensitive(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	for _, number := range []string{"re-7", "RE-7"} {
		outcome, err := s.Upsert(ctx, &models.Invoice{InvoiceNumber: number, Supplier: "X AG"})
		if err != nil || outcome != Inserted {
			t.Fatalf("Upsert(%s) = %s, %v", number, outcome, err)
		}
	}
	if n := countRows(t, db); n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}
}

func TestUpsertRejectsIncompleteRecords(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	for _, inv := range []*models.Invoice{
		{Supplier: "Ohne Nummer GmbH"},
		{InvoiceNumber: "1"},
		{InvoiceNumber: "  ", Supplier: "  "},
	} {
		if _, err := s.Upsert(ctx, inv); !errors.Is(err, ErrValidation) {
			t.Errorf("Upsert(%+v) error = %v, want ErrValidation", inv, err)
		}
	}
	if n := countRows(t, db); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestUpsertReportsStorageFailure(t *testing.T) {
	s, db, _ := newTestStore(t)
	db.Close()

	if _, err := s.Upsert(context.Background(), &models.Invoice{InvoiceNumber: "1", Supplier: "X AG"}); err == nil {
		t.Fatalf("expected an error on a closed database")
	}
}

func TestListAndFind(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()

	for i, d := range []int{1, 15, 28} {
		c.advance(time.Minute)
		inv := &models.Invoice{
			InvoiceNumber: []string{"A", "B", "C"}[i],
			Supplier:      "Lieferant KG",
			Date:          time.Date(2024, 2, d, 0, 0, 0, 0, time.UTC),
		}
		if i == 2 {
			inv.Status = models.StatusPaid
		}
		if _, err := s.Upsert(ctx, inv); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	all, err := s.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].InvoiceNumber != "C" || all[2].InvoiceNumber != "A" {
		t.Fatalf("List order = %v", numbers(all))
	}

	ranged, err := s.List(ctx, ListOptions{
		From: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
	})
	if err != nil || len(ranged) != 2 {
		t.Fatalf("ranged List = %v, %v", numbers(ranged), err)
	}

	paid, err := s.List(ctx, ListOptions{Status: models.StatusPaid, Limit: 5})
	if err != nil || len(paid) != 1 || paid[0].InvoiceNumber != "C" {
		t.Fatalf("status List = %v, %v", numbers(paid), err)
	}

	if _, err := s.FindByNumber(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByNumber(missing) error = %v", err)
	}
}

func TestOpenRejectsUnknownDSN(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://localhost/db"); !errors.Is(err, ErrUnsupportedDSN) {
		t.Fatalf("err = %v, want ErrUnsupportedDSN", err)
	}
}

func numbers(invs []models.Invoice) []string {
	out := make([]string, len(invs))
	for i, inv := range invs {
		out[i] = inv.InvoiceNumber
	}
	return out
}
