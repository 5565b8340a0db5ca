package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rechnungen/internal/attachments"
	"rechnungen/internal/invoice"
	"rechnungen/internal/ledger"
	"rechnungen/internal/mail"
	"rechnungen/internal/store"
)

var runTime = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

// fakeMailbox serves messages whose attachment bytes are the document text.
type fakeMailbox struct {
	ids       []string
	messages  map[string]*mail.Message
	data      map[string]string // attachment id -> content
	searchErr error

	since   time.Time
	fetched map[string]int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: make(map[string]*mail.Message),
		data:     make(map[string]string),
		fetched:  make(map[string]int),
	}
}

func (f *fakeMailbox) add(id string, docs ...string) {
	msg := &mail.Message{ID: id, Subject: "Rechnung"}
	for i, doc := range docs {
		attID := id + "-att" + string(rune('0'+i))
		msg.Attachments = append(msg.Attachments, mail.Attachment{ID: attID, Filename: "rechnung.pdf", MimeType: "application/pdf"})
		f.data[attID] = doc
	}
	f.ids = append(f.ids, id)
	f.messages[id] = msg
}

func (f *fakeMailbox) Search(ctx context.Context, query string, since time.Time, maxResults int64) ([]string, error) {
	f.since = since
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.ids, nil
}

func (f *fakeMailbox) Fetch(ctx context.Context, id string) (*mail.Message, error) {
	f.fetched[id]++
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("404")
	}
	return msg, nil
}

func (f *fakeMailbox) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	content, ok := f.data[attachmentID]
	if !ok {
		return nil, errors.New("attachment gone")
	}
	return []byte(content), nil
}

type echoText struct{}

func (echoText) ExtractText(ctx context.Context, data []byte) string { return string(data) }

type fixture struct {
	mailbox *fakeMailbox
	ledger  *ledger.Ledger
	store   *store.InvoiceStore
	db      *store.DB
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), ledger.DefaultCapacity)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	return &fixture{
		mailbox: newFakeMailbox(),
		ledger:  l,
		store:   store.NewInvoiceStoreWithClock(db, func() time.Time { return runTime }),
		db:      db,
		dir:     dir,
	}
}

func (f *fixture) pipeline(t *testing.T, dryRun bool) *Pipeline {
	t.Helper()
	files, err := attachments.NewLocalStore(filepath.Join(f.dir, "invoices"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	patterns := invoice.NewPatternExtractorWithRules(invoice.DefaultRules, func() time.Time { return runTime })
	orchestrator := invoice.NewOrchestrator(echoText{}, nil, patterns)
	return New(f.mailbox, f.ledger, files, orchestrator, f.store, Options{
		Query:      "has:attachment filename:pdf",
		Lookback:   24 * time.Hour,
		MaxResults: 20,
		DryRun:     dryRun,
		Now:        func() time.Time { return runTime },
	})
}

func (f *fixture) rows(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM invoices`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

const goodInvoice = "Meine Firma GmbH\nRechnungsnummer: 12345\nRechnungsdatum: 01.03.2024\nNetto: 1.000,00\n19% MwSt: 190,00"

func TestRunStoresAndRecords(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", goodInvoice)

	sum := f.pipeline(t, false).Run(context.Background())

	if sum.Candidates != 1 || sum.Inserted != 1 || sum.Messages != 1 || sum.Processed() != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if !f.mailbox.since.Equal(runTime.Add(-24 * time.Hour)) {
		t.Errorf("search since = %v", f.mailbox.since)
	}
	if !f.ledger.Contains("m1") {
		t.Errorf("message not recorded")
	}

	inv, err := f.store.FindByNumber(context.Background(), "12345")
	if err != nil {
		t.Fatalf("FindByNumber: %v", err)
	}
	if !inv.GrossAmount.Decimal.Equal(inv.NetAmount.Decimal.Add(inv.VATAmount.Decimal)) || inv.GrossAmount.Decimal.StringFixed(2) != "1190.00" {
		t.Errorf("gross = %s", inv.GrossAmount.Decimal.StringFixed(2))
	}
	if !strings.HasSuffix(inv.SourceFilePath, filepath.Join("invoices", "m1_rechnung.pdf")) {
		t.Errorf("SourceFilePath = %q", inv.SourceFilePath)
	}
}

func TestRunKeepsSameNamedAttachmentsApart(t *testing.T) {
	f := newFixture(t)
	second := strings.Replace(goodInvoice, "12345", "67890", 1)
	f.mailbox.add("m1", goodInvoice, second)

	sum := f.pipeline(t, false).Run(context.Background())
	if sum.Inserted != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	paths := make(map[string]string)
	for _, number := range []string{"12345", "67890"} {
		inv, err := f.store.FindByNumber(context.Background(), number)
		if err != nil {
			t.Fatalf("FindByNumber(%s): %v", number, err)
		}
		paths[number] = inv.SourceFilePath
	}
	if paths["12345"] == paths["67890"] {
		t.Fatalf("both invoices point at %q", paths["12345"])
	}
	if !strings.HasSuffix(paths["67890"], "m1_rechnung_2.pdf") {
		t.Errorf("second path = %q", paths["67890"])
	}
	for number, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil || !strings.Contains(string(data), number) {
			t.Errorf("%s: file %q holds %q, %v", number, p, data, err)
		}
	}
}

func TestRunSkipsLedgeredMessages(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", goodInvoice)

	f.pipeline(t, false).Run(context.Background())
	sum := f.pipeline(t, false).Run(context.Background())

	if sum.Skipped != 1 || sum.Processed() != 0 {
		t.Errorf("second run summary = %+v", sum)
	}
	if f.mailbox.fetched["m1"] != 1 {
		t.Errorf("m1 fetched %d times, want 1", f.mailbox.fetched["m1"])
	}
}

func TestRerunWithoutLedgerUpdates(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", goodInvoice)
	f.pipeline(t, false).Run(context.Background())

	// Same invoice arriving again in another message.
	f.mailbox.add("m2", goodInvoice)
	sum := f.pipeline(t, false).Run(context.Background())

	if sum.Updated != 1 || sum.Inserted != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if n := f.rows(t); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestRunRejectsIncompleteDocuments(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", "Rechnungsnummer: 9\nNetto: 10,00")

	sum := f.pipeline(t, false).Run(context.Background())

	if sum.Rejected != 1 || sum.Messages != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if f.ledger.Contains("m1") {
		t.Errorf("rejected message must stay unrecorded")
	}
	if n := f.rows(t); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestRunRecordsMessageWithOneGoodAttachment(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", "kein Text", goodInvoice)
	f.mailbox.add("m2", goodInvoice)
	delete(f.mailbox.data, "m2-att0")
	f.mailbox.add("m3")

	sum := f.pipeline(t, false).Run(context.Background())

	if sum.Rejected != 1 || sum.Failed != 1 || sum.Inserted != 1 || sum.Updated != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if !f.ledger.Contains("m1") || f.ledger.Contains("m2") || f.ledger.Contains("m3") {
		t.Errorf("ledger = %v", f.ledger.IDs())
	}
}

func TestRunSurvivesSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.mailbox.searchErr = errors.New("503 backend error")

	if sum := f.pipeline(t, false).Run(context.Background()); sum != (RunSummary{}) {
		t.Errorf("summary = %+v, want zero", sum)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", goodInvoice)

	sum := f.pipeline(t, true).Run(context.Background())

	if sum.Extracted != 1 || sum.Processed() != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if f.ledger.Len() != 0 || f.rows(t) != 0 {
		t.Errorf("dry run wrote state")
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	f.mailbox.add("m1", goodInvoice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := f.pipeline(t, false).Run(ctx)

	if f.mailbox.fetched["m1"] != 0 || sum.Processed() != 0 {
		t.Errorf("canceled run processed messages: %+v", sum)
	}
}
