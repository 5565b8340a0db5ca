// Package ingest drives one ingestion run: discover candidate messages, skip
// the ones already in the ledger, then fetch, store, extract and reconcile
// each document attachment, one at a time.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"rechnungen/internal/attachments"
	"rechnungen/internal/invoice"
	"rechnungen/internal/logger"
	"rechnungen/internal/mail"
	"rechnungen/internal/store"
	"rechnungen/pkg/models"
)

// Ledger is the deduplication ledger.
type Ledger interface {
	Contains(messageID string) bool
	Record(messageID string) error
}

// Extractor turns a document into an invoice record.
type Extractor interface {
	Extract(ctx context.Context, doc invoice.Document) (*invoice.Extraction, error)
}

// Upserter reconciles a record with storage.
type Upserter interface {
	Upsert(ctx context.Context, inv *models.Invoice) (store.Outcome, error)
}

// Options bound a run.
type Options struct {
	Query      string        // mail search query without the time bound
	Lookback   time.Duration // how far back to search
	MaxResults int64         // candidate limit per run
	DryRun     bool          // extract only: nothing is saved, stored or recorded

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// RunSummary counts what a run did.
type RunSummary struct {
	Candidates int // messages returned by the search
	Skipped    int // messages already in the ledger
	Messages   int // messages recorded in the ledger by this run
	Inserted   int
	Updated    int
	Rejected   int // documents without invoice number or supplier
	Failed     int // documents lost to fetch, storage or extraction errors
	Extracted  int // documents extracted in a dry run
}

// Processed is the number of invoices reconciled by the run.
func (s RunSummary) Processed() int {
	return s.Inserted + s.Updated
}

// Pipeline is the ingestion loop.
type Pipeline struct {
	mailbox     mail.Mailbox
	ledger      Ledger
	attachments attachments.Store
	extractor   Extractor
	store       Upserter
	opts        Options
	log         zerolog.Logger
}

// New wires a pipeline. attachments may be nil, in which case documents keep
// no source file path.
func New(mailbox mail.Mailbox, ledger Ledger, attachmentStore attachments.Store, extractor Extractor, upserter Upserter, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		mailbox:     mailbox,
		ledger:      ledger,
		attachments: attachmentStore,
		extractor:   extractor,
		store:       upserter,
		opts:        opts,
		log:         logger.WithComponent("ingest"),
	}
}

// Run processes every candidate message sequentially. Failures are confined
// to the document they happen in; a canceled context stops the run between
// messages.
func (p *Pipeline) Run(ctx context.Context) RunSummary {
	var summary RunSummary
	start := p.opts.Now()
	since := start.Add(-p.opts.Lookback)

	ids, err := p.mailbox.Search(ctx, p.opts.Query, since, p.opts.MaxResults)
	if err != nil {
		p.log.Error().Err(err).Str("query", p.opts.Query).Msg("Mail search failed, nothing to do")
		return summary
	}
	summary.Candidates = len(ids)

	p.log.Info().
		Int("candidates", len(ids)).
		Time("since", since).
		Bool("dry_run", p.opts.DryRun).
		Msg("Ingestion run started")

	for _, id := range ids {
		if ctx.Err() != nil {
			p.log.Warn().Err(ctx.Err()).Msg("Run canceled")
			break
		}
		if p.ledger.Contains(id) {
			summary.Skipped++
			continue
		}
		if !p.processMessage(ctx, id, &summary) || p.opts.DryRun {
			continue
		}
		if err := p.ledger.Record(id); err != nil {
			p.log.Error().Err(err).Str("message_id", id).Msg("Failed to record message in ledger")
			continue
		}
		summary.Messages++
	}

	p.log.Info().
		Int("candidates", summary.Candidates).
		Int("skipped", summary.Skipped).
		Int("messages", summary.Messages).
		Int("processed", summary.Processed()).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("rejected", summary.Rejected).
		Int("failed", summary.Failed).
		Dur("duration", p.opts.Now().Sub(start)).
		Msg("Ingestion run finished")

	return summary
}

// processMessage reports whether at least one attachment was reconciled.
func (p *Pipeline) processMessage(ctx context.Context, id string, summary *RunSummary) bool {
	log := logger.WithMessage("ingest", id)

	msg, err := p.mailbox.Fetch(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch message")
		summary.Failed++
		return false
	}
	if len(msg.Attachments) == 0 {
		log.Debug().Str("subject", msg.Subject).Msg("No document attachments")
		return false
	}

	filenames := make([]string, len(msg.Attachments))
	for i, att := range msg.Attachments {
		filenames[i] = att.Filename
	}
	storedNames := attachments.DistinctNames(filenames)

	succeeded := false
	for i, att := range msg.Attachments {
		if p.processAttachment(ctx, log, msg, att, storedNames[i], summary) {
			succeeded = true
		}
	}
	return succeeded
}

func (p *Pipeline) processAttachment(ctx context.Context, log zerolog.Logger, msg *mail.Message, att mail.Attachment, storedName string, summary *RunSummary) bool {
	log = log.With().Str("attachment", att.Filename).Logger()

	data, err := p.mailbox.FetchAttachment(ctx, msg.ID, att.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download attachment")
		summary.Failed++
		return false
	}

	doc := invoice.Document{Name: att.Filename, MimeType: att.MimeType, Data: data}
	if p.attachments != nil && !p.opts.DryRun {
		path, err := p.attachments.Save(ctx, msg.ID, storedName, data)
		if err != nil {
			log.Error().Err(err).Msg("Failed to store attachment")
			summary.Failed++
			return false
		}
		doc.Path = path
	}

	extraction, err := p.extractor.Extract(ctx, doc)
	switch {
	case errors.Is(err, invoice.ErrRejected):
		summary.Rejected++
		return false
	case err != nil:
		log.Error().Err(err).Msg("Extraction failed")
		summary.Failed++
		return false
	}

	if p.opts.DryRun {
		summary.Extracted++
		log.Info().
			Str("invoice_number", extraction.Invoice.InvoiceNumber).
			Str("supplier", extraction.Invoice.Supplier).
			Str("source", extraction.Source).
			Msg("Dry run, invoice not stored")
		return false
	}

	outcome, err := p.store.Upsert(ctx, extraction.Invoice)
	switch {
	case errors.Is(err, store.ErrValidation):
		summary.Rejected++
		return false
	case err != nil:
		log.Error().Err(err).Str("invoice_number", extraction.Invoice.InvoiceNumber).Msg("Failed to store invoice")
		summary.Failed++
		return false
	}

	switch outcome {
	case store.Inserted:
		summary.Inserted++
	case store.Updated:
		summary.Updated++
	}
	return true
}
