// Package mail discovers invoice candidates in a mailbox and downloads their
// document attachments.
package mail

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

var (
	// ErrMissingCredentials is returned when neither an OAuth client with a
	// token file nor an access token is configured.
	ErrMissingCredentials = errors.New("missing mail credentials: set GMAIL_CREDENTIALS_FILE and GMAIL_TOKEN_FILE, or GMAIL_ACCESS_TOKEN")

	// ErrEmptyAttachment is returned when an attachment has no content.
	ErrEmptyAttachment = errors.New("attachment is empty")
)

// Mailbox is the mail capability consumed by the ingestion loop.
type Mailbox interface {
	// Search returns the ids of messages matching query received after since,
	// at most maxResults of them.
	Search(ctx context.Context, query string, since time.Time, maxResults int64) ([]string, error)

	// Fetch returns the message with its document attachments.
	Fetch(ctx context.Context, messageID string) (*Message, error)

	// FetchAttachment returns the decoded attachment bytes.
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Message is the part of a mail message the pipeline needs.
type Message struct {
	ID          string
	Subject     string
	From        string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// Attachment references a document attachment of a message.
type Attachment struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// IsDocument reports whether a part qualifies as an invoice document: a PDF
// by file extension or MIME type.
func IsDocument(filename, mimeType string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf") ||
		strings.EqualFold(mimeType, "application/pdf")
}

// DocumentAttachments walks the part tree depth-first and returns every
// document part that can be downloaded by attachment id.
func DocumentAttachments(part *gmail.MessagePart) []Attachment {
	if part == nil {
		return nil
	}
	var out []Attachment
	if part.Body != nil && part.Body.AttachmentId != "" && IsDocument(part.Filename, part.MimeType) {
		out = append(out, Attachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		out = append(out, DocumentAttachments(child)...)
	}
	return out
}

// header returns the first header named name.
func header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
