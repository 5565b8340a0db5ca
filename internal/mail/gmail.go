package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
)

// GmailMailbox implements Mailbox with the Gmail API.
type GmailMailbox struct {
	service *gmail.Service
	user    string
	log     zerolog.Logger
}

// NewGmailMailbox creates the mailbox from the configured credentials.
func NewGmailMailbox(ctx context.Context, cfg *config.Config) (*GmailMailbox, error) {
	const op = "NewGmailMailbox"

	ts, err := NewTokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	service, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("%s: create gmail service: %w", op, err)
	}
	return NewGmailMailboxWithService(service, cfg.GmailUser), nil
}

// NewGmailMailboxWithService creates the mailbox with an explicit service (for testing).
func NewGmailMailboxWithService(service *gmail.Service, user string) *GmailMailbox {
	if user == "" {
		user = "me"
	}
	return &GmailMailbox{
		service: service,
		user:    user,
		log:     logger.WithComponent("gmail"),
	}
}

// NewTokenSource returns the OAuth token source for the Gmail API. A static
// access token wins; otherwise the installed-app client secret is combined
// with a previously authorized token file, refreshing it as needed.
func NewTokenSource(ctx context.Context, cfg *config.Config) (oauth2.TokenSource, error) {
	const op = "NewTokenSource"

	if cfg.GmailAccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GmailAccessToken}), nil
	}
	if cfg.GmailCredentialsFile == "" || cfg.GmailTokenFile == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}

	secret, err := os.ReadFile(cfg.GmailCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%s: read client credentials: %w", op, err)
	}
	oauthConfig, err := google.ConfigFromJSON(secret, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%s: parse client credentials: %w", op, err)
	}

	raw, err := os.ReadFile(cfg.GmailTokenFile)
	if err != nil {
		return nil, fmt.Errorf("%s: read token file: %w", op, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%s: parse token file: %w", op, err)
	}
	return oauthConfig.TokenSource(ctx, &token), nil
}

// Search implements Mailbox. The lower bound is appended to query as an
// after: clause in Unix seconds.
func (g *GmailMailbox) Search(ctx context.Context, query string, since time.Time, maxResults int64) ([]string, error) {
	const op = "GmailMailbox.Search"

	q := strings.TrimSpace(fmt.Sprintf("%s after:%d", query, since.Unix()))
	call := g.service.Users.Messages.List(g.user).Q(q).Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}

	g.log.Debug().
		Str("query", q).
		Int("results", len(ids)).
		Msg("Mailbox searched")
	return ids, nil
}

// Fetch implements Mailbox.
func (g *GmailMailbox) Fetch(ctx context.Context, messageID string) (*Message, error) {
	const op = "GmailMailbox.Fetch"

	msg, err := g.service.Users.Messages.Get(g.user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, messageID, err)
	}
	return &Message{
		ID:          msg.Id,
		Subject:     header(msg.Payload, "Subject"),
		From:        header(msg.Payload, "From"),
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
		Attachments: DocumentAttachments(msg.Payload),
	}, nil
}

// FetchAttachment implements Mailbox.
func (g *GmailMailbox) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	const op = "GmailMailbox.FetchAttachment"

	body, err := g.service.Users.Messages.Attachments.Get(g.user, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, messageID, err)
	}
	if body.Data == "" {
		return nil, fmt.Errorf("%s %s: %w", op, messageID, ErrEmptyAttachment)
	}
	data, err := decodeBase64URL(body.Data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: decode attachment: %w", op, messageID, err)
	}
	return data, nil
}

// decodeBase64URL accepts URL-safe base64 with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
