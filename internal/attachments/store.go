// Package attachments keeps a copy of every downloaded invoice document. The
// returned location becomes the invoice's source file path.
package attachments

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
)

// Store saves attachment bytes and returns where they were put.
type Store interface {
	Save(ctx context.Context, messageID, filename string, data []byte) (string, error)
}

// New returns a GCS store when GCS_BUCKET is set and a local store otherwise.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.GCSBucket != "" {
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSFolder, cfg)
	}
	return NewLocalStore(cfg.AttachmentDir)
}

// ObjectName returns the stored name of an attachment: <messageID>_<filename>,
// with path separators and other unsafe characters replaced.
func ObjectName(messageID, filename string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(filename))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "attachment.pdf"
	}
	return messageID + "_" + name
}

// DistinctNames returns filenames for saving the attachments of one message.
// Repeated names get a numeric suffix before the extension, so "a.pdf" seen
// twice becomes "a.pdf" and "a_2.pdf".
func DistinctNames(filenames []string) []string {
	seen := make(map[string]int, len(filenames))
	out := make([]string, len(filenames))
	for i, name := range filenames {
		key := strings.ToLower(strings.TrimSpace(name))
		seen[key]++
		if n := seen[key]; n > 1 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		out[i] = name
	}
	return out
}

// LocalStore writes attachments into a directory.
type LocalStore struct {
	dir string
	log zerolog.Logger
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachments: no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, log: logger.WithComponent("attachments")}, nil
}

// Save implements Store. An existing file of the same name is replaced.
func (s *LocalStore) Save(ctx context.Context, messageID, filename string, data []byte) (string, error) {
	p := filepath.Join(s.dir, ObjectName(messageID, filename))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("attachments: write %s: %w", p, err)
	}
	s.log.Debug().Str("path", p).Int("size", len(data)).Msg("Attachment saved")
	return p, nil
}

// GCSStore uploads attachments into a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	folder string
	log    zerolog.Logger
}

// NewGCSStore creates the Cloud Storage client.
func NewGCSStore(ctx context.Context, bucket, folder string, cfg *config.Config) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, cfg.GoogleClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("attachments: create storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, bucket, folder), nil
}

// NewGCSStoreWithClient creates the store with an explicit client (for testing).
func NewGCSStoreWithClient(client *storage.Client, bucket, folder string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: bucket,
		folder: strings.Trim(folder, "/"),
		log:    logger.WithComponent("attachments"),
	}
}

// Save implements Store and returns a gs:// URI.
func (s *GCSStore) Save(ctx context.Context, messageID, filename string, data []byte) (string, error) {
	object := ObjectName(messageID, filename)
	if s.folder != "" {
		object = path.Join(s.folder, object)
	}

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("attachments: upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("attachments: upload %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, object)
	s.log.Debug().Str("uri", uri).Int("size", len(data)).Msg("Attachment uploaded")
	return uri, nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
