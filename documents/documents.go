/*
documents.go - Payment document storage

PURPOSE:
  Stores uploaded payment documents (statements, check scans) on local disk,
  organized per client, and tracks their metadata and the payments they
  support through a Metadata backend.

LAYOUT:
  <root>/<clientID>/<YYYYMMDDhhmmss>_<uuid8>_<sanitized name>

  The timestamp keeps files sortable by upload time; the uuid fragment keeps
  two uploads of the same name in the same second apart.

ASSOCIATIONS:
  A document may support several payments (one statement can justify a
  multi-period catch-up and its correction). Associations are idempotent.
  Deleting a document removes its associations, its metadata and the file.
*/
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/fee-tracker/billing"
)

// FileID identifies a stored document.
type FileID int64

// File is the metadata of one stored document. Path is relative to the
// storage root.
type File struct {
	ID          FileID           `json:"file_id"`
	ClientID    billing.ClientID `json:"client_id"`
	FileName    string           `json:"file_name"`
	Path        string           `json:"path"`
	ContentType string           `json:"content_type"`
	Size        int64            `json:"size"`
	UploadedAt  time.Time        `json:"uploaded_at"`
}

// Metadata persists document records and their payment associations.
type Metadata interface {
	InsertFile(ctx context.Context, f File) (File, error)

	// GetFile returns nil, nil when the file does not exist.
	GetFile(ctx context.Context, id FileID) (*File, error)

	// AssociatePayment links a file to a payment. Linking twice is a no-op.
	// Either side missing is billing.ErrNotFound.
	AssociatePayment(ctx context.Context, id FileID, paymentID billing.PaymentID) error

	FilesForPayment(ctx context.Context, paymentID billing.PaymentID) ([]File, error)

	// DeleteFile removes the file record and every association.
	DeleteFile(ctx context.Context, id FileID) error
}

// ErrEmptyUpload is returned for uploads without content.
var ErrEmptyUpload = fmt.Errorf("%w: empty upload", billing.ErrValidation)

// Store writes documents under a root directory.
type Store struct {
	root   string
	meta   Metadata
	logger *zap.Logger
	now    func() time.Time
}

// New creates a document store rooted at dir. The directory is created if
// needed.
func New(dir string, meta Metadata, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	return &Store{root: dir, meta: meta, logger: logger, now: time.Now}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// =============================================================================
// OPERATIONS
// =============================================================================

// Store writes the content to disk and records its metadata.
func (s *Store) Store(ctx context.Context, clientID billing.ClientID, filename, contentType string, r io.Reader) (File, error) {
	if clientID <= 0 {
		return File{}, &billing.LookupError{What: "client", ClientID: clientID}
	}

	uploaded := s.now().UTC()
	rel := filepath.Join(
		strconv.FormatInt(int64(clientID), 10),
		storedName(uploaded, uuid.NewString(), filename),
	)
	full := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return File{}, fmt.Errorf("create client dir: %w", err)
	}
	size, err := writeFile(full, r)
	if err != nil {
		return File{}, err
	}
	if size == 0 {
		removeQuietly(full)
		return File{}, ErrEmptyUpload
	}

	f, err := s.meta.InsertFile(ctx, File{
		ClientID:    clientID,
		FileName:    filename,
		Path:        filepath.ToSlash(rel),
		ContentType: contentType,
		Size:        size,
		UploadedAt:  uploaded,
	})
	if err != nil {
		removeQuietly(full)
		return File{}, fmt.Errorf("record document: %w", err)
	}

	s.logger.Info("document stored",
		zap.Int64("file_id", int64(f.ID)),
		zap.Int64("client_id", int64(clientID)),
		zap.Int64("size", size))
	return f, nil
}

// Associate links a stored document to a payment.
func (s *Store) Associate(ctx context.Context, id FileID, paymentID billing.PaymentID) error {
	return s.meta.AssociatePayment(ctx, id, paymentID)
}

// Open returns the document metadata and its content. The caller closes the
// reader.
func (s *Store) Open(ctx context.Context, id FileID) (File, io.ReadCloser, error) {
	f, err := s.meta.GetFile(ctx, id)
	if err != nil {
		return File{}, nil, err
	}
	if f == nil {
		return File{}, nil, fmt.Errorf("document %d: %w", id, billing.ErrNotFound)
	}
	rc, err := os.Open(s.abs(f.Path))
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil, fmt.Errorf("document %d content: %w", id, billing.ErrNotFound)
	}
	if err != nil {
		return File{}, nil, fmt.Errorf("open document %d: %w", id, err)
	}
	return *f, rc, nil
}

// ForPayment lists the documents associated with a payment.
func (s *Store) ForPayment(ctx context.Context, paymentID billing.PaymentID) ([]File, error) {
	return s.meta.FilesForPayment(ctx, paymentID)
}

// Delete removes a document's associations, metadata and content.
func (s *Store) Delete(ctx context.Context, id FileID) error {
	f, err := s.meta.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("document %d: %w", id, billing.ErrNotFound)
	}
	if err := s.meta.DeleteFile(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(s.abs(f.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("document content not removed", zap.Int64("file_id", int64(id)), zap.Error(err))
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func writeFile(path string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create document: %w", err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		removeQuietly(path)
		return 0, fmt.Errorf("write document: %w", err)
	}
	return n, nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}

func storedName(at time.Time, id, filename string) string {
	return fmt.Sprintf("%s_%s_%s", at.Format("20060102150405"), id[:8], SanitizeFilename(filename))
}

// SanitizeFilename keeps the base name and replaces anything other than
// letters, digits, dot, dash and underscore with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		return "document"
	}
	return clean
}
