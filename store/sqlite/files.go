package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/documents"
)

var _ documents.Metadata = (*Store)(nil)

// =============================================================================
// DOCUMENT METADATA (documents.Metadata interface)
// =============================================================================

// InsertFile records a stored document.
func (s *Store) InsertFile(ctx context.Context, f documents.File) (documents.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := clientExists(ctx, s.db, f.ClientID)
	if err != nil {
		return documents.File{}, err
	}
	if !ok {
		return documents.File{}, &billing.LookupError{What: "client", ClientID: f.ClientID}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO client_files (client_id, file_name, path, content_type, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ClientID, f.FileName, f.Path, nullString(f.ContentType), f.Size,
		f.UploadedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return documents.File{}, fmt.Errorf("failed to insert file: %w", err)
	}
	id, _ := res.LastInsertId()
	f.ID = documents.FileID(id)
	return f, nil
}

// GetFile returns nil, nil when the file does not exist.
func (s *Store) GetFile(ctx context.Context, id documents.FileID) (*documents.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.queryFiles(ctx, "WHERE f.file_id = ?", id)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return &files[0], nil
}

// AssociatePayment links a file to an active payment. Linking twice is a
// no-op.
func (s *Store) AssociatePayment(ctx context.Context, id documents.FileID, paymentID billing.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files, payments int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM client_files WHERE file_id = ?),
		       (SELECT COUNT(*) FROM payments WHERE payment_id = ? AND valid_to IS NULL)`,
		id, paymentID,
	).Scan(&files, &payments)
	if err != nil {
		return fmt.Errorf("failed to check association: %w", err)
	}
	if files == 0 {
		return fmt.Errorf("document %d: %w", id, billing.ErrNotFound)
	}
	if payments == 0 {
		return fmt.Errorf("payment %d: %w", paymentID, billing.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO payment_files (payment_id, file_id, linked_at) VALUES (?, ?, ?)",
		paymentID, id, s.stamp())
	if err != nil {
		return fmt.Errorf("failed to associate document: %w", err)
	}
	return nil
}

// FilesForPayment lists the documents linked to a payment, oldest first.
func (s *Store) FilesForPayment(ctx context.Context, paymentID billing.PaymentID) ([]documents.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFiles(ctx,
		"JOIN payment_files pf ON pf.file_id = f.file_id WHERE pf.payment_id = ?", paymentID)
}

// DeleteFile removes the file record and its payment links.
func (s *Store) DeleteFile(ctx context.Context, id documents.FileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM payment_files WHERE file_id = ?", id); err != nil {
			return fmt.Errorf("failed to unlink document: %w", err)
		}
		res, err := q.ExecContext(ctx, "DELETE FROM client_files WHERE file_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("document %d: %w", id, billing.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) queryFiles(ctx context.Context, clause string, args ...any) ([]documents.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.file_id, f.client_id, f.file_name, f.path, COALESCE(f.content_type, ''), f.size, f.uploaded_at
		FROM client_files f `+clause+`
		ORDER BY f.uploaded_at, f.file_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []documents.File{}
	for rows.Next() {
		var (
			f        documents.File
			uploaded string
		)
		if err := rows.Scan(&f.ID, &f.ClientID, &f.FileName, &f.Path, &f.ContentType, &f.Size, &uploaded); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		f.UploadedAt = parseStamp(uploaded)
		files = append(files, f)
	}
	return files, rows.Err()
}
