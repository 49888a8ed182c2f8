package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/fee-tracker/billing"
)

var _ billing.PaymentStore = (*Store)(nil)

// =============================================================================
// PAYMENT STORE (billing.PaymentStore interface)
// =============================================================================

// CreatePayment inserts a prepared payment and refreshes the client's
// metrics in one transaction.
func (s *Store) CreatePayment(ctx context.Context, rec billing.PaymentRecord) (billing.StoredPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored billing.StoredPayment
	err := s.inTx(ctx, func(q querier) error {
		var err error
		stored, err = s.insertPayment(ctx, q, rec)
		if err != nil {
			return err
		}
		return s.recomputeMetrics(ctx, q, rec.ClientID)
	})
	return stored, err
}

// UpdatePayment closes the current row of payment id and inserts rec as a
// new version. Document associations move to the new version. Returns
// billing.ErrNotFound when id is not an active payment.
func (s *Store) UpdatePayment(ctx context.Context, id billing.PaymentID, rec billing.PaymentRecord) (billing.StoredPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored billing.StoredPayment
	err := s.inTx(ctx, func(q querier) error {
		old, err := getPayment(ctx, q, id)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("payment %d: %w", id, billing.ErrNotFound)
		}
		if err := s.closePayment(ctx, q, id); err != nil {
			return err
		}

		stored, err = s.insertPayment(ctx, q, rec)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO payment_files (payment_id, file_id, linked_at)
			SELECT ?, file_id, linked_at FROM payment_files WHERE payment_id = ?`,
			stored.ID, id); err != nil {
			return fmt.Errorf("failed to carry document links: %w", err)
		}
		stored.HasFiles = old.HasFiles

		if old.Record.ClientID != rec.ClientID {
			if err := s.recomputeMetrics(ctx, q, old.Record.ClientID); err != nil {
				return err
			}
		}
		return s.recomputeMetrics(ctx, q, rec.ClientID)
	})
	return stored, err
}

// DeletePayment soft-deletes a payment.
func (s *Store) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		old, err := getPayment(ctx, q, id)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("payment %d: %w", id, billing.ErrNotFound)
		}
		if err := s.closePayment(ctx, q, id); err != nil {
			return err
		}
		return s.recomputeMetrics(ctx, q, old.Record.ClientID)
	})
}

// GetPayment returns nil, nil when no active payment has the id.
func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.StoredPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

// ListPayments returns a page of the client's active payments, newest
// received first, and the total number of active payments.
func (s *Store) ListPayments(ctx context.Context, clientID billing.ClientID, page billing.Page) ([]billing.StoredPayment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE client_id = ? AND valid_to IS NULL", clientID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	payments, err := queryPayments(ctx, s.db, "p.client_id = ?", []any{clientID}, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) insertPayment(ctx context.Context, q querier, rec billing.PaymentRecord) (billing.StoredPayment, error) {
	if rec.Span.Schedule() != rec.Schedule {
		return billing.StoredPayment{}, fmt.Errorf("%w: %s span on %s payment",
			billing.ErrScheduleMismatch, rec.Span.Schedule(), rec.Schedule)
	}
	applied := rec.Applied()

	var method any
	if rec.Method != nil {
		method = string(*rec.Method)
	}
	stamp := s.stamp()

	res, err := q.ExecContext(ctx, `
		INSERT INTO payments (client_id, contract_id, received_date, total_assets, expected_fee,
			actual_fee, method, notes, payment_schedule,
			applied_start_month, applied_start_month_year, applied_end_month, applied_end_month_year,
			applied_start_quarter, applied_start_quarter_year, applied_end_quarter, applied_end_quarter_year,
			valid_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.ContractID, rec.ReceivedDate.String(), rec.TotalAssets, rec.ExpectedFee,
		rec.ActualFee.String(), method, rec.Notes, string(rec.Schedule),
		applied.StartMonth, applied.StartMonthYear, applied.EndMonth, applied.EndMonthYear,
		applied.StartQuarter, applied.StartQuarterYear, applied.EndQuarter, applied.EndQuarterYear,
		stamp,
	)
	if err != nil {
		return billing.StoredPayment{}, fmt.Errorf("failed to insert payment: %w", err)
	}
	id, _ := res.LastInsertId()
	return billing.StoredPayment{ID: billing.PaymentID(id), Record: rec, ValidFrom: parseStamp(stamp)}, nil
}

func (s *Store) closePayment(ctx context.Context, q querier, id billing.PaymentID) error {
	res, err := q.ExecContext(ctx,
		"UPDATE payments SET valid_to = ? WHERE payment_id = ? AND valid_to IS NULL", s.stamp(), id)
	if err != nil {
		return fmt.Errorf("failed to close payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %d: %w", id, billing.ErrNotFound)
	}
	return nil
}

func getPayment(ctx context.Context, q querier, id billing.PaymentID) (*billing.StoredPayment, error) {
	payments, err := queryPayments(ctx, q, "p.payment_id = ?", []any{id}, 1, 0)
	if err != nil || len(payments) == 0 {
		return nil, err
	}
	return &payments[0], nil
}

// queryPayments returns active payments matching where, newest first.
// A negative limit returns every row.
func queryPayments(ctx context.Context, q querier, where string, args []any, limit, offset int) ([]billing.StoredPayment, error) {
	query := `
		SELECT p.payment_id, p.client_id, p.contract_id, p.received_date, p.total_assets,
		       p.expected_fee, p.actual_fee, p.method, p.notes, p.payment_schedule,
		       p.applied_start_month, p.applied_start_month_year, p.applied_end_month, p.applied_end_month_year,
		       p.applied_start_quarter, p.applied_start_quarter_year, p.applied_end_quarter, p.applied_end_quarter_year,
		       p.valid_from,
		       EXISTS (SELECT 1 FROM payment_files f WHERE f.payment_id = p.payment_id)
		FROM payments p
		WHERE p.valid_to IS NULL AND ` + where + `
		ORDER BY p.received_date DESC, p.payment_id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := q.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []billing.StoredPayment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (billing.StoredPayment, error) {
	var (
		p                  billing.StoredPayment
		applied            billing.AppliedPeriods
		received, schedule string
		method             sql.NullString
		validFrom          string
	)
	rec := &p.Record
	err := rows.Scan(
		&p.ID, &rec.ClientID, &rec.ContractID, &received, &rec.TotalAssets,
		&rec.ExpectedFee, &rec.ActualFee, &method, &rec.Notes, &schedule,
		&applied.StartMonth, &applied.StartMonthYear, &applied.EndMonth, &applied.EndMonthYear,
		&applied.StartQuarter, &applied.StartQuarterYear, &applied.EndQuarter, &applied.EndQuarterYear,
		&validFrom, &p.HasFiles,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	if rec.ReceivedDate, err = billing.ParseDate(received); err != nil {
		return p, fmt.Errorf("payment %d received date: %w", p.ID, err)
	}
	rec.Schedule = billing.Schedule(schedule)
	span, ok, err := applied.Decode(rec.Schedule)
	if err != nil {
		return p, fmt.Errorf("payment %d periods: %w", p.ID, err)
	}
	if !ok {
		return p, fmt.Errorf("payment %d periods: %w: no applied period", p.ID, billing.ErrInvalidSpan)
	}
	rec.Span = span
	if method.Valid {
		m := billing.PaymentMethod(method.String)
		rec.Method = &m
	}
	p.ValidFrom = parseStamp(validFrom)
	return p, nil
}
