package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// ClientDirectory is the read side the engine needs about clients.
// BillingProfile returns a *LookupError for unknown clients.
type ClientDirectory interface {
	BillingProfile(ctx context.Context, clientID ClientID) (BillingProfile, error)

	// ActiveContract returns ok=false when the client has no active contract.
	ActiveContract(ctx context.Context, clientID ClientID) (id ContractID, ok bool, err error)

	// LastPaidPeriod returns nil when the client has never paid.
	LastPaidPeriod(ctx context.Context, clientID ClientID) (*Period, error)
}

// PaymentStore persists prepared payment records. Updates are versioned:
// the old row is soft-deleted and a new row inserted, so an update returns
// a new PaymentID.
type PaymentStore interface {
	CreatePayment(ctx context.Context, rec PaymentRecord) (StoredPayment, error)
	UpdatePayment(ctx context.Context, id PaymentID, rec PaymentRecord) (StoredPayment, error)
	DeletePayment(ctx context.Context, id PaymentID) error

	// GetPayment returns nil, nil when no active payment has the id.
	GetPayment(ctx context.Context, id PaymentID) (*StoredPayment, error)
	ListPayments(ctx context.Context, clientID ClientID, page Page) ([]StoredPayment, int, error)
}

// StoredPayment is a persisted PaymentRecord.
type StoredPayment struct {
	ID        PaymentID
	Record    PaymentRecord
	ValidFrom time.Time
	HasFiles  bool
}

// Variance is actual minus expected fee. It is absent when the expected fee
// is unknown.
func (p StoredPayment) Variance() decimal.NullDecimal {
	if !p.Record.ExpectedFee.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.Record.ActualFee.Sub(p.Record.ExpectedFee.Decimal))
}

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a window of a newest-first listing. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps out-of-range values to the defaults.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows skipped before the page.
func (p Page) Offset() int {
	p = NewPage(p.Number, p.Size)
	return (p.Number - 1) * p.Size
}

// Limit is the clamped page size.
func (p Page) Limit() int {
	return NewPage(p.Number, p.Size).Size
}
