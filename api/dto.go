/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the store records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Admin request types carry validator/v10 struct tags and are checked by
  Handler.decodeValid. Payment requests are validated by billing.Preparer,
  which reports every offending field.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/prepare.go: PaymentRequest
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/documents"
	"github.com/warp/fee-tracker/store/sqlite"
)

// =============================================================================
// PROVIDERS
// =============================================================================

// ProviderDTO represents a provider with its aggregates.
type ProviderDTO struct {
	ID          billing.ProviderID `json:"provider_id"`
	Name        string             `json:"provider_name"`
	ClientCount int                `json:"client_count"`
	TotalAssets decimal.Decimal    `json:"total_assets"`
}

// CreateProviderRequest is the request to create a provider.
type CreateProviderRequest struct {
	Name string `json:"provider_name" validate:"required,max=200"`
}

func toProviderDTO(p sqlite.Provider) ProviderDTO {
	return ProviderDTO{ID: p.ID, Name: p.Name, ClientCount: p.ClientCount, TotalAssets: p.TotalAssets}
}

// =============================================================================
// CLIENTS
// =============================================================================

// ClientDTO is a client row in listings.
type ClientDTO struct {
	ID                billing.ClientID      `json:"client_id"`
	DisplayName       string                `json:"display_name"`
	FullName          string                `json:"full_name,omitempty"`
	ProviderID        *billing.ProviderID   `json:"provider_id,omitempty"`
	ProviderName      string                `json:"provider_name,omitempty"`
	IMASignedDate     *billing.Date         `json:"ima_signed_date,omitempty"`
	Participants      *int                  `json:"participants,omitempty"`
	Schedule          billing.Schedule      `json:"payment_schedule,omitempty"`
	FeeType           billing.FeeType       `json:"fee_type,omitempty"`
	Status            billing.PaymentStatus `json:"status,omitempty"`
	LastPaymentDate   *billing.Date         `json:"last_payment_date,omitempty"`
	LastPaymentAmount decimal.NullDecimal   `json:"last_payment_amount"`
	LastPaidPeriod    string                `json:"last_paid_period,omitempty"`
	TotalYTDPayments  decimal.Decimal       `json:"total_ytd_payments"`
}

// ClientDetailsDTO is the client details panel.
type ClientDetailsDTO struct {
	ClientDTO
	Contract           *ContractDTO          `json:"contract,omitempty"`
	FeeStructure       string                `json:"fee_structure,omitempty"`
	ExpectedFee        billing.Fee           `json:"expected_fee"`
	LastRecordedAssets decimal.NullDecimal   `json:"last_recorded_assets"`
	Report             *billing.StatusReport `json:"payment_status,omitempty"`
	MissingPayments    []string              `json:"missing_payments"`
	LastPayment        *PaymentDTO           `json:"last_payment,omitempty"`
	AsOf               billing.Date          `json:"as_of"`
}

// CreateClientRequest is the request to create a client.
type CreateClientRequest struct {
	DisplayName   string              `json:"display_name" validate:"required,max=200"`
	FullName      string              `json:"full_name" validate:"max=400"`
	ProviderID    *billing.ProviderID `json:"provider_id" validate:"omitempty,gt=0"`
	IMASignedDate string              `json:"ima_signed_date" validate:"omitempty,datetime=2006-01-02"`
	Participants  *int                `json:"participants" validate:"omitempty,gte=0"`
}

func toClientDTO(s sqlite.ClientSummary, report *billing.StatusReport) ClientDTO {
	dto := ClientDTO{
		ID:                s.Client.ID,
		DisplayName:       s.Client.DisplayName,
		FullName:          s.Client.FullName,
		ProviderID:        s.Client.ProviderID,
		ProviderName:      s.Client.ProviderName,
		IMASignedDate:     s.Client.IMASignedDate,
		Participants:      s.Client.Participants,
		LastPaymentDate:   s.Metrics.LastPaymentDate,
		LastPaymentAmount: s.Metrics.LastPaymentAmount,
		TotalYTDPayments:  s.Metrics.TotalYTDPayments,
	}
	if s.Contract != nil {
		dto.Schedule = s.Contract.Schedule
		dto.FeeType = s.Contract.FeeType
	}
	if s.Metrics.LastPaid != nil {
		dto.LastPaidPeriod = billing.FormatPeriod(*s.Metrics.LastPaid)
	}
	if report != nil {
		dto.Status = report.Status
	}
	return dto
}

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID             billing.ContractID  `json:"contract_id"`
	ContractNumber string              `json:"contract_number,omitempty"`
	FeeType        billing.FeeType     `json:"fee_type"`
	PercentRate    decimal.NullDecimal `json:"percent_rate"`
	FlatRate       decimal.NullDecimal `json:"flat_rate"`
	Schedule       billing.Schedule    `json:"payment_schedule"`
	NumPeople      *int                `json:"num_people,omitempty"`
	ValidFrom      string              `json:"valid_from"`
}

// CreateContractRequest is the request to replace a client's active
// contract. Rate is the percentage (as a fraction) or the flat amount,
// depending on FeeType.
type CreateContractRequest struct {
	ContractNumber string          `json:"contract_number" validate:"max=100"`
	FeeType        string          `json:"fee_type" validate:"required,oneof=percentage flat"`
	Rate           decimal.Decimal `json:"rate"`
	Schedule       string          `json:"payment_schedule" validate:"required,oneof=monthly quarterly"`
	NumPeople      *int            `json:"num_people" validate:"omitempty,gte=0"`
}

func toContractDTO(c sqlite.Contract) ContractDTO {
	return ContractDTO{
		ID:             c.ID,
		ContractNumber: c.ContractNumber,
		FeeType:        c.FeeType,
		PercentRate:    c.PercentRate,
		FlatRate:       c.FlatRate,
		Schedule:       c.Schedule,
		NumPeople:      c.NumPeople,
		ValidFrom:      c.ValidFrom.Format(time.RFC3339),
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a stored payment.
type PaymentDTO struct {
	ID           billing.PaymentID      `json:"payment_id"`
	ClientID     billing.ClientID       `json:"client_id"`
	ContractID   billing.ContractID     `json:"contract_id"`
	ReceivedDate billing.Date           `json:"received_date"`
	TotalAssets  decimal.NullDecimal    `json:"total_assets"`
	ExpectedFee  decimal.NullDecimal    `json:"expected_fee"`
	ActualFee    decimal.Decimal        `json:"actual_fee"`
	Variance     decimal.NullDecimal    `json:"variance"`
	Method       *billing.PaymentMethod `json:"method"`
	Notes        *string                `json:"notes"`
	Schedule     billing.Schedule       `json:"payment_schedule"`
	Period       string                 `json:"period"`
	NumPeriods   int                    `json:"num_periods"`
	IsSplit      bool                   `json:"is_split_payment"`
	HasFiles     bool                   `json:"has_files"`
	Display      PaymentDisplayDTO      `json:"display"`
	billing.AppliedPeriods
}

// PaymentDisplayDTO holds preformatted values for the payment table.
type PaymentDisplayDTO struct {
	ReceivedDate string `json:"received_date"`
	ActualFee    string `json:"actual_fee"`
	ExpectedFee  string `json:"expected_fee"`
	TotalAssets  string `json:"total_assets"`
	Variance     string `json:"variance"`
}

func toPaymentDTO(p billing.StoredPayment) PaymentDTO {
	rec := p.Record
	variance := p.Variance()
	return PaymentDTO{
		ID:             p.ID,
		ClientID:       rec.ClientID,
		ContractID:     rec.ContractID,
		ReceivedDate:   rec.ReceivedDate,
		TotalAssets:    rec.TotalAssets,
		ExpectedFee:    rec.ExpectedFee,
		ActualFee:      rec.ActualFee,
		Variance:       variance,
		Method:         rec.Method,
		Notes:          rec.Notes,
		Schedule:       rec.Schedule,
		Period:         rec.Span.String(),
		NumPeriods:     rec.NumPeriods(),
		IsSplit:        rec.IsMultiPeriod(),
		HasFiles:       p.HasFiles,
		AppliedPeriods: rec.Applied(),
		Display: PaymentDisplayDTO{
			ReceivedDate: billing.FormatDate(rec.ReceivedDate),
			ActualFee:    billing.FormatCurrency(rec.ActualFee),
			ExpectedFee:  billing.FormatNullCurrency(rec.ExpectedFee),
			TotalAssets:  billing.FormatNullCurrency(rec.TotalAssets),
			Variance:     billing.FormatNullCurrency(variance),
		},
	}
}

// PaymentResponse wraps a created or updated payment. Warning is set when
// the payment was stored but its document was not.
type PaymentResponse struct {
	ID         billing.PaymentID `json:"id"`
	Payment    PaymentDTO        `json:"payment"`
	DocumentID *documents.FileID `json:"document_id,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

// PaymentDetailsResponse is a payment with its linked documents.
type PaymentDetailsResponse struct {
	Payment   PaymentDTO       `json:"payment"`
	Documents []documents.File `json:"documents"`
}

// PaymentPageDTO is one page of a client's payment history.
type PaymentPageDTO struct {
	Payments   []PaymentDTO `json:"payments"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
}

// ExpectedFeeRequest asks for a fee calculation against the client's
// active contract.
type ExpectedFeeRequest struct {
	TotalAssets decimal.NullDecimal `json:"totalAssets"`
	NumPeriods  int                 `json:"numPeriods"`
	Period      string              `json:"period"`
	StartPeriod string              `json:"startPeriod"`
	EndPeriod   string              `json:"endPeriod"`
}

// ExpectedFeeResponse is the calculated fee.
type ExpectedFeeResponse struct {
	ExpectedFee billing.Fee      `json:"expected_fee"`
	Display     string           `json:"display"`
	NumPeriods  int              `json:"num_periods"`
	Schedule    billing.Schedule `json:"payment_schedule"`
	Missing     string           `json:"missing,omitempty"`
}

// =============================================================================
// COMMON
// =============================================================================

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
