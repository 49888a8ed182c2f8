/*
handlers.go - HTTP API handlers for the fee tracker

PURPOSE:
  Exposes client fee status, payment recording and document storage via a
  REST API. Handles HTTP request/response and JSON serialization, and
  delegates to the billing package and the stores.

ENDPOINTS:
  Clients:
    GET    /api/clients                           List clients with status
    POST   /api/clients                           Create client
    GET    /api/clients/{id}                      Client details panel
    POST   /api/clients/{id}/contracts            Replace the active contract
    POST   /api/clients/{id}/expected-fee         Calculate a fee preview

  Payments:
    GET    /api/clients/{id}/payments             Payment history (paginated)
    POST   /api/clients/{id}/payments             Record a payment
    POST   /api/clients/{id}/payments/with-document  Record a payment with a file
    GET    /api/payments/{id}                     Payment with documents
    PUT    /api/payments/{id}                     Replace a payment
    DELETE /api/payments/{id}                     Delete a payment
    POST   /api/payments/{id}/documents           Attach a document

  Documents:
    GET    /api/documents/{id}                    Download
    DELETE /api/documents/{id}                    Delete

  Providers:
    GET    /api/providers                         List providers with aggregates
    POST   /api/providers                         Create provider
    GET    /api/providers/{id}/clients            Provider's clients

AS-OF DATE:
  Every status is evaluated against ?as_of=YYYY-MM-DD when given, else the
  handler clock. The billing package never reads the clock itself.

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the error:
  - 400: Validation and parse errors (fields listed in "fields")
  - 404: Unknown client, contract, payment or document
  - 413: Upload too large
  - 500: Internal errors

SEE ALSO:
  - payments.go: Payment and document handlers
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/documents"
	"github.com/warp/fee-tracker/observability"
	"github.com/warp/fee-tracker/store/sqlite"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is set.
const DefaultMaxUploadBytes = 20 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Preparer  *billing.Preparer
	Status    billing.StatusEngine
	Documents *documents.Store
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	// Now is the clock used when a request carries no as_of date.
	Now            func() time.Time
	MaxUploadBytes int64

	validate *validator.Validate
}

// NewHandler creates a handler over the given stores.
func NewHandler(store *sqlite.Store, docs *documents.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:          store,
		Preparer:       billing.NewPreparer(store),
		Documents:      docs,
		Logger:         logger,
		Now:            time.Now,
		MaxUploadBytes: DefaultMaxUploadBytes,
		validate:       newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns every active client with its status.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	today, err := h.today(r)
	if err != nil {
		h.fail(w, r, "Invalid as_of date", err)
		return
	}

	summaries, err := h.Store.ClientSummaries(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list clients", err)
		return
	}

	dtos, err := h.clientDTOs(r.Context(), summaries, today)
	if err != nil {
		h.fail(w, r, "Failed to evaluate client status", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns the details panel of one client: fee structure,
// expected fee, status with missing periods, and the latest payment.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	today, err := h.today(r)
	if err != nil {
		h.fail(w, r, "Invalid as_of date", err)
		return
	}

	var (
		summary *sqlite.ClientSummary
		latest  []billing.StoredPayment
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		summary, err = h.Store.ClientSummary(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		latest, _, err = h.Store.ListPayments(ctx, id, billing.NewPage(1, 1))
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, "Failed to get client", err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}

	report, err := h.report(*summary, today)
	if err != nil {
		h.fail(w, r, "Failed to evaluate client status", err)
		return
	}

	dto := ClientDetailsDTO{
		ClientDTO:          toClientDTO(*summary, report),
		ExpectedFee:        billing.UnavailableFee("contract"),
		LastRecordedAssets: summary.Metrics.LastRecordedAssets,
		MissingPayments:    []string{},
		AsOf:               today,
	}
	if c := summary.Contract; c != nil {
		contract := toContractDTO(*c)
		dto.Contract = &contract
		dto.FeeStructure = billing.FormatFeeStructure(c.Fee(), c.Schedule)
		dto.ExpectedFee = billing.CalculateFee(c.Fee(), summary.Metrics.LastRecordedAssets, 1)
	}
	if report != nil {
		dto.Report = report
		dto.MissingPayments = report.MissingPeriods
	}
	if len(latest) > 0 {
		p := toPaymentDTO(latest[0])
		dto.LastPayment = &p
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateClient creates a client, optionally under a provider.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	client := sqlite.Client{
		ProviderID:   req.ProviderID,
		DisplayName:  req.DisplayName,
		FullName:     req.FullName,
		Participants: req.Participants,
	}
	if req.IMASignedDate != "" {
		d, err := billing.ParseDate(req.IMASignedDate)
		if err != nil {
			h.fail(w, r, "Invalid ima_signed_date", err)
			return
		}
		client.IMASignedDate = &d
	}
	if req.ProviderID != nil {
		p, err := h.Store.GetProvider(r.Context(), *req.ProviderID)
		if err != nil {
			h.fail(w, r, "Failed to get provider", err)
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "Provider not found", nil)
			return
		}
		client.ProviderName = p.Name
	}

	created, err := h.Store.CreateClient(r.Context(), client)
	if err != nil {
		h.fail(w, r, "Failed to create client", err)
		return
	}
	h.Logger.Info("client created", zap.Int64("client_id", int64(created.ID)))
	writeJSON(w, http.StatusCreated, toClientDTO(sqlite.ClientSummary{Client: created}, nil))
}

// CreateContract replaces the client's active contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req CreateContractRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if req.Rate.IsNegative() {
		writeError(w, http.StatusBadRequest, "rate cannot be negative", nil)
		return
	}

	feeType, err := billing.ParseFeeType(req.FeeType)
	if err != nil {
		h.fail(w, r, "Invalid fee_type", err)
		return
	}
	schedule, err := billing.ParseSchedule(req.Schedule)
	if err != nil {
		h.fail(w, r, "Invalid payment_schedule", err)
		return
	}

	client, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get client", err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}

	contract := sqlite.Contract{
		ClientID:       id,
		ProviderID:     client.ProviderID,
		ContractNumber: req.ContractNumber,
		FeeType:        feeType,
		Schedule:       schedule,
		NumPeople:      req.NumPeople,
	}
	rate := decimal.NewNullDecimal(req.Rate)
	if feeType == billing.FeePercentage {
		contract.PercentRate = rate
	} else {
		contract.FlatRate = rate
	}

	created, err := h.Store.CreateContract(r.Context(), contract)
	if err != nil {
		h.fail(w, r, "Failed to create contract", err)
		return
	}
	h.Logger.Info("contract created",
		zap.Int64("client_id", int64(id)),
		zap.Int64("contract_id", int64(created.ID)),
		zap.String("schedule", string(schedule)))
	writeJSON(w, http.StatusCreated, toContractDTO(created))
}

// CalculateExpectedFee previews the fee for the client's active contract.
// The number of periods comes from period, startPeriod/endPeriod, or
// numPeriods, in that order; it defaults to one.
func (h *Handler) CalculateExpectedFee(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req ExpectedFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.NumPeriods < 0 {
		writeError(w, http.StatusBadRequest, "numPeriods cannot be negative", nil)
		return
	}
	if req.TotalAssets.Valid && req.TotalAssets.Decimal.IsNegative() {
		h.fail(w, r, "Invalid request", &billing.ValidationError{Fields: []billing.FieldError{{
			Field:   "totalAssets",
			Message: "totalAssets cannot be negative",
		}}})
		return
	}

	profile, err := h.Store.BillingProfile(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get billing profile", err)
		return
	}

	n, err := periodsRequested(req, profile.Schedule)
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}

	fee := billing.CalculateFee(profile.Fee, req.TotalAssets, n)
	writeJSON(w, http.StatusOK, ExpectedFeeResponse{
		ExpectedFee: fee,
		Display:     billing.FormatNullCurrency(fee.NullDecimal()),
		NumPeriods:  n,
		Schedule:    profile.Schedule,
		Missing:     fee.Missing,
	})
}

func periodsRequested(req ExpectedFeeRequest, schedule billing.Schedule) (int, error) {
	switch {
	case req.Period != "":
		if _, err := billing.ParsePeriod(req.Period, schedule); err != nil {
			return 0, err
		}
		return 1, nil
	case req.StartPeriod != "" || req.EndPeriod != "":
		start, err := billing.ParsePeriod(req.StartPeriod, schedule)
		if err != nil {
			return 0, err
		}
		end, err := billing.ParsePeriod(req.EndPeriod, schedule)
		if err != nil {
			return 0, err
		}
		span, err := billing.NewSpan(start, end)
		if err != nil {
			return 0, err
		}
		return span.Count(), nil
	case req.NumPeriods > 0:
		return req.NumPeriods, nil
	}
	return 1, nil
}

// =============================================================================
// PROVIDER HANDLERS
// =============================================================================

// ListProviders returns providers with client counts and total assets.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.Store.ListProviders(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list providers", err)
		return
	}
	dtos := make([]ProviderDTO, len(providers))
	for i, p := range providers {
		dtos[i] = toProviderDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProvider creates a provider. Names are unique.
func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.Store.CreateProvider(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, "Failed to create provider", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProviderDTO(p))
}

// GetProviderClients lists a provider's clients with their status.
func (h *Handler) GetProviderClients(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || raw <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid provider id", err)
		return
	}
	id := billing.ProviderID(raw)
	today, err := h.today(r)
	if err != nil {
		h.fail(w, r, "Invalid as_of date", err)
		return
	}

	provider, err := h.Store.GetProvider(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get provider", err)
		return
	}
	if provider == nil {
		writeError(w, http.StatusNotFound, "Provider not found", nil)
		return
	}

	clients, err := h.Store.ListClientsByProvider(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list clients", err)
		return
	}
	summaries := make([]sqlite.ClientSummary, 0, len(clients))
	for _, c := range clients {
		s, err := h.Store.ClientSummary(r.Context(), c.ID)
		if err != nil {
			h.fail(w, r, "Failed to get client", err)
			return
		}
		if s != nil {
			summaries = append(summaries, *s)
		}
	}

	dtos, err := h.clientDTOs(r.Context(), summaries, today)
	if err != nil {
		h.fail(w, r, "Failed to evaluate client status", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STATUS
// =============================================================================

// report evaluates a client's status. Clients without an active contract
// have no status.
func (h *Handler) report(s sqlite.ClientSummary, today billing.Date) (*billing.StatusReport, error) {
	if s.Contract == nil {
		return nil, nil
	}
	report, err := h.Status.Evaluate(billing.StatusInput{
		Schedule: s.Contract.Schedule,
		LastPaid: s.Metrics.LastPaid,
	}, today)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", s.Client.ID, err)
	}
	return &report, nil
}

func (h *Handler) clientDTOs(ctx context.Context, summaries []sqlite.ClientSummary, today billing.Date) ([]ClientDTO, error) {
	dtos := make([]ClientDTO, len(summaries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, s := range summaries {
		g.Go(func() error {
			report, err := h.report(s, today)
			if err != nil {
				return err
			}
			dtos[i] = toClientDTO(s, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dtos, nil
}

// today is the as_of query parameter or the handler clock's date.
func (h *Handler) today(r *http.Request) (billing.Date, error) {
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := billing.ParseDate(s)
		if err != nil {
			return billing.Date{}, fmt.Errorf("%w: as_of must be YYYY-MM-DD", billing.ErrValidation)
		}
		return d, nil
	}
	return billing.DateOf(h.Now()), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps err to a status and writes it. Internal errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var verr *billing.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = make(map[string]string, len(verr.Fields))
		for _, f := range verr.Fields {
			resp.Fields[f.Field] = f.Message
		}
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeValid decodes a JSON body into dst and runs its validate tags.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := ErrorResponse{Error: "Validation failed", Details: err.Error()}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			resp.Fields = make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				resp.Fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func clientIDParam(w http.ResponseWriter, r *http.Request) (billing.ClientID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid client id", err)
		return 0, false
	}
	return billing.ClientID(id), true
}
