package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/documents"
)

// Multipart form field names.
const (
	formPaymentData = "payment_data"
	formDocument    = "document"
)

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListClientPayments returns a page of the client's payments, newest first.
func (h *Handler) ListClientPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
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

	page := pageParams(r)
	payments, total, err := h.Store.ListPayments(r.Context(), id, page)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, PaymentPageDTO{
		Payments:   dtos,
		Page:       page.Number,
		PageSize:   page.Size,
		Total:      total,
		TotalPages: (total + page.Size - 1) / page.Size,
	})
}

// CreatePayment records a payment for the client in the path.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	var req billing.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ClientID = id

	stored, err := h.recordPayment(r, req)
	if err != nil {
		h.fail(w, r, "Failed to create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{ID: stored.ID, Payment: toPaymentDTO(stored)})
}

// CreatePaymentWithDocument records a payment from the payment_data form
// field and stores the optional document file alongside it.
func (h *Handler) CreatePaymentWithDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := clientIDParam(w, r)
	if !ok {
		return
	}
	if !h.parseMultipart(w, r) {
		return
	}

	var req billing.PaymentRequest
	if err := json.Unmarshal([]byte(r.FormValue(formPaymentData)), &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in payment_data", err)
		return
	}
	req.ClientID = id

	file, header, err := r.FormFile(formDocument)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// the document is optional
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid document", err)
		return
	default:
		defer file.Close()
	}

	stored, err := h.recordPayment(r, req)
	if err != nil {
		h.fail(w, r, "Failed to create payment", err)
		return
	}

	resp := PaymentResponse{ID: stored.ID}
	if file != nil {
		// The payment is already committed; report it created either way.
		doc, err := h.attach(r, stored, file, header)
		if err != nil {
			h.Logger.Warn("payment document not stored",
				zap.Int64("payment_id", int64(stored.ID)),
				zap.Int64("client_id", int64(stored.Record.ClientID)),
				zap.Error(err))
			resp.Warning = fmt.Sprintf("Payment %d created but the document was not stored: %v", stored.ID, err)
		} else {
			resp.DocumentID = &doc.ID
			stored.HasFiles = true
		}
	}
	resp.Payment = toPaymentDTO(stored)
	writeJSON(w, http.StatusCreated, resp)
}

// GetPayment returns a payment with its documents.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	files, err := h.Documents.ForPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentDetailsResponse{Payment: toPaymentDTO(*p), Documents: files})
}

// UpdatePayment replaces a payment with a new version. The client is always
// the one of the existing payment.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	existing, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	var req billing.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ClientID = existing.Record.ClientID

	rec, err := h.Preparer.Prepare(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to update payment", err)
		return
	}
	stored, err := h.Store.UpdatePayment(r.Context(), id, rec)
	if err != nil {
		h.fail(w, r, "Failed to update payment", err)
		return
	}
	h.Metrics.PaymentPrepared(string(rec.Schedule))
	h.Logger.Info("payment updated",
		zap.Int64("client_id", int64(rec.ClientID)),
		zap.Int64("payment_id", int64(stored.ID)),
		zap.Int64("replaces", int64(id)))
	writeJSON(w, http.StatusOK, PaymentResponse{ID: stored.ID, Payment: toPaymentDTO(stored)})
}

// DeletePayment soft-deletes a payment.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeletePayment(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	h.Logger.Info("payment deleted", zap.Int64("payment_id", int64(id)))
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: fmt.Sprintf("Payment %d deleted successfully", id),
	})
}

// UploadPaymentDocument stores a document and links it to a payment.
func (h *Handler) UploadPaymentDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	if !h.parseMultipart(w, r) {
		return
	}
	file, header, err := r.FormFile(formDocument)
	if err != nil {
		writeError(w, http.StatusBadRequest, "document file is required", err)
		return
	}
	defer file.Close()

	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	doc, err := h.attach(r, *p, file, header)
	if err != nil {
		h.fail(w, r, "Failed to store document", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// GetDocument streams a stored document.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentIDParam(w, r)
	if !ok {
		return
	}
	meta, rc, err := h.Documents.Open(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to open document", err)
		return
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.Warn("document download interrupted",
			zap.Int64("file_id", int64(id)), zap.Error(err))
	}
}

// DeleteDocument removes a document and its payment links.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Documents.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: fmt.Sprintf("Document %d deleted successfully", id),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// recordPayment prepares and stores a new payment.
func (h *Handler) recordPayment(r *http.Request, req billing.PaymentRequest) (billing.StoredPayment, error) {
	rec, err := h.Preparer.Prepare(r.Context(), req)
	if err != nil {
		return billing.StoredPayment{}, err
	}
	stored, err := h.Store.CreatePayment(r.Context(), rec)
	if err != nil {
		return billing.StoredPayment{}, err
	}
	h.Metrics.PaymentPrepared(string(rec.Schedule))
	h.Logger.Info("payment recorded",
		zap.Int64("client_id", int64(rec.ClientID)),
		zap.Int64("payment_id", int64(stored.ID)),
		zap.String("period", rec.Span.String()),
		zap.String("actual_fee", rec.ActualFee.StringFixed(2)))
	return stored, nil
}

func (h *Handler) attach(r *http.Request, p billing.StoredPayment, file multipart.File, header *multipart.FileHeader) (documents.File, error) {
	doc, err := h.Documents.Store(r.Context(), p.Record.ClientID, header.Filename,
		header.Header.Get("Content-Type"), file)
	if err != nil {
		return documents.File{}, err
	}
	if err := h.Documents.Associate(r.Context(), doc.ID, p.ID); err != nil {
		return documents.File{}, err
	}
	return doc, nil
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return false
	}
	return true
}

// pageParams reads page and page_size, falling back to the defaults for
// missing or out-of-range values.
func pageParams(r *http.Request) billing.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return billing.NewPage(number, size)
}

func paymentIDParam(w http.ResponseWriter, r *http.Request) (billing.PaymentID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid payment id", err)
		return 0, false
	}
	return billing.PaymentID(id), true
}

func documentIDParam(w http.ResponseWriter, r *http.Request) (documents.FileID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid document id", err)
		return 0, false
	}
	return documents.FileID(id), true
}
