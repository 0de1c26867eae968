/*
handlers.go - HTTP handlers for the installment ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response,
  JSON serialization and DTO validation, and delegates everything else
  to the ledger service.

ENDPOINTS:
  Obligations:
    POST   /api/obligations                Create obligation (expands to installments)
    GET    /api/obligations?kind=...       Denormalized list, payable or receivable

  Installments:
    GET    /api/installments/{id}          One denormalized row
    PUT    /api/installments/{id}          Level-routed field update
    DELETE /api/installments/{id}          Eligibility check + delete when allowed
    POST   /api/installments/cancel        Batch cancellation
    POST   /api/installments/{id}/changes        Detect changes vs edited fields
    POST   /api/installments/{id}/changes/apply  Replicate approved changes
    POST   /api/installments/{id}/payments       Record a settlement

ERROR HANDLING:
  - 400: validation errors, invariant violations, terminal-status edits
  - 404: missing or tombstoned rows
  - 409: deletion refused in favor of the batch workflow
  - 500: persistence failures

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/parcelo/ledger-engine/ledger"
)

// Handler holds the handler dependencies.
type Handler struct {
	svc      *ledger.Service
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(svc *ledger.Service, log zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// CreateObligation expands one obligation into its installments and returns
// the materialized rows.
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req CreateObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	views, err := h.svc.CreateObligation(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, views)
}

// ListObligations returns the denormalized read model for one kind.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	kind := ledger.Kind(r.URL.Query().Get("kind"))
	views, err := h.svc.ListByKind(r.Context(), kind)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if views == nil {
		views = []ledger.InstallmentView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))
	view, err := h.svc.GetView(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))

	var req UpdateInstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	fields, err := fieldsFromJSON(req.Fields)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	view, err := h.svc.UpdateInstallment(r.Context(), id, fields)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteInstallment runs the eligibility check and deletes only when direct
// deletion is allowed. A refusal answers 409 with the batch candidates so
// the caller can offer the batch-cancellation choice.
func (h *Handler) DeleteInstallment(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))

	eligibility, err := h.svc.CanDelete(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !eligibility.Allowed {
		writeJSON(w, http.StatusConflict, eligibility)
		return
	}

	if err := h.svc.DeleteInstallment(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	var req CancelBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	ids := make([]ledger.InstallmentID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = ledger.InstallmentID(id)
	}

	modified, err := h.svc.CancelBatch(r.Context(), ids)
	resp := BatchResponse{Requested: len(ids), Modified: modified}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CHANGE DETECTION AND REPLICATION
// =============================================================================

// DetectChanges compares the current row against the edited field values
// and returns the detected changes with their category metadata and
// default-selected flags.
func (h *Handler) DetectChanges(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))

	var req DetectChangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	before, err := h.svc.GetView(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	fields, err := fieldsFromJSON(req.Fields)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	after, err := before.WithFields(fields)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	changes := ledger.DetectChanges(before, after)
	if changes == nil {
		changes = []ledger.FieldChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// ApplyChanges replicates the operator-approved changes to the future open
// entries of the series.
func (h *Handler) ApplyChanges(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))

	var req ApplyChangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	count, err := h.svc.ApplyChanges(r.Context(), id, req.Changes)
	resp := ApplyChangesResponse{UpdatedCount: count}
	if err != nil {
		if ledger.IsNotFound(err) || ledger.IsClientError(err) {
			h.writeDomainError(w, err)
			return
		}
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.InstallmentID(chi.URLParam(r, "id"))

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	paidAt, err := parseDate(req.PaidAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid paid_at format (use YYYY-MM-DD)", err)
		return
	}

	view, err := h.svc.RecordPayment(r.Context(), id, req.Amount, paidAt, req.Notes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

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
