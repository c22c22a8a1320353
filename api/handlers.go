/*
handlers.go - HTTP API handlers for the discount engine

PURPOSE:
  Exposes the discount engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Catalog:
    GET    /api/discounts                List catalog entries
    POST   /api/discounts                Create catalog entry
    GET    /api/discounts/{id}           Get catalog entry

  Assignments:
    POST   /api/users/{userID}/discounts/{id}   Assign discount to user
    DELETE /api/users/{userID}/discounts/{id}   Revoke assignment
    GET    /api/users/{userID}/discounts        List eligible discounts

  Application:
    POST   /api/users/{userID}/apply     Apply eligible discounts to an amount

  Audits:
    GET    /api/users/{userID}/audits    Audit trail for a user

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Domain logic (assign, revoke, resolve, apply)
  - Store: Direct catalog and audit reads

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Discount or assignment not found
  - 422: Discount exists but is inactive, expired, or exhausted
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/discount-engine/discount"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *discount.Engine
	Store  discount.TxStore
}

// NewHandler creates a new handler backed by the given engine and store.
func NewHandler(engine *discount.Engine, store discount.TxStore) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListDiscounts returns all catalog entries.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.Store.ListDiscounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list discounts", err)
		return
	}

	dtos := make([]DiscountDTO, len(discounts))
	for i, d := range discounts {
		dtos[i] = toDiscountDTO(d)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// GetDiscount returns a single catalog entry.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id := discount.DiscountID(chi.URLParam(r, "id"))

	d, err := h.Store.GetDiscount(r.Context(), id)
	if err != nil {
		if discount.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Discount not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get discount", err)
		return
	}

	writeJSON(w, http.StatusOK, toDiscountDTO(*d))
}

// CreateDiscount creates a catalog entry.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "id and code are required", nil)
		return
	}

	typ := discount.Type(req.Type)
	if typ != discount.TypePercentage && typ != discount.TypeFixed {
		writeError(w, http.StatusBadRequest, "type must be \"percentage\" or \"fixed\"", nil)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value", err)
		return
	}
	if value.IsNegative() {
		writeError(w, http.StatusBadRequest, "value must not be negative", nil)
		return
	}

	startsAt, err := parseTimePtr(req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid starts_at (use RFC3339)", err)
		return
	}
	expiresAt, err := parseTimePtr(req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC3339)", err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	d := discount.Discount{
		ID:              discount.DiscountID(req.ID),
		Code:            req.Code,
		Name:            req.Name,
		Description:     req.Description,
		Type:            typ,
		Value:           value,
		Priority:        req.Priority,
		IsActive:        active,
		StartsAt:        startsAt,
		ExpiresAt:       expiresAt,
		MaxUsagePerUser: req.MaxUsagePerUser,
		MaxTotalUsage:   req.MaxTotalUsage,
	}

	if err := h.Store.SaveDiscount(r.Context(), &d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create discount", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDiscountDTO(d))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// AssignDiscount assigns a discount to a user.
func (h *Handler) AssignDiscount(w http.ResponseWriter, r *http.Request) {
	userID := discount.UserID(chi.URLParam(r, "userID"))
	discountID := discount.DiscountID(chi.URLParam(r, "id"))

	assignment, err := h.Engine.Assign(r.Context(), userID, discountID)
	if err != nil {
		switch {
		case discount.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Discount not found", nil)
		case errors.Is(err, discount.ErrInvalidDiscount):
			writeError(w, http.StatusUnprocessableEntity, "Discount is not currently valid", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to assign discount", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toAssignmentDTO(*assignment))
}

// RevokeDiscount revokes a user's assignment.
func (h *Handler) RevokeDiscount(w http.ResponseWriter, r *http.Request) {
	userID := discount.UserID(chi.URLParam(r, "userID"))
	discountID := discount.DiscountID(chi.URLParam(r, "id"))

	revoked, err := h.Engine.Revoke(r.Context(), userID, discountID)
	if err != nil {
		if discount.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Assignment not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke discount", err)
		return
	}

	writeJSON(w, http.StatusOK, toAssignmentDTO(*revoked))
}

// ListEligible returns the user's eligible discounts in application order.
func (h *Handler) ListEligible(w http.ResponseWriter, r *http.Request) {
	userID := discount.UserID(chi.URLParam(r, "userID"))

	eligible, err := h.Engine.EligibleFor(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve eligibility", err)
		return
	}

	dtos := make([]AssignmentDTO, len(eligible))
	for i, a := range eligible {
		dtos[i] = toAssignmentDTO(a)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

// ApplyDiscounts applies the user's eligible discounts to an amount.
func (h *Handler) ApplyDiscounts(w http.ResponseWriter, r *http.Request) {
	userID := discount.UserID(chi.URLParam(r, "userID"))

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount must not be negative", nil)
		return
	}

	result, err := h.Engine.Apply(r.Context(), userID, amount, discount.TransactionID(req.TransactionID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to apply discounts", err)
		return
	}

	writeJSON(w, http.StatusOK, toApplyResponse(result))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudits returns the audit trail for a user, newest first.
// Supports ?action=, ?discount_id=, ?transaction_id= and ?limit= filters.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	userID := discount.UserID(chi.URLParam(r, "userID"))

	filter := discount.AuditFilter{UserID: &userID}

	if action := r.URL.Query().Get("action"); action != "" {
		filter.Actions = []discount.AuditAction{discount.AuditAction(action)}
	}
	if id := r.URL.Query().Get("discount_id"); id != "" {
		did := discount.DiscountID(id)
		filter.DiscountID = &did
	}
	if tx := r.URL.Query().Get("transaction_id"); tx != "" {
		txID := discount.TransactionID(tx)
		filter.TransactionID = &txID
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	records, err := h.Store.QueryAudits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audits", err)
		return
	}

	dtos := make([]AuditDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditDTO(rec)
	}

	writeJSON(w, http.StatusOK, dtos)
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

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
