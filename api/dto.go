/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Monetary values cross the wire as strings so clients never see float
  artifacts. Parsing happens in handlers via decimal.NewFromString.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/discount-engine/discount"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// DiscountDTO represents a catalog entry in API responses.
type DiscountDTO struct {
	ID                string  `json:"id"`
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Type              string  `json:"type"`
	Value             string  `json:"value"`
	Priority          int     `json:"priority"`
	IsActive          bool    `json:"is_active"`
	StartsAt          *string `json:"starts_at,omitempty"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	MaxUsagePerUser   *int    `json:"max_usage_per_user,omitempty"`
	MaxTotalUsage     *int    `json:"max_total_usage,omitempty"`
	CurrentTotalUsage int     `json:"current_total_usage"`
}

// CreateDiscountRequest creates a catalog entry.
type CreateDiscountRequest struct {
	ID              string  `json:"id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Type            string  `json:"type"`
	Value           string  `json:"value"`
	Priority        int     `json:"priority"`
	IsActive        *bool   `json:"is_active"` // nil = true
	StartsAt        *string `json:"starts_at"` // RFC3339
	ExpiresAt       *string `json:"expires_at"`
	MaxUsagePerUser *int    `json:"max_usage_per_user"`
	MaxTotalUsage   *int    `json:"max_total_usage"`
}

// AssignmentDTO represents a user-discount binding.
type AssignmentDTO struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	DiscountID string      `json:"discount_id"`
	Discount   DiscountDTO `json:"discount"`
	UsageCount int         `json:"usage_count"`
	AssignedAt string      `json:"assigned_at"`
	RevokedAt  *string     `json:"revoked_at,omitempty"`
}

// ApplyRequest applies the user's eligible discounts to an amount.
type ApplyRequest struct {
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"` // optional; enables idempotent replay
}

// ApplyResponse mirrors discount.ApplicationResult with string amounts.
type ApplyResponse struct {
	OriginalAmount   string               `json:"original_amount"`
	FinalAmount      string               `json:"final_amount"`
	DiscountAmount   string               `json:"discount_amount"`
	AppliedDiscounts []AppliedDiscountDTO `json:"applied_discounts"`
	TransactionID    string               `json:"transaction_id"`
}

type AppliedDiscountDTO struct {
	DiscountID string `json:"discount_id"`
	Code       string `json:"code"`
	Amount     string `json:"amount"`
}

// AuditDTO is one audit trail entry.
type AuditDTO struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	DiscountID     string         `json:"discount_id"`
	AssignmentID   string         `json:"assignment_id,omitempty"`
	Action         string         `json:"action"`
	OriginalAmount *string        `json:"original_amount,omitempty"`
	DiscountAmount *string        `json:"discount_amount,omitempty"`
	FinalAmount    *string        `json:"final_amount,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TransactionID  string         `json:"transaction_id,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDiscountDTO(d discount.Discount) DiscountDTO {
	return DiscountDTO{
		ID:                string(d.ID),
		Code:              d.Code,
		Name:              d.Name,
		Description:       d.Description,
		Type:              string(d.Type),
		Value:             d.Value.String(),
		Priority:          d.Priority,
		IsActive:          d.IsActive,
		StartsAt:          formatTimePtr(d.StartsAt),
		ExpiresAt:         formatTimePtr(d.ExpiresAt),
		MaxUsagePerUser:   d.MaxUsagePerUser,
		MaxTotalUsage:     d.MaxTotalUsage,
		CurrentTotalUsage: d.CurrentTotalUsage,
	}
}

func toAssignmentDTO(a discount.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:         a.ID,
		UserID:     string(a.UserID),
		DiscountID: string(a.DiscountID),
		Discount:   toDiscountDTO(a.Discount),
		UsageCount: a.UsageCount,
		AssignedAt: a.AssignedAt.Format(time.RFC3339),
		RevokedAt:  formatTimePtr(a.RevokedAt),
	}
}

func toApplyResponse(res *discount.ApplicationResult) ApplyResponse {
	applied := make([]AppliedDiscountDTO, len(res.AppliedDiscounts))
	for i, ad := range res.AppliedDiscounts {
		applied[i] = AppliedDiscountDTO{
			DiscountID: string(ad.DiscountID),
			Code:       ad.Code,
			Amount:     ad.Amount.String(),
		}
	}
	return ApplyResponse{
		OriginalAmount:   res.OriginalAmount.String(),
		FinalAmount:      res.FinalAmount.String(),
		DiscountAmount:   res.DiscountAmount.String(),
		AppliedDiscounts: applied,
		TransactionID:    string(res.TransactionID),
	}
}

func toAuditDTO(rec discount.AuditRecord) AuditDTO {
	dto := AuditDTO{
		ID:            rec.ID,
		UserID:        string(rec.UserID),
		DiscountID:    string(rec.DiscountID),
		AssignmentID:  rec.AssignmentID,
		Action:        string(rec.Action),
		Metadata:      rec.Metadata,
		TransactionID: string(rec.TransactionID),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.OriginalAmount != nil {
		s := rec.OriginalAmount.String()
		dto.OriginalAmount = &s
	}
	if rec.DiscountAmount != nil {
		s := rec.DiscountAmount.String()
		dto.DiscountAmount = &s
	}
	if rec.FinalAmount != nil {
		s := rec.FinalAmount.String()
		dto.FinalAmount = &s
	}
	return dto
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
