package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/auth"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"go.uber.org/zap"
)

// verificationSvc is the interface expected by VerificationHandler, satisfied
// by *service.VerificationService.
type verificationSvc interface {
	CreateDomainVerification(ctx context.Context, orgID uuid.UUID, domain string, createdBy *uuid.UUID) (*model.DomainVerification, error)
	CheckAndUpdateVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error)
	ResetDomainVerification(ctx context.Context, id uuid.UUID) (*model.DomainVerification, error)
	DeleteDomainVerification(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*model.DomainVerification, error)
	FindByOrganizationID(ctx context.Context, orgID uuid.UUID, includeDeleted bool) ([]*model.DomainVerification, error)
	FindByStatus(ctx context.Context, status model.VerificationStatus, includeDeleted bool) ([]*model.DomainVerification, error)
	Instructions(v *model.DomainVerification) service.DNSInstructions
}

// VerificationHandler serves the domain verification API.
type VerificationHandler struct {
	svc    verificationSvc
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewVerificationHandler creates a VerificationHandler.
// tokens may be nil to disable authentication.
func NewVerificationHandler(svc verificationSvc, tokens *auth.TokenIssuer, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the verification routes on the given router group.
func (h *VerificationHandler) Register(rg *gin.RouterGroup) {
	org := rg.Group("/organizations/:org_id/domain-verifications", h.requireOrgAccess()...)
	{
		org.POST("", h.Create)
		org.GET("", h.ListForOrganization)
		org.GET("/:id", h.Get)
		org.POST("/:id/check", h.Check)
		org.POST("/:id/reset", h.Reset)
		org.DELETE("/:id", h.Delete)
	}
	rg.GET("/domain-verifications", append(h.requireAdmin(), h.ListByStatus)...)
}

// requireOrgAccess returns the auth chain for organization routes, or nothing
// when auth is disabled.
func (h *VerificationHandler) requireOrgAccess() []gin.HandlerFunc {
	if h.tokens == nil {
		return nil
	}
	return []gin.HandlerFunc{auth.RequireToken(h.tokens), auth.RequireOrgAccess("org_id")}
}

func (h *VerificationHandler) requireAdmin() []gin.HandlerFunc {
	if h.tokens == nil {
		return nil
	}
	return []gin.HandlerFunc{auth.RequireToken(h.tokens), auth.RequireAdmin()}
}

type verificationResponse struct {
	*model.DomainVerification
	Instructions service.DNSInstructions `json:"instructions"`
}

func (h *VerificationHandler) render(v *model.DomainVerification) verificationResponse {
	return verificationResponse{DomainVerification: v, Instructions: h.svc.Instructions(v)}
}

func (h *VerificationHandler) renderList(list []*model.DomainVerification) gin.H {
	out := make([]verificationResponse, 0, len(list))
	for _, v := range list {
		out = append(out, h.render(v))
	}
	return gin.H{"verifications": out, "count": len(out)}
}

// Create handles POST /organizations/:org_id/domain-verifications.
//
// Request body: {"domain": "example.com"}
func (h *VerificationHandler) Create(c *gin.Context) {
	orgID, ok := parseUUIDParam(c, "org_id", "invalid organization ID")
	if !ok {
		return
	}
	var req model.CreateVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := h.svc.CreateDomainVerification(c.Request.Context(), orgID, req.Domain, auth.UserIDFromCtx(c))
	if err != nil {
		h.writeError(c, "create domain verification", err)
		return
	}
	c.JSON(http.StatusCreated, h.render(v))
}

// ListForOrganization handles GET /organizations/:org_id/domain-verifications.
func (h *VerificationHandler) ListForOrganization(c *gin.Context) {
	orgID, ok := parseUUIDParam(c, "org_id", "invalid organization ID")
	if !ok {
		return
	}
	includeDeleted, _ := strconv.ParseBool(c.Query("include_deleted"))

	list, err := h.svc.FindByOrganizationID(c.Request.Context(), orgID, includeDeleted)
	if err != nil {
		h.writeError(c, "list domain verifications", err)
		return
	}
	c.JSON(http.StatusOK, h.renderList(list))
}

// ListByStatus handles GET /domain-verifications?status=PENDING.
func (h *VerificationHandler) ListByStatus(c *gin.Context) {
	status := model.VerificationStatus(c.DefaultQuery("status", string(model.StatusPending)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(status))})
		return
	}
	includeDeleted, _ := strconv.ParseBool(c.Query("include_deleted"))

	list, err := h.svc.FindByStatus(c.Request.Context(), status, includeDeleted)
	if err != nil {
		h.writeError(c, "list domain verifications by status", err)
		return
	}
	c.JSON(http.StatusOK, h.renderList(list))
}

// Get handles GET /organizations/:org_id/domain-verifications/:id.
func (h *VerificationHandler) Get(c *gin.Context) {
	v, ok := h.loadOwned(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.render(v))
}

// Check handles POST /organizations/:org_id/domain-verifications/:id/check.
// It performs the DNS TXT lookup and returns the updated verification.
func (h *VerificationHandler) Check(c *gin.Context) {
	v, ok := h.loadOwned(c, false)
	if !ok {
		return
	}
	updated, err := h.svc.CheckAndUpdateVerification(c.Request.Context(), v.ID)
	if err != nil {
		h.writeError(c, "check domain verification", err)
		return
	}
	c.JSON(http.StatusOK, h.render(updated))
}

// Reset handles POST /organizations/:org_id/domain-verifications/:id/reset.
func (h *VerificationHandler) Reset(c *gin.Context) {
	v, ok := h.loadOwned(c, true)
	if !ok {
		return
	}
	updated, err := h.svc.ResetDomainVerification(c.Request.Context(), v.ID)
	if err != nil {
		h.writeError(c, "reset domain verification", err)
		return
	}
	c.JSON(http.StatusOK, h.render(updated))
}

// Delete handles DELETE /organizations/:org_id/domain-verifications/:id.
// Deleting an already deleted verification succeeds.
func (h *VerificationHandler) Delete(c *gin.Context) {
	v, ok := h.loadOwned(c, true)
	if !ok {
		return
	}
	if err := h.svc.DeleteDomainVerification(c.Request.Context(), v.ID); err != nil {
		h.writeError(c, "delete domain verification", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// loadOwned resolves :id and checks it belongs to :org_id. A verification of
// another organization is reported as not found.
func (h *VerificationHandler) loadOwned(c *gin.Context, includeDeleted bool) (*model.DomainVerification, bool) {
	orgID, ok := parseUUIDParam(c, "org_id", "invalid organization ID")
	if !ok {
		return nil, false
	}
	id, ok := parseUUIDParam(c, "id", "invalid verification ID")
	if !ok {
		return nil, false
	}

	v, err := h.svc.FindByID(c.Request.Context(), id, includeDeleted)
	if err != nil {
		h.writeError(c, "get domain verification", err)
		return nil, false
	}
	if v.OrganizationID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "domain verification not found"})
		return nil, false
	}
	return v, true
}

func (h *VerificationHandler) writeError(c *gin.Context, op string, err error) {
	var (
		dup *service.DuplicateVerificationError
		ite *service.InvalidTransitionError
	)
	switch {
	case errors.Is(err, service.ErrVerificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "domain verification not found"})
	case errors.As(err, &dup):
		body := gin.H{"error": dup.Error()}
		if dup.Existing != nil {
			body["existing"] = h.render(dup.Existing)
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &ite):
		c.JSON(http.StatusConflict, gin.H{"error": ite.Error(), "status": ite.Status})
	case errors.Is(err, service.ErrInvalidDomain):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseUUIDParam(c *gin.Context, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return uuid.Nil, false
	}
	return id, true
}
