package invitation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/middleware"
	"workchat-backend/internal/service/invitation"
	"workchat-backend/pkg/response"
)

// Handler handles invitation HTTP requests. Create and List require
// authentication; the token endpoints are public so invitees without a
// workspace account can still join as guests.
type Handler struct {
	service *invitation.Service
}

// NewHandler creates a new invitation handler
func NewHandler(service *invitation.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the authenticated invitation endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations/:id/invitations", h.Create)
	rg.GET("/conversations/:id/invitations", h.List)
}

// RegisterPublicRoutes mounts the token-based endpoints. The auth middleware
// is optional here: a bearer token upgrades the acceptor to their workspace
// identity, its absence means a guest join.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.GET("/invitations/:token", h.Preview)
	rg.POST("/invitations/:token/accept", h.Accept)
	rg.POST("/invitations/:token/decline", h.Decline)
}

// CreateRequest describes a new invitation
type CreateRequest struct {
	InviteeEmail string  `json:"invitee_email" binding:"required,email"`
	Message      *string `json:"message"`
	TTLHours     int     `json:"ttl_hours"`
}

// Create issues an invitation into a conversation
// POST /v1/conversations/:id/invitations
func (h *Handler) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.service.Create(c.Request.Context(), &invitation.CreateInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		InviteeEmail:   req.InviteeEmail,
		Message:        req.Message,
		TTL:            time.Duration(req.TTLHours) * time.Hour,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"invitation": out.Invitation,
		"token":      out.Invitation.Token,
	})
}

// List returns a conversation's invitations
// GET /v1/conversations/:id/invitations?limit=&offset=
func (h *Handler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	limit := 50
	offset := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			offset = v
		}
	}

	invitations, err := h.service.List(c.Request.Context(), &invitation.ListInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invitations": invitations})
}

// PreviewResponse is the public-facing invitation state
type PreviewResponse struct {
	InviteeEmail string                  `json:"invitee_email"`
	Status       domain.InvitationStatus `json:"status"`
	Message      *string                 `json:"message,omitempty"`
	ExpiresAt    time.Time               `json:"expires_at"`
}

// Preview shows an invitation's state without redeeming it
// GET /v1/invitations/:token
func (h *Handler) Preview(c *gin.Context) {
	inv, err := h.service.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, &PreviewResponse{
		InviteeEmail: inv.InviteeEmail,
		Status:       inv.Status,
		Message:      inv.Message,
		ExpiresAt:    inv.ExpiresAt,
	})
}

// AcceptRequest carries optional guest profile details
type AcceptRequest struct {
	DisplayName string  `json:"display_name"`
	Company     *string `json:"company"`
	AvatarURL   *string `json:"avatar_url"`
}

// Accept redeems an invitation token. An authenticated caller joins with
// their workspace identity; an anonymous caller joins as a guest.
// POST /v1/invitations/:token/accept
func (h *Handler) Accept(c *gin.Context) {
	var req AcceptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	acceptor := invitation.Acceptor{
		DisplayName: req.DisplayName,
		Company:     req.Company,
		AvatarURL:   req.AvatarURL,
	}
	if identity, ok := middleware.IdentityFrom(c); ok {
		userID, tenantID := identity.UserID, identity.TenantID
		acceptor.UserID = &userID
		acceptor.TenantID = &tenantID
		if acceptor.DisplayName == "" {
			acceptor.DisplayName = identity.Name
		}
	}

	out, err := h.service.Accept(c.Request.Context(), &invitation.AcceptInput{
		Token:    c.Param("token"),
		Acceptor: acceptor,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversation": out.Conversation,
		"participant":  out.Participant,
	})
}

// Decline rejects an invitation
// POST /v1/invitations/:token/decline
func (h *Handler) Decline(c *gin.Context) {
	if err := h.service.Decline(c.Request.Context(), c.Param("token")); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": true})
}
