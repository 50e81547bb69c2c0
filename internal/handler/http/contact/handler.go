package contact

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workchat-backend/internal/middleware"
	"workchat-backend/internal/service/contact"
	"workchat-backend/pkg/response"
)

// Handler handles external contact HTTP requests
type Handler struct {
	service *contact.Service
}

// NewHandler creates a new contact handler
func NewHandler(service *contact.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the contact endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/contacts", h.Create)
	rg.GET("/contacts", h.List)
	rg.GET("/contacts/:contact_id", h.Get)
}

// CreateRequest describes a new external contact
type CreateRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Name      string  `json:"name" binding:"required"`
	Company   *string `json:"company"`
	AvatarURL *string `json:"avatar_url"`
}

// Create registers an external contact for the caller's tenant
// POST /v1/contacts
func (h *Handler) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	created, err := h.service.Create(c.Request.Context(), &contact.CreateInput{
		TenantID:  identity.TenantID,
		Email:     req.Email,
		Name:      req.Name,
		Company:   req.Company,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// List returns the caller tenant's contacts
// GET /v1/contacts?limit=&offset=
func (h *Handler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit := 100
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

	contacts, err := h.service.List(c.Request.Context(), &contact.ListInput{
		TenantID: identity.TenantID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"contacts": contacts})
}

// Get returns one contact
// GET /v1/contacts/:contact_id
func (h *Handler) Get(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	contactID, err := uuid.Parse(c.Param("contact_id"))
	if err != nil {
		response.ValidationError(c, "Invalid contact ID")
		return
	}

	found, err := h.service.Get(c.Request.Context(), identity.TenantID, contactID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}
