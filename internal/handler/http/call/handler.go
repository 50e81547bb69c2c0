package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/middleware"
	"workchat-backend/internal/service/call"
	"workchat-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	service *call.Service
}

// NewHandler creates a new call handler
func NewHandler(service *call.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the call endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations/:id/calls", h.Initiate)
	rg.GET("/conversations/:id/calls/active", h.GetActive)
	rg.GET("/conversations/:id/calls", h.History)
	rg.POST("/calls/:call_id/answer", h.Answer)
	rg.POST("/calls/:call_id/decline", h.Decline)
	rg.POST("/calls/:call_id/end", h.End)
}

// InitiateRequest starts a call
type InitiateRequest struct {
	Type string `json:"type" binding:"required,oneof=audio video"`
}

// Initiate starts a ringing call in a conversation
// POST /v1/conversations/:id/calls
func (h *Handler) Initiate(c *gin.Context) {
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

	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.service.Initiate(c.Request.Context(), &call.InitiateInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Type:           domain.CallType(req.Type),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"call":       out.Call,
		"room_token": out.RoomToken,
	})
}

func (h *Handler) callID(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

// Answer joins a ringing or ongoing call
// POST /v1/calls/:call_id/answer
func (h *Handler) Answer(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	out, err := h.service.Answer(c.Request.Context(), &call.AnswerInput{
		CallID:   callID,
		UserID:   identity.UserID,
		TenantID: identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call":       out.Call,
		"room_token": out.RoomToken,
	})
}

// Decline rejects a ringing call
// POST /v1/calls/:call_id/decline
func (h *Handler) Decline(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	ended, err := h.service.Decline(c.Request.Context(), &call.DeclineInput{
		CallID:   callID,
		UserID:   identity.UserID,
		TenantID: identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, ended)
}

// End terminates a call
// POST /v1/calls/:call_id/end
func (h *Handler) End(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	ended, err := h.service.End(c.Request.Context(), &call.EndInput{
		CallID:   callID,
		UserID:   identity.UserID,
		TenantID: identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, ended)
}

// GetActive returns the conversation's live call, if any
// GET /v1/conversations/:id/calls/active
func (h *Handler) GetActive(c *gin.Context) {
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

	out, err := h.service.GetActive(c.Request.Context(), &call.GetActiveInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call":         out.Call,
		"participants": out.Participants,
	})
}

// History pages a conversation's call history
// GET /v1/conversations/:id/calls?limit=&offset=
func (h *Handler) History(c *gin.Context) {
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

	out, err := h.service.History(c.Request.Context(), &call.HistoryInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Limit:          intQuery(c, "limit", 50),
		Offset:         intQuery(c, "offset", 0),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"calls": out.Calls})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}
