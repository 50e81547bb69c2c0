package conversation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/middleware"
	"workchat-backend/internal/repository/cockroach"
	"workchat-backend/internal/service/conversation"
	"workchat-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	service *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(service *conversation.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the conversation endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations/direct", h.GetOrCreateDirect)
	rg.POST("/conversations/group", h.CreateGroup)
	rg.GET("/conversations", h.List)
	rg.GET("/conversations/:id", h.Get)
	rg.POST("/conversations/:id/members", h.AddMembers)
	rg.DELETE("/conversations/:id/members/:participant_id", h.RemoveMember)
	rg.POST("/conversations/:id/leave", h.Leave)
	rg.PATCH("/conversations/:id/settings", h.UpdateSettings)
}

func requesterDescriptor(id *middleware.Identity) *domain.ParticipantDescriptor {
	return &domain.ParticipantDescriptor{
		Kind:        domain.DescriptorInternal,
		UserID:      id.UserID,
		TenantID:    id.TenantID,
		DisplayName: id.Name,
		Email:       id.Email,
	}
}

// DirectRequest identifies the other endpoint of a direct conversation
type DirectRequest struct {
	Participant *domain.ParticipantDescriptor `json:"participant" binding:"required"`
}

// GetOrCreateDirect resolves the direct conversation with another identity
// POST /v1/conversations/direct
func (h *Handler) GetOrCreateDirect(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req DirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.service.GetOrCreateDirect(c.Request.Context(), &conversation.GetOrCreateDirectInput{
		Requester: requesterDescriptor(identity),
		Other:     req.Participant,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{
		"conversation": out.Conversation,
		"created":      out.Created,
	})
}

// GroupRequest describes a new group conversation
type GroupRequest struct {
	Name        string                          `json:"name" binding:"required"`
	Description *string                         `json:"description"`
	AvatarURL   *string                         `json:"avatar_url"`
	Members     []*domain.ParticipantDescriptor `json:"members" binding:"required,min=1"`
}

// CreateGroup creates a group conversation
// POST /v1/conversations/group
func (h *Handler) CreateGroup(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.service.CreateGroup(c.Request.Context(), &conversation.CreateGroupInput{
		Creator:     requesterDescriptor(identity),
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		Members:     req.Members,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"conversation": out.Conversation,
		"participants": out.Participants,
	})
}

// List returns the caller's conversations
// GET /v1/conversations?scope=&type=&unread_only=&archived=&limit=&offset=
func (h *Handler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	input := &conversation.ListInput{
		UserID:   identity.UserID,
		TenantID: identity.TenantID,
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}

	if scope := c.Query("scope"); scope != "" {
		s := domain.ConversationScope(scope)
		input.Scope = &s
	}
	if typ := c.Query("type"); typ != "" {
		t := domain.ConversationType(typ)
		input.Type = &t
	}
	if c.Query("unread_only") == "true" {
		input.UnreadOnly = true
	}
	if archived := c.Query("archived"); archived != "" {
		a := archived == "true"
		input.Archived = &a
	}

	out, err := h.service.List(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"conversations": out.Conversations})
}

// Get returns one conversation with its membership
// GET /v1/conversations/:id
func (h *Handler) Get(c *gin.Context) {
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

	out, err := h.service.Get(c.Request.Context(), &conversation.GetInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversation": out.Conversation,
		"participants": out.Participants,
		"self":         out.Self,
	})
}

// AddMembersRequest lists identities to add to a group
type AddMembersRequest struct {
	Members []*domain.ParticipantDescriptor `json:"members" binding:"required,min=1"`
}

// AddMembers adds members to a group conversation
// POST /v1/conversations/:id/members
func (h *Handler) AddMembers(c *gin.Context) {
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

	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.service.AddMembers(c.Request.Context(), &conversation.AddMembersInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Members:        req.Members,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"added": out.Added})
}

// RemoveMember removes a participant from a group
// DELETE /v1/conversations/:id/members/:participant_id
func (h *Handler) RemoveMember(c *gin.Context) {
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
	participantID, err := uuid.Parse(c.Param("participant_id"))
	if err != nil {
		response.ValidationError(c, "Invalid participant ID")
		return
	}

	err = h.service.RemoveMember(c.Request.Context(), &conversation.RemoveMemberInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		ParticipantID:  participantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"removed": participantID})
}

// Leave removes the caller from a conversation
// POST /v1/conversations/:id/leave
func (h *Handler) Leave(c *gin.Context) {
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

	err = h.service.Leave(c.Request.Context(), &conversation.LeaveInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"left": conversationID})
}

// SettingsRequest toggles per-participant view preferences
type SettingsRequest struct {
	Muted    *bool `json:"muted"`
	Pinned   *bool `json:"pinned"`
	Archived *bool `json:"archived"`
}

// UpdateSettings toggles mute/pin/archive on the caller's own membership
// PATCH /v1/conversations/:id/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
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

	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	if req.Muted == nil && req.Pinned == nil && req.Archived == nil {
		response.ValidationError(c, "at least one setting is required")
		return
	}

	flags := []struct {
		flag  cockroach.ParticipantFlag
		value *bool
	}{
		{cockroach.FlagMuted, req.Muted},
		{cockroach.FlagPinned, req.Pinned},
		{cockroach.FlagArchived, req.Archived},
	}
	for _, f := range flags {
		if f.value == nil {
			continue
		}
		err := h.service.SetFlag(c.Request.Context(), &conversation.SetFlagInput{
			ConversationID: conversationID,
			UserID:         identity.UserID,
			TenantID:       identity.TenantID,
			Flag:           f.flag,
			Value:          *f.value,
		})
		if err != nil {
			response.FromError(c, err)
			return
		}
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}
