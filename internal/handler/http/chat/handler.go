package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"workchat-backend/internal/domain"
	"workchat-backend/internal/middleware"
	"workchat-backend/internal/service/chat"
	"workchat-backend/internal/service/presence"
	"workchat-backend/internal/service/receipt"
	"workchat-backend/internal/service/storage"
	"workchat-backend/pkg/response"
)

// Handler handles message, receipt, presence and attachment HTTP requests
type Handler struct {
	chatService     *chat.Service
	receiptService  *receipt.Service
	presenceService *presence.Service
	storageService  *storage.Service
}

// NewHandler creates a new chat handler
func NewHandler(
	chatService *chat.Service,
	receiptService *receipt.Service,
	presenceService *presence.Service,
	storageService *storage.Service,
) *Handler {
	return &Handler{
		chatService:     chatService,
		receiptService:  receiptService,
		presenceService: presenceService,
		storageService:  storageService,
	}
}

// RegisterRoutes mounts the message-log endpoints
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations/:id/messages", h.SendMessage)
	rg.GET("/conversations/:id/messages", h.ListMessages)
	rg.PATCH("/conversations/:id/messages/:message_id", h.EditMessage)
	rg.DELETE("/conversations/:id/messages/:message_id", h.DeleteMessage)
	rg.POST("/conversations/:id/messages/:message_id/reactions", h.ToggleReaction)
	rg.POST("/conversations/:id/messages/:message_id/forward", h.ForwardMessage)
	rg.GET("/conversations/:id/messages/:message_id/receipts", h.GetReceipts)
	rg.POST("/conversations/:id/receipts/delivered", h.MarkDelivered)
	rg.POST("/conversations/:id/receipts/read", h.MarkRead)
	rg.GET("/conversations/:id/presence", h.GetPresence)
	rg.POST("/conversations/:id/attachments/upload-url", h.CreateUploadURL)
	rg.POST("/presence/heartbeat", h.Heartbeat)
}

func pathUUIDs(c *gin.Context) (conversationID, messageID uuid.UUID, ok bool) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return uuid.Nil, uuid.Nil, false
	}
	if raw := c.Param("message_id"); raw != "" {
		messageID, err = uuid.Parse(raw)
		if err != nil {
			response.ValidationError(c, "Invalid message ID")
			return uuid.Nil, uuid.Nil, false
		}
	}
	return conversationID, messageID, true
}

// AttachmentRequest is one uploaded file referenced by a send
type AttachmentRequest struct {
	FileName     string  `json:"file_name" binding:"required"`
	MimeType     string  `json:"mime_type" binding:"required"`
	SizeBytes    int64   `json:"size_bytes" binding:"required,min=1"`
	URL          string  `json:"url" binding:"required"`
	ThumbnailURL *string `json:"thumbnail_url"`
	Width        *int    `json:"width"`
	Height       *int    `json:"height"`
}

// SendMessageRequest is the message payload
type SendMessageRequest struct {
	Content     string               `json:"content"`
	Type        string               `json:"type"`
	ReplyToID   *uuid.UUID           `json:"reply_to_id"`
	Attachments []*AttachmentRequest `json:"attachments"`
}

// SendMessage appends a message to the conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	attachments := make([]*chat.AttachmentInput, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments[i] = &chat.AttachmentInput{
			FileName:     a.FileName,
			MimeType:     a.MimeType,
			SizeBytes:    a.SizeBytes,
			URL:          a.URL,
			ThumbnailURL: a.ThumbnailURL,
			Width:        a.Width,
			Height:       a.Height,
		}
	}

	out, err := h.chatService.SendMessage(c.Request.Context(), &chat.SendMessageInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Content:        req.Content,
		Type:           domain.MessageType(req.Type),
		ReplyToID:      req.ReplyToID,
		Attachments:    attachments,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, out.Message)
}

// ListMessages pages the conversation history
// GET /v1/conversations/:id/messages?before=&after=&limit=
func (h *Handler) ListMessages(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	input := &chat.ListMessagesInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Limit:          intQuery(c, "limit", 50),
	}
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.ValidationError(c, "Invalid before timestamp")
			return
		}
		input.Before = &t
	}
	if raw := c.Query("after"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.ValidationError(c, "Invalid after timestamp")
			return
		}
		input.After = &t
	}

	out, err := h.chatService.ListMessages(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": out.Messages,
		"has_more": out.HasMore,
	})
}

// EditMessageRequest rewrites a message body
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage edits a message
// PATCH /v1/conversations/:id/messages/:message_id
func (h *Handler) EditMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, messageID, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.EditMessage(c.Request.Context(), &chat.EditMessageInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Content:        req.Content,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// DeleteMessage soft-deletes a message
// DELETE /v1/conversations/:id/messages/:message_id
func (h *Handler) DeleteMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, messageID, ok := pathUUIDs(c)
	if !ok {
		return
	}

	err := h.chatService.DeleteMessage(c.Request.Context(), &chat.DeleteMessageInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": messageID})
}

// ReactionRequest toggles one emoji reaction
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// ToggleReaction toggles the caller's reaction on a message
// POST /v1/conversations/:id/messages/:message_id/reactions
func (h *Handler) ToggleReaction(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, messageID, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.ToggleReaction(c.Request.Context(), &chat.ToggleReactionInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		Emoji:          req.Emoji,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// ForwardRequest lists target conversations for a forward
type ForwardRequest struct {
	TargetIDs []uuid.UUID `json:"target_ids" binding:"required,min=1"`
}

// ForwardMessage copies a message into other conversations
// POST /v1/conversations/:id/messages/:message_id/forward
func (h *Handler) ForwardMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, messageID, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	out, err := h.chatService.ForwardMessage(c.Request.Context(), &chat.ForwardMessageInput{
		SourceConversationID: conversationID,
		MessageID:            messageID,
		UserID:               identity.UserID,
		TenantID:             identity.TenantID,
		TargetIDs:            req.TargetIDs,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"results": out.Results})
}

// GetReceipts reports a message's receipt state
// GET /v1/conversations/:id/messages/:message_id/receipts
func (h *Handler) GetReceipts(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, messageID, ok := pathUUIDs(c)
	if !ok {
		return
	}

	out, err := h.receiptService.GetReceipts(c.Request.Context(), &receipt.GetReceiptsInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		MessageID:      messageID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

// DeliveredRequest acknowledges delivery of messages. Omitting message_ids
// marks every message in the conversation delivered.
type DeliveredRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// MarkDelivered acknowledges delivery of messages
// POST /v1/conversations/:id/receipts/delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req DeliveredRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	marked, err := h.receiptService.MarkDelivered(c.Request.Context(), &receipt.MarkDeliveredInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		MessageIDs:     req.MessageIDs,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"marked": marked})
}

// ReadRequest advances the caller's read state up to one message
type ReadRequest struct {
	MessageID uuid.UUID `json:"message_id" binding:"required"`
}

// MarkRead marks the conversation read up to a message
// POST /v1/conversations/:id/receipts/read
func (h *Handler) MarkRead(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	err := h.receiptService.MarkRead(c.Request.Context(), &receipt.MarkReadInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// GetPresence lists member presence for a conversation
// GET /v1/conversations/:id/presence
func (h *Handler) GetPresence(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	out, err := h.presenceService.GetConversationPresence(c.Request.Context(), &presence.GetConversationPresenceInput{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"participants": out.Participants})
}

// Heartbeat keeps the caller online
// POST /v1/presence/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.presenceService.Heartbeat(c.Request.Context(), identity.UserID, identity.TenantID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"online": true})
}

// UploadURLRequest asks for a presigned attachment upload slot
type UploadURLRequest struct {
	FileName string `json:"file_name" binding:"required"`
	MimeType string `json:"mime_type" binding:"required"`
}

// CreateUploadURL issues a presigned upload URL for an attachment. Membership
// gates the grant; the storage layer itself trusts the presigned URL.
// POST /v1/conversations/:id/attachments/upload-url
func (h *Handler) CreateUploadURL(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID, _, ok := pathUUIDs(c)
	if !ok {
		return
	}

	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	// Only active members get upload slots.
	if err := h.chatService.VerifyMembership(c.Request.Context(), conversationID, identity.UserID, identity.TenantID); err != nil {
		response.FromError(c, err)
		return
	}

	out, err := h.storageService.CreateUploadURL(c.Request.Context(), &storage.UploadURLInput{
		ConversationID: conversationID,
		FileName:       req.FileName,
		MimeType:       req.MimeType,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}
