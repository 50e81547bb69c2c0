package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"workchat-backend/internal/domain"
	redisrepo "workchat-backend/internal/repository/redis"
	apperrors "workchat-backend/pkg/errors"
)

// Mocks
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) SaveWithAttachments(msg *domain.Message, attachments []*domain.Attachment) error {
	args := m.Called(msg, attachments)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(conversationID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) ListBefore(conversationID uuid.UUID, anchor time.Time, inclusive bool, limit int, minBucket int) ([]*domain.Message, error) {
	args := m.Called(conversationID, anchor, inclusive, limit, minBucket)
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) ListAfter(conversationID uuid.UUID, anchor time.Time, limit int, maxBucket int) ([]*domain.Message, error) {
	args := m.Called(conversationID, anchor, limit, maxBucket)
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateContent(conversationID, messageID uuid.UUID, content string) error {
	args := m.Called(conversationID, messageID, content)
	return args.Error(0)
}

func (m *MockMessageRepository) SoftDelete(conversationID, messageID uuid.UUID) error {
	args := m.Called(conversationID, messageID)
	return args.Error(0)
}

func (m *MockMessageRepository) SetReactions(conversationID, messageID uuid.UUID, reactions map[string][]uuid.UUID) error {
	args := m.Called(conversationID, messageID, reactions)
	return args.Error(0)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) BumpLastMessage(ctx context.Context, conversationID uuid.UUID, senderName, snippet string, at time.Time) error {
	args := m.Called(ctx, conversationID, senderName, snippet, at)
	return args.Error(0)
}

type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error) {
	args := m.Called(ctx, conversationID, userID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepository) IncrementUnread(ctx context.Context, conversationID, exceptParticipantID uuid.UUID) error {
	args := m.Called(ctx, conversationID, exceptParticipantID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event *redisrepo.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type chatFixture struct {
	messageRepo *MockMessageRepository
	convRepo    *MockConversationRepository
	partRepo    *MockParticipantRepository
	publisher   *MockPublisher
	service     *Service
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		messageRepo: new(MockMessageRepository),
		convRepo:    new(MockConversationRepository),
		partRepo:    new(MockParticipantRepository),
		publisher:   new(MockPublisher),
	}
	f.service = NewService(f.messageRepo, f.convRepo, f.partRepo, f.publisher, nil)
	return f
}

func TestSendMessage(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	sender := &domain.Participant{
		ParticipantID: uuid.New(),
		DisplayName:   "alice",
		TenantID:      &tenantID,
	}

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(sender, nil)
	f.messageRepo.On("SaveWithAttachments", mock.Anything, mock.Anything).Return(nil)
	f.convRepo.On("BumpLastMessage", mock.Anything, conversationID, "alice", "Hello World", mock.Anything).Return(nil)
	f.partRepo.On("IncrementUnread", mock.Anything, conversationID, sender.ParticipantID).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e *redisrepo.Event) bool {
		return e.Type == redisrepo.EventMessageSent && e.ConversationID == conversationID
	})).Return(nil)

	out, err := f.service.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Content:        "Hello World",
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.MessageText, out.Message.Type)
	assert.Equal(t, sender.ParticipantID, out.Message.SenderParticipantID)
	assert.NotNil(t, out.Message.Content)
	assert.Equal(t, "Hello World", *out.Message.Content)
	f.messageRepo.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestSendMessageRequiresContentOrAttachments(t *testing.T) {
	f := newChatFixture()

	_, err := f.service.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: uuid.New(),
		UserID:         uuid.New(),
		TenantID:       uuid.New(),
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestSendMessageRejectsReservedTypes(t *testing.T) {
	f := newChatFixture()

	for _, msgType := range []domain.MessageType{domain.MessageSystem, domain.MessageCall} {
		_, err := f.service.SendMessage(context.Background(), &SendMessageInput{
			ConversationID: uuid.New(),
			UserID:         uuid.New(),
			TenantID:       uuid.New(),
			Content:        "hi",
			Type:           msgType,
		})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	}
}

func TestSendMessageNonMember(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(nil, apperrors.NotFoundError("Participant"))

	_, err := f.service.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Content:        "hi",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	f.messageRepo.AssertNotCalled(t, "SaveWithAttachments", mock.Anything, mock.Anything)
}

func TestSendMessageValidatesReplyTarget(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	replyTo := uuid.New()

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New()}, nil)
	f.messageRepo.On("GetByID", conversationID, replyTo).
		Return(nil, apperrors.NotFoundError("Message"))

	_, err := f.service.SendMessage(context.Background(), &SendMessageInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Content:        "replying",
		ReplyToID:      &replyTo,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestAppendSystemHasNoSender(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()

	var saved *domain.Message
	f.messageRepo.On("SaveWithAttachments", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(0).(*domain.Message) }).
		Return(nil)
	f.convRepo.On("BumpLastMessage", mock.Anything, conversationID, SystemSenderName, mock.Anything, mock.Anything).Return(nil)
	f.partRepo.On("IncrementUnread", mock.Anything, conversationID, uuid.Nil).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	err := f.service.AppendSystem(context.Background(), conversationID, "alice left the conversation")

	assert.NoError(t, err)
	assert.Equal(t, domain.MessageSystem, saved.Type)
	assert.Equal(t, SystemSenderName, saved.SenderName)
	assert.Equal(t, uuid.Nil, saved.SenderParticipantID)
}

func TestListMessagesRejectsBothCursors(t *testing.T) {
	f := newChatFixture()

	now := time.Now().UTC()
	_, err := f.service.ListMessages(context.Background(), &ListMessagesInput{
		ConversationID: uuid.New(),
		UserID:         uuid.New(),
		TenantID:       uuid.New(),
		Before:         &now,
		After:          &now,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestListMessagesChronologicalWithHasMore(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	createdAt := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New()}, nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).
		Return(&domain.Conversation{ConversationID: conversationID, CreatedAt: createdAt}, nil)

	// Repo returns newest-first; one extra row signals another page.
	newest := &domain.Message{MessageID: uuid.New(), CreatedAt: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)}
	middle := &domain.Message{MessageID: uuid.New(), CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	extra := &domain.Message{MessageID: uuid.New(), CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	f.messageRepo.On("ListBefore", conversationID, mock.Anything, false, 3, 202601).
		Return([]*domain.Message{newest, middle, extra}, nil)

	out, err := f.service.ListMessages(context.Background(), &ListMessagesInput{
		ConversationID: conversationID,
		UserID:         userID,
		TenantID:       tenantID,
		Limit:          2,
	})

	assert.NoError(t, err)
	assert.True(t, out.HasMore)
	assert.Len(t, out.Messages, 2)
	assert.Equal(t, middle.MessageID, out.Messages[0].MessageID)
	assert.Equal(t, newest.MessageID, out.Messages[1].MessageID)
}

func TestEditMessageSenderOnly(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	self := &domain.Participant{ParticipantID: uuid.New()}
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", conversationID, messageID).
		Return(&domain.Message{
			MessageID:           messageID,
			SenderParticipantID: uuid.New(), // somebody else
			Type:                domain.MessageText,
		}, nil)

	_, err := f.service.EditMessage(context.Background(), &EditMessageInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		TenantID:       tenantID,
		Content:        "edited",
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	f.messageRepo.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMessage(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	self := &domain.Participant{ParticipantID: uuid.New()}
	original := "original"
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", conversationID, messageID).
		Return(&domain.Message{
			MessageID:           messageID,
			SenderParticipantID: self.ParticipantID,
			Type:                domain.MessageText,
			Content:             &original,
		}, nil)
	f.messageRepo.On("UpdateContent", conversationID, messageID, "edited").Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e *redisrepo.Event) bool {
		return e.Type == redisrepo.EventMessageEdited
	})).Return(nil)

	msg, err := f.service.EditMessage(context.Background(), &EditMessageInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		TenantID:       tenantID,
		Content:        "edited",
	})

	assert.NoError(t, err)
	assert.True(t, msg.IsEdited)
	assert.Equal(t, "edited", *msg.Content)
}

func TestDeleteMessageRejectsDeleted(t *testing.T) {
	f := newChatFixture()

	conversationID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	self := &domain.Participant{ParticipantID: uuid.New()}
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", conversationID, messageID).
		Return(&domain.Message{MessageID: messageID, SenderParticipantID: self.ParticipantID, IsDeleted: true}, nil)

	err := f.service.DeleteMessage(context.Background(), &DeleteMessageInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		TenantID:       tenantID,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestToggleReactionAddsAndRemoves(t *testing.T) {
	conversationID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	self := &domain.Participant{ParticipantID: uuid.New()}

	// First toggle adds the reactor.
	f := newChatFixture()
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", conversationID, messageID).
		Return(&domain.Message{MessageID: messageID}, nil)
	f.messageRepo.On("SetReactions", conversationID, messageID, mock.MatchedBy(func(r map[string][]uuid.UUID) bool {
		return len(r["👍"]) == 1 && r["👍"][0] == self.ParticipantID
	})).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	msg, err := f.service.ToggleReaction(context.Background(), &ToggleReactionInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		TenantID:       tenantID,
		Emoji:          "👍",
	})
	assert.NoError(t, err)
	assert.Len(t, msg.Reactions["👍"], 1)

	// Second toggle removes them and drops the empty emoji key.
	f = newChatFixture()
	f.partRepo.On("GetActiveByUser", mock.Anything, conversationID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", conversationID, messageID).
		Return(&domain.Message{
			MessageID: messageID,
			Reactions: map[string][]uuid.UUID{"👍": {self.ParticipantID}},
		}, nil)
	f.messageRepo.On("SetReactions", conversationID, messageID, mock.MatchedBy(func(r map[string][]uuid.UUID) bool {
		_, exists := r["👍"]
		return !exists
	})).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	msg, err = f.service.ToggleReaction(context.Background(), &ToggleReactionInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		TenantID:       tenantID,
		Emoji:          "👍",
	})
	assert.NoError(t, err)
	assert.NotContains(t, msg.Reactions, "👍")
}

func TestForwardMessagePartialFailure(t *testing.T) {
	f := newChatFixture()

	sourceID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	okTarget := uuid.New()
	deniedTarget := uuid.New()

	content := "take a look at this"
	self := &domain.Participant{ParticipantID: uuid.New(), DisplayName: "alice"}

	f.partRepo.On("GetActiveByUser", mock.Anything, sourceID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", sourceID, messageID).
		Return(&domain.Message{MessageID: messageID, Content: &content, Type: domain.MessageText}, nil)

	f.partRepo.On("GetActiveByUser", mock.Anything, okTarget, userID, tenantID).Return(self, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, deniedTarget, userID, tenantID).
		Return(nil, apperrors.NotFoundError("Participant"))

	var forwarded *domain.Message
	f.messageRepo.On("SaveWithAttachments", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { forwarded = args.Get(0).(*domain.Message) }).
		Return(nil)
	f.convRepo.On("BumpLastMessage", mock.Anything, okTarget, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.partRepo.On("IncrementUnread", mock.Anything, okTarget, self.ParticipantID).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	out, err := f.service.ForwardMessage(context.Background(), &ForwardMessageInput{
		SourceConversationID: sourceID,
		MessageID:            messageID,
		UserID:               userID,
		TenantID:             tenantID,
		TargetIDs:            []uuid.UUID{okTarget, deniedTarget},
	})

	assert.NoError(t, err)
	assert.Len(t, out.Results, 2)

	assert.NotNil(t, out.Results[0].MessageID)
	assert.Empty(t, out.Results[0].Error)
	assert.Equal(t, "[Forwarded message]\ntake a look at this", *forwarded.Content)

	assert.Nil(t, out.Results[1].MessageID)
	assert.NotEmpty(t, out.Results[1].Error)
}

func TestForwardMessageCopiesAttachmentMetadata(t *testing.T) {
	f := newChatFixture()

	sourceID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()
	targetID := uuid.New()

	self := &domain.Participant{ParticipantID: uuid.New(), DisplayName: "alice"}
	content := "quarterly report"
	source := &domain.Message{
		MessageID:      messageID,
		ConversationID: sourceID,
		Content:        &content,
		Type:           domain.MessageFile,
		Attachments: []*domain.Attachment{{
			AttachmentID:   uuid.New(),
			MessageID:      messageID,
			ConversationID: sourceID,
			FileName:       "report.pdf",
			MimeType:       "application/pdf",
			SizeBytes:      2048,
			URL:            "https://storage.example/report.pdf",
		}},
	}

	f.partRepo.On("GetActiveByUser", mock.Anything, sourceID, userID, tenantID).Return(self, nil)
	f.messageRepo.On("GetByID", sourceID, messageID).Return(source, nil)
	f.partRepo.On("GetActiveByUser", mock.Anything, targetID, userID, tenantID).Return(self, nil)

	var saved *domain.Message
	var savedAttachments []*domain.Attachment
	f.messageRepo.On("SaveWithAttachments", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = args.Get(0).(*domain.Message)
			savedAttachments = args.Get(1).([]*domain.Attachment)
		}).
		Return(nil)
	f.convRepo.On("BumpLastMessage", mock.Anything, targetID, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.partRepo.On("IncrementUnread", mock.Anything, targetID, self.ParticipantID).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	out, err := f.service.ForwardMessage(context.Background(), &ForwardMessageInput{
		SourceConversationID: sourceID,
		MessageID:            messageID,
		UserID:               userID,
		TenantID:             tenantID,
		TargetIDs:            []uuid.UUID{targetID},
	})

	assert.NoError(t, err)
	assert.NotNil(t, out.Results[0].MessageID)

	// The copy keeps the stored object reference but belongs to the new
	// message, not the source.
	assert.Len(t, savedAttachments, 1)
	copied := savedAttachments[0]
	assert.Equal(t, "report.pdf", copied.FileName)
	assert.Equal(t, "https://storage.example/report.pdf", copied.URL)
	assert.Equal(t, saved.MessageID, copied.MessageID)
	assert.Equal(t, targetID, copied.ConversationID)
	assert.NotEqual(t, source.Attachments[0].AttachmentID, copied.AttachmentID)
}

func TestForwardMessageRejectsDeleted(t *testing.T) {
	f := newChatFixture()

	sourceID := uuid.New()
	messageID := uuid.New()
	userID, tenantID := uuid.New(), uuid.New()

	f.partRepo.On("GetActiveByUser", mock.Anything, sourceID, userID, tenantID).
		Return(&domain.Participant{ParticipantID: uuid.New()}, nil)
	f.messageRepo.On("GetByID", sourceID, messageID).
		Return(&domain.Message{MessageID: messageID, IsDeleted: true}, nil)

	_, err := f.service.ForwardMessage(context.Background(), &ForwardMessageInput{
		SourceConversationID: sourceID,
		MessageID:            messageID,
		UserID:               userID,
		TenantID:             tenantID,
		TargetIDs:            []uuid.UUID{uuid.New()},
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}
