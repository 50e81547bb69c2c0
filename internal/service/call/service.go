package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workchat-backend/internal/domain"
	redisrepo "workchat-backend/internal/repository/redis"
	apperrors "workchat-backend/pkg/errors"
	"workchat-backend/pkg/logger"
	"workchat-backend/pkg/metrics"
)

// RingTimeout is how long a call may ring before it is marked missed
const RingTimeout = 60 * time.Second

// CallRepository is the call log persistence surface
type CallRepository interface {
	CreateRinging(ctx context.Context, call *domain.CallLog) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallLog, error)
	GetActive(ctx context.Context, conversationID uuid.UUID) (*domain.CallLog, error)
	MarkOngoing(ctx context.Context, callID uuid.UUID, answeredAt time.Time) (bool, error)
	MarkEnded(ctx context.Context, callID uuid.UUID, reason domain.CallEndReason, endedAt time.Time, durationSeconds *int) (bool, error)
	AddParticipant(ctx context.Context, callID, participantID uuid.UUID, joinedAt time.Time) error
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	ListForConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.CallLog, error)
	ListRingingBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ParticipantRepository resolves conversation membership
type ParticipantRepository interface {
	GetActiveByUser(ctx context.Context, conversationID, userID, tenantID uuid.UUID) (*domain.Participant, error)
}

// SummaryAppender writes call-summary messages into the conversation log.
// Implemented by the chat service.
type SummaryAppender interface {
	AppendCallSummary(ctx context.Context, conversationID, callID uuid.UUID, text string) error
}

// TokenIssuer mints media-room access tokens
type TokenIssuer interface {
	IssueToken(roomID string, identity uuid.UUID, host bool) (string, error)
}

// Publisher fans call events out to live subscribers
type Publisher interface {
	Publish(ctx context.Context, event *redisrepo.Event) error
}

// Service drives the call state machine: ringing, ongoing, ended. At most
// one call per conversation may be in a non-terminal state.
type Service struct {
	callRepo  CallRepository
	partRepo  ParticipantRepository
	summaries SummaryAppender
	tokens    TokenIssuer
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	partRepo ParticipantRepository,
	summaries SummaryAppender,
	tokens TokenIssuer,
	publisher Publisher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		callRepo:  callRepo,
		partRepo:  partRepo,
		summaries: summaries,
		tokens:    tokens,
		publisher: publisher,
		metrics:   m,
	}
}

// InitiateInput starts a call in a conversation
type InitiateInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Type           domain.CallType
}

// InitiateOutput carries the ringing call and the caller's room token
type InitiateOutput struct {
	Call      *domain.CallLog
	RoomToken string
}

// Initiate starts a ringing call. The active-call guard runs inside the
// create transaction, so two concurrent initiates yield exactly one call and
// one ActiveCallError.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	if input.Type != domain.CallAudio && input.Type != domain.CallVideo {
		return nil, apperrors.ValidationError("call type must be audio or video")
	}

	self, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	call := &domain.CallLog{
		CallID:              uuid.New(),
		ConversationID:      input.ConversationID,
		CallerParticipantID: self.ParticipantID,
		Type:                input.Type,
		Status:              domain.CallRinging,
		StartedAt:           time.Now().UTC(),
	}

	if err := s.callRepo.CreateRinging(ctx, call); err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueToken(call.CallID.String(), self.ParticipantID, true)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CallsInitiated.WithLabelValues(string(input.Type)).Inc()
	}
	s.publishCall(ctx, redisrepo.EventCallRinging, call)

	logger.Info("call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("conversation_id", call.ConversationID.String()),
		zap.String("type", string(call.Type)),
	)

	return &InitiateOutput{Call: call, RoomToken: token}, nil
}

// AnswerInput joins a ringing or ongoing call
type AnswerInput struct {
	CallID   uuid.UUID
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// AnswerOutput carries the ongoing call and the answerer's room token
type AnswerOutput struct {
	Call      *domain.CallLog
	RoomToken string
}

// Answer transitions a ringing call to ongoing, or joins a call that is
// already ongoing. answered_at is stamped exactly once: the status predicate
// on the transition means a concurrent answer just becomes a join.
func (s *Service) Answer(ctx context.Context, input *AnswerInput) (*AnswerOutput, error) {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return nil, err
	}

	self, err := s.partRepo.GetActiveByUser(ctx, call.ConversationID, input.UserID, input.TenantID)
	if err != nil {
		return nil, err
	}

	if call.Terminal() {
		return nil, apperrors.InvalidStateError("call has already ended")
	}

	now := time.Now().UTC()
	answered, err := s.callRepo.MarkOngoing(ctx, input.CallID, now)
	if err != nil {
		return nil, err
	}
	if !answered {
		// Someone else answered first, or the call just ended.
		call, err = s.callRepo.GetByID(ctx, input.CallID)
		if err != nil {
			return nil, err
		}
		if call.Terminal() {
			return nil, apperrors.InvalidStateError("call has already ended")
		}
	} else {
		call.Status = domain.CallOngoing
		call.AnsweredAt = &now
	}

	if err := s.callRepo.AddParticipant(ctx, input.CallID, self.ParticipantID, now); err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueToken(call.CallID.String(), self.ParticipantID, false)
	if err != nil {
		return nil, err
	}

	if answered {
		s.publishCall(ctx, redisrepo.EventCallAnswered, call)
	}

	return &AnswerOutput{Call: call, RoomToken: token}, nil
}

// EndInput terminates a call
type EndInput struct {
	CallID   uuid.UUID
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// End terminates a call from any non-terminal state. An answered call ends
// as completed with its duration; a ringing call ended by the caller counts
// as no answer. Ending an already-ended call is an invalid state, not a
// silent no-op.
func (s *Service) End(ctx context.Context, input *EndInput) (*domain.CallLog, error) {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return nil, err
	}

	if _, err := s.partRepo.GetActiveByUser(ctx, call.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	reason := domain.EndCompleted
	if call.AnsweredAt == nil {
		reason = domain.EndNoAnswer
	}

	return s.terminate(ctx, call, reason)
}

// DeclineInput rejects a ringing call
type DeclineInput struct {
	CallID   uuid.UUID
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// Decline rejects a ringing call. Only meaningful before anyone answers;
// declining an ongoing call is an invalid state.
func (s *Service) Decline(ctx context.Context, input *DeclineInput) (*domain.CallLog, error) {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return nil, err
	}

	if _, err := s.partRepo.GetActiveByUser(ctx, call.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	if call.Status != domain.CallRinging {
		return nil, apperrors.InvalidStateError("only a ringing call can be declined")
	}

	return s.terminate(ctx, call, domain.EndDeclined)
}

// MarkMissed ends a call that rang out without an answer. Driven by the ring
// timeout, not by a user request.
func (s *Service) MarkMissed(ctx context.Context, callID uuid.UUID) (*domain.CallLog, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status != domain.CallRinging {
		return nil, apperrors.InvalidStateError("call is not ringing")
	}

	return s.terminate(ctx, call, domain.EndMissed)
}

// SweepRingTimeouts marks every call that rang past the timeout as missed.
// Concurrent answers are safe: the status predicates decide who wins.
func (s *Service) SweepRingTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-RingTimeout)

	callIDs, err := s.callRepo.ListRingingBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("failed to list timed-out calls", zap.Error(err))
		return
	}

	for _, callID := range callIDs {
		if _, err := s.MarkMissed(ctx, callID); err != nil {
			if !apperrors.IsCode(err, apperrors.ErrCodeInvalidState) {
				logger.Warn("failed to mark call missed",
					zap.String("call_id", callID.String()),
					zap.Error(err))
			}
		}
	}
}

// RunRingTimeoutSweeper sweeps on an interval until the context is cancelled
func (s *Service) RunRingTimeoutSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepRingTimeouts(ctx)
		}
	}
}

// terminate moves the call to its final state and narrates the outcome in
// the conversation log. The status predicate in the update closes the race
// between concurrent terminations: exactly one wins.
func (s *Service) terminate(ctx context.Context, call *domain.CallLog, reason domain.CallEndReason) (*domain.CallLog, error) {
	now := time.Now().UTC()
	call.EndedAt = &now
	duration := call.ComputeDuration()

	ok, err := s.callRepo.MarkEnded(ctx, call.CallID, reason, now, duration)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InvalidStateError("call has already ended")
	}

	call.Status = domain.CallEnded
	call.EndReason = &reason
	call.DurationSeconds = duration

	if s.metrics != nil {
		s.metrics.CallsEnded.WithLabelValues(string(reason)).Inc()
		if duration != nil {
			s.metrics.CallDuration.Observe(float64(*duration))
		}
	}

	if s.summaries != nil {
		if err := s.summaries.AppendCallSummary(ctx, call.ConversationID, call.CallID, summaryText(call)); err != nil {
			logger.Warn("failed to append call summary", zap.Error(err))
		}
	}
	s.publishCall(ctx, redisrepo.EventCallEnded, call)

	return call, nil
}

func summaryText(call *domain.CallLog) string {
	kind := "Call"
	if call.Type == domain.CallVideo {
		kind = "Video call"
	}

	if call.EndReason == nil {
		return kind + " ended"
	}
	switch *call.EndReason {
	case domain.EndCompleted:
		if call.DurationSeconds != nil {
			return fmt.Sprintf("%s ended, %s", kind, formatDuration(*call.DurationSeconds))
		}
		return kind + " ended"
	case domain.EndDeclined:
		return kind + " declined"
	case domain.EndMissed, domain.EndNoAnswer:
		return "Missed " + lower(kind)
	default:
		return kind + " ended"
	}
}

func lower(s string) string {
	if s == "Video call" {
		return "video call"
	}
	return "call"
}

func formatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// GetActiveInput looks up the live call in a conversation
type GetActiveInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
}

// GetActiveOutput carries the live call with its joined participants
type GetActiveOutput struct {
	Call         *domain.CallLog
	Participants []*domain.CallParticipant
}

// GetActive returns the conversation's current ringing or ongoing call.
// NotFound when the conversation is quiet.
func (s *Service) GetActive(ctx context.Context, input *GetActiveInput) (*GetActiveOutput, error) {
	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}

	call, err := s.callRepo.GetActive(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	participants, err := s.callRepo.GetParticipants(ctx, call.CallID)
	if err != nil {
		return nil, err
	}

	return &GetActiveOutput{Call: call, Participants: participants}, nil
}

// HistoryInput pages a conversation's call history
type HistoryInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	TenantID       uuid.UUID
	Limit          int
	Offset         int
}

// HistoryOutput carries one page of call records
type HistoryOutput struct {
	Calls []*domain.CallLog
}

// History returns past calls in the conversation, newest first
func (s *Service) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	if _, err := s.partRepo.GetActiveByUser(ctx, input.ConversationID, input.UserID, input.TenantID); err != nil {
		return nil, err
	}
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 50
	}

	calls, err := s.callRepo.ListForConversation(ctx, input.ConversationID, input.Limit, input.Offset)
	if err != nil {
		return nil, err
	}

	return &HistoryOutput{Calls: calls}, nil
}

func (s *Service) publishCall(ctx context.Context, eventType string, call *domain.CallLog) {
	if s.publisher == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"call_id":%q,"status":%q}`, call.CallID, call.Status))
	event := &redisrepo.Event{
		Type:           eventType,
		ConversationID: call.ConversationID,
		Payload:        payload,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish call event", zap.Error(err))
	}
}
