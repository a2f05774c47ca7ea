package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quizcraft-live-service/internal/domain"
	"quizcraft-live-service/internal/metrics"
)

// SessionService contains the live session use cases: room membership,
// lifecycle transitions, answer recording and leaderboard reads.
type SessionService struct {
	store    SessionStore
	quizzes  QuizRepository
	registry *RoomRegistry
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewSessionService(store SessionStore, quizzes QuizRepository, registry *RoomRegistry, m *metrics.Metrics, log zerolog.Logger) *SessionService {
	return &SessionService{
		store:    store,
		quizzes:  quizzes,
		registry: registry,
		metrics:  m,
		log:      log.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
}

// Registry exposes the room registry for transports that subscribe to room
// events directly.
func (s *SessionService) Registry() *RoomRegistry { return s.registry }

// JoinRequest carries the joinRoom boundary payload.
type JoinRequest struct {
	PIN           string
	UserID        string
	ParticipantID string
	DisplayName   string
	IsHost        bool
}

// JoinRoom registers or refreshes a participant in the session behind the
// PIN, records them in the room registry and broadcasts the join. The
// returned avatar map is the room's full current mapping.
func (s *SessionService) JoinRoom(ctx context.Context, req JoinRequest) (domain.Participant, map[string]string, error) {
	session, err := s.store.GetSessionByPIN(ctx, req.PIN)
	if err != nil {
		return domain.Participant{}, nil, err
	}
	if session.Ended() {
		return domain.Participant{}, nil, fmt.Errorf("join pin %s: %w", req.PIN, domain.ErrInvalidState)
	}

	role := domain.RoleParticipant
	if req.IsHost {
		role = domain.RoleHost
	}
	id := req.ParticipantID
	if id == "" {
		id = uuid.NewString()
	}
	participant, err := s.store.UpsertParticipant(ctx, domain.Participant{
		ID:          id,
		UserID:      req.UserID,
		SessionID:   session.ID,
		QuizID:      session.QuizID,
		DisplayName: req.DisplayName,
		Role:        role,
		Connected:   true,
		LastSeen:    s.now(),
	})
	if err != nil {
		return domain.Participant{}, nil, err
	}

	seed, avatars := s.registry.Join(session.PIN, participant.ID)
	if participant.AvatarSeed != seed {
		participant.AvatarSeed = seed
		if participant, err = s.store.UpsertParticipant(ctx, participant); err != nil {
			return domain.Participant{}, nil, err
		}
	}

	s.registry.Broadcast(session.PIN, Event{Type: EventParticipantJoined, Payload: ParticipantJoinedPayload{
		ID:         participant.ID,
		Name:       participant.DisplayName,
		AvatarSeed: participant.AvatarSeed,
		UserID:     participant.UserID,
		IsHost:     participant.IsHost(),
	}})

	s.metrics.Join()
	s.log.Info().Str("pin", req.PIN).Str("participant", participant.ID).Str("user", req.UserID).Bool("host", req.IsHost).Msg("participant joined room")
	return participant, avatars, nil
}

// LeaveRoom drops the participant from the room and flags them
// disconnected in the store. The record itself survives for the session's
// lifetime so a reconnect resumes the same identity. Unknown PINs are a
// no-op.
func (s *SessionService) LeaveRoom(ctx context.Context, pin, participantID string) {
	s.registry.Broadcast(pin, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{PlayerID: participantID}})
	s.registry.Leave(pin, participantID)

	session, err := s.store.GetSessionByPIN(ctx, pin)
	if err != nil {
		return
	}
	if err := s.store.SetConnected(ctx, session.ID, participantID, false); err != nil {
		s.log.Warn().Err(err).Str("pin", pin).Str("participant", participantID).Msg("could not flag participant disconnected")
	}
}

// AvatarSync returns the room's current avatar mapping without mutating
// it; nil for an unknown PIN.
func (s *SessionService) AvatarSync(pin string) map[string]string {
	return s.registry.Sync(pin)
}

// CreateSession creates a session for quizID with a freshly generated
// unique PIN. The quiz must exist.
func (s *SessionService) CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.Session{}, err
	}
	session, err := s.store.CreateSession(ctx, quizID, hostID)
	if err != nil {
		return domain.Session{}, err
	}
	s.metrics.SessionCreated()
	s.log.Info().Str("session", session.ID).Str("quiz", quizID).Str("pin", session.PIN).Msg("session created")
	return session, nil
}

// StartSession performs the one-way not-started to started transition and
// tells every room subscriber to navigate into the question flow.
func (s *SessionService) StartSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.StartSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	s.registry.Broadcast(session.PIN, Event{Type: EventQuizStarted, Payload: struct{}{}})
	s.metrics.SessionStarted()
	s.log.Info().Str("session", sessionID).Str("pin", session.PIN).Msg("session started")
	return session, nil
}

// EndSession closes the session and forces every waiting client to the
// authoritative leaderboard, even below the expected participant count.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.EndSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	s.registry.Broadcast(session.PIN, Event{Type: EventSessionEnded, Payload: SessionEndedPayload{SessionRef: session.ID}})
	s.metrics.SessionEnded()
	s.log.Info().Str("session", sessionID).Str("pin", session.PIN).Msg("session ended")
	return session, nil
}

// SubmitAnswer persists the answer record under first-answer-wins. A
// duplicate for an already answered question is not an error for the
// caller: the stored record is returned with accepted=false and the
// duplicate is only logged server-side.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID string, rec domain.AnswerRecord) (domain.AnswerRecord, bool, error) {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = s.now()
	}
	err := s.store.RecordAnswer(ctx, sessionID, participantID, rec)
	if err == nil {
		s.metrics.AnswerAccepted()
		return rec, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicateSubmission) {
		return domain.AnswerRecord{}, false, err
	}

	s.metrics.AnswerDuplicate()
	s.log.Warn().Str("session", sessionID).Str("participant", participantID).Str("question", rec.QuestionID).Msg("duplicate answer rejected, first answer kept")
	answers, err := s.store.AnswersFor(ctx, sessionID, participantID)
	if err != nil {
		return domain.AnswerRecord{}, false, err
	}
	for _, stored := range answers {
		if stored.QuestionID == rec.QuestionID {
			return stored, false, nil
		}
	}
	return domain.AnswerRecord{}, false, domain.ErrDuplicateSubmission
}

// Complete flags the participant's score summary as finished and reports
// whether every expected participant has now finished. When they have, a
// showResults event is pushed to the whole room.
func (s *SessionService) Complete(ctx context.Context, sessionID, participantID string, totalScore int, timeTaken float64) (bool, error) {
	if err := s.store.MarkComplete(ctx, sessionID, participantID, totalScore, timeTaken); err != nil {
		return false, err
	}
	s.metrics.Completion()

	expected, err := s.store.ParticipantCount(ctx, sessionID)
	if err != nil {
		return false, err
	}
	completed, err := s.store.CompletedCount(ctx, sessionID)
	if err != nil {
		return false, err
	}
	allFinished := expected > 0 && completed >= expected
	if allFinished {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		s.registry.Broadcast(session.PIN, Event{Type: EventShowResults, Payload: ShowResultsPayload{
			SessionRef:              sessionID,
			AllParticipantsFinished: true,
		}})
	}
	s.log.Info().Str("session", sessionID).Str("participant", participantID).Int("total", totalScore).Bool("allFinished", allFinished).Msg("participant completed quiz")
	return allFinished, nil
}

// Status returns the polling view for waiting clients.
func (s *SessionService) Status(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	expected, err := s.store.ParticipantCount(ctx, sessionID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	completed, err := s.store.CompletedCount(ctx, sessionID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	return domain.SessionStatus{
		SessionID:      session.ID,
		IsLive:         session.Active && session.Started(),
		StartedAt:      session.StartedAt,
		CompletedCount: completed,
		TotalPlayers:   expected,
	}, nil
}

// Leaderboard builds the deduplicated, ranked projection of the session's
// score summaries. An empty session yields an empty (non-nil) slice.
func (s *SessionService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	summaries, err := s.store.ScoreSummaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildLeaderboard(summaries), nil
}

// QuestionsForPIN returns the ordered question list for the participant
// view, correct options included: the progression controller scores
// locally for responsiveness while the store stays authoritative for what
// is persisted.
func (s *SessionService) QuestionsForPIN(ctx context.Context, pin string) ([]domain.Question, error) {
	session, err := s.store.GetSessionByPIN(ctx, pin)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	return quiz.Questions, nil
}

// Boundary payloads for server-to-client room events. One fixed schema per
// event type; no loosely structured objects cross this line.
type ParticipantJoinedPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AvatarSeed string `json:"avatarSeed"`
	UserID     string `json:"userId"`
	IsHost     bool   `json:"isHost"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"playerId"`
}

type ShowResultsPayload struct {
	SessionRef              string `json:"sessionRef"`
	AllParticipantsFinished bool   `json:"allParticipantsFinished"`
}

type SessionEndedPayload struct {
	SessionRef string `json:"sessionRef"`
}
