package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizcraft-live-service/internal/domain"
)

// pinRetryBudget caps how many fresh random PINs are tried before giving
// up with ErrPINConflict.
const pinRetryBudget = 25

// SessionStore is the in-memory implementation of app.SessionStore. All
// mutations run under one mutex, which trivially gives the per-key
// atomicity the first-answer-wins and never-decrease invariants need.
type SessionStore struct {
	mu    sync.RWMutex
	clock func() time.Time
	rnd   *rand.Rand

	sessions map[string]*sessionState
	byPIN    map[string]string // pin -> session ID
}

type sessionState struct {
	session      domain.Session
	participants map[string]*domain.Participant // participant ID -> record
	byUser       map[string]string              // user ID -> participant ID (non-hosts)
	order        []string                       // participant IDs in join order
	answers      map[string]map[string]domain.AnswerRecord
	completions  map[string]completion
}

type completion struct {
	totalScore int
	timeTaken  float64
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithClock(time.Now)
}

// NewSessionStoreWithClock is test-only for deterministic timestamps.
func NewSessionStoreWithClock(now func() time.Time) *SessionStore {
	return &SessionStore{
		clock:    now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions: make(map[string]*sessionState),
		byPIN:    make(map[string]string),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, quizID, hostID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pin := ""
	for attempt := 0; attempt < pinRetryBudget; attempt++ {
		candidate := domain.GeneratePIN(domain.DefaultPINLength, s.rnd)
		if _, taken := s.byPIN[candidate]; !taken {
			pin = candidate
			break
		}
	}
	if pin == "" {
		return domain.Session{}, domain.ErrPINConflict
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		HostID:    hostID,
		PIN:       pin,
		Active:    true,
		CreatedAt: s.clock(),
	}
	s.sessions[session.ID] = &sessionState{
		session:      session,
		participants: make(map[string]*domain.Participant),
		byUser:       make(map[string]string),
		answers:      make(map[string]map[string]domain.AnswerRecord),
		completions:  make(map[string]completion),
	}
	s.byPIN[pin] = session.ID
	return session, nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return state.session, nil
}

func (s *SessionStore) GetSessionByPIN(_ context.Context, pin string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPIN[pin]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.sessions[id].session, nil
}

func (s *SessionStore) StartSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if state.session.Started() || state.session.Ended() {
		return domain.Session{}, fmt.Errorf("start session %s: %w", sessionID, domain.ErrInvalidState)
	}
	now := s.clock()
	state.session.StartedAt = &now
	state.session.Active = true
	return state.session, nil
}

func (s *SessionStore) EndSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if !state.session.Ended() {
		now := s.clock()
		state.session.EndedAt = &now
		state.session.Active = false
	}
	return state.session, nil
}

// UpsertParticipant enforces at most one non-host record per (user,
// session): rejoining with the same user ID refreshes the existing record
// instead of creating a second one.
func (s *SessionStore) UpsertParticipant(_ context.Context, p domain.Participant) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[p.SessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}

	if !p.IsHost() && p.UserID != "" {
		if existingID, ok := state.byUser[p.UserID]; ok {
			existing := state.participants[existingID]
			existing.DisplayName = p.DisplayName
			existing.Connected = p.Connected
			existing.LastSeen = p.LastSeen
			if p.AvatarSeed != "" {
				existing.AvatarSeed = p.AvatarSeed
			}
			return *existing, nil
		}
	}

	if existing, ok := state.participants[p.ID]; ok {
		existing.DisplayName = p.DisplayName
		existing.Connected = p.Connected
		existing.LastSeen = p.LastSeen
		if p.AvatarSeed != "" {
			existing.AvatarSeed = p.AvatarSeed
		}
		return *existing, nil
	}

	stored := p
	state.participants[p.ID] = &stored
	state.order = append(state.order, p.ID)
	if !p.IsHost() && p.UserID != "" {
		state.byUser[p.UserID] = p.ID
	}
	return stored, nil
}

func (s *SessionStore) Participants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	participants := make([]domain.Participant, 0, len(state.order))
	for _, id := range state.order {
		participants = append(participants, *state.participants[id])
	}
	return participants, nil
}

func (s *SessionStore) SetConnected(_ context.Context, sessionID, participantID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	p, ok := state.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.Connected = connected
	p.LastSeen = s.clock()
	return nil
}

// RecordAnswer keeps the first record per (participant, question); any
// later submission for the same pair is rejected, never accumulated.
func (s *SessionStore) RecordAnswer(_ context.Context, sessionID, participantID string, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, ok := state.participants[participantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	byQuestion, ok := state.answers[participantID]
	if !ok {
		byQuestion = make(map[string]domain.AnswerRecord)
		state.answers[participantID] = byQuestion
	}
	if _, exists := byQuestion[rec.QuestionID]; exists {
		return domain.ErrDuplicateSubmission
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = s.clock()
	}
	byQuestion[rec.QuestionID] = rec
	return nil
}

func (s *SessionStore) AnswersFor(_ context.Context, sessionID, participantID string) ([]domain.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	records := make([]domain.AnswerRecord, 0, len(state.answers[participantID]))
	for _, rec := range state.answers[participantID] {
		records = append(records, rec)
	}
	return records, nil
}

// MarkComplete is idempotent; a repeat call with a lower total keeps the
// previously recorded score rather than shrinking it.
func (s *SessionStore) MarkComplete(_ context.Context, sessionID, participantID string, totalScore int, timeTaken float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, ok := state.participants[participantID]; !ok {
		return domain.ErrParticipantNotFound
	}
	if existing, ok := state.completions[participantID]; ok && existing.totalScore > totalScore {
		return nil
	}
	state.completions[participantID] = completion{totalScore: totalScore, timeTaken: timeTaken}
	return nil
}

// ParticipantCount counts non-host participants: the number a completion
// check has to wait for.
func (s *SessionStore) ParticipantCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	count := 0
	for _, p := range state.participants {
		if !p.IsHost() {
			count++
		}
	}
	return count, nil
}

func (s *SessionStore) CompletedCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return len(state.completions), nil
}

// ScoreSummaries recomputes every participant's summary from their answer
// records; the completion record only contributes the finished flag and
// the reported totals.
func (s *SessionStore) ScoreSummaries(_ context.Context, sessionID string) ([]domain.ScoreSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	summaries := make([]domain.ScoreSummary, 0, len(state.order))
	for _, id := range state.order {
		p := state.participants[id]
		if p.IsHost() {
			continue
		}
		summary := domain.ScoreSummary{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
		}
		for _, rec := range state.answers[id] {
			summary.TotalQuestions++
			summary.TotalScore += rec.Score
			summary.TimeTaken += rec.TimeTaken
			if rec.Correct {
				summary.CorrectCount++
			}
		}
		if done, ok := state.completions[id]; ok {
			summary.Completed = true
			if done.totalScore > summary.TotalScore {
				summary.TotalScore = done.totalScore
			}
			if done.timeTaken > summary.TimeTaken {
				summary.TimeTaken = done.timeTaken
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
