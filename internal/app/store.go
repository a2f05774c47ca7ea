package app

import (
	"context"

	"quizcraft-live-service/internal/domain"
)

// SessionStore is the durable source of truth for sessions, participants
// and answer records. When the in-memory registry and a client's local
// state disagree, the store wins.
//
// Implementations must make RecordAnswer atomic per (participant,
// question) pair so first-answer-wins holds under concurrent duplicates,
// and MarkComplete idempotent with a recorded finished score that never
// decreases.
type SessionStore interface {
	CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	GetSessionByPIN(ctx context.Context, pin string) (domain.Session, error)
	StartSession(ctx context.Context, sessionID string) (domain.Session, error)
	EndSession(ctx context.Context, sessionID string) (domain.Session, error)

	UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	SetConnected(ctx context.Context, sessionID, participantID string, connected bool) error

	RecordAnswer(ctx context.Context, sessionID, participantID string, rec domain.AnswerRecord) error
	AnswersFor(ctx context.Context, sessionID, participantID string) ([]domain.AnswerRecord, error)
	MarkComplete(ctx context.Context, sessionID, participantID string, totalScore int, timeTaken float64) error

	ParticipantCount(ctx context.Context, sessionID string) (int, error)
	CompletedCount(ctx context.Context, sessionID string) (int, error)
	ScoreSummaries(ctx context.Context, sessionID string) ([]domain.ScoreSummary, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
