package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizcraft-live-service/internal/domain"
)

// pinRetryBudget caps how many fresh random PINs are tried before giving
// up with ErrPINConflict.
const pinRetryBudget = 25

// markCompleteScript upserts a completion record but never lets a
// previously recorded finished score decrease. Runs atomically per call.
var markCompleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local decoded = cjson.decode(cur)
  if tonumber(decoded.totalScore) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// SessionStore is the Redis-backed implementation of app.SessionStore.
//
// Key layout (all TTL-bounded):
//
//	qc:pin:{pin}                          -> session ID (SETNX claims the PIN)
//	qc:session:{id}                       -> session JSON
//	qc:session:{id}:participants          -> hash participantID -> participant JSON
//	qc:session:{id}:users                 -> hash userID -> participantID
//	qc:session:{id}:order                 -> list of participant IDs, join order
//	qc:session:{id}:answers:{participant} -> hash questionID -> answer JSON (HSETNX)
//	qc:session:{id}:completions           -> hash participantID -> completion JSON
//
// HSETNX on the answers hash is what makes first-answer-wins hold under
// concurrent duplicate submissions: exactly one writer claims the field.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  func() time.Time
	rnd    *rand.Rand
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SessionStore) CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	session := domain.Session{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		HostID:    hostID,
		Active:    true,
		CreatedAt: s.clock(),
	}

	claimed := false
	for attempt := 0; attempt < pinRetryBudget; attempt++ {
		pin := domain.GeneratePIN(domain.DefaultPINLength, s.rnd)
		ok, err := s.client.SetNX(ctx, s.pinKey(pin), session.ID, s.ttl).Result()
		if err != nil {
			return domain.Session{}, fmt.Errorf("claim pin: %w", err)
		}
		if ok {
			session.PIN = pin
			claimed = true
			break
		}
	}
	if !claimed {
		return domain.Session{}, domain.ErrPINConflict
	}

	if err := s.writeSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.readSession(ctx, sessionID)
}

func (s *SessionStore) GetSessionByPIN(ctx context.Context, pin string) (domain.Session, error) {
	sessionID, err := s.client.Get(ctx, s.pinKey(pin)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("resolve pin: %w", err)
	}
	return s.readSession(ctx, sessionID)
}

// StartSession sets the started timestamp exactly once. The check and the
// write run under WATCH so concurrent double-starts lose cleanly.
func (s *SessionStore) StartSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var updated domain.Session
	key := s.sessionKey(sessionID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.decodeSession(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if session.Started() || session.Ended() {
			return fmt.Errorf("start session %s: %w", sessionID, domain.ErrInvalidState)
		}
		now := s.clock()
		session.StartedAt = &now
		session.Active = true

		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		updated = session
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The watched key only changes on a state flip, so the loser of a
		// concurrent start reports the same invalid state a late caller sees.
		session, rerr := s.readSession(ctx, sessionID)
		if rerr == nil && (session.Started() || session.Ended()) {
			return domain.Session{}, fmt.Errorf("start session %s: %w", sessionID, domain.ErrInvalidState)
		}
		return domain.Session{}, err
	}
	if err != nil {
		return domain.Session{}, err
	}
	return updated, nil
}

// EndSession is idempotent; a second call returns the already-ended
// session.
func (s *SessionStore) EndSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var updated domain.Session
	key := s.sessionKey(sessionID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.decodeSession(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if !session.Ended() {
			now := s.clock()
			session.EndedAt = &now
			session.Active = false
			data, err := json.Marshal(session)
			if err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.ttl)
				return nil
			}); err != nil {
				return err
			}
		}
		updated = session
		return nil
	}, key)
	if err != nil {
		return domain.Session{}, err
	}
	return updated, nil
}

// UpsertParticipant claims the (user, session) slot with HSETNX on the
// users index; the loser of a concurrent duplicate join refreshes the
// winner's record instead of creating a second one.
func (s *SessionStore) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	if _, err := s.readSession(ctx, p.SessionID); err != nil {
		return domain.Participant{}, err
	}

	participantsKey := s.participantsKey(p.SessionID)
	targetID := p.ID

	if !p.IsHost() && p.UserID != "" {
		claimed, err := s.client.HSetNX(ctx, s.usersKey(p.SessionID), p.UserID, p.ID).Result()
		if err != nil {
			return domain.Participant{}, fmt.Errorf("claim user slot: %w", err)
		}
		if !claimed {
			existingID, err := s.client.HGet(ctx, s.usersKey(p.SessionID), p.UserID).Result()
			if err != nil {
				return domain.Participant{}, fmt.Errorf("resolve user slot: %w", err)
			}
			targetID = existingID
		}
	}

	raw, err := s.client.HGet(ctx, participantsKey, targetID).Result()
	switch {
	case errors.Is(err, redis.Nil):
		stored := p
		stored.ID = targetID
		if err := s.writeParticipant(ctx, p.SessionID, stored, true); err != nil {
			return domain.Participant{}, err
		}
		return stored, nil
	case err != nil:
		return domain.Participant{}, fmt.Errorf("read participant: %w", err)
	}

	var existing domain.Participant
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	existing.DisplayName = p.DisplayName
	existing.Connected = p.Connected
	existing.LastSeen = p.LastSeen
	if p.AvatarSeed != "" {
		existing.AvatarSeed = p.AvatarSeed
	}
	if err := s.writeParticipant(ctx, p.SessionID, existing, false); err != nil {
		return domain.Participant{}, err
	}
	return existing, nil
}

func (s *SessionStore) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if _, err := s.readSession(ctx, sessionID); err != nil {
		return nil, err
	}
	order, err := s.client.LRange(ctx, s.orderKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read join order: %w", err)
	}
	participants := make([]domain.Participant, 0, len(order))
	for _, id := range order {
		raw, err := s.client.HGet(ctx, s.participantsKey(sessionID), id).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read participant: %w", err)
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (s *SessionStore) SetConnected(ctx context.Context, sessionID, participantID string, connected bool) error {
	raw, err := s.client.HGet(ctx, s.participantsKey(sessionID), participantID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("read participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("decode participant: %w", err)
	}
	p.Connected = connected
	p.LastSeen = s.clock()
	return s.writeParticipant(ctx, sessionID, p, false)
}

// RecordAnswer claims the (participant, question) field with HSETNX; a
// losing duplicate gets ErrDuplicateSubmission and the stored record
// stays untouched.
func (s *SessionStore) RecordAnswer(ctx context.Context, sessionID, participantID string, rec domain.AnswerRecord) error {
	exists, err := s.client.HExists(ctx, s.participantsKey(sessionID), participantID).Result()
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !exists {
		if _, err := s.readSession(ctx, sessionID); err != nil {
			return err
		}
		return domain.ErrParticipantNotFound
	}

	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = s.clock()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := s.answersKey(sessionID, participantID)
	claimed, err := s.client.HSetNX(ctx, key, rec.QuestionID, data).Result()
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	if !claimed {
		return domain.ErrDuplicateSubmission
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *SessionStore) AnswersFor(ctx context.Context, sessionID, participantID string) ([]domain.AnswerRecord, error) {
	if _, err := s.readSession(ctx, sessionID); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.answersKey(sessionID, participantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	records := make([]domain.AnswerRecord, 0, len(fields))
	for _, raw := range fields {
		var rec domain.AnswerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SessionStore) MarkComplete(ctx context.Context, sessionID, participantID string, totalScore int, timeTaken float64) error {
	exists, err := s.client.HExists(ctx, s.participantsKey(sessionID), participantID).Result()
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !exists {
		if _, err := s.readSession(ctx, sessionID); err != nil {
			return err
		}
		return domain.ErrParticipantNotFound
	}

	data, err := json.Marshal(completionRecord{TotalScore: totalScore, TimeTaken: timeTaken})
	if err != nil {
		return err
	}
	key := s.completionsKey(sessionID)
	if err := markCompleteScript.Run(ctx, s.client, []string{key}, participantID, totalScore, data).Err(); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *SessionStore) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	participants, err := s.Participants(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range participants {
		if !p.IsHost() {
			count++
		}
	}
	return count, nil
}

func (s *SessionStore) CompletedCount(ctx context.Context, sessionID string) (int, error) {
	if _, err := s.readSession(ctx, sessionID); err != nil {
		return 0, err
	}
	n, err := s.client.HLen(ctx, s.completionsKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return int(n), nil
}

func (s *SessionStore) ScoreSummaries(ctx context.Context, sessionID string) ([]domain.ScoreSummary, error) {
	participants, err := s.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	completions, err := s.client.HGetAll(ctx, s.completionsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read completions: %w", err)
	}

	summaries := make([]domain.ScoreSummary, 0, len(participants))
	for _, p := range participants {
		if p.IsHost() {
			continue
		}
		summary := domain.ScoreSummary{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
		}
		records, err := s.AnswersFor(ctx, sessionID, p.ID)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			summary.TotalQuestions++
			summary.TotalScore += rec.Score
			summary.TimeTaken += rec.TimeTaken
			if rec.Correct {
				summary.CorrectCount++
			}
		}
		if raw, ok := completions[p.ID]; ok {
			var done completionRecord
			if err := json.Unmarshal([]byte(raw), &done); err != nil {
				return nil, fmt.Errorf("decode completion: %w", err)
			}
			summary.Completed = true
			if done.TotalScore > summary.TotalScore {
				summary.TotalScore = done.TotalScore
			}
			if done.TimeTaken > summary.TimeTaken {
				summary.TimeTaken = done.TimeTaken
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

type completionRecord struct {
	TotalScore int     `json:"totalScore"`
	TimeTaken  float64 `json:"timeTaken"`
}

func (s *SessionStore) writeSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *SessionStore) readSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.decodeSession(s.client.Get(ctx, s.sessionKey(sessionID)))
}

func (s *SessionStore) decodeSession(cmd *redis.StringCmd) (domain.Session, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) writeParticipant(ctx context.Context, sessionID string, p domain.Participant, isNew bool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.participantsKey(sessionID), p.ID, data)
	if isNew {
		pipe.RPush(ctx, s.orderKey(sessionID), p.ID)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, s.participantsKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.orderKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.usersKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write participant: %w", err)
	}
	return nil
}

func (s *SessionStore) pinKey(pin string) string { return "qc:pin:" + pin }

func (s *SessionStore) sessionKey(id string) string { return "qc:session:" + id }

func (s *SessionStore) participantsKey(id string) string { return "qc:session:" + id + ":participants" }

func (s *SessionStore) usersKey(id string) string { return "qc:session:" + id + ":users" }

func (s *SessionStore) orderKey(id string) string { return "qc:session:" + id + ":order" }

func (s *SessionStore) answersKey(sessionID, participantID string) string {
	return "qc:session:" + sessionID + ":answers:" + participantID
}

func (s *SessionStore) completionsKey(id string) string { return "qc:session:" + id + ":completions" }
