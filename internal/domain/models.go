package domain

import "time"

// Role distinguishes the session owner from regular players.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// SkippedAnswer is the sentinel stored when a question timed out with no
// selection from the participant.
const SkippedAnswer = "__skipped__"

// Session is one live instance of a quiz being played, distinct from the
// quiz definition itself.
type Session struct {
	ID        string     `json:"id"`
	QuizID    string     `json:"quizId"`
	HostID    string     `json:"hostId"`
	PIN       string     `json:"pin"`
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Started reports whether the host has started the session.
func (s Session) Started() bool { return s.StartedAt != nil }

// Ended reports whether the session has been closed by the host.
func (s Session) Ended() bool { return s.EndedAt != nil }

// Participant is one user's connection to a session. There is at most one
// non-host record per (UserID, SessionID); rejoining updates the existing
// record instead of duplicating it.
type Participant struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	QuizID      string    `json:"quizId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	AvatarSeed  string    `json:"avatarSeed"`
	Connected   bool      `json:"connected"`
	LastSeen    time.Time `json:"lastSeen"`
}

// IsHost reports whether this participant owns the session.
func (p Participant) IsHost() bool { return p.Role == RoleHost }

// AnswerRecord is the persisted outcome of one participant answering one
// question. Question text and options are denormalized for later review.
type AnswerRecord struct {
	QuestionID    string    `json:"questionId"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	TimeTaken     float64   `json:"timeTaken"` // seconds
	Score         int       `json:"score"`
	QuestionText  string    `json:"questionText,omitempty"`
	CorrectOption string    `json:"correctOption,omitempty"`
	Options       []string  `json:"options,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Skipped reports whether the record represents a timed-out question.
func (a AnswerRecord) Skipped() bool { return a.Answer == SkippedAnswer }

// ScoreSummary is the derived total for one participant in one session.
// It is recomputed from answer records on demand; recomputing twice from
// the same records yields the same totals.
type ScoreSummary struct {
	ParticipantID  string  `json:"participantId"`
	UserID         string  `json:"userId"`
	DisplayName    string  `json:"displayName"`
	TotalScore     int     `json:"totalScore"`
	CorrectCount   int     `json:"correctCount"`
	TotalQuestions int     `json:"totalQuestions"`
	Completed      bool    `json:"completed"`
	TimeTaken      float64 `json:"timeTaken"`
}

// LeaderboardEntry is the ranked projection of a ScoreSummary used for
// display, deduplicated per participant.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	ParticipantID  string `json:"participantId"`
	DisplayName    string `json:"displayName"`
	Score          int    `json:"score"`
	CorrectCount   int    `json:"correctCount"`
	TotalQuestions int    `json:"totalQuestions"`
}

// SessionStatus is the polling view consumed by waiting clients.
type SessionStatus struct {
	SessionID      string     `json:"sessionId"`
	IsLive         bool       `json:"isLive"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedCount int        `json:"completedCount"`
	TotalPlayers   int        `json:"totalPlayers"`
}

// Question is one entry of a quiz's ordered question list. CorrectOption
// holds the winning option value; correctness is decided by comparing the
// submitted value against it.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption"`
	TimerSeconds  int      `json:"timerSeconds"`
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}
