package domain

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown session ID or PIN.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrDuplicateSubmission is returned for a second answer to an already
	// answered question. The first accepted answer stays authoritative.
	ErrDuplicateSubmission = errors.New("answer already recorded for question")
	// ErrInvalidState is returned for one-way lifecycle violations, such as
	// starting a session that is already running or ended.
	ErrInvalidState = errors.New("invalid session state for operation")
	// ErrPINConflict is returned when PIN generation exhausted its retry
	// budget without finding a free code.
	ErrPINConflict = errors.New("could not allocate a unique session pin")
	// ErrQuestionListUnavailable is the terminal failure after bounded
	// retries to load a session's question list.
	ErrQuestionListUnavailable = errors.New("question list unavailable")
)
