package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned for a lifecycle edge outside the table.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrSessionNotRunning gates broadcast actions on the lifecycle state.
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrNoMoreQuestions is the domain signal that the server-side queue is
	// exhausted. It is converted into replay-from-list mode, never shown raw.
	ErrNoMoreQuestions = errors.New("no more questions in queue")
	// ErrQuestionNotFound indicates an index or id outside the loaded queue.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoActiveBroadcast is returned when an action needs an acknowledged
	// broadcast id and none is held.
	ErrNoActiveBroadcast = errors.New("no question is currently broadcast")
	// ErrAlreadyLastQuestion rejects skipping past the end of the queue.
	ErrAlreadyLastQuestion = errors.New("already at the last question")
	// ErrEmptyGroup rejects group creation with no members selected.
	ErrEmptyGroup = errors.New("a group needs at least one member")
	// ErrMemberAlreadyAssigned enforces one-group-per-participant.
	ErrMemberAlreadyAssigned = errors.New("participant already belongs to a group")
	// ErrGroupNotFound indicates an unknown group id.
	ErrGroupNotFound = errors.New("group not found")
	// ErrSubmissionNotFound indicates an unknown submission id.
	ErrSubmissionNotFound = errors.New("submission not found")
)
