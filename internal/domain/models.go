package domain

import "time"

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusRunning    SessionStatus = "running"
	StatusPaused     SessionStatus = "paused"
	StatusEnded      SessionStatus = "ended"
)

// Session is one live, teacher-led instance of an interactive map activity.
// Created and archived externally; only the status is mutated here.
type Session struct {
	ID       string            `json:"id"`
	JoinCode string            `json:"joinCode"`
	Status   SessionStatus     `json:"status"`
	MapID    string            `json:"mapId"`
	Queue    []SessionQuestion `json:"queue,omitempty"`
}

// SegmentPosition is the transient playback position broadcast to viewers.
type SegmentPosition struct {
	Index       int    `json:"index"`
	SegmentID   string `json:"segmentId"`
	SegmentName string `json:"segmentName"`
	IsPlaying   bool   `json:"isPlaying"`
}

// SessionQuestion is one question instance in a session's ordered queue.
// Immutable once loaded; the active one is tracked by index, not by mutation.
type SessionQuestion struct {
	SessionQuestionID string            `json:"sessionQuestionId"`
	QuestionID        string            `json:"questionId"`
	DisplayOrder      int               `json:"displayOrder"`
	BankID            string            `json:"bankId"`
	Question          BroadcastQuestion `json:"question"`
}

// QuestionType discriminates how answers are collected and revealed.
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionChoice   QuestionType = "choice"
	QuestionLocation QuestionType = "location"
)

// QuestionOption is a possible answer for a choice question. The Correct flag
// is stripped from outbound payloads until the teacher reveals results.
type QuestionOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// BroadcastQuestion is the wire payload for an active question.
type BroadcastQuestion struct {
	ID         string           `json:"id"`
	Text       string           `json:"text"`
	Type       QuestionType     `json:"type"`
	Options    []QuestionOption `json:"options,omitempty"`
	Answer     string           `json:"answer,omitempty"` // free-text questions
	Latitude   float64          `json:"latitude,omitempty"`
	Longitude  float64          `json:"longitude,omitempty"`
	ToleranceM float64          `json:"toleranceM,omitempty"` // location questions
	TimeLimit  int              `json:"timeLimit"`
	Points     int              `json:"points"` // defaults to 1 if zero
}

// Sanitized returns a copy safe to push to subscribers: correctness flags and
// the expected answer are withheld until an explicit reveal.
func (q BroadcastQuestion) Sanitized() BroadcastQuestion {
	out := q
	out.Answer = ""
	out.Options = make([]QuestionOption, len(q.Options))
	for i, opt := range q.Options {
		opt.Correct = false
		out.Options[i] = opt
	}
	return out
}

// ParticipantAnswer is a single subscriber's answer to a broadcast question.
type ParticipantAnswer struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	Points        int       `json:"points"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// QuestionResult aggregates answers for the question currently broadcast.
// Ephemeral; replaced on every new broadcast.
type QuestionResult struct {
	BroadcastID   string              `json:"broadcastId"`
	CorrectAnswer string              `json:"correctAnswer,omitempty"`
	Answers       []ParticipantAnswer `json:"answers"`
}

// Participant is one roster entry, doubling as a leaderboard row.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Group is a teacher-created working group within a session. A participant
// belongs to at most one group per session.
type Group struct {
	GroupID    string   `json:"groupId"`
	SessionID  string   `json:"sessionId"`
	Name       string   `json:"name"`
	Color      string   `json:"color"`
	MemberIDs  []string `json:"memberIds"`
	LeaderID   string   `json:"leaderId,omitempty"`
	MaxMembers int      `json:"maxMembers,omitempty"`
}

// GroupMember pairs a member id with the display name resolved for a group
// detail view. The name may be empty on the raw membership record.
type GroupMember struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

// Submission is a unit of group work. Graded at most once logically; a repeat
// grading call is an idempotent overwrite.
type Submission struct {
	SubmissionID string     `json:"submissionId"`
	GroupID      string     `json:"groupId"`
	Content      string     `json:"content"`
	Attachments  []string   `json:"attachments,omitempty"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	Score        *int       `json:"score,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	GradedAt     *time.Time `json:"gradedAt,omitempty"`
}
