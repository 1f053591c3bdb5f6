package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"storymap-live/internal/app"
	"storymap-live/internal/channel"
	"storymap-live/internal/domain"
	"storymap-live/internal/question"
)

// Presence reflects viewer connect/disconnect into the roster service.
type Presence interface {
	Join(sessionID string, p domain.Participant)
	Leave(sessionID, participantID string)
}

// ResponseRecorder stores viewer answers against a broadcast.
type ResponseRecorder interface {
	RecordResponse(broadcastID string, a domain.ParticipantAnswer)
}

// SubmissionIntake stores incoming group work.
type SubmissionIntake interface {
	AddSubmission(s domain.Submission) domain.Submission
}

// WSHandler bridges the session channel to WebSocket subscribers and maps
// teacher control messages onto the control plane.
type WSHandler struct {
	registry *app.Registry
	presence Presence
	recorder ResponseRecorder
	intake   SubmissionIntake
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry, presence Presence, recorder ResponseRecorder, intake SubmissionIntake) *WSHandler {
	return &WSHandler{
		registry: registry,
		presence: presence,
		recorder: recorder,
		intake:   intake,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type segmentPayload struct {
	Index       int    `json:"index"`
	SegmentID   string `json:"segmentId"`
	SegmentName string `json:"segmentName"`
	IsPlaying   bool   `json:"isPlaying"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type submitWorkPayload struct {
	GroupID     string   `json:"groupId"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// ServeWS upgrades the request and joins the caller to a session, either as a
// viewer (receives sync/question fan-out, may answer and submit work) or as
// the teacher control client (drives the session).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "viewer"
	}
	if sessionID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing sessionId, userId, or name", http.StatusBadRequest)
		return
	}

	control, err := h.registry.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := control.SessionBus().Subscribe()
	defer cancel()
	groupUpdates, groupCancel := control.GroupBus().Subscribe()
	defer groupCancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		forward := func(msg channel.Message, ok bool) bool {
			if !ok {
				return false
			}
			select {
			case send <- outboundMessage{Type: msg.Event, Payload: msg.Payload}:
				return true
			case <-closeSignals:
				return false
			}
		}
		for {
			select {
			case msg, ok := <-updates:
				if !forward(msg, ok) {
					return
				}
			case msg, ok := <-groupUpdates:
				if !forward(msg, ok) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	participant := domain.Participant{ID: userID, DisplayName: displayName}
	if role == "viewer" {
		h.presence.Join(sessionID, participant)
		joined, _ := json.Marshal(participant)
		control.SessionEvents().Dispatch(channel.EventParticipantJoined, joined)
		defer func() {
			h.presence.Leave(sessionID, userID)
			left, _ := json.Marshal(participant)
			control.SessionEvents().Dispatch(channel.EventParticipantLeft, left)
		}()
	}

	send <- outboundMessage{Type: "joined", Payload: participant}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var reply *outboundMessage
		if role == "teacher" {
			reply = h.handleControl(r, control, inbound)
		} else {
			reply = h.handleViewer(control, participant, inbound)
		}
		if reply != nil {
			select {
			case send <- *reply:
			case <-closeSignals:
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handleViewer(control *app.Control, p domain.Participant, inbound inboundMessage) *outboundMessage {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid answer payload")
		}
		broadcastID := control.Questions.BroadcastID()
		sq, ok := control.Questions.Current()
		if broadcastID == "" || !ok {
			return errMsg("no question is currently broadcast")
		}
		correct, points := scoreAnswer(sq.Question, payload.Answer)
		h.recorder.RecordResponse(broadcastID, domain.ParticipantAnswer{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Answer:        payload.Answer,
			Correct:       correct,
			Points:        points,
			SubmittedAt:   time.Now(),
		})
		return &outboundMessage{Type: "answerReceived", Payload: map[string]string{"broadcastId": broadcastID}}
	case "submitWork":
		var payload submitWorkPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid submission payload")
		}
		sub := h.intake.AddSubmission(domain.Submission{
			GroupID:     payload.GroupID,
			Content:     payload.Content,
			Attachments: payload.Attachments,
		})
		raw, _ := json.Marshal(sub)
		control.GroupEvents().Dispatch(channel.EventWorkSubmitted, raw)
		_ = control.GroupBus().Send(context.Background(), channel.EventWorkSubmitted, sub)
		return &outboundMessage{Type: "workReceived", Payload: map[string]string{"submissionId": sub.SubmissionID}}
	default:
		return errMsg("unsupported message type")
	}
}

func (h *WSHandler) handleControl(r *http.Request, control *app.Control, inbound inboundMessage) *outboundMessage {
	ctx := r.Context()
	var err error
	switch inbound.Type {
	case "start":
		err = control.Machine.Start(ctx)
	case "pause":
		err = control.Machine.Pause(ctx)
	case "resume":
		err = control.Machine.Resume(ctx)
	case "end":
		err = control.Machine.End(ctx)
	case "segment":
		var payload segmentPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid segment payload")
		}
		control.Segments.Publish(payload.Index, payload.SegmentID, payload.SegmentName, payload.IsPlaying)
	case "layer":
		var payload struct {
			LayerID string `json:"layerId"`
		}
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid layer payload")
		}
		control.SetBaseLayer(ctx, payload.LayerID)
	case "broadcast":
		var payload struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid broadcast payload")
		}
		err = control.Questions.Broadcast(ctx, payload.Index)
	case "next":
		err = control.Questions.Next(ctx)
	case "skip":
		err = control.Questions.Skip(ctx)
	case "extend":
		var payload struct {
			Seconds int `json:"seconds"`
		}
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errMsg("invalid extend payload")
		}
		err = control.Questions.Extend(ctx, payload.Seconds)
	case "reveal":
		err = control.Questions.ShowResults(ctx)
	case "responses":
		answers, rerr := control.Questions.LoadResponses(ctx)
		if rerr != nil {
			return errMsg(rerr.Error())
		}
		return &outboundMessage{Type: "responses", Payload: answers}
	default:
		return errMsg("unsupported message type")
	}
	if err != nil {
		return errMsg(err.Error())
	}
	return nil
}

func errMsg(message string) *outboundMessage {
	return &outboundMessage{Type: "error", Payload: errorPayload{Message: message}}
}

// scoreAnswer grades what can be graded automatically. Location answers are
// reviewed by the teacher and stay ungraded here.
func scoreAnswer(q domain.BroadcastQuestion, answer string) (bool, int) {
	points := q.Points
	if points == 0 {
		points = 1
	}
	switch q.Type {
	case domain.QuestionChoice:
		for _, opt := range q.Options {
			if opt.Correct && (opt.ID == answer || strings.EqualFold(opt.Text, answer)) {
				return true, points
			}
		}
		return false, 0
	case domain.QuestionText:
		if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(question.CorrectAnswerText(q))) {
			return true, points
		}
		return false, 0
	default:
		return false, 0
	}
}
