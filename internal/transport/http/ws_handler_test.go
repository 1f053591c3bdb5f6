package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"storymap-live/internal/app"
	"storymap-live/internal/domain"
	"storymap-live/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	questions := memory.NewQuestionService(memory.NewStaticQueueLoader(sampleQueues()))
	roster := memory.NewRosterService()
	groups := memory.NewGroupService()
	registry := app.NewRegistry(app.Services{
		Session:  memory.NewSessionService(domain.Session{ID: "s1", JoinCode: "DEMO42"}),
		Question: questions,
		Group:    groups,
		Roster:   roster,
	}, app.Options{})

	wsHandler := NewWSHandler(registry, roster, questions, groups)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	return server, func() {
		server.Close()
		registry.Close()
	}
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	return conn
}

func TestViewerJoinAndTeacherBroadcast(t *testing.T) {
	server, teardown := newTestServer(t)
	defer teardown()

	teacher := dial(t, server, "sessionId=s1&userId=t1&name=Teacher&role=teacher")
	defer teacher.Close()
	readNext(teacher, t, "joined")

	viewer := dial(t, server, "sessionId=s1&userId=u1&name=Alice")
	defer viewer.Close()
	readNext(viewer, t, "joined")

	if err := teacher.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := teacher.WriteJSON(map[string]any{"type": "broadcast", "payload": map[string]any{"index": 0}}); err != nil {
		t.Fatalf("write broadcast: %v", err)
	}

	// The viewer receives the fan-out; intermediate sync traffic may precede it.
	var broadcastPayload map[string]any
	for i := 0; i < 5; i++ {
		typ, payload := readNext(viewer, t, "")
		if typ == "question.broadcast" {
			broadcastPayload = payload
			break
		}
	}
	if broadcastPayload == nil {
		t.Fatalf("viewer never received the question broadcast")
	}
	q, _ := broadcastPayload["question"].(map[string]any)
	if q == nil {
		t.Fatalf("expected a question in the payload, got %+v", broadcastPayload)
	}
	if answer, ok := q["answer"]; ok && answer != "" {
		t.Fatalf("broadcast question must not leak the answer, got %v", answer)
	}
}

func TestViewerAnswerIsRecorded(t *testing.T) {
	server, teardown := newTestServer(t)
	defer teardown()

	teacher := dial(t, server, "sessionId=s1&userId=t1&name=Teacher&role=teacher")
	defer teacher.Close()
	readNext(teacher, t, "joined")

	viewer := dial(t, server, "sessionId=s1&userId=u1&name=Alice")
	defer viewer.Close()
	readNext(viewer, t, "joined")

	_ = teacher.WriteJSON(map[string]any{"type": "start"})
	_ = teacher.WriteJSON(map[string]any{"type": "broadcast", "payload": map[string]any{"index": 0}})

	// Wait until the broadcast reaches the viewer before answering.
	for i := 0; i < 5; i++ {
		if typ, _ := readNext(viewer, t, ""); typ == "question.broadcast" {
			break
		}
	}

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"answer": "4"},
	}
	if err := viewer.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	typ, payload := readNext(viewer, t, "answerReceived")
	if typ != "answerReceived" || payload["broadcastId"] == "" {
		t.Fatalf("expected answer ack with broadcast id, got %s %+v", typ, payload)
	}

	if err := teacher.WriteJSON(map[string]any{"type": "responses"}); err != nil {
		t.Fatalf("write responses: %v", err)
	}
	// The teacher subscription also carries the fan-out, so skip past it.
	var answers []domain.ParticipantAnswer
	for i := 0; i < 5; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = teacher.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := teacher.ReadJSON(&msg); err != nil {
			t.Fatalf("read responses: %v", err)
		}
		if msg.Type != "responses" {
			continue
		}
		if err := json.Unmarshal(msg.Payload, &answers); err != nil {
			t.Fatalf("unmarshal responses: %v", err)
		}
		break
	}
	if len(answers) != 1 {
		t.Fatalf("expected one recorded answer, got %+v", answers)
	}
	if !answers[0].Correct || answers[0].ParticipantID != "u1" {
		t.Fatalf("expected Alice's correct answer, got %+v", answers[0])
	}
}

func TestControlBeforeStartIsRejected(t *testing.T) {
	server, teardown := newTestServer(t)
	defer teardown()

	teacher := dial(t, server, "sessionId=s1&userId=t1&name=Teacher&role=teacher")
	defer teacher.Close()
	readNext(teacher, t, "joined")

	if err := teacher.WriteJSON(map[string]any{"type": "broadcast", "payload": map[string]any{"index": 0}}); err != nil {
		t.Fatalf("write broadcast: %v", err)
	}
	typ, payload := readNext(teacher, t, "error")
	if typ != "error" || payload["message"] == "" {
		t.Fatalf("expected an error for broadcast before start, got %s %+v", typ, payload)
	}
}

func TestMissingIdentityRejected(t *testing.T) {
	server, teardown := newTestServer(t)
	defer teardown()

	resp, err := http.Get(server.URL + "/ws?sessionId=s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func sampleQueues() map[string][]domain.SessionQuestion {
	return map[string][]domain.SessionQuestion{
		"s1": {
			{
				SessionQuestionID: "sq1",
				QuestionID:        "q1",
				DisplayOrder:      0,
				Question: domain.BroadcastQuestion{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Type: domain.QuestionChoice,
					Options: []domain.QuestionOption{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
			},
			{
				SessionQuestionID: "sq2",
				QuestionID:        "q2",
				DisplayOrder:      1,
				Question: domain.BroadcastQuestion{
					ID:     "q2",
					Text:   "Capital of Austria?",
					Type:   domain.QuestionText,
					Answer: "Vienna",
				},
			},
		},
	}
}
