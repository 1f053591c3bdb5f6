package memory

import (
	"context"
	"sync"
	"time"

	"storymap-live/internal/domain"
)

// QueueLoader fetches a session's question queue from a backing store.
type QueueLoader interface {
	LoadQueue(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error)
}

// QuestionService is an in-memory implementation of the external question
// service. The server-side queue is a finite structure consumed once: the
// cursor only moves forward and never wraps, which is what forces clients
// into replay-from-list after a restart.
type QuestionService struct {
	loader QueueLoader

	mu        sync.Mutex
	queues    map[string][]domain.SessionQuestion
	cursors   map[string]int
	extended  map[string]int // sessionQuestionID -> total extra seconds
	responses map[string][]domain.ParticipantAnswer
}

func NewQuestionService(loader QueueLoader) *QuestionService {
	return &QuestionService{
		loader:    loader,
		queues:    make(map[string][]domain.SessionQuestion),
		cursors:   make(map[string]int),
		extended:  make(map[string]int),
		responses: make(map[string][]domain.ParticipantAnswer),
	}
}

func (s *QuestionService) GetQueue(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	s.mu.Lock()
	queue, ok := s.queues[sessionID]
	s.mu.Unlock()
	if ok {
		return queue, nil
	}

	queue, err := s.loader.LoadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queues[sessionID] = queue
	s.mu.Unlock()
	return queue, nil
}

func (s *QuestionService) AdvanceQueue(_ context.Context, sessionID string) error {
	return s.advance(sessionID)
}

func (s *QuestionService) SkipCurrent(_ context.Context, sessionID string) error {
	return s.advance(sessionID)
}

func (s *QuestionService) advance(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	cursor := s.cursors[sessionID]
	if cursor >= len(queue)-1 {
		return domain.ErrNoMoreQuestions
	}
	s.cursors[sessionID] = cursor + 1
	return nil
}

func (s *QuestionService) ExtendTime(_ context.Context, sessionQuestionID string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extended[sessionQuestionID] += seconds
	return nil
}

func (s *QuestionService) GetResponses(_ context.Context, broadcastID string) ([]domain.ParticipantAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answers := s.responses[broadcastID]
	out := make([]domain.ParticipantAnswer, len(answers))
	copy(out, answers)
	return out, nil
}

// RecordResponse stores a subscriber's answer against a broadcast. Fed by the
// transport when viewers answer over the channel.
func (s *QuestionService) RecordResponse(broadcastID string, answer domain.ParticipantAnswer) {
	if answer.SubmittedAt.IsZero() {
		answer.SubmittedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[broadcastID] = append(s.responses[broadcastID], answer)
}

// ExtendedBy reports the accumulated extension for a session question.
func (s *QuestionService) ExtendedBy(sessionQuestionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extended[sessionQuestionID]
}

// StaticQueueLoader serves queues from an in-memory map (tests/demos).
type StaticQueueLoader struct {
	queues map[string][]domain.SessionQuestion
}

func NewStaticQueueLoader(queues map[string][]domain.SessionQuestion) *StaticQueueLoader {
	return &StaticQueueLoader{queues: queues}
}

func (l *StaticQueueLoader) LoadQueue(_ context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	if queue, ok := l.queues[sessionID]; ok {
		return queue, nil
	}
	return nil, domain.ErrSessionNotFound
}
