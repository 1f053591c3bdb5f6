package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"storymap-live/internal/domain"
)

// QueueLoader loads session question queues stored as JSONB in Postgres.
type QueueLoader struct {
	pool *pgxpool.Pool
}

func NewQueueLoader(pool *pgxpool.Pool) *QueueLoader {
	return &QueueLoader{pool: pool}
}

func (l *QueueLoader) LoadQueue(ctx context.Context, sessionID string) ([]domain.SessionQuestion, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT queue FROM session_queues WHERE session_id=$1`, sessionID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var queue []domain.SessionQuestion
	if err := json.Unmarshal(raw, &queue); err != nil {
		return nil, fmt.Errorf("unmarshal queue: %w", err)
	}
	return queue, nil
}
