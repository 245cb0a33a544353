// Package messaging 实现领域事件的事务性发件箱（outbox）以及把待投递事件转发到 Kafka 的中继。
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// 消息状态
const (
	StatusPending   = "pending"
	StatusPublished = "published"
)

// OutboxRecord 一条待投递的领域事件
type OutboxRecord struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	Status      string
	Attempts    int
	LastError   string
	OccurredAt  time.Time
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// OutboxStore 中继读取与回写 outbox 的接口
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	MarkFailed(ctx context.Context, ids []string, reason string) error
	CleanupPublished(ctx context.Context, before time.Time) (int64, error)
}

// envelope 对外消息体
type envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// Encode 把领域事件编码为 outbox 记录
func Encode(ev domain.Event, now time.Time) (OutboxRecord, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	id := uuid.NewString()
	payload, err := json.Marshal(envelope{
		ID:          id,
		EventType:   ev.EventType(),
		AggregateID: ev.AggregateID(),
		OccurredAt:  ev.OccurredAt(),
		Data:        data,
	})
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return OutboxRecord{
		ID:          id,
		AggregateID: ev.AggregateID(),
		EventType:   ev.EventType(),
		Payload:     payload,
		Status:      StatusPending,
		OccurredAt:  ev.OccurredAt(),
		CreatedAt:   now,
	}, nil
}

// EncodeAll 批量编码
func EncodeAll(events []domain.Event, now time.Time) ([]OutboxRecord, error) {
	out := make([]OutboxRecord, 0, len(events))
	for _, ev := range events {
		rec, err := Encode(ev, now)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
