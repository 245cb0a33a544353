package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxMessage outbox 表模型
type OutboxMessage struct {
	ID          string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateID string     `gorm:"column:aggregate_id;type:varchar(64);index"`
	EventType   string     `gorm:"column:event_type;type:varchar(64);index"`
	Payload     []byte     `gorm:"column:payload;type:json"`
	Status      string     `gorm:"column:status;type:varchar(16);index:idx_outbox_status_created,priority:1;default:'pending'"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	LastError   string     `gorm:"column:last_error;type:varchar(512)"`
	OccurredAt  time.Time  `gorm:"column:occurred_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;index:idx_outbox_status_created,priority:2"`
	PublishedAt *time.Time `gorm:"column:published_at"`
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "fee_outbox_messages"
}

// GormOutbox 基于 MySQL 的 outbox，Append 使用 context 中的事务句柄
type GormOutbox struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOutbox 创建 outbox
func NewGormOutbox(gdb *gorm.DB) *GormOutbox {
	return &GormOutbox{db: gdb, now: time.Now}
}

// AutoMigrate 建表
func (o *GormOutbox) AutoMigrate(ctx context.Context) error {
	return o.db.WithContext(ctx).AutoMigrate(&OutboxMessage{})
}

// Append 与聚合写入处于同一事务
func (o *GormOutbox) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	records, err := EncodeAll(events, o.now())
	if err != nil {
		return err
	}
	rows := make([]OutboxMessage, 0, len(records))
	for _, r := range records {
		rows = append(rows, OutboxMessage{
			ID:          r.ID,
			AggregateID: r.AggregateID,
			EventType:   r.EventType,
			Payload:     r.Payload,
			Status:      r.Status,
			OccurredAt:  r.OccurredAt,
			CreatedAt:   r.CreatedAt,
		})
	}
	if err := db.Conn(ctx, o.db).Create(&rows).Error; err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

// FetchPending 取待投递记录；多实例部署时以 SKIP LOCKED 避免重复领取
func (o *GormOutbox) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	var rows []OutboxMessage
	err := db.Conn(ctx, o.db).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	out := make([]OutboxRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, OutboxRecord{
			ID:          r.ID,
			AggregateID: r.AggregateID,
			EventType:   r.EventType,
			Payload:     r.Payload,
			Status:      r.Status,
			Attempts:    r.Attempts,
			LastError:   r.LastError,
			OccurredAt:  r.OccurredAt,
			CreatedAt:   r.CreatedAt,
			PublishedAt: r.PublishedAt,
		})
	}
	return out, nil
}

// MarkPublished 标记已投递
func (o *GormOutbox) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.Conn(ctx, o.db).Model(&OutboxMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": StatusPublished, "published_at": at}).Error
}

// MarkFailed 记录失败
func (o *GormOutbox) MarkFailed(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(reason) > 512 {
		reason = reason[:512]
	}
	return db.Conn(ctx, o.db).Model(&OutboxMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "last_error": reason}).Error
}

// CleanupPublished 清理早于 before 的已投递记录
func (o *GormOutbox) CleanupPublished(ctx context.Context, before time.Time) (int64, error) {
	res := db.Conn(ctx, o.db).Where("status = ? AND published_at < ?", StatusPublished, before).Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}
