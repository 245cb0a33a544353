package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/mq"
)

// Producer 消息生产者
type Producer interface {
	Publish(ctx context.Context, messages ...mq.Message) error
}

// RelayRecorder 中继指标
type RelayRecorder interface {
	OutboxPublished(n int)
	OutboxFailed()
}

// RelayConfig 中继参数。Retention 为 0 时不清理已投递记录。
type RelayConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Relay 轮询 outbox 并把待投递事件发送到消息队列。
// tx 非空时同一批次的读取、发送与回写处于一个事务内；tx 为 nil 时三步各自执行，
// 只适用于单实例的进程内存储。发送失败时整批保持 pending 并累计失败次数。
type Relay struct {
	store    OutboxStore
	tx       domain.Transactor
	producer Producer
	metrics  RelayRecorder
	cfg      RelayConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRelay 创建中继
func NewRelay(store OutboxStore, tx domain.Transactor, producer Producer, metrics RelayRecorder, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retention > 0 && cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &Relay{
		store:    store,
		tx:       tx,
		producer: producer,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With("module", "outbox_relay"),
		now:      time.Now,
	}
}

var errPublish = errors.New("publish outbox batch")

// Flush 投递一批，返回成功条数
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var (
		published  int
		publishErr error
	)
	err := r.withTx(ctx, func(ctx context.Context) error {
		records, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		ids := make([]string, 0, len(records))
		msgs := make([]mq.Message, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
			msgs = append(msgs, mq.Message{
				Key:   rec.AggregateID,
				Value: rec.Payload,
				Time:  rec.OccurredAt,
				Headers: map[string]string{
					"event_type": rec.EventType,
					"message_id": rec.ID,
				},
			})
		}
		if err := r.producer.Publish(ctx, msgs...); err != nil {
			publishErr = err
			return r.store.MarkFailed(ctx, ids, err.Error())
		}
		published = len(ids)
		return r.store.MarkPublished(ctx, ids, r.now())
	})
	if err != nil {
		return 0, err
	}
	if publishErr != nil {
		if r.metrics != nil {
			r.metrics.OutboxFailed()
		}
		return 0, errors.Join(errPublish, publishErr)
	}
	if published > 0 && r.metrics != nil {
		r.metrics.OutboxPublished(published)
	}
	return published, nil
}

func (r *Relay) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.tx == nil {
		return fn(ctx)
	}
	return r.tx.WithTx(ctx, fn)
}

// Cleanup 删除投递时间早于保留期的记录，返回删除条数
func (r *Relay) Cleanup(ctx context.Context) (int64, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	before := r.now().Add(-r.cfg.Retention)
	n, err := r.store.CleanupPublished(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "outbox published records cleaned", "count", n, "before", before)
	}
	return n, nil
}

// Run 持续投递直到 ctx 结束；积压时不等待下一个周期
func (r *Relay) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "outbox relay started", "batch_size", r.cfg.BatchSize, "interval", r.cfg.PollInterval, "retention", r.cfg.Retention)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	var cleanup <-chan time.Time
	if r.cfg.Retention > 0 {
		ct := time.NewTicker(r.cfg.CleanupInterval)
		defer ct.Stop()
		cleanup = ct.C
	}
	for {
		if ctx.Err() != nil {
			r.logger.InfoContext(context.WithoutCancel(ctx), "outbox relay stopped")
			return
		}
		n, err := r.Flush(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay flush failed", "error", err)
		}
		if n == r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-cleanup:
			if _, err := r.Cleanup(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "outbox cleanup failed", "error", err)
			}
		}
	}
}
