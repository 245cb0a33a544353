package memory

import (
	"context"
	"time"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/messaging"
)

// Outbox 返回与存储共享事务的 outbox
func (s *Store) Outbox() *Outbox { return &Outbox{s: s, now: time.Now} }

// Outbox 进程内 outbox，实现 domain.EventOutbox 与 messaging.OutboxStore
type Outbox struct {
	s   *Store
	now func() time.Time
}

// Append 在当前事务中追加事件
func (o *Outbox) Append(ctx context.Context, events []domain.Event) error {
	records, err := messaging.EncodeAll(events, o.now())
	if err != nil {
		return err
	}
	defer o.s.guard(ctx)()
	o.s.state.outbox = append(o.s.state.outbox, records...)
	return nil
}

// FetchPending 按写入顺序取待投递记录
func (o *Outbox) FetchPending(ctx context.Context, limit int) ([]messaging.OutboxRecord, error) {
	defer o.s.guard(ctx)()
	out := make([]messaging.OutboxRecord, 0, limit)
	for _, r := range o.s.state.outbox {
		if r.Status != messaging.StatusPending {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkPublished 标记已投递
func (o *Outbox) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	return o.update(ctx, ids, func(r *messaging.OutboxRecord) {
		r.Status = messaging.StatusPublished
		t := at
		r.PublishedAt = &t
	})
}

// MarkFailed 记录失败次数与原因，保持待投递
func (o *Outbox) MarkFailed(ctx context.Context, ids []string, reason string) error {
	return o.update(ctx, ids, func(r *messaging.OutboxRecord) {
		r.Attempts++
		r.LastError = reason
	})
}

// CleanupPublished 删除投递时间早于 before 的记录
func (o *Outbox) CleanupPublished(ctx context.Context, before time.Time) (int64, error) {
	defer o.s.guard(ctx)()
	kept := make([]messaging.OutboxRecord, 0, len(o.s.state.outbox))
	var removed int64
	for _, r := range o.s.state.outbox {
		if r.Status == messaging.StatusPublished && r.PublishedAt != nil && r.PublishedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	o.s.state.outbox = kept
	return removed, nil
}

// Records 返回全部记录副本
func (o *Outbox) Records(ctx context.Context) []messaging.OutboxRecord {
	defer o.s.guard(ctx)()
	return append([]messaging.OutboxRecord(nil), o.s.state.outbox...)
}

func (o *Outbox) update(ctx context.Context, ids []string, fn func(r *messaging.OutboxRecord)) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	defer o.s.guard(ctx)()
	for i := range o.s.state.outbox {
		if set[o.s.state.outbox[i].ID] {
			fn(&o.s.state.outbox[i])
		}
	}
	return nil
}
