// Package memory 提供进程内仓储实现，与 MySQL 实现遵循相同的乐观锁与事务语义。
// 所有读写都在一把互斥锁下串行执行；事务持有该锁直至结束，失败时回滚到事务开始时的快照。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/messaging"
	"github.com/wyfcoding/feeengine/pkg/contextx"
)

type state struct {
	plans       map[string]*domain.FeePlan
	events      map[string]*domain.FeeEvent
	invoices    map[string]*domain.Invoice
	commissions map[string]*domain.IntroducerCommission
	outbox      []messaging.OutboxRecord
}

func (s state) copy() state {
	c := state{
		plans:       make(map[string]*domain.FeePlan, len(s.plans)),
		events:      make(map[string]*domain.FeeEvent, len(s.events)),
		invoices:    make(map[string]*domain.Invoice, len(s.invoices)),
		commissions: make(map[string]*domain.IntroducerCommission, len(s.commissions)),
		outbox:      append([]messaging.OutboxRecord(nil), s.outbox...),
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	return c
}

// Store 进程内存储，同时实现各仓储接口、Transactor 与 outbox
type Store struct {
	mu    sync.Mutex
	state state
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{state: state{
		plans:       map[string]*domain.FeePlan{},
		events:      map[string]*domain.FeeEvent{},
		invoices:    map[string]*domain.Invoice{},
		commissions: map[string]*domain.IntroducerCommission{},
	}}
}

// WithTx 串行事务；已在本存储的事务中时直接执行
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// 存储中的值只会被整体替换、从不原地修改，浅拷贝 map 即可作为快照
	snapshot := s.state.copy()
	if err := fn(contextx.WithTx(ctx, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	tx, ok := contextx.GetTx(ctx).(*Store)
	return ok && tx == s
}

// guard 事务外的调用需要加锁，事务内已持有锁
func (s *Store) guard(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Plans 费用计划仓储
func (s *Store) Plans() domain.FeePlanRepository { return planRepo{s} }

// FeeEvents 费用事件仓储
func (s *Store) FeeEvents() domain.FeeEventRepository { return feeEventRepo{s} }

// Invoices 发票仓储
func (s *Store) Invoices() domain.InvoiceRepository { return invoiceRepo{s} }

// Commissions 佣金仓储
func (s *Store) Commissions() domain.CommissionRepository { return commissionRepo{s} }

// checkVersion 新建时 current 必须不存在且 version 为 0；更新时 version 必须与存储一致
func checkVersion(kind, id string, exists bool, stored, version int64) error {
	switch {
	case !exists && version == 0:
		return nil
	case !exists:
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	case stored != version:
		return fmt.Errorf("%w: %s %s version %d, stored %d", domain.ErrConcurrentModification, kind, id, version, stored)
	}
	return nil
}

type planRepo struct{ s *Store }

func (r planRepo) Save(ctx context.Context, plan *domain.FeePlan) error {
	defer r.s.guard(ctx)()
	cur, ok := r.s.state.plans[plan.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("fee plan", plan.ID, ok, stored, plan.Version); err != nil {
		return err
	}
	plan.Version++
	r.s.state.plans[plan.ID] = plan.Clone()
	return nil
}

func (r planRepo) Get(ctx context.Context, id string) (*domain.FeePlan, error) {
	defer r.s.guard(ctx)()
	p, ok := r.s.state.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: fee plan %s", domain.ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (r planRepo) List(ctx context.Context, status domain.PlanStatus) ([]*domain.FeePlan, error) {
	defer r.s.guard(ctx)()
	out := make([]*domain.FeePlan, 0)
	for _, p := range r.s.state.plans {
		if status == "" || p.Status == status {
			out = append(out, p.Clone())
		}
	}
	sortByCreated(out, func(p *domain.FeePlan) (time.Time, string) { return p.CreatedAt, p.ID })
	return out, nil
}

type feeEventRepo struct{ s *Store }

func (r feeEventRepo) Save(ctx context.Context, e *domain.FeeEvent) error {
	defer r.s.guard(ctx)()
	cur, ok := r.s.state.events[e.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("fee event", e.ID, ok, stored, e.Version); err != nil {
		return err
	}
	e.Version++
	r.s.state.events[e.ID] = e.Clone()
	return nil
}

func (r feeEventRepo) Get(ctx context.Context, id string) (*domain.FeeEvent, error) {
	defer r.s.guard(ctx)()
	e, ok := r.s.state.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: fee event %s", domain.ErrNotFound, id)
	}
	return e.Clone(), nil
}

// ListByIDs 按请求顺序返回，任一不存在即报 ErrNotFound
func (r feeEventRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.FeeEvent, error) {
	defer r.s.guard(ctx)()
	out := make([]*domain.FeeEvent, 0, len(ids))
	for _, id := range ids {
		e, ok := r.s.state.events[id]
		if !ok {
			return nil, fmt.Errorf("%w: fee event %s", domain.ErrNotFound, id)
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (r feeEventRepo) ListByParty(ctx context.Context, partyID string, status domain.FeeEventStatus) ([]*domain.FeeEvent, error) {
	return r.filter(ctx, func(e *domain.FeeEvent) bool {
		return e.PartyID == partyID && (status == "" || e.Status == status)
	})
}

func (r feeEventRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*domain.FeeEvent, error) {
	return r.filter(ctx, func(e *domain.FeeEvent) bool { return e.InvoiceID == invoiceID })
}

func (r feeEventRepo) filter(ctx context.Context, keep func(e *domain.FeeEvent) bool) ([]*domain.FeeEvent, error) {
	defer r.s.guard(ctx)()
	out := make([]*domain.FeeEvent, 0)
	for _, e := range r.s.state.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sortByCreated(out, func(e *domain.FeeEvent) (time.Time, string) { return e.CreatedAt, e.ID })
	return out, nil
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Save(ctx context.Context, inv *domain.Invoice) error {
	defer r.s.guard(ctx)()
	cur, ok := r.s.state.invoices[inv.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("invoice", inv.ID, ok, stored, inv.Version); err != nil {
		return err
	}
	inv.Version++
	r.s.state.invoices[inv.ID] = inv.Clone()
	return nil
}

func (r invoiceRepo) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	defer r.s.guard(ctx)()
	inv, ok := r.s.state.invoices[id]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", domain.ErrNotFound, id)
	}
	return inv.Clone(), nil
}

func (r invoiceRepo) ListByParty(ctx context.Context, partyID string) ([]*domain.Invoice, error) {
	defer r.s.guard(ctx)()
	out := make([]*domain.Invoice, 0)
	for _, inv := range r.s.state.invoices {
		if inv.PartyID == partyID {
			out = append(out, inv.Clone())
		}
	}
	sortByCreated(out, func(inv *domain.Invoice) (time.Time, string) { return inv.CreatedAt, inv.ID })
	return out, nil
}

type commissionRepo struct{ s *Store }

func (r commissionRepo) Save(ctx context.Context, c *domain.IntroducerCommission) error {
	defer r.s.guard(ctx)()
	cur, ok := r.s.state.commissions[c.ID]
	var stored int64
	if ok {
		stored = cur.Version
	}
	if err := checkVersion("commission", c.ID, ok, stored, c.Version); err != nil {
		return err
	}
	c.Version++
	r.s.state.commissions[c.ID] = c.Clone()
	return nil
}

func (r commissionRepo) Get(ctx context.Context, id string) (*domain.IntroducerCommission, error) {
	defer r.s.guard(ctx)()
	c, ok := r.s.state.commissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: commission %s", domain.ErrNotFound, id)
	}
	return c.Clone(), nil
}

func (r commissionRepo) ListByIntroducer(ctx context.Context, introducerID string) ([]*domain.IntroducerCommission, error) {
	return r.filter(ctx, func(c *domain.IntroducerCommission) bool { return c.IntroducerID == introducerID })
}

func (r commissionRepo) ListByFeeEvent(ctx context.Context, feeEventID string) ([]*domain.IntroducerCommission, error) {
	return r.filter(ctx, func(c *domain.IntroducerCommission) bool { return c.FeeEventID == feeEventID })
}

func (r commissionRepo) filter(ctx context.Context, keep func(c *domain.IntroducerCommission) bool) ([]*domain.IntroducerCommission, error) {
	defer r.s.guard(ctx)()
	out := make([]*domain.IntroducerCommission, 0)
	for _, c := range r.s.state.commissions {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sortByCreated(out, func(c *domain.IntroducerCommission) (time.Time, string) { return c.CreatedAt, c.ID })
	return out, nil
}

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}
