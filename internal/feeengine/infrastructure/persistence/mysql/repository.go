// Package mysql 提供基于 GORM 的仓储实现。
// 所有写入都带版本号比较：UPDATE ... WHERE id = ? AND version = ?，影响行数为 0 即视为并发修改。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/db"
	"gorm.io/gorm"
)

// Migrate 建表
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	return gdb.WithContext(ctx).AutoMigrate(
		&FeePlanModel{},
		&FeeEventModel{},
		&InvoiceModel{},
		&CommissionModel{},
	)
}

// saveVersioned 新建时插入 version=1，否则按旧版本号条件更新全部列
func saveVersioned(ctx context.Context, base *gorm.DB, kind, id string, version int64, model any) error {
	conn := db.Conn(ctx, base)
	if version == 0 {
		if err := conn.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s %s already exists", domain.ErrConcurrentModification, kind, id)
			}
			return fmt.Errorf("create %s %s: %w", kind, id, err)
		}
		return nil
	}

	result := conn.Model(model).
		Where("id = ? AND version = ?", id, version).
		Select("*").
		Updates(model)
	if result.Error != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %s version %d", domain.ErrConcurrentModification, kind, id, version)
	}
	return nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

// FeePlanRepository 费用计划仓储
type FeePlanRepository struct {
	db *gorm.DB
}

// NewFeePlanRepository 创建费用计划仓储
func NewFeePlanRepository(gdb *gorm.DB) *FeePlanRepository {
	return &FeePlanRepository{db: gdb}
}

// Save 保存计划，成功后 Version 自增
func (r *FeePlanRepository) Save(ctx context.Context, plan *domain.FeePlan) error {
	m, err := toPlanModel(plan)
	if err != nil {
		return err
	}
	m.Version = plan.Version + 1
	if err := saveVersioned(ctx, r.db, "fee plan", plan.ID, plan.Version, m); err != nil {
		return err
	}
	plan.Version = m.Version
	return nil
}

func (r *FeePlanRepository) Get(ctx context.Context, id string) (*domain.FeePlan, error) {
	var m FeePlanModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "fee plan", id)
	}
	return toPlan(&m)
}

func (r *FeePlanRepository) List(ctx context.Context, status domain.PlanStatus) ([]*domain.FeePlan, error) {
	q := db.Conn(ctx, r.db).Order("created_at ASC, id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []FeePlanModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list fee plans: %w", err)
	}
	out := make([]*domain.FeePlan, 0, len(rows))
	for i := range rows {
		p, err := toPlan(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FeeEventRepository 费用事件仓储
type FeeEventRepository struct {
	db *gorm.DB
}

// NewFeeEventRepository 创建费用事件仓储
func NewFeeEventRepository(gdb *gorm.DB) *FeeEventRepository {
	return &FeeEventRepository{db: gdb}
}

// Save 保存费用事件；发票挂载依赖这里的版本比较防止同一事件进入两张发票
func (r *FeeEventRepository) Save(ctx context.Context, e *domain.FeeEvent) error {
	m, err := toFeeEventModel(e)
	if err != nil {
		return err
	}
	m.Version = e.Version + 1
	if err := saveVersioned(ctx, r.db, "fee event", e.ID, e.Version, m); err != nil {
		return err
	}
	e.Version = m.Version
	return nil
}

func (r *FeeEventRepository) Get(ctx context.Context, id string) (*domain.FeeEvent, error) {
	var m FeeEventModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "fee event", id)
	}
	return toFeeEvent(&m)
}

// ListByIDs 按请求顺序返回，任一不存在即报 ErrNotFound
func (r *FeeEventRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.FeeEvent, error) {
	if len(ids) == 0 {
		return []*domain.FeeEvent{}, nil
	}
	var rows []FeeEventModel
	if err := db.Conn(ctx, r.db).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list fee events: %w", err)
	}
	byID := make(map[string]*FeeEventModel, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	out := make([]*domain.FeeEvent, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: fee event %s", domain.ErrNotFound, id)
		}
		e, err := toFeeEvent(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *FeeEventRepository) ListByParty(ctx context.Context, partyID string, status domain.FeeEventStatus) ([]*domain.FeeEvent, error) {
	q := db.Conn(ctx, r.db).Where("party_id = ?", partyID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	return r.find(q)
}

func (r *FeeEventRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*domain.FeeEvent, error) {
	return r.find(db.Conn(ctx, r.db).Where("invoice_id = ?", invoiceID))
}

func (r *FeeEventRepository) find(q *gorm.DB) ([]*domain.FeeEvent, error) {
	var rows []FeeEventModel
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list fee events: %w", err)
	}
	out := make([]*domain.FeeEvent, 0, len(rows))
	for i := range rows {
		e, err := toFeeEvent(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// InvoiceRepository 发票仓储
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository 创建发票仓储
func NewInvoiceRepository(gdb *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: gdb}
}

func (r *InvoiceRepository) Save(ctx context.Context, inv *domain.Invoice) error {
	m, err := toInvoiceModel(inv)
	if err != nil {
		return err
	}
	m.Version = inv.Version + 1
	if err := saveVersioned(ctx, r.db, "invoice", inv.ID, inv.Version, m); err != nil {
		return err
	}
	inv.Version = m.Version
	return nil
}

func (r *InvoiceRepository) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	var m InvoiceModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return toInvoice(&m)
}

func (r *InvoiceRepository) ListByParty(ctx context.Context, partyID string) ([]*domain.Invoice, error) {
	var rows []InvoiceModel
	err := db.Conn(ctx, r.db).
		Where("party_id = ?", partyID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	out := make([]*domain.Invoice, 0, len(rows))
	for i := range rows {
		inv, err := toInvoice(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// CommissionRepository 介绍人佣金仓储
type CommissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository 创建佣金仓储
func NewCommissionRepository(gdb *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: gdb}
}

func (r *CommissionRepository) Save(ctx context.Context, c *domain.IntroducerCommission) error {
	m := toCommissionModel(c)
	m.Version = c.Version + 1
	if err := saveVersioned(ctx, r.db, "commission", c.ID, c.Version, m); err != nil {
		return err
	}
	c.Version = m.Version
	return nil
}

func (r *CommissionRepository) Get(ctx context.Context, id string) (*domain.IntroducerCommission, error) {
	var m CommissionModel
	if err := db.Conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "commission", id)
	}
	return toCommission(&m), nil
}

func (r *CommissionRepository) ListByIntroducer(ctx context.Context, introducerID string) ([]*domain.IntroducerCommission, error) {
	return r.find(db.Conn(ctx, r.db).Where("introducer_id = ?", introducerID))
}

func (r *CommissionRepository) ListByFeeEvent(ctx context.Context, feeEventID string) ([]*domain.IntroducerCommission, error) {
	return r.find(db.Conn(ctx, r.db).Where("fee_event_id = ?", feeEventID))
}

func (r *CommissionRepository) find(q *gorm.DB) ([]*domain.IntroducerCommission, error) {
	var rows []CommissionModel
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	out := make([]*domain.IntroducerCommission, 0, len(rows))
	for i := range rows {
		out = append(out, toCommission(&rows[i]))
	}
	return out, nil
}
