package domain

import (
	"context"
)

// FeePlanRepository 费用计划仓储
type FeePlanRepository interface {
	Save(ctx context.Context, plan *FeePlan) error
	Get(ctx context.Context, id string) (*FeePlan, error)
	List(ctx context.Context, status PlanStatus) ([]*FeePlan, error)
}

// FeeEventRepository 费用事件仓储。
// Save 采用乐观锁：新建时 Version 为 0，更新时按 Version 比较并自增，冲突返回 ErrConcurrentModification。
type FeeEventRepository interface {
	Save(ctx context.Context, event *FeeEvent) error
	Get(ctx context.Context, id string) (*FeeEvent, error)
	ListByIDs(ctx context.Context, ids []string) ([]*FeeEvent, error)
	ListByParty(ctx context.Context, partyID string, status FeeEventStatus) ([]*FeeEvent, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*FeeEvent, error)
}

// InvoiceRepository 发票仓储，乐观锁语义同 FeeEventRepository
type InvoiceRepository interface {
	Save(ctx context.Context, invoice *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	ListByParty(ctx context.Context, partyID string) ([]*Invoice, error)
}

// CommissionRepository 介绍人佣金仓储
type CommissionRepository interface {
	Save(ctx context.Context, commission *IntroducerCommission) error
	Get(ctx context.Context, id string) (*IntroducerCommission, error)
	ListByIntroducer(ctx context.Context, introducerID string) ([]*IntroducerCommission, error)
	ListByFeeEvent(ctx context.Context, feeEventID string) ([]*IntroducerCommission, error)
}

// EventOutbox 领域事件发件箱，与聚合写入处于同一事务
type EventOutbox interface {
	Append(ctx context.Context, events []Event) error
}

// Transactor 事务边界，fn 内的仓储调用共享同一事务
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InvoiceLocker 发票级单写锁，保证同一发票的收款串行执行
type InvoiceLocker interface {
	Lock(ctx context.Context, invoiceID string) (unlock func(), err error)
}
