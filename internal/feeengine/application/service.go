// Package application 编排费用引擎的用例：计费入账、开票、收款、生命周期迁移与佣金。
// 领域规则全部在 domain 包内，本层负责事务边界、并发控制、outbox 与日志指标。
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/idgen"
)

// ID 前缀
const (
	prefixPlan       = "FP"
	prefixComponent  = "FC"
	prefixFeeEvent   = "FE"
	prefixInvoice    = "INV"
	prefixCommission = "COM"
)

// Recorder 业务指标记录
type Recorder interface {
	FeeComputed(kind string)
	Transition(aggregate, status string)
	Discrepancy()
	Payment(currency string)
	Conflict(operation string)
}

type nopRecorder struct{}

func (nopRecorder) FeeComputed(string)        {}
func (nopRecorder) Transition(string, string) {}
func (nopRecorder) Discrepancy()              {}
func (nopRecorder) Payment(string)            {}
func (nopRecorder) Conflict(string)           {}

// Dependencies 服务依赖
type Dependencies struct {
	Plans       domain.FeePlanRepository
	Events      domain.FeeEventRepository
	Invoices    domain.InvoiceRepository
	Commissions domain.CommissionRepository
	Outbox      domain.EventOutbox
	Tx          domain.Transactor
	Locker      domain.InvoiceLocker
	IDGen       idgen.Generator
	Metrics     Recorder
	// Clock 为空时使用 time.Now
	Clock func() time.Time
}

// Options 引擎参数
type Options struct {
	DayCountBasis  int
	InvoiceDueDays int
}

// FeeEngineService 费用引擎应用服务
type FeeEngineService struct {
	plans       domain.FeePlanRepository
	events      domain.FeeEventRepository
	invoices    domain.InvoiceRepository
	commissions domain.CommissionRepository
	outbox      domain.EventOutbox
	tx          domain.Transactor
	locker      domain.InvoiceLocker
	idGen       idgen.Generator
	metrics     Recorder
	clock       func() time.Time
	opts        Options
	logger      *slog.Logger
}

// NewFeeEngineService 创建应用服务
func NewFeeEngineService(deps Dependencies, opts Options, logger *slog.Logger) *FeeEngineService {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if opts.DayCountBasis == 0 {
		opts.DayCountBasis = 365
	}
	return &FeeEngineService{
		plans:       deps.Plans,
		events:      deps.Events,
		invoices:    deps.Invoices,
		commissions: deps.Commissions,
		outbox:      deps.Outbox,
		tx:          deps.Tx,
		locker:      deps.Locker,
		idGen:       deps.IDGen,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		opts:        opts,
		logger:      logger.With("module", "feeengine_application"),
	}
}

func (s *FeeEngineService) now() time.Time {
	return s.clock().UTC()
}

func (s *FeeEngineService) today() civil.Date {
	return civil.DateOf(s.now())
}

func (s *FeeEngineService) newID(prefix string) string {
	return idgen.PrefixedID(s.idGen, prefix)
}

// unitOfWork 收集一次事务内产生的领域事件，提交前写入 outbox，提交后记录指标
type unitOfWork struct {
	pending []domain.Event
}

type eventSource interface {
	PullEvents() []domain.Event
}

func (u *unitOfWork) collect(src eventSource) bool {
	events := src.PullEvents()
	u.pending = append(u.pending, events...)
	return len(events) > 0
}

// run 在事务中执行 fn 并把收集到的事件写入 outbox；重试时事件缓冲会重置
func (s *FeeEngineService) run(ctx context.Context, fn func(ctx context.Context, uow *unitOfWork) error) ([]domain.Event, error) {
	var uow unitOfWork
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		uow = unitOfWork{}
		if err := fn(ctx, &uow); err != nil {
			return err
		}
		if len(uow.pending) == 0 {
			return nil
		}
		return s.outbox.Append(ctx, uow.pending)
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, uow.pending)
	return uow.pending, nil
}

// saveFeeEvents 只保存本次有状态变化的事件
func (s *FeeEngineService) saveFeeEvents(ctx context.Context, uow *unitOfWork, events []*domain.FeeEvent) error {
	for _, e := range events {
		if !uow.collect(e) {
			continue
		}
		if err := s.events.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *FeeEngineService) observe(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.FeeAccruedEvent:
			s.metrics.FeeComputed(e.Kind.String())
			s.logger.InfoContext(ctx, "fee accrued", "fee_event_id", e.AggregateID(), "kind", e.Kind, "amount", e.ComputedAmount.StringFixed(2), "currency", e.Currency)
		case domain.FeeEventTransitionedEvent:
			s.metrics.Transition("fee_event", e.To.String())
			s.logger.InfoContext(ctx, "fee event transitioned", "fee_event_id", e.AggregateID(), "from", e.From, "to", e.To, "reason", e.Reason)
		case domain.InvoiceCreatedEvent:
			s.metrics.Transition("invoice", domain.InvoiceStatusIssued.String())
			s.logger.InfoContext(ctx, "invoice issued", "invoice_id", e.AggregateID(), "party_id", e.PartyID, "subtotal", e.Subtotal.StringFixed(2), "events", len(e.EventIDs))
		case domain.InvoiceTransitionedEvent:
			s.metrics.Transition("invoice", e.To.String())
			s.logger.InfoContext(ctx, "invoice transitioned", "invoice_id", e.AggregateID(), "from", e.From, "to", e.To)
		case domain.InvoiceDiscrepancyFlaggedEvent:
			s.metrics.Discrepancy()
			s.logger.WarnContext(ctx, "invoice discrepancy flagged", "invoice_id", e.AggregateID(), "subtotal", e.Subtotal.StringFixed(2), "linked_total", e.LinkedTotal.StringFixed(2), "discrepancy", e.DiscrepancyAmount.StringFixed(2))
		case domain.CommissionAccruedEvent:
			s.metrics.Transition("commission", "accrued")
		case domain.CommissionApprovedEvent:
			s.metrics.Transition("commission", "approved")
			s.logger.InfoContext(ctx, "commission approved", "commission_id", e.AggregateID(), "approved_by", e.ApprovedBy)
		case domain.CommissionPaidEvent:
			s.metrics.Transition("commission", "paid")
			s.logger.InfoContext(ctx, "commission paid", "commission_id", e.AggregateID(), "reference", e.PaymentReference)
		}
	}
}

// fail 按错误类别记录日志后原样返回
func (s *FeeEngineService) fail(ctx context.Context, op string, err error, args ...any) error {
	args = append(args, "operation", op, "error", err)
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPrecisionLoss), errors.Is(err, domain.ErrNotFound):
		s.logger.DebugContext(ctx, "request rejected", args...)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyInvoiced):
		s.logger.WarnContext(ctx, "transition rejected", args...)
	case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrLockNotAcquired):
		s.metrics.Conflict(op)
		s.logger.WarnContext(ctx, "concurrent update rejected", args...)
	default:
		s.logger.ErrorContext(ctx, "operation failed", args...)
	}
	return err
}
