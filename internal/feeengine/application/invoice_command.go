package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// CreateInvoice 由一组 accrued 费用事件开具发票。
// 每个事件按版本号比较并交换写回；并发开票时落败一方在事务回滚后重读事件，
// 若事件已被其他发票占用则返回 ErrAlreadyInvoiced。
func (s *FeeEngineService) CreateInvoice(ctx context.Context, cmd CreateInvoiceCommand) (*domain.Invoice, error) {
	issue := s.today()
	if cmd.IssueDate != nil {
		issue = *cmd.IssueDate
	}
	due := issue.AddDays(s.opts.InvoiceDueDays)
	if cmd.DueDate != nil {
		due = *cmd.DueDate
	}

	var invoice *domain.Invoice
	_, err := s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		events, err := s.events.ListByIDs(ctx, cmd.FeeEventIDs)
		if err != nil {
			return err
		}
		inv, err := domain.NewInvoice(s.newID(prefixInvoice), cmd.PartyID, events, issue, due, s.now())
		if err != nil {
			return err
		}
		if err := s.saveFeeEvents(ctx, uow, events); err != nil {
			return err
		}
		uow.collect(inv)
		if err := s.invoices.Save(ctx, inv); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		err = s.resolveAttachConflict(ctx, cmd.FeeEventIDs, err)
	}
	if err != nil {
		return nil, s.fail(ctx, "create_invoice", err, "party_id", cmd.PartyID)
	}
	return invoice, nil
}

// resolveAttachConflict 在事务外重读事件，区分"已被开票"与其他并发修改
func (s *FeeEngineService) resolveAttachConflict(ctx context.Context, ids []string, cause error) error {
	events, err := s.events.ListByIDs(ctx, ids)
	if err != nil {
		return cause
	}
	for _, e := range events {
		if e.Status == domain.FeeEventStatusInvoiced || e.Status == domain.FeeEventStatusPaid {
			return fmt.Errorf("%w: %s is on invoice %s", domain.ErrAlreadyInvoiced, e.ID, e.InvoiceID)
		}
	}
	return cause
}

// RecordPayment 记录一笔收款。同一发票的收款在发票锁内串行执行，读取已付金额、累加、写回处于同一事务。
func (s *FeeEngineService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (*domain.Invoice, error) {
	unlock, err := s.locker.Lock(ctx, cmd.InvoiceID)
	if err != nil {
		return nil, s.fail(ctx, "record_payment", err, "invoice_id", cmd.InvoiceID)
	}
	defer unlock()

	var invoice *domain.Invoice
	_, err = s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		inv, err := s.invoices.Get(ctx, cmd.InvoiceID)
		if err != nil {
			return err
		}
		events, err := s.events.ListByIDs(ctx, inv.EventIDs)
		if err != nil {
			return err
		}
		if err := inv.RecordPayment(events, cmd.Amount, cmd.Reference, s.now()); err != nil {
			return err
		}
		if err := s.saveFeeEvents(ctx, uow, events); err != nil {
			return err
		}
		uow.collect(inv)
		if err := s.invoices.Save(ctx, inv); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "record_payment", err, "invoice_id", cmd.InvoiceID)
	}
	s.metrics.Payment(invoice.Currency)
	s.logger.InfoContext(ctx, "payment recorded", "invoice_id", invoice.ID, "amount", cmd.Amount.StringFixed(2), "balance_due", invoice.BalanceDue.StringFixed(2), "status", invoice.Status)
	return invoice, nil
}

// CancelInvoice 取消未收款发票
func (s *FeeEngineService) CancelInvoice(ctx context.Context, cmd InvoiceReasonCommand) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, "cancel_invoice", cmd.InvoiceID, func(inv *domain.Invoice, events []*domain.FeeEvent) error {
		return inv.Cancel(events, cmd.Reason, s.now())
	})
}

// DisputeInvoice 发票进入争议
func (s *FeeEngineService) DisputeInvoice(ctx context.Context, cmd InvoiceReasonCommand) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, "dispute_invoice", cmd.InvoiceID, func(inv *domain.Invoice, _ []*domain.FeeEvent) error {
		return inv.Dispute(cmd.Reason, s.now())
	})
}

// ResolveInvoiceDispute 发票争议解决
func (s *FeeEngineService) ResolveInvoiceDispute(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, "resolve_invoice_dispute", invoiceID, func(inv *domain.Invoice, _ []*domain.FeeEvent) error {
		return inv.ResolveDispute(s.now())
	})
}

// InspectInvoice 对账检查。差异只标记，从不自动修正。
func (s *FeeEngineService) InspectInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return s.mutateInvoice(ctx, "inspect_invoice", invoiceID, func(inv *domain.Invoice, events []*domain.FeeEvent) error {
		inv.Inspect(events, s.now())
		return nil
	})
}

// mutateInvoice 在发票锁与事务内修改发票及其组成事件
func (s *FeeEngineService) mutateInvoice(ctx context.Context, op, invoiceID string, fn func(inv *domain.Invoice, events []*domain.FeeEvent) error) (*domain.Invoice, error) {
	unlock, err := s.locker.Lock(ctx, invoiceID)
	if err != nil {
		return nil, s.fail(ctx, op, err, "invoice_id", invoiceID)
	}
	defer unlock()

	var invoice *domain.Invoice
	_, err = s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		inv, err := s.invoices.Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		events, err := s.events.ListByIDs(ctx, inv.EventIDs)
		if err != nil {
			return err
		}
		if err := fn(inv, events); err != nil {
			return err
		}
		if err := s.saveFeeEvents(ctx, uow, events); err != nil {
			return err
		}
		invoice = inv
		if !uow.collect(inv) {
			return nil
		}
		return s.invoices.Save(ctx, inv)
	})
	if err != nil {
		return nil, s.fail(ctx, op, err, "invoice_id", invoiceID)
	}
	return invoice, nil
}

// inspectInvoice 事务内对账，供费用事件迁移后调用
func (s *FeeEngineService) inspectInvoice(ctx context.Context, uow *unitOfWork, invoiceID string) error {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	events, err := s.events.ListByIDs(ctx, inv.EventIDs)
	if err != nil {
		return err
	}
	inv.Inspect(events, s.now())
	if !uow.collect(inv) {
		return nil
	}
	return s.invoices.Save(ctx, inv)
}
