package application

import (
	"context"
	"strings"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// PreviewFee 只计算不入账
func (s *FeeEngineService) PreviewFee(ctx context.Context, cmd CalculateFeeCommand) (domain.Calculation, error) {
	calc, _, err := s.calculate(ctx, cmd)
	if err != nil {
		return domain.Calculation{}, s.fail(ctx, "preview_fee", err)
	}
	return calc, nil
}

// RecordFee 计算并入账为 accrued 费用事件，计算金额与费率快照自此冻结
func (s *FeeEngineService) RecordFee(ctx context.Context, cmd RecordFeeCommand) (*domain.FeeEvent, error) {
	calc, component, err := s.calculate(ctx, cmd.CalculateFeeCommand)
	if err != nil {
		return nil, s.fail(ctx, "record_fee", err)
	}
	event, err := domain.NewFeeEvent(s.newID(prefixFeeEvent), cmd.PlanID, cmd.PartyID, component.Currency, calc, s.now())
	if err != nil {
		return nil, s.fail(ctx, "record_fee", err)
	}
	_, err = s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		uow.collect(event)
		return s.events.Save(ctx, event)
	})
	if err != nil {
		return nil, s.fail(ctx, "record_fee", err, "party_id", cmd.PartyID)
	}
	return event, nil
}

// calculate 解析组件并调用领域计算器
func (s *FeeEngineService) calculate(ctx context.Context, cmd CalculateFeeCommand) (domain.Calculation, *domain.FeeComponent, error) {
	component := cmd.Component
	switch {
	case component != nil && cmd.PlanID != "":
		return domain.Calculation{}, nil, domain.NewValidationError("component", "give either a plan component or a standalone component, not both")
	case component != nil:
		component.Currency = strings.ToUpper(component.Currency)
	case cmd.PlanID == "" || cmd.ComponentID == "":
		return domain.Calculation{}, nil, domain.NewValidationError("component_id", "plan_id and component_id are required")
	default:
		plan, err := s.plans.Get(ctx, cmd.PlanID)
		if err != nil {
			return domain.Calculation{}, nil, err
		}
		if component, err = plan.ComponentForCalculation(cmd.ComponentID); err != nil {
			return domain.Calculation{}, nil, err
		}
	}

	in := cmd.Inputs
	if in.DayCountBasis == 0 {
		in.DayCountBasis = s.opts.DayCountBasis
	}
	calc, err := domain.Calculate(component, in)
	if err != nil {
		return domain.Calculation{}, nil, err
	}
	return calc, component, nil
}

// VoidFeeEvent 作废
func (s *FeeEngineService) VoidFeeEvent(ctx context.Context, cmd TransitionFeeEventCommand) (*domain.FeeEvent, error) {
	return s.transitionFeeEvent(ctx, "void_fee_event", cmd.FeeEventID, func(_ context.Context, e *domain.FeeEvent) error {
		return e.Void(cmd.Reason, s.now())
	})
}

// WaiveFeeEvent 豁免
func (s *FeeEngineService) WaiveFeeEvent(ctx context.Context, cmd TransitionFeeEventCommand) (*domain.FeeEvent, error) {
	return s.transitionFeeEvent(ctx, "waive_fee_event", cmd.FeeEventID, func(_ context.Context, e *domain.FeeEvent) error {
		return e.Waive(cmd.Reason, s.now())
	})
}

// CancelFeeEvent 取消
func (s *FeeEngineService) CancelFeeEvent(ctx context.Context, cmd TransitionFeeEventCommand) (*domain.FeeEvent, error) {
	return s.transitionFeeEvent(ctx, "cancel_fee_event", cmd.FeeEventID, func(_ context.Context, e *domain.FeeEvent) error {
		return e.Cancel(cmd.Reason, s.now())
	})
}

// DisputeFeeEvent 发起争议
func (s *FeeEngineService) DisputeFeeEvent(ctx context.Context, cmd TransitionFeeEventCommand) (*domain.FeeEvent, error) {
	return s.transitionFeeEvent(ctx, "dispute_fee_event", cmd.FeeEventID, func(_ context.Context, e *domain.FeeEvent) error {
		return e.Dispute(cmd.Reason, s.now())
	})
}

// ResolveFeeEventDispute 解决争议，恢复到争议前状态；所属发票已结清时直接迁移为 paid
func (s *FeeEngineService) ResolveFeeEventDispute(ctx context.Context, feeEventID string) (*domain.FeeEvent, error) {
	return s.transitionFeeEvent(ctx, "resolve_fee_event_dispute", feeEventID, func(ctx context.Context, e *domain.FeeEvent) error {
		var inv *domain.Invoice
		if e.InvoiceID != "" {
			loaded, err := s.invoices.Get(ctx, e.InvoiceID)
			if err != nil {
				return err
			}
			inv = loaded
		}
		return e.ResolveDisputeOn(inv, s.now())
	})
}

// transitionFeeEvent 迁移单个费用事件；事件挂在发票上时顺带做一次对账检查
func (s *FeeEngineService) transitionFeeEvent(ctx context.Context, op, id string, fn func(ctx context.Context, e *domain.FeeEvent) error) (*domain.FeeEvent, error) {
	var event *domain.FeeEvent
	_, err := s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		e, err := s.events.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		if err := s.saveFeeEvents(ctx, uow, []*domain.FeeEvent{e}); err != nil {
			return err
		}
		event = e
		if e.InvoiceID == "" {
			return nil
		}
		return s.inspectInvoice(ctx, uow, e.InvoiceID)
	})
	if err != nil {
		return nil, s.fail(ctx, op, err, "fee_event_id", id)
	}
	return event, nil
}

// VoidAndRecreate 作废一笔未支付事件，并用原费率快照与新的输入重算一笔替换事件
func (s *FeeEngineService) VoidAndRecreate(ctx context.Context, cmd VoidAndRecreateCommand) (voided, replacement *domain.FeeEvent, err error) {
	_, err = s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		old, err := s.events.Get(ctx, cmd.FeeEventID)
		if err != nil {
			return err
		}
		now := s.now()
		reason := cmd.Reason
		if strings.TrimSpace(reason) == "" {
			reason = "voided for recalculation"
		}
		if err := old.Void(reason, now); err != nil {
			return err
		}

		in := cmd.Inputs
		if in.DayCountBasis == 0 {
			in.DayCountBasis = s.opts.DayCountBasis
		}
		calc, err := domain.Calculate(old.Snapshot.Component(old.Currency), in)
		if err != nil {
			return err
		}
		next, err := domain.NewReplacementEvent(s.newID(prefixFeeEvent), old, calc, now)
		if err != nil {
			return err
		}
		if err := s.saveFeeEvents(ctx, uow, []*domain.FeeEvent{old, next}); err != nil {
			return err
		}
		voided, replacement = old, next
		if old.InvoiceID == "" {
			return nil
		}
		return s.inspectInvoice(ctx, uow, old.InvoiceID)
	})
	if err != nil {
		return nil, nil, s.fail(ctx, "void_and_recreate", err, "fee_event_id", cmd.FeeEventID)
	}
	return voided, replacement, nil
}

// CorrectPaidEvent 已支付事件不可修改，差额以新的调整事件入账
func (s *FeeEngineService) CorrectPaidEvent(ctx context.Context, cmd CorrectFeeEventCommand) (*domain.FeeEvent, error) {
	var adjustment *domain.FeeEvent
	_, err := s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		paid, err := s.events.Get(ctx, cmd.FeeEventID)
		if err != nil {
			return err
		}
		adj, err := domain.NewCorrectionEvent(s.newID(prefixFeeEvent), paid, cmd.CorrectedAmount, cmd.Reason, s.now())
		if err != nil {
			return err
		}
		adjustment = adj
		return s.saveFeeEvents(ctx, uow, []*domain.FeeEvent{adj})
	})
	if err != nil {
		return nil, s.fail(ctx, "correct_paid_event", err, "fee_event_id", cmd.FeeEventID)
	}
	return adjustment, nil
}
