package application

import (
	"context"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// AccrueCommission 计提介绍人佣金
func (s *FeeEngineService) AccrueCommission(ctx context.Context, cmd AccrueCommissionCommand) (*domain.IntroducerCommission, error) {
	var commission *domain.IntroducerCommission
	_, err := s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		base := domain.CommissionBase{
			OverrideAmount: cmd.OverrideBase,
			PartyID:        cmd.PartyID,
			Currency:       cmd.Currency,
		}
		if cmd.FeeEventID != "" {
			e, err := s.events.Get(ctx, cmd.FeeEventID)
			if err != nil {
				return err
			}
			base.FeeEvent = e
		}
		c, err := domain.NewIntroducerCommission(s.newID(prefixCommission), cmd.IntroducerID, base, cmd.RateBps, s.now())
		if err != nil {
			return err
		}
		uow.collect(c)
		commission = c
		return s.commissions.Save(ctx, c)
	})
	if err != nil {
		return nil, s.fail(ctx, "accrue_commission", err, "introducer_id", cmd.IntroducerID)
	}
	return commission, nil
}

// ApproveCommission 审批佣金，引用的费用事件须已开票或已支付
func (s *FeeEngineService) ApproveCommission(ctx context.Context, cmd ApproveCommissionCommand) (*domain.IntroducerCommission, error) {
	return s.mutateCommission(ctx, "approve_commission", cmd.CommissionID, func(ctx context.Context, c *domain.IntroducerCommission) error {
		var base *domain.FeeEvent
		if !c.BaseOverride {
			e, err := s.events.Get(ctx, c.FeeEventID)
			if err != nil {
				return err
			}
			base = e
		}
		return c.Approve(cmd.Approver, base, s.now())
	})
}

// PayCommission 支付佣金
func (s *FeeEngineService) PayCommission(ctx context.Context, cmd PayCommissionCommand) (*domain.IntroducerCommission, error) {
	return s.mutateCommission(ctx, "pay_commission", cmd.CommissionID, func(_ context.Context, c *domain.IntroducerCommission) error {
		return c.Pay(cmd.Reference, s.now())
	})
}

func (s *FeeEngineService) mutateCommission(ctx context.Context, op, id string, fn func(ctx context.Context, c *domain.IntroducerCommission) error) (*domain.IntroducerCommission, error) {
	var commission *domain.IntroducerCommission
	_, err := s.run(ctx, func(ctx context.Context, uow *unitOfWork) error {
		c, err := s.commissions.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		uow.collect(c)
		commission = c
		return s.commissions.Save(ctx, c)
	})
	if err != nil {
		return nil, s.fail(ctx, op, err, "commission_id", id)
	}
	return commission, nil
}
