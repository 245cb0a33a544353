package application

import (
	"context"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// CreatePlan 创建草稿费用计划
func (s *FeeEngineService) CreatePlan(ctx context.Context, cmd CreatePlanCommand) (*domain.FeePlan, error) {
	plan, err := domain.NewFeePlan(s.newID(prefixPlan), cmd.Name, cmd.Currency, s.now())
	if err != nil {
		return nil, s.fail(ctx, "create_plan", err)
	}
	if err := s.plans.Save(ctx, plan); err != nil {
		return nil, s.fail(ctx, "create_plan", err)
	}
	s.logger.InfoContext(ctx, "fee plan created", "plan_id", plan.ID, "currency", plan.Currency)
	return plan, nil
}

// AddComponent 向草稿计划添加组件
func (s *FeeEngineService) AddComponent(ctx context.Context, cmd AddComponentCommand) (*domain.FeePlan, error) {
	if cmd.Component == nil {
		return nil, domain.NewValidationError("component", "component is required")
	}
	for t := cmd.Component; t != nil; t = t.NextTier {
		if t.ID == "" {
			t.ID = s.newID(prefixComponent)
		}
	}
	return s.mutatePlan(ctx, "add_component", cmd.PlanID, func(p *domain.FeePlan) error {
		return p.AddComponent(cmd.Component, s.now())
	})
}

// RemoveComponent 从草稿计划移除组件
func (s *FeeEngineService) RemoveComponent(ctx context.Context, planID, componentID string) (*domain.FeePlan, error) {
	return s.mutatePlan(ctx, "remove_component", planID, func(p *domain.FeePlan) error {
		return p.RemoveComponent(componentID, s.now())
	})
}

// ActivatePlan 激活计划，组件自此冻结
func (s *FeeEngineService) ActivatePlan(ctx context.Context, planID string) (*domain.FeePlan, error) {
	return s.mutatePlan(ctx, "activate_plan", planID, func(p *domain.FeePlan) error {
		return p.Activate(s.now())
	})
}

// RetirePlan 停用计划
func (s *FeeEngineService) RetirePlan(ctx context.Context, planID string) (*domain.FeePlan, error) {
	return s.mutatePlan(ctx, "retire_plan", planID, func(p *domain.FeePlan) error {
		return p.Retire(s.now())
	})
}

func (s *FeeEngineService) mutatePlan(ctx context.Context, op, planID string, fn func(p *domain.FeePlan) error) (*domain.FeePlan, error) {
	var plan *domain.FeePlan
	_, err := s.run(ctx, func(ctx context.Context, _ *unitOfWork) error {
		p, err := s.plans.Get(ctx, planID)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		plan = p
		return s.plans.Save(ctx, p)
	})
	if err != nil {
		return nil, s.fail(ctx, op, err, "plan_id", planID)
	}
	s.logger.InfoContext(ctx, "fee plan updated", "operation", op, "plan_id", plan.ID, "status", plan.Status)
	return plan, nil
}
