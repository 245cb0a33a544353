package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlanStatus 费用计划状态
type PlanStatus string

const (
	PlanStatusDraft   PlanStatus = "draft"
	PlanStatusActive  PlanStatus = "active"
	PlanStatusRetired PlanStatus = "retired"
)

func (s PlanStatus) String() string { return string(s) }

// FeePlan 费用计划：一组费用组件的容器。
// 草稿态可增删组件；激活后组件冻结，只能用于计算；停用后不再接受新的计算。
type FeePlan struct {
	ID          string
	Name        string
	Currency    string
	Status      PlanStatus
	Components  []*FeeComponent
	ActivatedAt *time.Time
	RetiredAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// NewFeePlan 创建草稿计划
func NewFeePlan(id, name, currency string, now time.Time) (*FeePlan, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewValidationError("name", "plan name is required")
	}
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}
	return &FeePlan{
		ID:        id,
		Name:      name,
		Currency:  strings.ToUpper(currency),
		Status:    PlanStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AddComponent 向草稿计划添加组件，组件币种须与计划一致
func (p *FeePlan) AddComponent(c *FeeComponent, now time.Time) error {
	if p.Status != PlanStatusDraft {
		return newInvalidTransition("fee_plan", p.ID, p.Status, PlanStatusDraft)
	}
	if c == nil {
		return NewValidationError("component", "component is required")
	}
	if c.Currency == "" {
		c.Currency = p.Currency
	}
	c.Currency = strings.ToUpper(c.Currency)
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Currency != p.Currency {
		return NewValidationError("currency", fmt.Sprintf("component in %s, plan in %s", c.Currency, p.Currency))
	}
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("component_id", "component id is required")
	}
	if _, ok := p.Component(c.ID); ok {
		return NewValidationError("component_id", fmt.Sprintf("component %s already on plan", c.ID))
	}
	for t := c; t != nil; t = t.NextTier {
		t.PlanID = p.ID
		if t.Currency == "" {
			t.Currency = p.Currency
		}
	}
	p.Components = append(p.Components, c)
	p.UpdatedAt = now
	return nil
}

// RemoveComponent 从草稿计划移除组件
func (p *FeePlan) RemoveComponent(componentID string, now time.Time) error {
	if p.Status != PlanStatusDraft {
		return newInvalidTransition("fee_plan", p.ID, p.Status, PlanStatusDraft)
	}
	for i, c := range p.Components {
		if c.ID == componentID {
			p.Components = append(p.Components[:i], p.Components[i+1:]...)
			p.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: component %s on plan %s", ErrNotFound, componentID, p.ID)
}

// Activate 激活计划，至少需要一个组件
func (p *FeePlan) Activate(now time.Time) error {
	if p.Status != PlanStatusDraft {
		return newInvalidTransition("fee_plan", p.ID, p.Status, PlanStatusActive)
	}
	if len(p.Components) == 0 {
		return NewValidationError("components", "cannot activate a plan without components")
	}
	p.Status = PlanStatusActive
	p.ActivatedAt = &now
	p.UpdatedAt = now
	return nil
}

// Retire 停用计划，已产生的费用事件不受影响
func (p *FeePlan) Retire(now time.Time) error {
	if p.Status != PlanStatusActive {
		return newInvalidTransition("fee_plan", p.ID, p.Status, PlanStatusRetired)
	}
	p.Status = PlanStatusRetired
	p.RetiredAt = &now
	p.UpdatedAt = now
	return nil
}

// Component 按 ID 查找组件
func (p *FeePlan) Component(id string) (*FeeComponent, bool) {
	for _, c := range p.Components {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ComponentForCalculation 取出可用于计算的组件，计划必须处于激活态
func (p *FeePlan) ComponentForCalculation(id string) (*FeeComponent, error) {
	if p.Status != PlanStatusActive {
		return nil, newInvalidTransition("fee_plan", p.ID, p.Status, PlanStatusActive)
	}
	c, ok := p.Component(id)
	if !ok {
		return nil, fmt.Errorf("%w: component %s on plan %s", ErrNotFound, id, p.ID)
	}
	return c, nil
}

// Clone 深拷贝计划及其组件链
func (p *FeePlan) Clone() *FeePlan {
	cp := *p
	cp.Components = make([]*FeeComponent, 0, len(p.Components))
	for _, c := range p.Components {
		cp.Components = append(cp.Components, cloneComponent(c))
	}
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		cp.ActivatedAt = &t
	}
	if p.RetiredAt != nil {
		t := *p.RetiredAt
		cp.RetiredAt = &t
	}
	return &cp
}

func cloneComponent(c *FeeComponent) *FeeComponent {
	if c == nil {
		return nil
	}
	cp := *c
	if c.FlatAmount != nil {
		v := *c.FlatAmount
		cp.FlatAmount = &v
	}
	if c.HurdleRateBps != nil {
		v := *c.HurdleRateBps
		cp.HurdleRateBps = &v
	}
	if c.CatchupRateBps != nil {
		v := *c.CatchupRateBps
		cp.CatchupRateBps = &v
	}
	if c.TierThresholdMultiplier != nil {
		v := *c.TierThresholdMultiplier
		cp.TierThresholdMultiplier = &v
	}
	cp.NextTier = cloneComponent(c.NextTier)
	return &cp
}
