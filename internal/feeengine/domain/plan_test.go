package domain

import (
	"errors"
	"testing"
)

func TestFeePlanLifecycle(t *testing.T) {
	p, err := NewFeePlan("plan-1", "Fund I", "usd", testNow)
	if err != nil {
		t.Fatalf("NewFeePlan: %v", err)
	}
	if err := p.Activate(testNow); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty plan activated: %v", err)
	}

	mgmt := &FeeComponent{ID: "mgmt", Name: "Management", Kind: FeeKindManagement, Method: CalcMethodProRata,
		Frequency: FrequencyQuarterly, RateBps: 150}
	if err := p.AddComponent(mgmt, testNow); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if mgmt.Currency != "USD" || mgmt.PlanID != "plan-1" {
		t.Errorf("component not bound to plan: %+v", mgmt)
	}
	if err := p.AddComponent(&FeeComponent{ID: "mgmt", Kind: FeeKindFlat, Method: CalcMethodFlat,
		Frequency: FrequencyOneTime, FlatAmount: decPtr("1")}, testNow); !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate component accepted: %v", err)
	}
	if err := p.AddComponent(&FeeComponent{ID: "eur", Kind: FeeKindFlat, Method: CalcMethodFlat,
		Frequency: FrequencyOneTime, FlatAmount: decPtr("1"), Currency: "EUR"}, testNow); !errors.Is(err, ErrValidation) {
		t.Errorf("foreign currency component accepted: %v", err)
	}

	if _, err := p.ComponentForCalculation("mgmt"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("draft plan used for calculation: %v", err)
	}
	if err := p.Activate(testNow); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := p.AddComponent(flatComponent("late", "5"), testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("component added to active plan: %v", err)
	}
	if err := p.RemoveComponent("mgmt", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("component removed from active plan: %v", err)
	}
	if _, err := p.ComponentForCalculation("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing component: %v", err)
	}
	if c, err := p.ComponentForCalculation("mgmt"); err != nil || c.ID != "mgmt" {
		t.Errorf("ComponentForCalculation: %v", err)
	}

	if err := p.Retire(testNow); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if _, err := p.ComponentForCalculation("mgmt"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retired plan used for calculation: %v", err)
	}
}

func TestFeePlanCloneIsDeep(t *testing.T) {
	p, _ := NewFeePlan("plan-1", "Fund I", "USD", testNow)
	carry := &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodTiered,
		Frequency: FrequencyOnExit, RateBps: 2000, TierThresholdMultiplier: decPtr("2"),
		NextTier: &FeeComponent{RateBps: 3000}}
	if err := p.AddComponent(carry, testNow); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	cp := p.Clone()
	carry.NextTier.RateBps = 1
	got, _ := cp.Component("carry")
	if got.NextTier.RateBps != 3000 {
		t.Errorf("clone shares tier chain with original")
	}
}
