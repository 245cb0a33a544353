package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeKind 费用类型
type FeeKind string

const (
	FeeKindSubscription FeeKind = "subscription"  // 认购费
	FeeKindManagement   FeeKind = "management"    // 管理费
	FeeKindPerformance  FeeKind = "performance"   // 业绩报酬 / 附带权益
	FeeKindSpreadMarkup FeeKind = "spread_markup" // 价差加成
	FeeKindFlat         FeeKind = "flat"          // 固定费用
	FeeKindOther        FeeKind = "other"         // 其他
)

func (k FeeKind) String() string { return string(k) }

// IsValid 是否为已知类型
func (k FeeKind) IsValid() bool {
	switch k {
	case FeeKindSubscription, FeeKindManagement, FeeKindPerformance, FeeKindSpreadMarkup, FeeKindFlat, FeeKindOther:
		return true
	}
	return false
}

// CalcMethod 计算方式
type CalcMethod string

const (
	CalcMethodPercentage CalcMethod = "percentage" // 金额 × 费率
	CalcMethodFlat       CalcMethod = "flat"       // 固定金额
	CalcMethodProRata    CalcMethod = "pro_rata"   // 按日折算
	CalcMethodPerShare   CalcMethod = "per_share"  // 按每股收益/价差
	CalcMethodTiered     CalcMethod = "tiered"     // 按回报倍数分档
	CalcMethodHurdle     CalcMethod = "hurdle"     // 门槛收益率之上计提
)

func (m CalcMethod) String() string { return string(m) }

// IsValid 是否为已知计算方式
func (m CalcMethod) IsValid() bool {
	switch m {
	case CalcMethodPercentage, CalcMethodFlat, CalcMethodProRata, CalcMethodPerShare, CalcMethodTiered, CalcMethodHurdle:
		return true
	}
	return false
}

// Frequency 计费频率
type Frequency string

const (
	FrequencyOneTime    Frequency = "one_time"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semi_annual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyOnExit     Frequency = "on_exit"
)

func (f Frequency) String() string { return string(f) }

// IsValid 是否为已知频率
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyOneTime, FrequencyMonthly, FrequencyQuarterly, FrequencySemiAnnual, FrequencyAnnual, FrequencyOnExit:
		return true
	}
	return false
}

// allowedMethods 各费用类型可用的计算方式
var allowedMethods = map[FeeKind][]CalcMethod{
	FeeKindSubscription: {CalcMethodPercentage, CalcMethodFlat},
	FeeKindManagement:   {CalcMethodPercentage, CalcMethodProRata},
	FeeKindPerformance:  {CalcMethodPerShare, CalcMethodTiered, CalcMethodHurdle},
	FeeKindSpreadMarkup: {CalcMethodPerShare},
	FeeKindFlat:         {CalcMethodFlat},
	FeeKindOther:        {CalcMethodPercentage, CalcMethodFlat},
}

// maxTierDepth 分档链最大长度
const maxTierDepth = 8

// maxHurdleTiers 带门槛的分档计算最多两档
const maxHurdleTiers = 2

// FeeComponent 费用组件：描述一笔费用"如何"计算，与具体投资人无关。
// 一旦所属费用计划激活即不可再修改；计算时费率会被复制进 FeeEvent 的快照。
type FeeComponent struct {
	ID                      string
	PlanID                  string
	Name                    string
	Kind                    FeeKind
	Method                  CalcMethod
	Frequency               Frequency
	RateBps                 Rate
	FlatAmount              *decimal.Decimal
	Currency                string
	HurdleRateBps           *Rate
	HasCatchup              bool
	CatchupRateBps          *Rate
	HasHighWaterMark        bool
	TierThresholdMultiplier *decimal.Decimal
	NextTier                *FeeComponent
}

// Validate 校验组件结构
func (c *FeeComponent) Validate() error {
	if c == nil {
		return NewValidationError("component", "component is required")
	}
	if !c.Kind.IsValid() {
		return NewValidationError("kind", fmt.Sprintf("unknown fee kind %q", c.Kind))
	}
	if !c.Method.IsValid() {
		return NewValidationError("calc_method", fmt.Sprintf("unknown calc method %q", c.Method))
	}
	if !methodAllowed(c.Kind, c.Method) {
		return NewValidationError("calc_method", fmt.Sprintf("method %s not applicable to %s fees", c.Method, c.Kind))
	}
	if !c.Frequency.IsValid() {
		return NewValidationError("frequency", fmt.Sprintf("unknown frequency %q", c.Frequency))
	}
	if err := ValidateCurrency(c.Currency); err != nil {
		return err
	}
	if err := c.RateBps.Validate("rate_bps"); err != nil {
		return err
	}
	if c.FlatAmount != nil {
		if err := ValidateNonNegative("flat_amount", *c.FlatAmount); err != nil {
			return err
		}
	}
	if c.Method == CalcMethodFlat && c.FlatAmount == nil {
		return NewValidationError("flat_amount", "flat calculation requires flat_amount")
	}
	if c.HurdleRateBps != nil {
		if err := c.HurdleRateBps.Validate("hurdle_rate_bps"); err != nil {
			return err
		}
	}
	if c.Method == CalcMethodHurdle && c.HurdleRateBps == nil {
		return NewValidationError("hurdle_rate_bps", "hurdle calculation requires hurdle_rate_bps")
	}
	if c.HasCatchup {
		if c.CatchupRateBps == nil {
			return NewValidationError("catchup_rate_bps", "catch-up enabled without a rate")
		}
		if err := c.CatchupRateBps.Validate("catchup_rate_bps"); err != nil {
			return err
		}
	}
	return c.validateTiers()
}

func (c *FeeComponent) validateTiers() error {
	seen := map[*FeeComponent]bool{}
	depth := 0
	for t := c; t != nil; t = t.NextTier {
		if seen[t] {
			return NewValidationError("next_tier", "tier chain contains a cycle")
		}
		seen[t] = true
		depth++
		if depth > maxTierDepth {
			return NewValidationError("next_tier", fmt.Sprintf("tier chain deeper than %d", maxTierDepth))
		}
		if c.Method == CalcMethodHurdle && depth > maxHurdleTiers {
			return NewValidationError("next_tier", fmt.Sprintf("hurdle calculation supports at most %d tiers", maxHurdleTiers))
		}
		if t.TierThresholdMultiplier != nil && !t.TierThresholdMultiplier.GreaterThan(decimal.NewFromInt(1)) {
			return NewValidationError("tier_threshold_multiplier", "threshold multiple must be greater than 1.0")
		}
		if t != c {
			if err := t.RateBps.Validate("rate_bps"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tiers 按链表顺序展开分档，第一档为组件自身
func (c *FeeComponent) Tiers() []Tier {
	var tiers []Tier
	for t := c; t != nil && len(tiers) < maxTierDepth; t = t.NextTier {
		tier := Tier{RateBps: t.RateBps}
		if t.TierThresholdMultiplier != nil {
			m := *t.TierThresholdMultiplier
			tier.ThresholdMultiplier = &m
		}
		tiers = append(tiers, tier)
	}
	return tiers
}

// Tier 单个分档：阈值倍数以投入资本的倍数表示，nil 表示不封顶
type Tier struct {
	RateBps             Rate             `json:"rate_bps"`
	ThresholdMultiplier *decimal.Decimal `json:"threshold_multiplier,omitempty"`
}

// SortTiers 返回按阈值升序排列的副本，无阈值的档位视为最后一档且不封顶
func SortTiers(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ThresholdMultiplier, out[j].ThresholdMultiplier
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.LessThan(*b)
		}
	})
	return out
}

// RateSnapshot 计算时刻的费率快照，复制自组件而非引用，使后续编辑无法回溯改写历史
type RateSnapshot struct {
	ComponentID      string           `json:"component_id"`
	Kind             FeeKind          `json:"kind"`
	Method           CalcMethod       `json:"calc_method"`
	Frequency        Frequency        `json:"frequency"`
	RateBps          Rate             `json:"rate_bps"`
	FlatAmount       *decimal.Decimal `json:"flat_amount,omitempty"`
	HurdleRateBps    *Rate            `json:"hurdle_rate_bps,omitempty"`
	HasCatchup       bool             `json:"has_catchup"`
	CatchupRateBps   *Rate            `json:"catchup_rate_bps,omitempty"`
	HasHighWaterMark bool             `json:"has_high_water_mark"`
	Tiers            []Tier           `json:"tiers,omitempty"`
}

// Snapshot 生成组件的深拷贝快照
func (c *FeeComponent) Snapshot() RateSnapshot {
	s := RateSnapshot{
		ComponentID:      c.ID,
		Kind:             c.Kind,
		Method:           c.Method,
		Frequency:        c.Frequency,
		RateBps:          c.RateBps,
		HasCatchup:       c.HasCatchup,
		HasHighWaterMark: c.HasHighWaterMark,
	}
	if c.FlatAmount != nil {
		v := *c.FlatAmount
		s.FlatAmount = &v
	}
	if c.HurdleRateBps != nil {
		v := *c.HurdleRateBps
		s.HurdleRateBps = &v
	}
	if c.CatchupRateBps != nil {
		v := *c.CatchupRateBps
		s.CatchupRateBps = &v
	}
	if c.NextTier != nil || c.TierThresholdMultiplier != nil {
		s.Tiers = c.Tiers()
	}
	return s
}

// Component 从快照还原一个等价组件，用于作废重算时按原费率重新计算
func (s RateSnapshot) Component(currency string) *FeeComponent {
	c := &FeeComponent{
		ID:               s.ComponentID,
		Kind:             s.Kind,
		Method:           s.Method,
		Frequency:        s.Frequency,
		RateBps:          s.RateBps,
		Currency:         strings.ToUpper(currency),
		FlatAmount:       s.FlatAmount,
		HurdleRateBps:    s.HurdleRateBps,
		HasCatchup:       s.HasCatchup,
		CatchupRateBps:   s.CatchupRateBps,
		HasHighWaterMark: s.HasHighWaterMark,
	}
	if len(s.Tiers) == 0 {
		return c
	}
	tiers := s.Tiers
	c.RateBps = tiers[0].RateBps
	c.TierThresholdMultiplier = tiers[0].ThresholdMultiplier
	prev := c
	for _, t := range tiers[1:] {
		next := &FeeComponent{
			Kind:                    s.Kind,
			Method:                  s.Method,
			Frequency:               s.Frequency,
			RateBps:                 t.RateBps,
			Currency:                c.Currency,
			TierThresholdMultiplier: t.ThresholdMultiplier,
		}
		prev.NextTier = next
		prev = next
	}
	return c
}

func methodAllowed(kind FeeKind, method CalcMethod) bool {
	for _, m := range allowedMethods[kind] {
		if m == method {
			return true
		}
	}
	return false
}
