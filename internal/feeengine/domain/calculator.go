package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// 计算器均为纯函数：不修改组件、不产生副作用。
// 经济意义上的"无费用"情形（负收益、零费率、零天数、未过门槛）返回 0 而非错误；
// 只有结构性非法输入（费率越界）才返回错误。所有结果在最后一步舍入到两位小数。

// SubscriptionFee 认购费：设定了固定金额则取固定金额，否则为投资额 × 费率
func SubscriptionFee(investment decimal.Decimal, rate Rate, flatAmount *decimal.Decimal) (decimal.Decimal, error) {
	if err := rate.Validate("rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if flatAmount != nil {
		return RoundSettlement(clampZero(*flatAmount)), nil
	}
	if rate == 0 || !investment.IsPositive() {
		return decimal.Zero, nil
	}
	return RoundSettlement(investment.Mul(rate.Fraction())), nil
}

// ManagementFee 时点管理费：投资额 × 费率；一次性预收多期时再乘以期数
func ManagementFee(investment decimal.Decimal, rate Rate, durationPeriods int) (decimal.Decimal, error) {
	if err := rate.Validate("rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if rate == 0 || !investment.IsPositive() {
		return decimal.Zero, nil
	}
	fee := investment.Mul(rate.Fraction())
	if durationPeriods > 1 {
		fee = fee.Mul(decimal.NewFromInt(int64(durationPeriods)))
	}
	return RoundSettlement(fee), nil
}

// ProRataManagementFee 按日折算管理费：基数 × 费率 × (计费天数 / 年化天数)，计费天数首尾均计入
func ProRataManagementFee(base decimal.Decimal, rate Rate, start, end civil.Date, dayCountBasis int) (decimal.Decimal, error) {
	if err := rate.Validate("rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if dayCountBasis <= 0 {
		dayCountBasis = DefaultDayCountBasis
	}
	days := DaysBetween(start, end)
	if rate <= 0 || !base.IsPositive() || days <= 0 {
		return decimal.Zero, nil
	}
	// 先乘后除，仅在最后做一次除法
	numerator := base.Mul(rate.Fraction()).Mul(decimal.NewFromInt(int64(days)))
	return RoundSettlement(numerator.Div(decimal.NewFromInt(int64(dayCountBasis)))), nil
}

// PerformanceFee 简单业绩报酬：每股收益 × 股数 × 费率，每股收益非正时为 0
func PerformanceFee(numShares, entryPrice, exitPrice decimal.Decimal, rate Rate) (decimal.Decimal, error) {
	return PerformanceFeeWithHighWaterMark(numShares, entryPrice, exitPrice, nil, rate)
}

// PerformanceFeeWithHighWaterMark 带高水位的业绩报酬：仅对超过 max(买入价, 高水位) 的部分计提
func PerformanceFeeWithHighWaterMark(numShares, entryPrice, exitPrice decimal.Decimal, highWaterMark *decimal.Decimal, rate Rate) (decimal.Decimal, error) {
	if err := rate.Validate("rate_bps"); err != nil {
		return decimal.Zero, err
	}
	basis := entryPrice
	if highWaterMark != nil {
		basis = maxDecimal(basis, *highWaterMark)
	}
	gainPerShare := exitPrice.Sub(basis)
	if !gainPerShare.IsPositive() || !numShares.IsPositive() || rate == 0 {
		return decimal.Zero, nil
	}
	return RoundSettlement(gainPerShare.Mul(numShares).Mul(rate.Fraction())), nil
}

// TieredPerformanceFee 分档业绩报酬（无门槛）。
// 档位按阈值倍数升序遍历，每档对应回报倍数区间 (上一阈值, 本档阈值] 内的收益按本档费率计提，
// 实际回报倍数用尽即停止；无阈值档位为最后一档且不封顶。
func TieredPerformanceFee(contributedCapital, exitProceeds decimal.Decimal, tiers []Tier) (decimal.Decimal, error) {
	for _, t := range tiers {
		if err := t.RateBps.Validate("rate_bps"); err != nil {
			return decimal.Zero, err
		}
	}
	if !contributedCapital.IsPositive() || !exitProceeds.GreaterThan(contributedCapital) {
		return decimal.Zero, nil
	}

	fee := decimal.Zero
	// 以退出所得金额衡量区间边界，避免先除后乘带来的误差
	lower := contributedCapital
	for _, t := range SortTiers(tiers) {
		upper := exitProceeds
		if t.ThresholdMultiplier != nil {
			upper = minDecimal(exitProceeds, t.ThresholdMultiplier.Mul(contributedCapital))
		}
		if upper.GreaterThan(lower) {
			fee = fee.Add(upper.Sub(lower).Mul(t.RateBps.Fraction()))
			lower = upper
		}
		if !exitProceeds.GreaterThan(lower) {
			break
		}
	}
	return RoundSettlement(fee), nil
}

// HurdleReturn 门槛收益：投入资本 × 门槛利率 × 持有年数（单利，不复利）
func HurdleReturn(contributedCapital decimal.Decimal, hurdle Rate, yearsHeld decimal.Decimal) decimal.Decimal {
	if !yearsHeld.IsPositive() || hurdle <= 0 {
		return decimal.Zero
	}
	return contributedCapital.Mul(hurdle.Fraction()).Mul(yearsHeld)
}

// ProfitAboveHurdle 超过门槛的利润，不足时为 0
func ProfitAboveHurdle(contributedCapital, exitProceeds decimal.Decimal, hurdle Rate, yearsHeld decimal.Decimal) decimal.Decimal {
	profit := exitProceeds.Sub(contributedCapital)
	if !profit.IsPositive() {
		return decimal.Zero
	}
	return clampZero(profit.Sub(HurdleReturn(contributedCapital, hurdle, yearsHeld)))
}

// PerformanceFeeWithHurdle 附带权益：超过门槛收益部分 × 分成比例
func PerformanceFeeWithHurdle(contributedCapital, exitProceeds decimal.Decimal, carry, hurdle Rate, yearsHeld decimal.Decimal) (decimal.Decimal, error) {
	if err := carry.Validate("carry_rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if err := hurdle.Validate("hurdle_rate_bps"); err != nil {
		return decimal.Zero, err
	}
	above := ProfitAboveHurdle(contributedCapital, exitProceeds, hurdle, yearsHeld)
	if above.IsZero() || carry == 0 {
		return decimal.Zero, nil
	}
	return RoundSettlement(above.Mul(carry.Fraction())), nil
}

// TieredPerformanceFeeWithHurdle 带门槛的两档附带权益。
// 第一档覆盖门槛线至第一档阈值之间的利润，第二档（如配置）覆盖第一档阈值之上至第二档阈值（或不封顶）。
// 第一档未配置阈值时，全部超门槛利润按第一档费率计提。
func TieredPerformanceFeeWithHurdle(contributedCapital, exitProceeds decimal.Decimal, hurdle Rate, yearsHeld decimal.Decimal, tier1 Tier, tier2 *Tier) (decimal.Decimal, error) {
	if err := hurdle.Validate("hurdle_rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if err := tier1.RateBps.Validate("tier1_rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if tier2 != nil {
		if err := tier2.RateBps.Validate("tier2_rate_bps"); err != nil {
			return decimal.Zero, err
		}
	}

	above := ProfitAboveHurdle(contributedCapital, exitProceeds, hurdle, yearsHeld)
	if above.IsZero() {
		return decimal.Zero, nil
	}
	if tier1.ThresholdMultiplier == nil {
		return RoundSettlement(above.Mul(tier1.RateBps.Fraction())), nil
	}

	hurdleLine := contributedCapital.Add(HurdleReturn(contributedCapital, hurdle, yearsHeld))
	tier1Bound := tier1.ThresholdMultiplier.Mul(contributedCapital)
	tier1Profit := clampZero(minDecimal(exitProceeds, tier1Bound).Sub(hurdleLine))
	fee := tier1Profit.Mul(tier1.RateBps.Fraction())

	if tier2 != nil {
		upper := exitProceeds
		if tier2.ThresholdMultiplier != nil {
			upper = minDecimal(exitProceeds, tier2.ThresholdMultiplier.Mul(contributedCapital))
		}
		tier2Profit := clampZero(upper.Sub(maxDecimal(tier1Bound, hurdleLine)))
		fee = fee.Add(tier2Profit.Mul(tier2.RateBps.Fraction()))
	}
	return RoundSettlement(fee), nil
}

// SpreadFee 价差加成：(投资人每股价格 − 每股成本) × 股数，价差非正时为 0
func SpreadFee(numShares, investorPricePerShare, costPerShare decimal.Decimal) decimal.Decimal {
	spread := investorPricePerShare.Sub(costPerShare)
	if !spread.IsPositive() || !numShares.IsPositive() {
		return decimal.Zero
	}
	return RoundSettlement(spread.Mul(numShares))
}

// CommissionOnFee 基于费用的佣金：费用 × 佣金费率
func CommissionOnFee(baseFee decimal.Decimal, rate Rate) (decimal.Decimal, error) {
	if err := rate.Validate("commission_rate_bps"); err != nil {
		return decimal.Zero, err
	}
	if !baseFee.IsPositive() || rate == 0 {
		return decimal.Zero, nil
	}
	return RoundSettlement(baseFee.Mul(rate.Fraction())), nil
}

// CommissionSplit 拆分佣金与净留存：净留存 = 总费用 − 佣金
func CommissionSplit(grossFee decimal.Decimal, rate Rate) (commission, netRetained decimal.Decimal, err error) {
	commission, err = CommissionOnFee(grossFee, rate)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return commission, RoundSettlement(grossFee).Sub(commission), nil
}

// FeeInputs 计算所需的投资事实。各计算方式只读取与其相关的字段。
type FeeInputs struct {
	InvestmentAmount   decimal.Decimal
	BaseAmount         decimal.Decimal
	NumShares          decimal.Decimal
	EntryPrice         decimal.Decimal
	ExitPrice          decimal.Decimal
	HighWaterMark      *decimal.Decimal
	ContributedCapital decimal.Decimal
	ExitProceeds       decimal.Decimal
	YearsHeld          decimal.Decimal
	InvestorPrice      decimal.Decimal
	CostPrice          decimal.Decimal
	PeriodStart        *civil.Date
	PeriodEnd          *civil.Date
	DurationPeriods    int
	DayCountBasis      int
}

// Validate 结构性校验：金额非负、期间成对出现
func (in FeeInputs) Validate() error {
	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"investment_amount", in.InvestmentAmount},
		{"base_amount", in.BaseAmount},
		{"num_shares", in.NumShares},
		{"entry_price", in.EntryPrice},
		{"exit_price", in.ExitPrice},
		{"contributed_capital", in.ContributedCapital},
		{"exit_proceeds", in.ExitProceeds},
		{"years_held", in.YearsHeld},
		{"investor_price", in.InvestorPrice},
		{"cost_price", in.CostPrice},
	}
	for _, c := range checks {
		if err := ValidateNonNegative(c.field, c.value); err != nil {
			return err
		}
	}
	if in.HighWaterMark != nil {
		if err := ValidateNonNegative("high_water_mark", *in.HighWaterMark); err != nil {
			return err
		}
	}
	if (in.PeriodStart == nil) != (in.PeriodEnd == nil) {
		return NewValidationError("period", "period_start and period_end must be given together")
	}
	if in.DurationPeriods < 0 {
		return NewValidationError("duration_periods", "must not be negative")
	}
	if in.DayCountBasis != 0 && in.DayCountBasis != 360 && in.DayCountBasis != 365 {
		return NewValidationError("day_count_basis", fmt.Sprintf("unsupported basis %d", in.DayCountBasis))
	}
	return nil
}

// Calculation 一次计算的结果：金额、计费基数、费率快照与计费期间
type Calculation struct {
	Amount      decimal.Decimal
	BaseAmount  decimal.Decimal
	Snapshot    RateSnapshot
	PeriodStart *civil.Date
	PeriodEnd   *civil.Date
}

// Calculate 按组件的类型与计算方式分派到具体计算器
func Calculate(c *FeeComponent, in FeeInputs) (Calculation, error) {
	if err := c.Validate(); err != nil {
		return Calculation{}, err
	}
	if err := in.Validate(); err != nil {
		return Calculation{}, err
	}

	calc := Calculation{Snapshot: c.Snapshot()}
	var (
		amount decimal.Decimal
		err    error
	)

	switch c.Kind {
	case FeeKindSubscription:
		calc.BaseAmount = in.InvestmentAmount
		amount, err = SubscriptionFee(in.InvestmentAmount, c.RateBps, c.FlatAmount)

	case FeeKindManagement:
		switch c.Method {
		case CalcMethodProRata:
			if in.PeriodStart == nil {
				return Calculation{}, NewValidationError("period", "pro-rata management fee requires a period")
			}
			base := in.BaseAmount
			if base.IsZero() {
				base = in.InvestmentAmount
			}
			calc.BaseAmount = base
			start, end := *in.PeriodStart, *in.PeriodEnd
			calc.PeriodStart, calc.PeriodEnd = &start, &end
			amount, err = ProRataManagementFee(base, c.RateBps, start, end, in.DayCountBasis)
		case CalcMethodPercentage:
			calc.BaseAmount = in.InvestmentAmount
			amount, err = ManagementFee(in.InvestmentAmount, c.RateBps, in.DurationPeriods)
		default:
			return Calculation{}, unsupported(c)
		}

	case FeeKindPerformance:
		switch c.Method {
		case CalcMethodPerShare:
			calc.BaseAmount = in.ExitPrice.Sub(in.EntryPrice).Mul(in.NumShares)
			var hwm *decimal.Decimal
			if c.HasHighWaterMark {
				hwm = in.HighWaterMark
			}
			amount, err = PerformanceFeeWithHighWaterMark(in.NumShares, in.EntryPrice, in.ExitPrice, hwm, c.RateBps)
		case CalcMethodTiered:
			calc.BaseAmount = in.ExitProceeds.Sub(in.ContributedCapital)
			amount, err = TieredPerformanceFee(in.ContributedCapital, in.ExitProceeds, c.Tiers())
		case CalcMethodHurdle:
			calc.BaseAmount = ProfitAboveHurdle(in.ContributedCapital, in.ExitProceeds, *c.HurdleRateBps, in.YearsHeld)
			if c.TierThresholdMultiplier == nil && c.NextTier == nil {
				amount, err = PerformanceFeeWithHurdle(in.ContributedCapital, in.ExitProceeds, c.RateBps, *c.HurdleRateBps, in.YearsHeld)
				break
			}
			tiers := c.Tiers()
			var tier2 *Tier
			if len(tiers) > 1 {
				tier2 = &tiers[1]
			}
			amount, err = TieredPerformanceFeeWithHurdle(in.ContributedCapital, in.ExitProceeds, *c.HurdleRateBps, in.YearsHeld, tiers[0], tier2)
		default:
			return Calculation{}, unsupported(c)
		}

	case FeeKindSpreadMarkup:
		calc.BaseAmount = in.InvestorPrice.Mul(in.NumShares)
		amount = SpreadFee(in.NumShares, in.InvestorPrice, in.CostPrice)

	case FeeKindFlat:
		calc.BaseAmount = *c.FlatAmount
		amount = RoundSettlement(*c.FlatAmount)

	case FeeKindOther:
		calc.BaseAmount = in.BaseAmount
		if c.Method == CalcMethodFlat {
			amount = RoundSettlement(*c.FlatAmount)
			break
		}
		amount = percentageOf(in.BaseAmount, c.RateBps)

	default:
		return Calculation{}, unsupported(c)
	}

	if err != nil {
		return Calculation{}, err
	}
	calc.Amount = amount
	calc.BaseAmount = RoundSettlement(clampZero(calc.BaseAmount))
	return calc, nil
}

func percentageOf(base decimal.Decimal, rate Rate) decimal.Decimal {
	if !base.IsPositive() || rate <= 0 {
		return decimal.Zero
	}
	return RoundSettlement(base.Mul(rate.Fraction()))
}

func unsupported(c *FeeComponent) error {
	return NewValidationError("calc_method", fmt.Sprintf("no calculator for %s/%s", c.Kind, c.Method))
}
