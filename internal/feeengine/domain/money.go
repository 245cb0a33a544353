// Package domain 费用与附带权益计算引擎的领域模型：金额/费率原语、费用组件、计算器、
// 费用事件 / 发票 / 介绍人佣金三个聚合及其状态机。
// 本包为纯计算层，不访问存储、网络，也不读取进程时钟。
package domain

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// SettlementPlaces 结算/展示金额的小数位数
const SettlementPlaces int32 = 2

// DefaultDayCountBasis 按日计费的年化天数
const DefaultDayCountBasis = 365

// MaxRateBps 费率上限 (10000%)
const MaxRateBps Rate = 1_000_000

// Rate 以基点 (1bp = 0.01%) 表示的整数费率，绝不使用二进制浮点
type Rate int64

// Validate 校验费率范围 [0, MaxRateBps]
func (r Rate) Validate(field string) error {
	if r < 0 || r > MaxRateBps {
		return NewValidationError(field, fmt.Sprintf("rate %d bp outside [0, %d]", r, MaxRateBps))
	}
	return nil
}

// Fraction 转换为小数形式
func (r Rate) Fraction() decimal.Decimal {
	return BpsToFraction(r)
}

// Percent 转换为百分比形式，例如 150bp -> 1.5
func (r Rate) Percent() decimal.Decimal {
	return decimal.New(int64(r), -2)
}

func (r Rate) String() string {
	return fmt.Sprintf("%dbp", int64(r))
}

// BpsToFraction 基点转小数，精确除以 10000
func BpsToFraction(bps Rate) decimal.Decimal {
	return decimal.New(int64(bps), -4)
}

// FractionToBps 小数转基点，四舍五入到最近的整数基点。
// 换算结果超出 int64 表示范围时返回 ErrPrecisionLoss。
func FractionToBps(fraction decimal.Decimal) (Rate, error) {
	rounded := fraction.Shift(4).Round(0)
	bi := rounded.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s cannot be represented in basis points", ErrPrecisionLoss, fraction)
	}
	return Rate(bi.Int64()), nil
}

// FractionToBpsExact 要求输入恰好落在整数基点上，用于持久化界面录入的百分比
func FractionToBpsExact(fraction decimal.Decimal) (Rate, error) {
	scaled := fraction.Shift(4)
	bps, err := FractionToBps(fraction)
	if err != nil {
		return 0, err
	}
	if !scaled.Equal(decimal.NewFromInt(int64(bps))) {
		return 0, fmt.Errorf("%w: %s does not round-trip to %s", ErrPrecisionLoss, fraction, bps)
	}
	return bps, nil
}

// ParsePercent 解析百分比字符串 ("1.5" -> 150bp)
func ParsePercent(s string) (Rate, error) {
	pct, err := ParseAmount("rate_percent", s)
	if err != nil {
		return 0, err
	}
	bps, err := FractionToBpsExact(pct.Shift(-2))
	if err != nil {
		return 0, err
	}
	if err := bps.Validate("rate_percent"); err != nil {
		return 0, err
	}
	return bps, nil
}

// ParseAmount 从十进制字符串解析金额；上游不得以二进制浮点传入金额
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, NewValidationError(field, "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(field, fmt.Sprintf("invalid decimal %q", s))
	}
	return d, nil
}

// RoundSettlement 结算舍入：四舍五入 (half-up) 保留两位小数
func RoundSettlement(d decimal.Decimal) decimal.Decimal {
	return d.Round(SettlementPlaces)
}

// DaysBetween 计费天数，首尾两天均计入：同一天计为 1 天。
// end 早于 start 时结果 <= 0，按零费用期间处理。
func DaysBetween(start, end civil.Date) int {
	return end.DaysSince(start) + 1
}

// Money 带币种标记的十进制金额
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney 创建金额，币种统一为大写
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// Settled 返回按结算精度舍入后的金额
func (m Money) Settled() Money {
	return Money{Amount: RoundSettlement(m.Amount), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.StringFixed(SettlementPlaces) + " " + m.Currency
}

// ValidateCurrency 币种必须为 3 位字母代码
func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return NewValidationError("currency", fmt.Sprintf("currency code %q must be exactly 3 letters", currency))
	}
	for _, r := range currency {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return NewValidationError("currency", fmt.Sprintf("currency code %q must be letters only", currency))
		}
	}
	return nil
}

// ValidateNonNegative 校验金额非负
func ValidateNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return NewValidationError(field, "must not be negative")
	}
	return nil
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
