package http

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/feeengine/internal/feeengine/application"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// 金额一律以十进制字符串收发，避免二进制浮点误差

// CreatePlanRequest 创建计划请求
type CreatePlanRequest struct {
	Name     string `json:"name" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

// ComponentRequest 费用组件；next_tier 构成分档链
type ComponentRequest struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	Kind                    string            `json:"kind" binding:"required"`
	CalcMethod              string            `json:"calc_method" binding:"required"`
	Frequency               string            `json:"frequency"`
	RateBps                 int64             `json:"rate_bps"`
	RatePercent             *string           `json:"rate_percent"`
	FlatAmount              *string           `json:"flat_amount"`
	Currency                string            `json:"currency"`
	HurdleRateBps           *int64            `json:"hurdle_rate_bps"`
	HasCatchup              bool              `json:"has_catchup"`
	CatchupRateBps          *int64            `json:"catchup_rate_bps"`
	HasHighWaterMark        bool              `json:"has_high_water_mark"`
	TierThresholdMultiplier *string           `json:"tier_threshold_multiplier"`
	NextTier                *ComponentRequest `json:"next_tier"`
}

func (r *ComponentRequest) toDomain() (*domain.FeeComponent, error) {
	if r == nil {
		return nil, nil
	}
	rate, err := resolveRate(r.RateBps, r.RatePercent)
	if err != nil {
		return nil, err
	}
	c := &domain.FeeComponent{
		ID:               r.ID,
		Name:             r.Name,
		Kind:             domain.FeeKind(r.Kind),
		Method:           domain.CalcMethod(r.CalcMethod),
		Frequency:        domain.Frequency(r.Frequency),
		RateBps:          rate,
		Currency:         strings.ToUpper(r.Currency),
		HasCatchup:       r.HasCatchup,
		HasHighWaterMark: r.HasHighWaterMark,
	}
	if c.Frequency == "" {
		c.Frequency = domain.FrequencyOneTime
	}
	if c.FlatAmount, err = optionalAmount("flat_amount", r.FlatAmount); err != nil {
		return nil, err
	}
	if c.TierThresholdMultiplier, err = optionalAmount("tier_threshold_multiplier", r.TierThresholdMultiplier); err != nil {
		return nil, err
	}
	c.HurdleRateBps = optionalRate(r.HurdleRateBps)
	c.CatchupRateBps = optionalRate(r.CatchupRateBps)
	if c.NextTier, err = r.NextTier.toDomain(); err != nil {
		return nil, err
	}
	return c, nil
}

// FeeInputsRequest 计算输入
type FeeInputsRequest struct {
	InvestmentAmount   string  `json:"investment_amount"`
	BaseAmount         string  `json:"base_amount"`
	NumShares          string  `json:"num_shares"`
	EntryPrice         string  `json:"entry_price"`
	ExitPrice          string  `json:"exit_price"`
	HighWaterMark      *string `json:"high_water_mark"`
	ContributedCapital string  `json:"contributed_capital"`
	ExitProceeds       string  `json:"exit_proceeds"`
	YearsHeld          string  `json:"years_held"`
	InvestorPrice      string  `json:"investor_price"`
	CostPrice          string  `json:"cost_price"`
	PeriodStart        string  `json:"period_start"`
	PeriodEnd          string  `json:"period_end"`
	DurationPeriods    int     `json:"duration_periods"`
	DayCountBasis      int     `json:"day_count_basis"`
}

func (r FeeInputsRequest) toDomain() (domain.FeeInputs, error) {
	in := domain.FeeInputs{DurationPeriods: r.DurationPeriods, DayCountBasis: r.DayCountBasis}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"investment_amount", r.InvestmentAmount, &in.InvestmentAmount},
		{"base_amount", r.BaseAmount, &in.BaseAmount},
		{"num_shares", r.NumShares, &in.NumShares},
		{"entry_price", r.EntryPrice, &in.EntryPrice},
		{"exit_price", r.ExitPrice, &in.ExitPrice},
		{"contributed_capital", r.ContributedCapital, &in.ContributedCapital},
		{"exit_proceeds", r.ExitProceeds, &in.ExitProceeds},
		{"years_held", r.YearsHeld, &in.YearsHeld},
		{"investor_price", r.InvestorPrice, &in.InvestorPrice},
		{"cost_price", r.CostPrice, &in.CostPrice},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := domain.ParseAmount(f.name, f.raw)
		if err != nil {
			return domain.FeeInputs{}, err
		}
		*f.dst = d
	}
	var err error
	if in.HighWaterMark, err = optionalAmount("high_water_mark", r.HighWaterMark); err != nil {
		return domain.FeeInputs{}, err
	}
	if in.PeriodStart, err = optionalDate("period_start", r.PeriodStart); err != nil {
		return domain.FeeInputs{}, err
	}
	if in.PeriodEnd, err = optionalDate("period_end", r.PeriodEnd); err != nil {
		return domain.FeeInputs{}, err
	}
	return in, nil
}

// CalculateFeeRequest 计算请求：plan_id + component_id，或独立的 component
type CalculateFeeRequest struct {
	PlanID      string            `json:"plan_id"`
	ComponentID string            `json:"component_id"`
	Component   *ComponentRequest `json:"component"`
	Inputs      FeeInputsRequest  `json:"inputs"`
}

func (r CalculateFeeRequest) toCommand() (application.CalculateFeeCommand, error) {
	component, err := r.Component.toDomain()
	if err != nil {
		return application.CalculateFeeCommand{}, err
	}
	in, err := r.Inputs.toDomain()
	if err != nil {
		return application.CalculateFeeCommand{}, err
	}
	return application.CalculateFeeCommand{
		PlanID:      r.PlanID,
		ComponentID: r.ComponentID,
		Component:   component,
		Inputs:      in,
	}, nil
}

// RecordFeeRequest 入账请求
type RecordFeeRequest struct {
	CalculateFeeRequest
	PartyID string `json:"party_id" binding:"required"`
}

// ReasonRequest 带原因的状态迁移
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// RecreateRequest 作废重建请求
type RecreateRequest struct {
	Reason string           `json:"reason"`
	Inputs FeeInputsRequest `json:"inputs"`
}

// CorrectRequest 冲销请求
type CorrectRequest struct {
	CorrectedAmount string `json:"corrected_amount" binding:"required"`
	Reason          string `json:"reason"`
}

// CreateInvoiceRequest 开票请求
type CreateInvoiceRequest struct {
	PartyID     string   `json:"party_id" binding:"required"`
	FeeEventIDs []string `json:"fee_event_ids" binding:"required"`
	IssueDate   string   `json:"issue_date"`
	DueDate     string   `json:"due_date"`
}

// PaymentRequest 收款请求
type PaymentRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// AccrueCommissionRequest 计提佣金请求
type AccrueCommissionRequest struct {
	IntroducerID string  `json:"introducer_id" binding:"required"`
	FeeEventID   string  `json:"fee_event_id"`
	OverrideBase *string `json:"override_base"`
	PartyID      string  `json:"party_id"`
	Currency     string  `json:"currency"`
	RateBps      int64   `json:"rate_bps"`
	RatePercent  *string `json:"rate_percent"`
}

// ApproveCommissionRequest 审批请求
type ApproveCommissionRequest struct {
	Approver string `json:"approver" binding:"required"`
}

// PayCommissionRequest 佣金支付请求
type PayCommissionRequest struct {
	Reference string `json:"reference" binding:"required"`
}

// ComponentResponse 组件
type ComponentResponse struct {
	ID                      string             `json:"id"`
	Name                    string             `json:"name,omitempty"`
	Kind                    string             `json:"kind"`
	CalcMethod              string             `json:"calc_method"`
	Frequency               string             `json:"frequency"`
	RateBps                 int64              `json:"rate_bps"`
	RatePercent             string             `json:"rate_percent"`
	FlatAmount              *string            `json:"flat_amount,omitempty"`
	Currency                string             `json:"currency"`
	HurdleRateBps           *int64             `json:"hurdle_rate_bps,omitempty"`
	HasCatchup              bool               `json:"has_catchup"`
	CatchupRateBps          *int64             `json:"catchup_rate_bps,omitempty"`
	HasHighWaterMark        bool               `json:"has_high_water_mark"`
	TierThresholdMultiplier *string            `json:"tier_threshold_multiplier,omitempty"`
	NextTier                *ComponentResponse `json:"next_tier,omitempty"`
}

func toComponentResponse(c *domain.FeeComponent) *ComponentResponse {
	if c == nil {
		return nil
	}
	return &ComponentResponse{
		ID:                      c.ID,
		Name:                    c.Name,
		Kind:                    c.Kind.String(),
		CalcMethod:              c.Method.String(),
		Frequency:               c.Frequency.String(),
		RateBps:                 int64(c.RateBps),
		RatePercent:             c.RateBps.Percent().String(),
		FlatAmount:              amountPtr(c.FlatAmount),
		Currency:                c.Currency,
		HurdleRateBps:           ratePtr(c.HurdleRateBps),
		HasCatchup:              c.HasCatchup,
		CatchupRateBps:          ratePtr(c.CatchupRateBps),
		HasHighWaterMark:        c.HasHighWaterMark,
		TierThresholdMultiplier: decimalPtr(c.TierThresholdMultiplier),
		NextTier:                toComponentResponse(c.NextTier),
	}
}

// PlanResponse 计划
type PlanResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Currency    string               `json:"currency"`
	Status      string               `json:"status"`
	Components  []*ComponentResponse `json:"components"`
	ActivatedAt *time.Time           `json:"activated_at,omitempty"`
	RetiredAt   *time.Time           `json:"retired_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	Version     int64                `json:"version"`
}

func toPlanResponse(p *domain.FeePlan) *PlanResponse {
	components := make([]*ComponentResponse, 0, len(p.Components))
	for _, c := range p.Components {
		components = append(components, toComponentResponse(c))
	}
	return &PlanResponse{
		ID:          p.ID,
		Name:        p.Name,
		Currency:    p.Currency,
		Status:      p.Status.String(),
		Components:  components,
		ActivatedAt: p.ActivatedAt,
		RetiredAt:   p.RetiredAt,
		CreatedAt:   p.CreatedAt,
		Version:     p.Version,
	}
}

// CalculationResponse 试算结果
type CalculationResponse struct {
	Amount      string              `json:"amount"`
	BaseAmount  string              `json:"base_amount"`
	Snapshot    domain.RateSnapshot `json:"rate_snapshot"`
	PeriodStart string              `json:"period_start,omitempty"`
	PeriodEnd   string              `json:"period_end,omitempty"`
}

func toCalculationResponse(c domain.Calculation) *CalculationResponse {
	return &CalculationResponse{
		Amount:      money(c.Amount),
		BaseAmount:  money(c.BaseAmount),
		Snapshot:    c.Snapshot,
		PeriodStart: dateString(c.PeriodStart),
		PeriodEnd:   dateString(c.PeriodEnd),
	}
}

// FeeEventResponse 费用事件
type FeeEventResponse struct {
	ID              string              `json:"id"`
	PlanID          string              `json:"plan_id,omitempty"`
	ComponentID     string              `json:"component_id,omitempty"`
	PartyID         string              `json:"party_id"`
	Currency        string              `json:"currency"`
	BaseAmount      string              `json:"base_amount"`
	ComputedAmount  string              `json:"computed_amount"`
	Snapshot        domain.RateSnapshot `json:"rate_snapshot"`
	Status          string              `json:"status"`
	PeriodStart     string              `json:"period_start,omitempty"`
	PeriodEnd       string              `json:"period_end,omitempty"`
	InvoiceID       string              `json:"invoice_id,omitempty"`
	ReplacesEventID string              `json:"replaces_event_id,omitempty"`
	CorrectsEventID string              `json:"corrects_event_id,omitempty"`
	IsAdjustment    bool                `json:"is_adjustment"`
	Reason          string              `json:"reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Version         int64               `json:"version"`
}

func toFeeEventResponse(e *domain.FeeEvent) *FeeEventResponse {
	return &FeeEventResponse{
		ID:              e.ID,
		PlanID:          e.PlanID,
		ComponentID:     e.ComponentID,
		PartyID:         e.PartyID,
		Currency:        e.Currency,
		BaseAmount:      money(e.BaseAmount),
		ComputedAmount:  money(e.ComputedAmount),
		Snapshot:        e.Snapshot,
		Status:          e.Status.String(),
		PeriodStart:     dateString(e.PeriodStart),
		PeriodEnd:       dateString(e.PeriodEnd),
		InvoiceID:       e.InvoiceID,
		ReplacesEventID: e.ReplacesEventID,
		CorrectsEventID: e.CorrectsEventID,
		IsAdjustment:    e.IsAdjustment,
		Reason:          e.Reason,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		Version:         e.Version,
	}
}

func toFeeEventResponses(events []*domain.FeeEvent) []*FeeEventResponse {
	out := make([]*FeeEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toFeeEventResponse(e))
	}
	return out
}

// PaymentResponse 收款记录
type PaymentResponse struct {
	Amount     string    `json:"amount"`
	Reference  string    `json:"reference"`
	ReceivedAt time.Time `json:"received_at"`
}

// InvoiceResponse 发票；effective_status 为按 as_of 派生的状态
type InvoiceResponse struct {
	ID                string            `json:"id"`
	PartyID           string            `json:"party_id"`
	Currency          string            `json:"currency"`
	FeeEventIDs       []string          `json:"fee_event_ids"`
	Subtotal          string            `json:"subtotal"`
	Total             string            `json:"total"`
	PaidAmount        string            `json:"paid_amount"`
	BalanceDue        string            `json:"balance_due"`
	Status            string            `json:"status"`
	EffectiveStatus   string            `json:"effective_status,omitempty"`
	AsOf              string            `json:"as_of,omitempty"`
	IssueDate         string            `json:"issue_date"`
	DueDate           string            `json:"due_date"`
	HasDiscrepancy    bool              `json:"has_discrepancy"`
	DiscrepancyAmount string            `json:"discrepancy_amount"`
	Payments          []PaymentResponse `json:"payments"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Version           int64             `json:"version"`
}

func toInvoiceResponse(inv *domain.Invoice) *InvoiceResponse {
	payments := make([]PaymentResponse, 0, len(inv.Payments))
	for _, p := range inv.Payments {
		payments = append(payments, PaymentResponse{Amount: money(p.Amount), Reference: p.Reference, ReceivedAt: p.ReceivedAt})
	}
	return &InvoiceResponse{
		ID:                inv.ID,
		PartyID:           inv.PartyID,
		Currency:          inv.Currency,
		FeeEventIDs:       append([]string(nil), inv.EventIDs...),
		Subtotal:          money(inv.Subtotal),
		Total:             money(inv.Total),
		PaidAmount:        money(inv.PaidAmount),
		BalanceDue:        money(inv.BalanceDue),
		Status:            inv.Status.String(),
		IssueDate:         inv.IssueDate.String(),
		DueDate:           inv.DueDate.String(),
		HasDiscrepancy:    inv.HasDiscrepancy,
		DiscrepancyAmount: money(inv.DiscrepancyAmount),
		Payments:          payments,
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
		Version:           inv.Version,
	}
}

func toInvoiceViewResponse(v *application.InvoiceView) *InvoiceResponse {
	resp := toInvoiceResponse(v.Invoice)
	resp.EffectiveStatus = v.EffectiveStatus.String()
	resp.AsOf = v.AsOf.String()
	return resp
}

// CommissionResponse 介绍人佣金
type CommissionResponse struct {
	ID               string     `json:"id"`
	IntroducerID     string     `json:"introducer_id"`
	PartyID          string     `json:"party_id,omitempty"`
	FeeEventID       string     `json:"fee_event_id,omitempty"`
	BaseOverride     bool       `json:"base_override"`
	Currency         string     `json:"currency"`
	BaseAmount       string     `json:"base_amount"`
	RateBps          int64      `json:"rate_bps"`
	Amount           string     `json:"amount"`
	NetRetained      string     `json:"net_retained"`
	Status           string     `json:"status"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Version          int64      `json:"version"`
}

func toCommissionResponse(c *domain.IntroducerCommission) *CommissionResponse {
	return &CommissionResponse{
		ID:               c.ID,
		IntroducerID:     c.IntroducerID,
		PartyID:          c.PartyID,
		FeeEventID:       c.FeeEventID,
		BaseOverride:     c.BaseOverride,
		Currency:         c.Currency,
		BaseAmount:       money(c.BaseAmount),
		RateBps:          int64(c.RateBps),
		Amount:           money(c.Amount),
		NetRetained:      money(c.NetRetained),
		Status:           c.Status.String(),
		ApprovedBy:       c.ApprovedBy,
		ApprovedAt:       c.ApprovedAt,
		PaymentReference: c.PaymentReference,
		PaidAt:           c.PaidAt,
		CreatedAt:        c.CreatedAt,
		Version:          c.Version,
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.SettlementPlaces)
}

func amountPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func decimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func ratePtr(r *domain.Rate) *int64 {
	if r == nil {
		return nil
	}
	v := int64(*r)
	return &v
}

// resolveRate 费率可用基点或百分比字符串表示，二者只能给出其一
func resolveRate(bps int64, percent *string) (domain.Rate, error) {
	if percent == nil {
		return domain.Rate(bps), nil
	}
	if bps != 0 {
		return 0, domain.NewValidationError("rate_percent", "set either rate_bps or rate_percent, not both")
	}
	return domain.ParsePercent(*percent)
}

func optionalRate(v *int64) *domain.Rate {
	if v == nil {
		return nil
	}
	r := domain.Rate(*v)
	return &r
}

func optionalAmount(field string, s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := domain.ParseAmount(field, *s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optionalDate(field, s string) (*civil.Date, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, domain.NewValidationError(field, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s))
	}
	return &d, nil
}

func dateString(d *civil.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}
