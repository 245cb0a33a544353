package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"gorm.io/datatypes"
)

// FeePlanModel 费用计划表，组件链以 JSON 存储
type FeePlanModel struct {
	ID          string         `gorm:"column:id;type:varchar(32);primaryKey"`
	Name        string         `gorm:"column:name;type:varchar(128);not null"`
	Currency    string         `gorm:"column:currency;type:char(3);not null"`
	Status      string         `gorm:"column:status;type:varchar(16);index;not null"`
	Components  datatypes.JSON `gorm:"column:components"`
	ActivatedAt *time.Time     `gorm:"column:activated_at"`
	RetiredAt   *time.Time     `gorm:"column:retired_at"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
	Version     int64          `gorm:"column:version;not null"`
}

// TableName 指定表名
func (FeePlanModel) TableName() string { return "fee_plans" }

// FeeEventModel 费用事件表
type FeeEventModel struct {
	ID              string          `gorm:"column:id;type:varchar(32);primaryKey"`
	PlanID          string          `gorm:"column:plan_id;type:varchar(32);index"`
	ComponentID     string          `gorm:"column:component_id;type:varchar(32)"`
	PartyID         string          `gorm:"column:party_id;type:varchar(64);index:idx_fee_events_party_status,priority:1;not null"`
	Currency        string          `gorm:"column:currency;type:char(3);not null"`
	BaseAmount      decimal.Decimal `gorm:"column:base_amount;type:decimal(24,2);not null"`
	ComputedAmount  decimal.Decimal `gorm:"column:computed_amount;type:decimal(24,2);not null"`
	Snapshot        datatypes.JSON  `gorm:"column:rate_snapshot"`
	Status          string          `gorm:"column:status;type:varchar(16);index:idx_fee_events_party_status,priority:2;not null"`
	PeriodStart     *time.Time      `gorm:"column:period_start;type:date"`
	PeriodEnd       *time.Time      `gorm:"column:period_end;type:date"`
	InvoiceID       string          `gorm:"column:invoice_id;type:varchar(32);index"`
	DisputedFrom    string          `gorm:"column:disputed_from;type:varchar(16)"`
	ReplacesEventID string          `gorm:"column:replaces_event_id;type:varchar(32)"`
	CorrectsEventID string          `gorm:"column:corrects_event_id;type:varchar(32)"`
	IsAdjustment    bool            `gorm:"column:is_adjustment"`
	Reason          string          `gorm:"column:reason;type:varchar(255)"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
	Version         int64           `gorm:"column:version;not null"`
}

// TableName 指定表名
func (FeeEventModel) TableName() string { return "fee_events" }

// InvoiceModel 发票表
type InvoiceModel struct {
	ID                string          `gorm:"column:id;type:varchar(32);primaryKey"`
	PartyID           string          `gorm:"column:party_id;type:varchar(64);index;not null"`
	Currency          string          `gorm:"column:currency;type:char(3);not null"`
	EventIDs          datatypes.JSON  `gorm:"column:fee_event_ids"`
	Subtotal          decimal.Decimal `gorm:"column:subtotal;type:decimal(24,2);not null"`
	Total             decimal.Decimal `gorm:"column:total;type:decimal(24,2);not null"`
	PaidAmount        decimal.Decimal `gorm:"column:paid_amount;type:decimal(24,2);not null"`
	BalanceDue        decimal.Decimal `gorm:"column:balance_due;type:decimal(24,2);not null"`
	Status            string          `gorm:"column:status;type:varchar(16);index;not null"`
	IssueDate         time.Time       `gorm:"column:issue_date;type:date"`
	DueDate           time.Time       `gorm:"column:due_date;type:date;index"`
	HasDiscrepancy    bool            `gorm:"column:has_discrepancy;index"`
	DiscrepancyAmount decimal.Decimal `gorm:"column:discrepancy_amount;type:decimal(24,2)"`
	Payments          datatypes.JSON  `gorm:"column:payments"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
	Version           int64           `gorm:"column:version;not null"`
}

// TableName 指定表名
func (InvoiceModel) TableName() string { return "fee_invoices" }

// CommissionModel 介绍人佣金表
type CommissionModel struct {
	ID               string          `gorm:"column:id;type:varchar(32);primaryKey"`
	IntroducerID     string          `gorm:"column:introducer_id;type:varchar(64);index;not null"`
	PartyID          string          `gorm:"column:party_id;type:varchar(64)"`
	FeeEventID       string          `gorm:"column:fee_event_id;type:varchar(32);index"`
	BaseOverride     bool            `gorm:"column:base_override"`
	Currency         string          `gorm:"column:currency;type:char(3);not null"`
	BaseAmount       decimal.Decimal `gorm:"column:base_amount;type:decimal(24,2);not null"`
	RateBps          int64           `gorm:"column:rate_bps;not null"`
	Amount           decimal.Decimal `gorm:"column:amount;type:decimal(24,2);not null"`
	NetRetained      decimal.Decimal `gorm:"column:net_retained;type:decimal(24,2);not null"`
	Status           string          `gorm:"column:status;type:varchar(16);index;not null"`
	ApprovedBy       string          `gorm:"column:approved_by;type:varchar(64)"`
	ApprovedAt       *time.Time      `gorm:"column:approved_at"`
	PaymentReference string          `gorm:"column:payment_reference;type:varchar(128)"`
	PaidAt           *time.Time      `gorm:"column:paid_at"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
	Version          int64           `gorm:"column:version;not null"`
}

// TableName 指定表名
func (CommissionModel) TableName() string { return "fee_commissions" }

// componentRecord 组件链的 JSON 表示
type componentRecord struct {
	ID                      string           `json:"id"`
	Name                    string           `json:"name,omitempty"`
	Kind                    string           `json:"kind"`
	Method                  string           `json:"calc_method"`
	Frequency               string           `json:"frequency"`
	RateBps                 int64            `json:"rate_bps"`
	FlatAmount              *decimal.Decimal `json:"flat_amount,omitempty"`
	Currency                string           `json:"currency"`
	HurdleRateBps           *domain.Rate     `json:"hurdle_rate_bps,omitempty"`
	HasCatchup              bool             `json:"has_catchup,omitempty"`
	CatchupRateBps          *domain.Rate     `json:"catchup_rate_bps,omitempty"`
	HasHighWaterMark        bool             `json:"has_high_water_mark,omitempty"`
	TierThresholdMultiplier *decimal.Decimal `json:"tier_threshold_multiplier,omitempty"`
	NextTier                *componentRecord `json:"next_tier,omitempty"`
}

func toComponentRecord(c *domain.FeeComponent) *componentRecord {
	if c == nil {
		return nil
	}
	return &componentRecord{
		ID:                      c.ID,
		Name:                    c.Name,
		Kind:                    string(c.Kind),
		Method:                  string(c.Method),
		Frequency:               string(c.Frequency),
		RateBps:                 int64(c.RateBps),
		FlatAmount:              c.FlatAmount,
		Currency:                c.Currency,
		HurdleRateBps:           c.HurdleRateBps,
		HasCatchup:              c.HasCatchup,
		CatchupRateBps:          c.CatchupRateBps,
		HasHighWaterMark:        c.HasHighWaterMark,
		TierThresholdMultiplier: c.TierThresholdMultiplier,
		NextTier:                toComponentRecord(c.NextTier),
	}
}

func (r *componentRecord) toDomain(planID string) *domain.FeeComponent {
	if r == nil {
		return nil
	}
	return &domain.FeeComponent{
		ID:                      r.ID,
		PlanID:                  planID,
		Name:                    r.Name,
		Kind:                    domain.FeeKind(r.Kind),
		Method:                  domain.CalcMethod(r.Method),
		Frequency:               domain.Frequency(r.Frequency),
		RateBps:                 domain.Rate(r.RateBps),
		FlatAmount:              r.FlatAmount,
		Currency:                r.Currency,
		HurdleRateBps:           r.HurdleRateBps,
		HasCatchup:              r.HasCatchup,
		CatchupRateBps:          r.CatchupRateBps,
		HasHighWaterMark:        r.HasHighWaterMark,
		TierThresholdMultiplier: r.TierThresholdMultiplier,
		NextTier:                r.NextTier.toDomain(planID),
	}
}

func toPlanModel(p *domain.FeePlan) (*FeePlanModel, error) {
	records := make([]*componentRecord, 0, len(p.Components))
	for _, c := range p.Components {
		records = append(records, toComponentRecord(c))
	}
	components, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal components: %w", err)
	}
	return &FeePlanModel{
		ID:          p.ID,
		Name:        p.Name,
		Currency:    p.Currency,
		Status:      string(p.Status),
		Components:  datatypes.JSON(components),
		ActivatedAt: p.ActivatedAt,
		RetiredAt:   p.RetiredAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Version:     p.Version,
	}, nil
}

func toPlan(m *FeePlanModel) (*domain.FeePlan, error) {
	var records []*componentRecord
	if len(m.Components) > 0 {
		if err := json.Unmarshal(m.Components, &records); err != nil {
			return nil, fmt.Errorf("unmarshal components of plan %s: %w", m.ID, err)
		}
	}
	components := make([]*domain.FeeComponent, 0, len(records))
	for _, r := range records {
		components = append(components, r.toDomain(m.ID))
	}
	return &domain.FeePlan{
		ID:          m.ID,
		Name:        m.Name,
		Currency:    m.Currency,
		Status:      domain.PlanStatus(m.Status),
		Components:  components,
		ActivatedAt: m.ActivatedAt,
		RetiredAt:   m.RetiredAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Version:     m.Version,
	}, nil
}

func toFeeEventModel(e *domain.FeeEvent) (*FeeEventModel, error) {
	snapshot, err := json.Marshal(e.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal rate snapshot: %w", err)
	}
	return &FeeEventModel{
		ID:              e.ID,
		PlanID:          e.PlanID,
		ComponentID:     e.ComponentID,
		PartyID:         e.PartyID,
		Currency:        e.Currency,
		BaseAmount:      e.BaseAmount,
		ComputedAmount:  e.ComputedAmount,
		Snapshot:        datatypes.JSON(snapshot),
		Status:          string(e.Status),
		PeriodStart:     dateToTime(e.PeriodStart),
		PeriodEnd:       dateToTime(e.PeriodEnd),
		InvoiceID:       e.InvoiceID,
		DisputedFrom:    string(e.DisputedFrom),
		ReplacesEventID: e.ReplacesEventID,
		CorrectsEventID: e.CorrectsEventID,
		IsAdjustment:    e.IsAdjustment,
		Reason:          e.Reason,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		Version:         e.Version,
	}, nil
}

func toFeeEvent(m *FeeEventModel) (*domain.FeeEvent, error) {
	var snapshot domain.RateSnapshot
	if len(m.Snapshot) > 0 {
		if err := json.Unmarshal(m.Snapshot, &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal rate snapshot of %s: %w", m.ID, err)
		}
	}
	return &domain.FeeEvent{
		ID:              m.ID,
		PlanID:          m.PlanID,
		ComponentID:     m.ComponentID,
		PartyID:         m.PartyID,
		Currency:        m.Currency,
		BaseAmount:      m.BaseAmount,
		ComputedAmount:  m.ComputedAmount,
		Snapshot:        snapshot,
		Status:          domain.FeeEventStatus(m.Status),
		PeriodStart:     timeToDate(m.PeriodStart),
		PeriodEnd:       timeToDate(m.PeriodEnd),
		InvoiceID:       m.InvoiceID,
		DisputedFrom:    domain.FeeEventStatus(m.DisputedFrom),
		ReplacesEventID: m.ReplacesEventID,
		CorrectsEventID: m.CorrectsEventID,
		IsAdjustment:    m.IsAdjustment,
		Reason:          m.Reason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Version:         m.Version,
	}, nil
}

func toInvoiceModel(inv *domain.Invoice) (*InvoiceModel, error) {
	ids, err := json.Marshal(inv.EventIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal fee event ids: %w", err)
	}
	payments, err := json.Marshal(inv.Payments)
	if err != nil {
		return nil, fmt.Errorf("marshal payments: %w", err)
	}
	return &InvoiceModel{
		ID:                inv.ID,
		PartyID:           inv.PartyID,
		Currency:          inv.Currency,
		EventIDs:          datatypes.JSON(ids),
		Subtotal:          inv.Subtotal,
		Total:             inv.Total,
		PaidAmount:        inv.PaidAmount,
		BalanceDue:        inv.BalanceDue,
		Status:            string(inv.Status),
		IssueDate:         inv.IssueDate.In(time.UTC),
		DueDate:           inv.DueDate.In(time.UTC),
		HasDiscrepancy:    inv.HasDiscrepancy,
		DiscrepancyAmount: inv.DiscrepancyAmount,
		Payments:          datatypes.JSON(payments),
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
		Version:           inv.Version,
	}, nil
}

func toInvoice(m *InvoiceModel) (*domain.Invoice, error) {
	var ids []string
	if err := json.Unmarshal(m.EventIDs, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal fee event ids of %s: %w", m.ID, err)
	}
	var payments []domain.Payment
	if len(m.Payments) > 0 {
		if err := json.Unmarshal(m.Payments, &payments); err != nil {
			return nil, fmt.Errorf("unmarshal payments of %s: %w", m.ID, err)
		}
	}
	return &domain.Invoice{
		ID:                m.ID,
		PartyID:           m.PartyID,
		Currency:          m.Currency,
		EventIDs:          ids,
		Subtotal:          m.Subtotal,
		Total:             m.Total,
		PaidAmount:        m.PaidAmount,
		BalanceDue:        m.BalanceDue,
		Status:            domain.InvoiceStatus(m.Status),
		IssueDate:         civil.DateOf(m.IssueDate),
		DueDate:           civil.DateOf(m.DueDate),
		HasDiscrepancy:    m.HasDiscrepancy,
		DiscrepancyAmount: m.DiscrepancyAmount,
		Payments:          payments,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		Version:           m.Version,
	}, nil
}

func toCommissionModel(c *domain.IntroducerCommission) *CommissionModel {
	return &CommissionModel{
		ID:               c.ID,
		IntroducerID:     c.IntroducerID,
		PartyID:          c.PartyID,
		FeeEventID:       c.FeeEventID,
		BaseOverride:     c.BaseOverride,
		Currency:         c.Currency,
		BaseAmount:       c.BaseAmount,
		RateBps:          int64(c.RateBps),
		Amount:           c.Amount,
		NetRetained:      c.NetRetained,
		Status:           string(c.Status),
		ApprovedBy:       c.ApprovedBy,
		ApprovedAt:       c.ApprovedAt,
		PaymentReference: c.PaymentReference,
		PaidAt:           c.PaidAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		Version:          c.Version,
	}
}

func toCommission(m *CommissionModel) *domain.IntroducerCommission {
	return &domain.IntroducerCommission{
		ID:               m.ID,
		IntroducerID:     m.IntroducerID,
		PartyID:          m.PartyID,
		FeeEventID:       m.FeeEventID,
		BaseOverride:     m.BaseOverride,
		Currency:         m.Currency,
		BaseAmount:       m.BaseAmount,
		RateBps:          domain.Rate(m.RateBps),
		Amount:           m.Amount,
		NetRetained:      m.NetRetained,
		Status:           domain.CommissionStatus(m.Status),
		ApprovedBy:       m.ApprovedBy,
		ApprovedAt:       m.ApprovedAt,
		PaymentReference: m.PaymentReference,
		PaidAt:           m.PaidAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		Version:          m.Version,
	}
}

func dateToTime(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func timeToDate(t *time.Time) *civil.Date {
	if t == nil {
		return nil
	}
	d := civil.DateOf(*t)
	return &d
}
