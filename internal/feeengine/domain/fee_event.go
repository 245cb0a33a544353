package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// FeeEventStatus 费用事件状态
type FeeEventStatus string

const (
	FeeEventStatusAccrued   FeeEventStatus = "accrued"   // 已计提
	FeeEventStatusInvoiced  FeeEventStatus = "invoiced"  // 已开票
	FeeEventStatusPaid      FeeEventStatus = "paid"      // 已支付
	FeeEventStatusVoided    FeeEventStatus = "voided"    // 已作废
	FeeEventStatusWaived    FeeEventStatus = "waived"    // 已豁免
	FeeEventStatusDisputed  FeeEventStatus = "disputed"  // 争议中
	FeeEventStatusCancelled FeeEventStatus = "cancelled" // 已取消
)

func (s FeeEventStatus) String() string { return string(s) }

// IsValid 是否为已知状态
func (s FeeEventStatus) IsValid() bool {
	switch s {
	case FeeEventStatusAccrued, FeeEventStatusInvoiced, FeeEventStatusPaid, FeeEventStatusVoided,
		FeeEventStatusWaived, FeeEventStatusDisputed, FeeEventStatusCancelled:
		return true
	}
	return false
}

// IsTerminal 终态不可再迁移
func (s FeeEventStatus) IsTerminal() bool {
	switch s {
	case FeeEventStatusPaid, FeeEventStatusVoided, FeeEventStatusWaived, FeeEventStatusCancelled:
		return true
	case FeeEventStatusAccrued, FeeEventStatusInvoiced, FeeEventStatusDisputed:
		return false
	}
	return false
}

// feeEventTransitions 合法迁移表。disputed 只能回到进入争议前的状态（由 ResolveDispute 决定）。
var feeEventTransitions = map[FeeEventStatus][]FeeEventStatus{
	FeeEventStatusAccrued: {
		FeeEventStatusInvoiced, FeeEventStatusVoided, FeeEventStatusWaived,
		FeeEventStatusDisputed, FeeEventStatusCancelled,
	},
	FeeEventStatusInvoiced: {
		FeeEventStatusPaid, FeeEventStatusVoided, FeeEventStatusWaived,
		FeeEventStatusDisputed, FeeEventStatusCancelled,
	},
	FeeEventStatusDisputed: {
		FeeEventStatusAccrued, FeeEventStatusInvoiced, FeeEventStatusVoided,
		FeeEventStatusWaived, FeeEventStatusCancelled,
	},
}

// CanTransition 判断状态迁移是否合法
func (s FeeEventStatus) CanTransition(to FeeEventStatus) bool {
	for _, next := range feeEventTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// FeeEvent 费用事件聚合根：一笔已计算的费用义务。
// 计算金额在创建时冻结，之后只允许状态迁移；更正通过作废重建或追加冲销事件完成。
type FeeEvent struct {
	ID              string
	PlanID          string
	ComponentID     string
	PartyID         string
	Currency        string
	BaseAmount      decimal.Decimal
	ComputedAmount  decimal.Decimal
	Snapshot        RateSnapshot
	Status          FeeEventStatus
	PeriodStart     *civil.Date
	PeriodEnd       *civil.Date
	InvoiceID       string
	DisputedFrom    FeeEventStatus
	ReplacesEventID string
	CorrectsEventID string
	IsAdjustment    bool
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64

	eventRecorder
}

// NewFeeEvent 由计算结果创建一笔 accrued 状态的费用事件
func NewFeeEvent(id, planID, partyID, currency string, calc Calculation, now time.Time) (*FeeEvent, error) {
	if strings.TrimSpace(partyID) == "" {
		return nil, NewValidationError("party_id", "party is required")
	}
	if err := ValidateCurrency(currency); err != nil {
		return nil, err
	}
	if err := ValidateNonNegative("computed_amount", calc.Amount); err != nil {
		return nil, err
	}
	e := &FeeEvent{
		ID:             id,
		PlanID:         planID,
		ComponentID:    calc.Snapshot.ComponentID,
		PartyID:        partyID,
		Currency:       strings.ToUpper(currency),
		BaseAmount:     calc.BaseAmount,
		ComputedAmount: RoundSettlement(calc.Amount),
		Snapshot:       calc.Snapshot,
		Status:         FeeEventStatusAccrued,
		PeriodStart:    copyDate(calc.PeriodStart),
		PeriodEnd:      copyDate(calc.PeriodEnd),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.record(FeeAccruedEvent{
		EventMeta:      EventMeta{Type: EventTypeFeeAccrued, Aggregate: e.ID, At: now},
		PartyID:        e.PartyID,
		Kind:           e.Snapshot.Kind,
		Currency:       e.Currency,
		ComputedAmount: e.ComputedAmount,
		RateBps:        e.Snapshot.RateBps,
	})
	return e, nil
}

// NewReplacementEvent 作废重建：被替换事件必须已作废，新事件按新的计算结果生成并记录来源
func NewReplacementEvent(id string, voided *FeeEvent, calc Calculation, now time.Time) (*FeeEvent, error) {
	if voided.Status != FeeEventStatusVoided {
		return nil, newInvalidTransition("fee_event", voided.ID, voided.Status, FeeEventStatusVoided)
	}
	e, err := NewFeeEvent(id, voided.PlanID, voided.PartyID, voided.Currency, calc, now)
	if err != nil {
		return nil, err
	}
	e.ReplacesEventID = voided.ID
	return e, nil
}

// NewCorrectionEvent 追加冲销：已支付事件不可修改，差额以一笔新的调整事件记账（可为负）
func NewCorrectionEvent(id string, paid *FeeEvent, correctedAmount decimal.Decimal, reason string, now time.Time) (*FeeEvent, error) {
	if paid.Status != FeeEventStatusPaid {
		return nil, newInvalidTransition("fee_event", paid.ID, paid.Status, FeeEventStatusPaid)
	}
	if err := ValidateNonNegative("corrected_amount", correctedAmount); err != nil {
		return nil, err
	}
	delta := RoundSettlement(correctedAmount).Sub(paid.ComputedAmount)
	if delta.IsZero() {
		return nil, NewValidationError("corrected_amount", "correction does not change the paid amount")
	}
	e := &FeeEvent{
		ID:              id,
		PlanID:          paid.PlanID,
		ComponentID:     paid.ComponentID,
		PartyID:         paid.PartyID,
		Currency:        paid.Currency,
		BaseAmount:      paid.ComputedAmount,
		ComputedAmount:  delta,
		Snapshot:        paid.Snapshot,
		Status:          FeeEventStatusAccrued,
		PeriodStart:     copyDate(paid.PeriodStart),
		PeriodEnd:       copyDate(paid.PeriodEnd),
		CorrectsEventID: paid.ID,
		IsAdjustment:    true,
		Reason:          reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	e.record(FeeAccruedEvent{
		EventMeta:      EventMeta{Type: EventTypeFeeAccrued, Aggregate: e.ID, At: now},
		PartyID:        e.PartyID,
		Kind:           e.Snapshot.Kind,
		Currency:       e.Currency,
		ComputedAmount: e.ComputedAmount,
		RateBps:        e.Snapshot.RateBps,
	})
	return e, nil
}

// Void 作废
func (e *FeeEvent) Void(reason string, now time.Time) error {
	return e.transition(FeeEventStatusVoided, reason, now)
}

// Waive 豁免
func (e *FeeEvent) Waive(reason string, now time.Time) error {
	return e.transition(FeeEventStatusWaived, reason, now)
}

// Cancel 取消
func (e *FeeEvent) Cancel(reason string, now time.Time) error {
	return e.transition(FeeEventStatusCancelled, reason, now)
}

// Dispute 发起争议，记录进入争议前的状态
func (e *FeeEvent) Dispute(reason string, now time.Time) error {
	from := e.Status
	if err := e.transition(FeeEventStatusDisputed, reason, now); err != nil {
		return err
	}
	e.DisputedFrom = from
	return nil
}

// ResolveDispute 争议解决，恢复到进入争议前的状态
func (e *FeeEvent) ResolveDispute(now time.Time) error {
	if e.Status != FeeEventStatusDisputed {
		return newInvalidTransition("fee_event", e.ID, e.Status, FeeEventStatusInvoiced)
	}
	back := e.DisputedFrom
	if back == "" {
		back = FeeEventStatusInvoiced
		if e.InvoiceID == "" {
			back = FeeEventStatusAccrued
		}
	}
	if err := e.transition(back, "dispute resolved", now); err != nil {
		return err
	}
	e.DisputedFrom = ""
	return nil
}

// ResolveDisputeOn 结合所属发票解决争议：回到 invoiced 且发票已结清时继续迁移为 paid。
// inv 为 nil 或不是事件所属发票时等同于 ResolveDispute。
func (e *FeeEvent) ResolveDisputeOn(inv *Invoice, now time.Time) error {
	if err := e.ResolveDispute(now); err != nil {
		return err
	}
	if inv == nil || inv.ID != e.InvoiceID || inv.Status != InvoiceStatusPaid || e.Status != FeeEventStatusInvoiced {
		return nil
	}
	return e.markPaid(now)
}

// attach 挂到发票上，只能由发票聚合调用；要求事件仍为 accrued
func (e *FeeEvent) attach(invoiceID string, now time.Time) error {
	if e.Status == FeeEventStatusInvoiced || (e.InvoiceID != "" && !e.Status.IsTerminal()) {
		return fmt.Errorf("%w: %s is on invoice %s", ErrAlreadyInvoiced, e.ID, e.InvoiceID)
	}
	if e.Status != FeeEventStatusAccrued {
		return newInvalidTransition("fee_event", e.ID, e.Status, FeeEventStatusInvoiced)
	}
	if err := e.transition(FeeEventStatusInvoiced, "attached to invoice "+invoiceID, now); err != nil {
		return err
	}
	e.InvoiceID = invoiceID
	return nil
}

// markPaid 发票结清时由发票聚合调用
func (e *FeeEvent) markPaid(now time.Time) error {
	return e.transition(FeeEventStatusPaid, "invoice settled", now)
}

func (e *FeeEvent) transition(to FeeEventStatus, reason string, now time.Time) error {
	if !e.Status.CanTransition(to) {
		return newInvalidTransition("fee_event", e.ID, e.Status, to)
	}
	from := e.Status
	e.Status = to
	e.UpdatedAt = now
	if reason != "" {
		e.Reason = reason
	}
	e.record(FeeEventTransitionedEvent{
		EventMeta: EventMeta{Type: EventTypeFeeEventTransitioned, Aggregate: e.ID, At: now},
		From:      from,
		To:        to,
		Reason:    reason,
	})
	return nil
}

// IsFinalized 金额是否已最终确定（已开票或已支付），佣金审批以此为前提
func (e *FeeEvent) IsFinalized() bool {
	return e.Status == FeeEventStatusInvoiced || e.Status == FeeEventStatusPaid
}

// Clone 深拷贝，不含待发布事件
func (e *FeeEvent) Clone() *FeeEvent {
	c := *e
	c.eventRecorder = eventRecorder{}
	c.PeriodStart = copyDate(e.PeriodStart)
	c.PeriodEnd = copyDate(e.PeriodEnd)
	c.Snapshot.Tiers = append([]Tier(nil), e.Snapshot.Tiers...)
	return &c
}

func copyDate(d *civil.Date) *civil.Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
