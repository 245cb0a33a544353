package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionStatus 介绍人佣金状态，严格线性：accrued -> approved -> paid
type CommissionStatus string

const (
	CommissionStatusAccrued  CommissionStatus = "accrued"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
)

func (s CommissionStatus) String() string { return string(s) }

// next 线性状态机的下一状态
func (s CommissionStatus) next() (CommissionStatus, bool) {
	switch s {
	case CommissionStatusAccrued:
		return CommissionStatusApproved, true
	case CommissionStatusApproved:
		return CommissionStatusPaid, true
	case CommissionStatusPaid:
		return "", false
	}
	return "", false
}

// CommissionBase 佣金计提基数：引用一笔费用事件，或显式给出覆盖基数
type CommissionBase struct {
	FeeEvent       *FeeEvent
	OverrideAmount *decimal.Decimal
	PartyID        string
	Currency       string
}

// IntroducerCommission 介绍人/合作方佣金聚合根。
// 生命周期独立于费用事件和发票，但审批要求其基数费用已最终确定。
type IntroducerCommission struct {
	ID               string
	IntroducerID     string
	PartyID          string
	FeeEventID       string
	BaseOverride     bool
	Currency         string
	BaseAmount       decimal.Decimal
	RateBps          Rate
	Amount           decimal.Decimal
	NetRetained      decimal.Decimal
	Status           CommissionStatus
	ApprovedBy       string
	ApprovedAt       *time.Time
	PaymentReference string
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int64

	eventRecorder
}

// NewIntroducerCommission 计提佣金。基数取自费用事件已冻结的计算金额，或取覆盖基数。
func NewIntroducerCommission(id, introducerID string, base CommissionBase, rate Rate, now time.Time) (*IntroducerCommission, error) {
	if strings.TrimSpace(introducerID) == "" {
		return nil, NewValidationError("introducer_id", "introducer is required")
	}
	if err := rate.Validate("rate_bps"); err != nil {
		return nil, err
	}

	c := &IntroducerCommission{
		ID:           id,
		IntroducerID: introducerID,
		RateBps:      rate,
		Status:       CommissionStatusAccrued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch {
	case base.FeeEvent != nil && base.OverrideAmount != nil:
		return nil, NewValidationError("base", "give either a fee event or an override base, not both")
	case base.FeeEvent != nil:
		e := base.FeeEvent
		switch e.Status {
		case FeeEventStatusVoided, FeeEventStatusWaived, FeeEventStatusCancelled:
			return nil, newInvalidTransition("fee_event", e.ID, e.Status, CommissionStatusAccrued)
		}
		c.FeeEventID = e.ID
		c.PartyID = e.PartyID
		c.Currency = e.Currency
		c.BaseAmount = e.ComputedAmount
	case base.OverrideAmount != nil:
		if err := ValidateNonNegative("base_amount", *base.OverrideAmount); err != nil {
			return nil, err
		}
		if err := ValidateCurrency(base.Currency); err != nil {
			return nil, err
		}
		c.BaseOverride = true
		c.PartyID = base.PartyID
		c.Currency = strings.ToUpper(base.Currency)
		c.BaseAmount = RoundSettlement(*base.OverrideAmount)
	default:
		return nil, NewValidationError("base", "a fee event or an override base is required")
	}

	amount, net, err := CommissionSplit(c.BaseAmount, rate)
	if err != nil {
		return nil, err
	}
	c.Amount = amount
	c.NetRetained = net
	c.record(CommissionAccruedEvent{
		EventMeta:    EventMeta{Type: EventTypeCommissionAccrued, Aggregate: c.ID, At: now},
		IntroducerID: c.IntroducerID,
		FeeEventID:   c.FeeEventID,
		Amount:       c.Amount,
		Currency:     c.Currency,
	})
	return c, nil
}

// Approve 审批佣金。须有审批人；引用费用事件时，该事件必须已开票或已支付。
// baseEvent 对覆盖基数的佣金传 nil。
func (c *IntroducerCommission) Approve(approver string, baseEvent *FeeEvent, at time.Time) error {
	if strings.TrimSpace(approver) == "" {
		return NewValidationError("approved_by", "approver is required")
	}
	if err := c.advance(CommissionStatusApproved); err != nil {
		return err
	}
	if !c.BaseOverride {
		if baseEvent == nil || baseEvent.ID != c.FeeEventID {
			return NewValidationError("fee_event_id", "base fee event must be supplied for approval")
		}
		if !baseEvent.IsFinalized() {
			return newInvalidTransition("commission", c.ID, c.Status, CommissionStatusApproved)
		}
	}
	c.Status = CommissionStatusApproved
	c.ApprovedBy = approver
	c.ApprovedAt = &at
	c.UpdatedAt = at
	c.record(CommissionApprovedEvent{
		EventMeta:  EventMeta{Type: EventTypeCommissionApproved, Aggregate: c.ID, At: at},
		ApprovedBy: approver,
	})
	return nil
}

// Pay 支付佣金，须提供支付流水号
func (c *IntroducerCommission) Pay(reference string, at time.Time) error {
	if strings.TrimSpace(reference) == "" {
		return NewValidationError("payment_reference", "payment reference is required")
	}
	if err := c.advance(CommissionStatusPaid); err != nil {
		return err
	}
	c.Status = CommissionStatusPaid
	c.PaymentReference = reference
	c.PaidAt = &at
	c.UpdatedAt = at
	c.record(CommissionPaidEvent{
		EventMeta:        EventMeta{Type: EventTypeCommissionPaid, Aggregate: c.ID, At: at},
		PaymentReference: reference,
		Amount:           c.Amount,
	})
	return nil
}

// advance 仅校验，不修改状态
func (c *IntroducerCommission) advance(to CommissionStatus) error {
	next, ok := c.Status.next()
	if !ok || next != to {
		return newInvalidTransition("commission", c.ID, c.Status, to)
	}
	return nil
}

// Clone 深拷贝，不含待发布事件
func (c *IntroducerCommission) Clone() *IntroducerCommission {
	cp := *c
	cp.eventRecorder = eventRecorder{}
	if c.ApprovedAt != nil {
		t := *c.ApprovedAt
		cp.ApprovedAt = &t
	}
	if c.PaidAt != nil {
		t := *c.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}
