package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 领域事件类型
const (
	EventTypeFeeAccrued                = "FeeAccrued"
	EventTypeFeeEventTransitioned      = "FeeEventTransitioned"
	EventTypeInvoiceCreated            = "InvoiceCreated"
	EventTypeInvoiceTransitioned       = "InvoiceTransitioned"
	EventTypeInvoicePaymentRecorded    = "InvoicePaymentRecorded"
	EventTypeInvoiceDiscrepancyFlagged = "InvoiceDiscrepancyFlagged"
	EventTypeCommissionAccrued         = "CommissionAccrued"
	EventTypeCommissionApproved        = "CommissionApproved"
	EventTypeCommissionPaid            = "CommissionPaid"
)

// Event 领域事件，由聚合在状态变化时产生，经 outbox 投递
type Event interface {
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

// EventMeta 事件公共字段
type EventMeta struct {
	Type      string    `json:"event_type"`
	Aggregate string    `json:"aggregate_id"`
	At        time.Time `json:"occurred_at"`
}

func (m EventMeta) EventType() string     { return m.Type }
func (m EventMeta) AggregateID() string   { return m.Aggregate }
func (m EventMeta) OccurredAt() time.Time { return m.At }

// FeeAccruedEvent 费用已计提
type FeeAccruedEvent struct {
	EventMeta
	PartyID        string          `json:"party_id"`
	Kind           FeeKind         `json:"kind"`
	Currency       string          `json:"currency"`
	ComputedAmount decimal.Decimal `json:"computed_amount"`
	RateBps        Rate            `json:"rate_bps"`
}

// FeeEventTransitionedEvent 费用事件状态变化
type FeeEventTransitionedEvent struct {
	EventMeta
	From   FeeEventStatus `json:"from"`
	To     FeeEventStatus `json:"to"`
	Reason string         `json:"reason,omitempty"`
}

// InvoiceCreatedEvent 发票已开具
type InvoiceCreatedEvent struct {
	EventMeta
	PartyID  string          `json:"party_id"`
	Currency string          `json:"currency"`
	Subtotal decimal.Decimal `json:"subtotal"`
	EventIDs []string        `json:"fee_event_ids"`
}

// InvoiceTransitionedEvent 发票状态变化
type InvoiceTransitionedEvent struct {
	EventMeta
	From   InvoiceStatus `json:"from"`
	To     InvoiceStatus `json:"to"`
	Reason string        `json:"reason,omitempty"`
}

// InvoicePaymentRecordedEvent 发票收款
type InvoicePaymentRecordedEvent struct {
	EventMeta
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

// InvoiceDiscrepancyFlaggedEvent 发票小计与费用事件合计不一致
type InvoiceDiscrepancyFlaggedEvent struct {
	EventMeta
	Subtotal          decimal.Decimal `json:"subtotal"`
	LinkedTotal       decimal.Decimal `json:"linked_total"`
	DiscrepancyAmount decimal.Decimal `json:"discrepancy_amount"`
}

// CommissionAccruedEvent 佣金已计提
type CommissionAccruedEvent struct {
	EventMeta
	IntroducerID string          `json:"introducer_id"`
	FeeEventID   string          `json:"fee_event_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// CommissionApprovedEvent 佣金已审批
type CommissionApprovedEvent struct {
	EventMeta
	ApprovedBy string `json:"approved_by"`
}

// CommissionPaidEvent 佣金已支付
type CommissionPaidEvent struct {
	EventMeta
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
}

// eventRecorder 聚合内部的待发布事件缓冲
type eventRecorder struct {
	pending []Event
}

func (r *eventRecorder) record(e Event) {
	r.pending = append(r.pending, e)
}

// PullEvents 取出并清空待发布事件
func (r *eventRecorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}
