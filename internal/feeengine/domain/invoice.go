package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// InvoiceStatus 发票状态
type InvoiceStatus string

const (
	InvoiceStatusIssued        InvoiceStatus = "issued"         // 已开具
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid" // 部分支付
	InvoiceStatusPaid          InvoiceStatus = "paid"           // 已结清
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"      // 已取消
	InvoiceStatusDisputed      InvoiceStatus = "disputed"       // 争议中
	// InvoiceStatusOverdue 派生状态，只由 EffectiveStatus 返回，从不持久化
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

func (s InvoiceStatus) String() string { return string(s) }

// acceptsPayment 可以收款的状态
func (s InvoiceStatus) acceptsPayment() bool {
	switch s {
	case InvoiceStatusIssued, InvoiceStatusPartiallyPaid:
		return true
	case InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusDisputed, InvoiceStatusOverdue:
		return false
	}
	return false
}

// Payment 一笔收款记录
type Payment struct {
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Invoice 发票聚合根：汇总同一投资人的若干费用事件。
// 持有费用事件的引用 (ID) 而非副本；小计在开具时等于各事件计算金额之和，之后的任何偏差只标记不修正。
type Invoice struct {
	ID                string
	PartyID           string
	Currency          string
	EventIDs          []string
	Subtotal          decimal.Decimal
	Total             decimal.Decimal
	PaidAmount        decimal.Decimal
	BalanceDue        decimal.Decimal
	Status            InvoiceStatus
	IssueDate         civil.Date
	DueDate           civil.Date
	HasDiscrepancy    bool
	DiscrepancyAmount decimal.Decimal
	Payments          []Payment
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int64

	eventRecorder
}

// NewInvoice 由一组 accrued 费用事件开具发票，并将每个事件迁移为 invoiced。
// 任一事件不满足条件时不修改任何事件。小计 <= 0 时发票直接为 paid，组成事件随之 paid。
func NewInvoice(id, partyID string, events []*FeeEvent, issueDate, dueDate civil.Date, now time.Time) (*Invoice, error) {
	if strings.TrimSpace(partyID) == "" {
		return nil, NewValidationError("party_id", "party is required")
	}
	if len(events) == 0 {
		return nil, NewValidationError("fee_event_ids", "an invoice needs at least one fee event")
	}
	if !issueDate.IsValid() || !dueDate.IsValid() {
		return nil, NewValidationError("due_date", "issue and due dates are required")
	}
	if dueDate.Before(issueDate) {
		return nil, NewValidationError("due_date", "due date precedes issue date")
	}

	currency := events[0].Currency
	seen := make(map[string]bool, len(events))
	subtotal := decimal.Zero
	ids := make([]string, 0, len(events))
	// 先全部校验，再统一迁移，保证失败时无副作用
	for _, e := range events {
		if seen[e.ID] {
			return nil, NewValidationError("fee_event_ids", fmt.Sprintf("fee event %s listed twice", e.ID))
		}
		seen[e.ID] = true
		if e.PartyID != partyID {
			return nil, NewValidationError("fee_event_ids", fmt.Sprintf("fee event %s belongs to party %s", e.ID, e.PartyID))
		}
		if e.Currency != currency {
			return nil, NewValidationError("currency", fmt.Sprintf("fee event %s is in %s, invoice is in %s", e.ID, e.Currency, currency))
		}
		if e.Status == FeeEventStatusInvoiced || (e.InvoiceID != "" && !e.Status.IsTerminal()) {
			return nil, fmt.Errorf("%w: %s is on invoice %s", ErrAlreadyInvoiced, e.ID, e.InvoiceID)
		}
		if e.Status != FeeEventStatusAccrued {
			return nil, newInvalidTransition("fee_event", e.ID, e.Status, FeeEventStatusInvoiced)
		}
		subtotal = subtotal.Add(e.ComputedAmount)
		ids = append(ids, e.ID)
	}

	inv := &Invoice{
		ID:                id,
		PartyID:           partyID,
		Currency:          currency,
		EventIDs:          ids,
		Subtotal:          subtotal,
		Total:             subtotal,
		PaidAmount:        decimal.Zero,
		BalanceDue:        subtotal,
		Status:            InvoiceStatusIssued,
		IssueDate:         issueDate,
		DueDate:           dueDate,
		DiscrepancyAmount: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, e := range events {
		if err := e.attach(id, now); err != nil {
			return nil, err
		}
	}
	inv.record(InvoiceCreatedEvent{
		EventMeta: EventMeta{Type: EventTypeInvoiceCreated, Aggregate: id, At: now},
		PartyID:   partyID,
		Currency:  currency,
		Subtotal:  subtotal,
		EventIDs:  append([]string(nil), ids...),
	})
	// 合计不为正的发票无应收余额，开具即结清
	if !subtotal.IsPositive() {
		inv.setStatus(InvoiceStatusPaid, "nothing due", now)
		for _, e := range events {
			if err := e.markPaid(now); err != nil {
				return nil, err
			}
		}
	}
	return inv, nil
}

// RecordPayment 记录一笔收款，金额最多两位小数。余额 <= 0 时发票结清，并将所有仍为 invoiced 的组成事件迁移为 paid；
// 否则为部分支付，组成事件保持 invoiced。调用方须保证对同一发票串行执行。
func (inv *Invoice) RecordPayment(events []*FeeEvent, amount decimal.Decimal, reference string, at time.Time) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "payment amount must be positive")
	}
	if !amount.Equal(RoundSettlement(amount)) {
		return NewValidationError("amount", fmt.Sprintf("payment amount has more than %d decimal places", SettlementPlaces))
	}
	if strings.TrimSpace(reference) == "" {
		return NewValidationError("reference", "payment reference is required")
	}
	if !inv.Status.acceptsPayment() {
		return newInvalidTransition("invoice", inv.ID, inv.Status, InvoiceStatusPaid)
	}
	linked, err := inv.linked(events)
	if err != nil {
		return err
	}

	inv.PaidAmount = inv.PaidAmount.Add(amount)
	inv.BalanceDue = inv.Total.Sub(inv.PaidAmount)
	inv.Payments = append(inv.Payments, Payment{Amount: amount, Reference: reference, ReceivedAt: at})
	inv.UpdatedAt = at
	inv.record(InvoicePaymentRecordedEvent{
		EventMeta:  EventMeta{Type: EventTypeInvoicePaymentRecorded, Aggregate: inv.ID, At: at},
		Amount:     amount,
		Reference:  reference,
		PaidAmount: inv.PaidAmount,
		BalanceDue: inv.BalanceDue,
	})

	if inv.BalanceDue.IsPositive() {
		inv.setStatus(InvoiceStatusPartiallyPaid, "", at)
		return nil
	}
	inv.setStatus(InvoiceStatusPaid, "", at)
	for _, e := range linked {
		if e.Status != FeeEventStatusInvoiced {
			continue
		}
		if err := e.markPaid(at); err != nil {
			return err
		}
	}
	return nil
}

// Cancel 取消未收款的发票，组成事件中尚未终结的一并取消
func (inv *Invoice) Cancel(events []*FeeEvent, reason string, at time.Time) error {
	if inv.Status != InvoiceStatusIssued || inv.PaidAmount.IsPositive() {
		return newInvalidTransition("invoice", inv.ID, inv.Status, InvoiceStatusCancelled)
	}
	linked, err := inv.linked(events)
	if err != nil {
		return err
	}
	for _, e := range linked {
		if e.Status.IsTerminal() {
			continue
		}
		if err := e.Cancel("invoice cancelled: "+reason, at); err != nil {
			return err
		}
	}
	inv.setStatus(InvoiceStatusCancelled, reason, at)
	return nil
}

// Dispute 发票进入争议
func (inv *Invoice) Dispute(reason string, at time.Time) error {
	if !inv.Status.acceptsPayment() {
		return newInvalidTransition("invoice", inv.ID, inv.Status, InvoiceStatusDisputed)
	}
	inv.setStatus(InvoiceStatusDisputed, reason, at)
	return nil
}

// ResolveDispute 争议解决，按已付金额恢复为 issued 或 partially_paid
func (inv *Invoice) ResolveDispute(at time.Time) error {
	if inv.Status != InvoiceStatusDisputed {
		return newInvalidTransition("invoice", inv.ID, inv.Status, InvoiceStatusIssued)
	}
	next := InvoiceStatusIssued
	if inv.PaidAmount.IsPositive() {
		next = InvoiceStatusPartiallyPaid
	}
	inv.setStatus(next, "dispute resolved", at)
	return nil
}

// Inspect 对账检查：小计与当前仍挂在发票上的未作废事件金额之和比较。
// 不一致时标记 HasDiscrepancy 并记录差额 (小计 − 合计)；标记一经置位不会自动清除，也从不修改小计。
func (inv *Invoice) Inspect(events []*FeeEvent, at time.Time) bool {
	linkedTotal := decimal.Zero
	for _, e := range events {
		if e.InvoiceID != inv.ID || e.Status == FeeEventStatusVoided {
			continue
		}
		linkedTotal = linkedTotal.Add(e.ComputedAmount)
	}
	if linkedTotal.Equal(inv.Subtotal) {
		return false
	}
	diff := inv.Subtotal.Sub(linkedTotal)
	changed := !inv.HasDiscrepancy || !inv.DiscrepancyAmount.Equal(diff)
	inv.HasDiscrepancy = true
	inv.DiscrepancyAmount = diff
	if changed {
		inv.UpdatedAt = at
		inv.record(InvoiceDiscrepancyFlaggedEvent{
			EventMeta:         EventMeta{Type: EventTypeInvoiceDiscrepancyFlagged, Aggregate: inv.ID, At: at},
			Subtotal:          inv.Subtotal,
			LinkedTotal:       linkedTotal,
			DiscrepancyAmount: diff,
		})
	}
	return true
}

// EffectiveStatus 派生状态：过了到期日仍有余额、且未处于取消/争议/结清状态的发票视为 overdue。
// 评估日期由调用方显式传入。
func (inv *Invoice) EffectiveStatus(asOf civil.Date) InvoiceStatus {
	if inv.Status.acceptsPayment() && asOf.After(inv.DueDate) && inv.BalanceDue.IsPositive() {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// linked 校验传入的事件集合恰好是本发票的组成事件
func (inv *Invoice) linked(events []*FeeEvent) ([]*FeeEvent, error) {
	byID := make(map[string]*FeeEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	out := make([]*FeeEvent, 0, len(inv.EventIDs))
	for _, id := range inv.EventIDs {
		e, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: fee event %s of invoice %s", ErrNotFound, id, inv.ID)
		}
		out = append(out, e)
	}
	return out, nil
}

func (inv *Invoice) setStatus(to InvoiceStatus, reason string, at time.Time) {
	if inv.Status == to {
		return
	}
	from := inv.Status
	inv.Status = to
	inv.UpdatedAt = at
	inv.record(InvoiceTransitionedEvent{
		EventMeta: EventMeta{Type: EventTypeInvoiceTransitioned, Aggregate: inv.ID, At: at},
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

// Clone 深拷贝，不含待发布事件
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.eventRecorder = eventRecorder{}
	c.EventIDs = append([]string(nil), inv.EventIDs...)
	c.Payments = append([]Payment(nil), inv.Payments...)
	return &c
}
