package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/lock"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/persistence/memory"
	"github.com/wyfcoding/feeengine/pkg/idgen"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	computed  int
	conflicts int
	payments  int
	flagged   int
}

func (r *recorder) FeeComputed(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computed++
}

func (r *recorder) Transition(string, string) {}

func (r *recorder) Discrepancy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flagged++
}

func (r *recorder) Payment(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments++
}

func (r *recorder) Conflict(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts++
}

type fixture struct {
	svc     *FeeEngineService
	store   *memory.Store
	metrics *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	rec := &recorder{}
	svc := NewFeeEngineService(Dependencies{
		Plans:       store.Plans(),
		Events:      store.FeeEvents(),
		Invoices:    store.Invoices(),
		Commissions: store.Commissions(),
		Outbox:      store.Outbox(),
		Tx:          store,
		Locker:      lock.NewLocalLocker(),
		IDGen:       &idgen.Sequence{},
		Metrics:     rec,
		Clock:       func() time.Time { return fixedNow },
	}, Options{InvoiceDueDays: 30}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, store: store, metrics: rec}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// passThrough 以 100% 费率把基数原样计为费用，便于构造指定金额的事件
func passThrough() *domain.FeeComponent {
	return &domain.FeeComponent{
		Kind:      domain.FeeKindOther,
		Method:    domain.CalcMethodPercentage,
		Frequency: domain.FrequencyOneTime,
		RateBps:   10000,
		Currency:  "USD",
	}
}

func (f *fixture) accrue(t *testing.T, party, amount string) *domain.FeeEvent {
	t.Helper()
	e, err := f.svc.RecordFee(context.Background(), RecordFeeCommand{
		CalculateFeeCommand: CalculateFeeCommand{
			Component: passThrough(),
			Inputs:    domain.FeeInputs{BaseAmount: dec(amount)},
		},
		PartyID: party,
	})
	if err != nil {
		t.Fatalf("record fee %s: %v", amount, err)
	}
	return e
}

func (f *fixture) invoice(t *testing.T, party string, events ...*domain.FeeEvent) *domain.Invoice {
	t.Helper()
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceCommand{PartyID: party, FeeEventIDs: ids})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestPlanLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.svc.CreatePlan(ctx, CreatePlanCommand{Name: "Fund I", Currency: "usd"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Currency != "USD" || plan.Status != domain.PlanStatusDraft {
		t.Fatalf("plan = %+v", plan)
	}

	mult := dec("2")
	plan, err = f.svc.AddComponent(ctx, AddComponentCommand{PlanID: plan.ID, Component: &domain.FeeComponent{
		Kind:                    domain.FeeKindPerformance,
		Method:                  domain.CalcMethodTiered,
		Frequency:               domain.FrequencyOnExit,
		RateBps:                 2000,
		TierThresholdMultiplier: &mult,
		NextTier:                &domain.FeeComponent{Kind: domain.FeeKindPerformance, Method: domain.CalcMethodTiered, RateBps: 3000},
	}})
	if err != nil {
		t.Fatal(err)
	}
	c := plan.Components[0]
	if c.ID == "" || c.NextTier == nil || c.NextTier.ID == "" || c.NextTier.PlanID != plan.ID {
		t.Fatalf("component ids not assigned: %+v", c)
	}

	// 草稿计划不可用于计算
	_, err = f.svc.PreviewFee(ctx, CalculateFeeCommand{PlanID: plan.ID, ComponentID: c.ID})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("preview on draft plan: %v", err)
	}

	if _, err := f.svc.ActivatePlan(ctx, plan.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddComponent(ctx, AddComponentCommand{PlanID: plan.ID, Component: passThrough()}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("add to active plan: %v", err)
	}
	if _, err := f.svc.RemoveComponent(ctx, plan.ID, c.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("remove from active plan: %v", err)
	}

	active, err := f.svc.ListPlans(ctx, domain.PlanStatusActive)
	if err != nil || len(active) != 1 {
		t.Fatalf("active plans = %d, %v", len(active), err)
	}

	if _, err := f.svc.RetirePlan(ctx, plan.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RetirePlan(ctx, plan.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("retire twice: %v", err)
	}
}

func TestRecordFeeFromPlanFreezesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, _ := f.svc.CreatePlan(ctx, CreatePlanCommand{Name: "Mgmt", Currency: "USD"})
	plan, err := f.svc.AddComponent(ctx, AddComponentCommand{PlanID: plan.ID, Component: &domain.FeeComponent{
		Kind:      domain.FeeKindManagement,
		Method:    domain.CalcMethodProRata,
		Frequency: domain.FrequencyQuarterly,
		RateBps:   150,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ActivatePlan(ctx, plan.ID); err != nil {
		t.Fatal(err)
	}

	start := civil.Date{Year: 2026, Month: time.January, Day: 1}
	end := start.AddDays(90)
	cmd := CalculateFeeCommand{
		PlanID:      plan.ID,
		ComponentID: plan.Components[0].ID,
		Inputs: domain.FeeInputs{
			InvestmentAmount: dec("500000"),
			PeriodStart:      &start,
			PeriodEnd:        &end,
		},
	}

	calc, err := f.svc.PreviewFee(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !calc.Amount.Equal(dec("1869.86")) {
		t.Fatalf("preview = %s, want 1869.86", calc.Amount)
	}
	if n, _ := f.store.FeeEvents().ListByParty(ctx, "P1", ""); len(n) != 0 {
		t.Fatal("preview must not persist")
	}

	e, err := f.svc.RecordFee(ctx, RecordFeeCommand{CalculateFeeCommand: cmd, PartyID: "P1"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != domain.FeeEventStatusAccrued || !e.ComputedAmount.Equal(dec("1869.86")) {
		t.Fatalf("event = %+v", e)
	}
	if e.Snapshot.RateBps != 150 || e.Snapshot.Method != domain.CalcMethodProRata || e.PlanID != plan.ID {
		t.Errorf("snapshot = %+v", e.Snapshot)
	}
	if f.metrics.computed != 1 {
		t.Errorf("fees computed = %d", f.metrics.computed)
	}

	listed, err := f.svc.ListFeeEvents(ctx, "P1", domain.FeeEventStatusAccrued)
	if err != nil || len(listed) != 1 {
		t.Fatalf("listed = %d, %v", len(listed), err)
	}
	if _, err := f.svc.ListFeeEvents(ctx, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("list without party: %v", err)
	}
}

func TestCalculateRejectsAmbiguousComponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CalculateFeeCommand
		want error
	}{
		{"both plan and standalone", CalculateFeeCommand{PlanID: "FP1", ComponentID: "FC1", Component: passThrough()}, domain.ErrValidation},
		{"neither", CalculateFeeCommand{}, domain.ErrValidation},
		{"unknown plan", CalculateFeeCommand{PlanID: "FP404", ComponentID: "FC1"}, domain.ErrNotFound},
		{"negative input", CalculateFeeCommand{Component: passThrough(), Inputs: domain.FeeInputs{BaseAmount: dec("-1")}}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.PreviewFee(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInvoicePaidInFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	inv := f.invoice(t, "P1", a, b)

	if !inv.Subtotal.Equal(dec("1500")) || inv.Status != domain.InvoiceStatusIssued {
		t.Fatalf("invoice = %+v", inv)
	}
	if inv.DueDate != civil.DateOf(fixedNow).AddDays(30) {
		t.Errorf("due date = %s", inv.DueDate)
	}
	for _, id := range []string{a.ID, b.ID} {
		e, _ := f.svc.GetFeeEvent(ctx, id)
		if e.Status != domain.FeeEventStatusInvoiced || e.InvoiceID != inv.ID {
			t.Fatalf("event %s = %s on %q", id, e.Status, e.InvoiceID)
		}
	}

	paid, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("1500.00"), Reference: "wire-1"})
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != domain.InvoiceStatusPaid || !paid.BalanceDue.IsZero() {
		t.Fatalf("invoice after payment = %s balance %s", paid.Status, paid.BalanceDue)
	}
	events, err := f.svc.InvoiceFeeEvents(ctx, inv.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("invoice events = %d, %v", len(events), err)
	}
	for _, e := range events {
		if e.Status != domain.FeeEventStatusPaid {
			t.Errorf("event %s = %s, want paid", e.ID, e.Status)
		}
	}
	if f.metrics.payments != 1 {
		t.Errorf("payments = %d", f.metrics.payments)
	}

	// 已支付事件不可作废
	if _, err := f.svc.VoidFeeEvent(ctx, TransitionFeeEventCommand{FeeEventID: a.ID, Reason: "late"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("void paid event: %v", err)
	}
}

func TestCreateInvoiceRejectsInvoicedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	first := f.invoice(t, "P1", a)

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceCommand{PartyID: "P1", FeeEventIDs: []string{b.ID, a.ID}})
	if !errors.Is(err, domain.ErrAlreadyInvoiced) {
		t.Fatalf("err = %v, want ErrAlreadyInvoiced", err)
	}

	got, err := f.svc.GetInvoice(ctx, first.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Invoice.Version != first.Version || !got.Invoice.Subtotal.Equal(dec("1200")) || len(got.Invoice.EventIDs) != 1 {
		t.Errorf("first invoice changed: %+v", got.Invoice)
	}
	other, _ := f.svc.GetFeeEvent(ctx, b.ID)
	if other.Status != domain.FeeEventStatusAccrued || other.InvoiceID != "" {
		t.Errorf("rolled back event = %s on %q", other.Status, other.InvoiceID)
	}
	invs, _ := f.svc.ListInvoices(ctx, "P1", nil)
	if len(invs) != 1 {
		t.Errorf("invoices = %d, want 1", len(invs))
	}
}

func TestConcurrentInvoiceCreationAttachesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "500.00")

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateInvoice(ctx, CreateInvoiceCommand{PartyID: "P1", FeeEventIDs: []string{e.ID}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrAlreadyInvoiced):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || rejected != n-1 {
		t.Fatalf("wins = %d, rejected = %d", wins, rejected)
	}
}

func TestConcurrentPaymentsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	inv := f.invoice(t, "P1", a, b)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("150.00"), Reference: "ach"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("payment: %v", err)
		}
	}

	view, err := f.svc.GetInvoice(ctx, inv.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := view.Invoice
	if !got.PaidAmount.Equal(dec("1500")) || len(got.Payments) != n || got.Status != domain.InvoiceStatusPaid {
		t.Fatalf("paid %s across %d payments, status %s", got.PaidAmount, len(got.Payments), got.Status)
	}
}

func TestPartialPaymentAndOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "P1", f.accrue(t, "P1", "1000.00"))

	got, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("400"), Reference: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.InvoiceStatusPartiallyPaid || !got.BalanceDue.Equal(dec("600")) {
		t.Fatalf("invoice = %s balance %s", got.Status, got.BalanceDue)
	}
	events, _ := f.svc.InvoiceFeeEvents(ctx, inv.ID)
	if events[0].Status != domain.FeeEventStatusInvoiced {
		t.Errorf("event after partial payment = %s", events[0].Status)
	}

	late := inv.DueDate.AddDays(1)
	view, err := f.svc.GetInvoice(ctx, inv.ID, &late)
	if err != nil {
		t.Fatal(err)
	}
	if view.EffectiveStatus != domain.InvoiceStatusOverdue || view.Invoice.Status != domain.InvoiceStatusPartiallyPaid {
		t.Errorf("effective = %s, stored = %s", view.EffectiveStatus, view.Invoice.Status)
	}
	onTime, _ := f.svc.GetInvoice(ctx, inv.ID, &inv.DueDate)
	if onTime.EffectiveStatus != domain.InvoiceStatusPartiallyPaid {
		t.Errorf("effective on due date = %s", onTime.EffectiveStatus)
	}

	if _, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("0"), Reference: "r2"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("zero payment: %v", err)
	}
	if _, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: "INV404", Amount: dec("1"), Reference: "r3"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown invoice: %v", err)
	}
}

func TestVoidInvoicedEventFlagsDiscrepancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	inv := f.invoice(t, "P1", a, b)

	if _, err := f.svc.VoidFeeEvent(ctx, TransitionFeeEventCommand{FeeEventID: a.ID, Reason: "wrong rate"}); err != nil {
		t.Fatal(err)
	}
	view, _ := f.svc.GetInvoice(ctx, inv.ID, nil)
	got := view.Invoice
	if !got.HasDiscrepancy || !got.DiscrepancyAmount.Equal(dec("1200")) {
		t.Fatalf("discrepancy = %v %s", got.HasDiscrepancy, got.DiscrepancyAmount)
	}
	if !got.Subtotal.Equal(dec("1500")) {
		t.Errorf("subtotal must not be auto-corrected: %s", got.Subtotal)
	}
	if f.metrics.flagged != 1 {
		t.Errorf("discrepancies = %d", f.metrics.flagged)
	}

	// 再次检查不重复告警
	if _, err := f.svc.InspectInvoice(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if f.metrics.flagged != 1 {
		t.Errorf("discrepancies after re-inspect = %d", f.metrics.flagged)
	}
}

func TestVoidAndRecreateUsesFrozenRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.accrue(t, "P1", "1000.00")

	voided, next, err := f.svc.VoidAndRecreate(ctx, VoidAndRecreateCommand{
		FeeEventID: old.ID,
		Inputs:     domain.FeeInputs{BaseAmount: dec("800")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if voided.Status != domain.FeeEventStatusVoided || voided.Reason == "" {
		t.Errorf("voided = %s %q", voided.Status, voided.Reason)
	}
	if next.ReplacesEventID != old.ID || !next.ComputedAmount.Equal(dec("800")) || next.Status != domain.FeeEventStatusAccrued {
		t.Errorf("replacement = %+v", next)
	}
	if next.Snapshot.RateBps != old.Snapshot.RateBps {
		t.Errorf("replacement rate = %d, want %d", next.Snapshot.RateBps, old.Snapshot.RateBps)
	}

	if _, _, err := f.svc.VoidAndRecreate(ctx, VoidAndRecreateCommand{FeeEventID: old.ID}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("recreate voided event: %v", err)
	}
}

func TestCorrectPaidEventAppendsAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "1000.00")
	inv := f.invoice(t, "P1", e)
	if _, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("1000"), Reference: "w"}); err != nil {
		t.Fatal(err)
	}

	adj, err := f.svc.CorrectPaidEvent(ctx, CorrectFeeEventCommand{FeeEventID: e.ID, CorrectedAmount: dec("900"), Reason: "rebate"})
	if err != nil {
		t.Fatal(err)
	}
	if !adj.IsAdjustment || adj.CorrectsEventID != e.ID || !adj.ComputedAmount.Equal(dec("-100")) {
		t.Fatalf("adjustment = %+v", adj)
	}
	paid, _ := f.svc.GetFeeEvent(ctx, e.ID)
	if paid.Status != domain.FeeEventStatusPaid || !paid.ComputedAmount.Equal(dec("1000")) {
		t.Errorf("paid event mutated: %s %s", paid.Status, paid.ComputedAmount)
	}

	unpaid := f.accrue(t, "P1", "50")
	if _, err := f.svc.CorrectPaidEvent(ctx, CorrectFeeEventCommand{FeeEventID: unpaid.ID, CorrectedAmount: dec("40")}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("correct unpaid: %v", err)
	}
}

func TestDisputeResumesPriorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "100")
	f.invoice(t, "P1", e)

	disputed, err := f.svc.DisputeFeeEvent(ctx, TransitionFeeEventCommand{FeeEventID: e.ID, Reason: "rate"})
	if err != nil {
		t.Fatal(err)
	}
	if disputed.Status != domain.FeeEventStatusDisputed {
		t.Fatalf("status = %s", disputed.Status)
	}
	resolved, err := f.svc.ResolveFeeEventDispute(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.FeeEventStatusInvoiced {
		t.Errorf("resolved to %s, want invoiced", resolved.Status)
	}
}

func TestInvoiceCancelAndDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "100")
	inv := f.invoice(t, "P1", e)

	d, err := f.svc.DisputeInvoice(ctx, InvoiceReasonCommand{InvoiceID: inv.ID, Reason: "amount"})
	if err != nil || d.Status != domain.InvoiceStatusDisputed {
		t.Fatalf("dispute = %v, %v", d, err)
	}
	if _, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("10"), Reference: "x"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("payment on disputed invoice: %v", err)
	}
	r, err := f.svc.ResolveInvoiceDispute(ctx, inv.ID)
	if err != nil || r.Status != domain.InvoiceStatusIssued {
		t.Fatalf("resolve = %v, %v", r, err)
	}

	c, err := f.svc.CancelInvoice(ctx, InvoiceReasonCommand{InvoiceID: inv.ID, Reason: "reissue"})
	if err != nil || c.Status != domain.InvoiceStatusCancelled {
		t.Fatalf("cancel = %v, %v", c, err)
	}
	got, _ := f.svc.GetFeeEvent(ctx, e.ID)
	if got.Status != domain.FeeEventStatusCancelled {
		t.Errorf("event after cancel = %s", got.Status)
	}
}

func TestCommissionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "10000.00")

	c, err := f.svc.AccrueCommission(ctx, AccrueCommissionCommand{IntroducerID: "I1", FeeEventID: e.ID, RateBps: 2500})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Amount.Equal(dec("2500")) || !c.NetRetained.Equal(dec("7500")) || c.PartyID != "P1" {
		t.Fatalf("commission = %+v", c)
	}

	// 基础费用未开票前不可审批
	if _, err := f.svc.ApproveCommission(ctx, ApproveCommissionCommand{CommissionID: c.ID, Approver: "ops"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approve before invoicing: %v", err)
	}
	f.invoice(t, "P1", e)

	if _, err := f.svc.PayCommission(ctx, PayCommissionCommand{CommissionID: c.ID, Reference: "p"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pay before approval: %v", err)
	}
	approved, err := f.svc.ApproveCommission(ctx, ApproveCommissionCommand{CommissionID: c.ID, Approver: "ops"})
	if err != nil || approved.Status != domain.CommissionStatusApproved {
		t.Fatalf("approve = %v, %v", approved, err)
	}
	paid, err := f.svc.PayCommission(ctx, PayCommissionCommand{CommissionID: c.ID, Reference: "wire-9"})
	if err != nil || paid.Status != domain.CommissionStatusPaid || paid.PaidAt == nil {
		t.Fatalf("pay = %v, %v", paid, err)
	}

	override := dec("2000")
	o, err := f.svc.AccrueCommission(ctx, AccrueCommissionCommand{IntroducerID: "I1", OverrideBase: &override, PartyID: "P2", Currency: "usd", RateBps: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ApproveCommission(ctx, ApproveCommissionCommand{CommissionID: o.ID, Approver: "ops"}); err != nil {
		t.Fatalf("approve override: %v", err)
	}

	list, err := f.svc.ListCommissions(ctx, "I1", "")
	if err != nil || len(list) != 2 {
		t.Fatalf("by introducer = %d, %v", len(list), err)
	}
	byEvent, _ := f.svc.ListCommissions(ctx, "", e.ID)
	if len(byEvent) != 1 {
		t.Errorf("by fee event = %d", len(byEvent))
	}
	if _, err := f.svc.ListCommissions(ctx, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("list without filter: %v", err)
	}
}

func TestOutboxCapturesCommittedEventsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accrue(t, "P1", "100")
	f.invoice(t, "P1", a)

	// 失败的操作不写 outbox
	_, _ = f.svc.CreateInvoice(ctx, CreateInvoiceCommand{PartyID: "P1", FeeEventIDs: []string{a.ID}})

	types := map[string]int{}
	for _, r := range f.store.Outbox().Records(ctx) {
		types[r.EventType]++
	}
	if types[domain.EventTypeFeeAccrued] != 1 || types[domain.EventTypeInvoiceCreated] != 1 {
		t.Fatalf("outbox = %v", types)
	}
	if types[domain.EventTypeFeeEventTransitioned] != 1 {
		t.Errorf("attach transitions = %d", types[domain.EventTypeFeeEventTransitioned])
	}
}

func TestResolveDisputeAfterInvoicePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	inv := f.invoice(t, "P1", a, b)

	if _, err := f.svc.DisputeFeeEvent(ctx, TransitionFeeEventCommand{FeeEventID: b.ID, Reason: "rate"}); err != nil {
		t.Fatal(err)
	}
	paid, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("1500.00"), Reference: "wire-1"})
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != domain.InvoiceStatusPaid {
		t.Fatalf("invoice = %s", paid.Status)
	}

	resolved, err := f.svc.ResolveFeeEventDispute(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.FeeEventStatusPaid {
		t.Fatalf("resolved to %s, want paid", resolved.Status)
	}
	events, err := f.svc.InvoiceFeeEvents(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		if e.Status != domain.FeeEventStatusPaid {
			t.Errorf("event %s = %s, want paid", e.ID, e.Status)
		}
	}
}

func TestRecordPaymentRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.accrue(t, "P1", "1200.00")
	b := f.accrue(t, "P1", "300.00")
	inv := f.invoice(t, "P1", a, b)

	_, err := f.svc.RecordPayment(ctx, RecordPaymentCommand{InvoiceID: inv.ID, Amount: dec("1499.995"), Reference: "wire-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("sub-cent payment: %v", err)
	}
	view, err := f.svc.GetInvoice(ctx, inv.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	stored := view.Invoice
	if stored.Status != domain.InvoiceStatusIssued || !stored.PaidAmount.IsZero() || len(stored.Payments) != 0 {
		t.Errorf("invoice after rejected payment = %s paid %s", stored.Status, stored.PaidAmount)
	}
	if f.metrics.payments != 0 {
		t.Errorf("payments = %d", f.metrics.payments)
	}
}

func TestZeroTotalInvoiceIsSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.accrue(t, "P1", "0")
	inv := f.invoice(t, "P1", e)

	if inv.Status != domain.InvoiceStatusPaid || !inv.BalanceDue.IsZero() {
		t.Fatalf("invoice = %s balance %s", inv.Status, inv.BalanceDue)
	}
	stored, err := f.svc.GetFeeEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.FeeEventStatusPaid || stored.InvoiceID != inv.ID {
		t.Errorf("event = %s on %q", stored.Status, stored.InvoiceID)
	}
}
