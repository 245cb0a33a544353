package application

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// InvoiceView 发票及其按评估日派生的状态
type InvoiceView struct {
	Invoice         *domain.Invoice
	EffectiveStatus domain.InvoiceStatus
	AsOf            civil.Date
}

// GetPlan 查询计划
func (s *FeeEngineService) GetPlan(ctx context.Context, id string) (*domain.FeePlan, error) {
	return s.plans.Get(ctx, id)
}

// ListPlans 按状态查询计划，状态为空返回全部
func (s *FeeEngineService) ListPlans(ctx context.Context, status domain.PlanStatus) ([]*domain.FeePlan, error) {
	return s.plans.List(ctx, status)
}

// GetFeeEvent 查询费用事件
func (s *FeeEngineService) GetFeeEvent(ctx context.Context, id string) (*domain.FeeEvent, error) {
	return s.events.Get(ctx, id)
}

// ListFeeEvents 按投资人与状态查询费用事件，状态为空返回全部
func (s *FeeEngineService) ListFeeEvents(ctx context.Context, partyID string, status domain.FeeEventStatus) ([]*domain.FeeEvent, error) {
	if partyID == "" {
		return nil, domain.NewValidationError("party_id", "party is required")
	}
	return s.events.ListByParty(ctx, partyID, status)
}

// GetInvoice 查询发票。评估日由调用方传入，为 nil 时取服务时钟的当天。
func (s *FeeEngineService) GetInvoice(ctx context.Context, id string, asOf *civil.Date) (*InvoiceView, error) {
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(inv, asOf), nil
}

// ListInvoices 查询投资人的发票
func (s *FeeEngineService) ListInvoices(ctx context.Context, partyID string, asOf *civil.Date) ([]*InvoiceView, error) {
	if partyID == "" {
		return nil, domain.NewValidationError("party_id", "party is required")
	}
	invs, err := s.invoices.ListByParty(ctx, partyID)
	if err != nil {
		return nil, err
	}
	out := make([]*InvoiceView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, s.view(inv, asOf))
	}
	return out, nil
}

// InvoiceFeeEvents 查询发票的组成事件
func (s *FeeEngineService) InvoiceFeeEvents(ctx context.Context, invoiceID string) ([]*domain.FeeEvent, error) {
	return s.events.ListByInvoice(ctx, invoiceID)
}

func (s *FeeEngineService) view(inv *domain.Invoice, asOf *civil.Date) *InvoiceView {
	date := s.today()
	if asOf != nil {
		date = *asOf
	}
	return &InvoiceView{Invoice: inv, EffectiveStatus: inv.EffectiveStatus(date), AsOf: date}
}

// GetCommission 查询佣金
func (s *FeeEngineService) GetCommission(ctx context.Context, id string) (*domain.IntroducerCommission, error) {
	return s.commissions.Get(ctx, id)
}

// ListCommissions 按介绍人或费用事件查询佣金
func (s *FeeEngineService) ListCommissions(ctx context.Context, introducerID, feeEventID string) ([]*domain.IntroducerCommission, error) {
	switch {
	case introducerID != "":
		return s.commissions.ListByIntroducer(ctx, introducerID)
	case feeEventID != "":
		return s.commissions.ListByFeeEvent(ctx, feeEventID)
	default:
		return nil, domain.NewValidationError("introducer_id", "introducer_id or fee_event_id is required")
	}
}
