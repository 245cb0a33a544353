package application

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
)

// CreatePlanCommand 创建费用计划
type CreatePlanCommand struct {
	Name     string
	Currency string
}

// AddComponentCommand 向草稿计划添加组件；组件及其分档链的 ID 为空时自动生成
type AddComponentCommand struct {
	PlanID    string
	Component *domain.FeeComponent
}

// CalculateFeeCommand 计算费用：引用激活计划中的组件，或直接给出独立组件
type CalculateFeeCommand struct {
	PlanID      string
	ComponentID string
	Component   *domain.FeeComponent
	Inputs      domain.FeeInputs
}

// RecordFeeCommand 计算并入账一笔费用事件
type RecordFeeCommand struct {
	CalculateFeeCommand
	PartyID string
}

// TransitionFeeEventCommand 费用事件的人工状态迁移
type TransitionFeeEventCommand struct {
	FeeEventID string
	Reason     string
}

// VoidAndRecreateCommand 作废并按原费率快照重算
type VoidAndRecreateCommand struct {
	FeeEventID string
	Reason     string
	Inputs     domain.FeeInputs
}

// CorrectFeeEventCommand 对已支付事件追加冲销
type CorrectFeeEventCommand struct {
	FeeEventID      string
	CorrectedAmount decimal.Decimal
	Reason          string
}

// CreateInvoiceCommand 开具发票；IssueDate 为空取当天，DueDate 为空按默认账期推算
type CreateInvoiceCommand struct {
	PartyID     string
	FeeEventIDs []string
	IssueDate   *civil.Date
	DueDate     *civil.Date
}

// RecordPaymentCommand 发票收款
type RecordPaymentCommand struct {
	InvoiceID string
	Amount    decimal.Decimal
	Reference string
}

// InvoiceReasonCommand 带原因的发票操作（取消、争议）
type InvoiceReasonCommand struct {
	InvoiceID string
	Reason    string
}

// AccrueCommissionCommand 计提佣金；FeeEventID 与 OverrideBase 二选一
type AccrueCommissionCommand struct {
	IntroducerID string
	FeeEventID   string
	OverrideBase *decimal.Decimal
	PartyID      string
	Currency     string
	RateBps      domain.Rate
}

// ApproveCommissionCommand 审批佣金
type ApproveCommissionCommand struct {
	CommissionID string
	Approver     string
}

// PayCommissionCommand 支付佣金
type PayCommissionCommand struct {
	CommissionID string
	Reference    string
}
