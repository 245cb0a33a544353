// Package http 提供费用引擎的 REST 接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/feeengine/internal/feeengine/application"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/pkg/logger"
)

// FeeEngineHandler HTTP 处理器
type FeeEngineHandler struct {
	service *application.FeeEngineService
}

// NewFeeEngineHandler 创建 HTTP 处理器
func NewFeeEngineHandler(service *application.FeeEngineService) *FeeEngineHandler {
	return &FeeEngineHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *FeeEngineHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/plans", h.CreatePlan)
		api.GET("/plans", h.ListPlans)
		api.GET("/plans/:id", h.GetPlan)
		api.POST("/plans/:id/components", h.AddComponent)
		api.DELETE("/plans/:id/components/:component_id", h.RemoveComponent)
		api.POST("/plans/:id/activate", h.ActivatePlan)
		api.POST("/plans/:id/retire", h.RetirePlan)

		api.POST("/fees/preview", h.PreviewFee)
		api.POST("/fee-events", h.RecordFee)
		api.GET("/fee-events", h.ListFeeEvents)
		api.GET("/fee-events/:id", h.GetFeeEvent)
		api.POST("/fee-events/:id/void", h.VoidFeeEvent)
		api.POST("/fee-events/:id/waive", h.WaiveFeeEvent)
		api.POST("/fee-events/:id/cancel", h.CancelFeeEvent)
		api.POST("/fee-events/:id/dispute", h.DisputeFeeEvent)
		api.POST("/fee-events/:id/resolve", h.ResolveFeeEventDispute)
		api.POST("/fee-events/:id/recreate", h.VoidAndRecreate)
		api.POST("/fee-events/:id/corrections", h.CorrectPaidEvent)

		api.POST("/invoices", h.CreateInvoice)
		api.GET("/invoices", h.ListInvoices)
		api.GET("/invoices/:id", h.GetInvoice)
		api.GET("/invoices/:id/fee-events", h.InvoiceFeeEvents)
		api.POST("/invoices/:id/payments", h.RecordPayment)
		api.POST("/invoices/:id/cancel", h.CancelInvoice)
		api.POST("/invoices/:id/dispute", h.DisputeInvoice)
		api.POST("/invoices/:id/resolve", h.ResolveInvoiceDispute)
		api.POST("/invoices/:id/inspect", h.InspectInvoice)

		api.POST("/commissions", h.AccrueCommission)
		api.GET("/commissions", h.ListCommissions)
		api.GET("/commissions/:id", h.GetCommission)
		api.POST("/commissions/:id/approve", h.ApproveCommission)
		api.POST("/commissions/:id/pay", h.PayCommission)
	}
}

// writeError 按领域错误类别映射 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPrecisionLoss):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyInvoiced):
		status, code = http.StatusConflict, "already_invoiced"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrLockNotAcquired):
		status, code = http.StatusConflict, "concurrent_modification"
	default:
		logger.Error(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"error": err.Error(), "code": code}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation"})
}

// CreatePlan 创建计划
func (h *FeeEngineHandler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, err := h.service.CreatePlan(c.Request.Context(), application.CreatePlanCommand{Name: req.Name, Currency: req.Currency})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPlanResponse(plan))
}

// ListPlans 查询计划
func (h *FeeEngineHandler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context(), domain.PlanStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

// GetPlan 查询计划
func (h *FeeEngineHandler) GetPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

// AddComponent 添加组件
func (h *FeeEngineHandler) AddComponent(c *gin.Context) {
	var req ComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	component, err := req.toDomain()
	if err != nil {
		writeError(c, err)
		return
	}
	plan, err := h.service.AddComponent(c.Request.Context(), application.AddComponentCommand{PlanID: c.Param("id"), Component: component})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

// RemoveComponent 移除组件
func (h *FeeEngineHandler) RemoveComponent(c *gin.Context) {
	plan, err := h.service.RemoveComponent(c.Request.Context(), c.Param("id"), c.Param("component_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

// ActivatePlan 激活计划
func (h *FeeEngineHandler) ActivatePlan(c *gin.Context) {
	plan, err := h.service.ActivatePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

// RetirePlan 停用计划
func (h *FeeEngineHandler) RetirePlan(c *gin.Context) {
	plan, err := h.service.RetirePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPlanResponse(plan))
}

// PreviewFee 试算
func (h *FeeEngineHandler) PreviewFee(c *gin.Context) {
	var req CalculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd, err := req.toCommand()
	if err != nil {
		writeError(c, err)
		return
	}
	calc, err := h.service.PreviewFee(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCalculationResponse(calc))
}

// RecordFee 计算并入账
func (h *FeeEngineHandler) RecordFee(c *gin.Context) {
	var req RecordFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd, err := req.toCommand()
	if err != nil {
		writeError(c, err)
		return
	}
	event, err := h.service.RecordFee(c.Request.Context(), application.RecordFeeCommand{CalculateFeeCommand: cmd, PartyID: req.PartyID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFeeEventResponse(event))
}

// ListFeeEvents 按投资人查询费用事件
func (h *FeeEngineHandler) ListFeeEvents(c *gin.Context) {
	events, err := h.service.ListFeeEvents(c.Request.Context(), c.Query("party_id"), domain.FeeEventStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_events": toFeeEventResponses(events)})
}

// GetFeeEvent 查询费用事件
func (h *FeeEngineHandler) GetFeeEvent(c *gin.Context) {
	event, err := h.service.GetFeeEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeeEventResponse(event))
}

func (h *FeeEngineHandler) transition(c *gin.Context, fn func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error)) {
	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	event, err := fn(application.TransitionFeeEventCommand{FeeEventID: c.Param("id"), Reason: req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeeEventResponse(event))
}

// VoidFeeEvent 作废
func (h *FeeEngineHandler) VoidFeeEvent(c *gin.Context) {
	h.transition(c, func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error) {
		return h.service.VoidFeeEvent(c.Request.Context(), cmd)
	})
}

// WaiveFeeEvent 豁免
func (h *FeeEngineHandler) WaiveFeeEvent(c *gin.Context) {
	h.transition(c, func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error) {
		return h.service.WaiveFeeEvent(c.Request.Context(), cmd)
	})
}

// CancelFeeEvent 取消
func (h *FeeEngineHandler) CancelFeeEvent(c *gin.Context) {
	h.transition(c, func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error) {
		return h.service.CancelFeeEvent(c.Request.Context(), cmd)
	})
}

// DisputeFeeEvent 发起争议
func (h *FeeEngineHandler) DisputeFeeEvent(c *gin.Context) {
	h.transition(c, func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error) {
		return h.service.DisputeFeeEvent(c.Request.Context(), cmd)
	})
}

// ResolveFeeEventDispute 解决争议
func (h *FeeEngineHandler) ResolveFeeEventDispute(c *gin.Context) {
	h.transition(c, func(cmd application.TransitionFeeEventCommand) (*domain.FeeEvent, error) {
		return h.service.ResolveFeeEventDispute(c.Request.Context(), cmd.FeeEventID)
	})
}

// VoidAndRecreate 作废并重算
func (h *FeeEngineHandler) VoidAndRecreate(c *gin.Context) {
	var req RecreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in, err := req.Inputs.toDomain()
	if err != nil {
		writeError(c, err)
		return
	}
	voided, replacement, err := h.service.VoidAndRecreate(c.Request.Context(), application.VoidAndRecreateCommand{
		FeeEventID: c.Param("id"),
		Reason:     req.Reason,
		Inputs:     in,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"voided":      toFeeEventResponse(voided),
		"replacement": toFeeEventResponse(replacement),
	})
}

// CorrectPaidEvent 对已支付事件追加冲销
func (h *FeeEngineHandler) CorrectPaidEvent(c *gin.Context) {
	var req CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := domain.ParseAmount("corrected_amount", req.CorrectedAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	adj, err := h.service.CorrectPaidEvent(c.Request.Context(), application.CorrectFeeEventCommand{
		FeeEventID:      c.Param("id"),
		CorrectedAmount: amount,
		Reason:          req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFeeEventResponse(adj))
}

// CreateInvoice 开票
func (h *FeeEngineHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	issue, err := optionalDate("issue_date", req.IssueDate)
	if err != nil {
		writeError(c, err)
		return
	}
	due, err := optionalDate("due_date", req.DueDate)
	if err != nil {
		writeError(c, err)
		return
	}
	inv, err := h.service.CreateInvoice(c.Request.Context(), application.CreateInvoiceCommand{
		PartyID:     req.PartyID,
		FeeEventIDs: req.FeeEventIDs,
		IssueDate:   issue,
		DueDate:     due,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toInvoiceResponse(inv))
}

// ListInvoices 查询投资人发票，as_of 指定派生状态的评估日
func (h *FeeEngineHandler) ListInvoices(c *gin.Context) {
	asOf, err := optionalDate("as_of", c.Query("as_of"))
	if err != nil {
		writeError(c, err)
		return
	}
	views, err := h.service.ListInvoices(c.Request.Context(), c.Query("party_id"), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*InvoiceResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toInvoiceViewResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out})
}

// GetInvoice 查询发票
func (h *FeeEngineHandler) GetInvoice(c *gin.Context) {
	asOf, err := optionalDate("as_of", c.Query("as_of"))
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := h.service.GetInvoice(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceViewResponse(view))
}

// InvoiceFeeEvents 查询发票的组成事件
func (h *FeeEngineHandler) InvoiceFeeEvents(c *gin.Context) {
	events, err := h.service.InvoiceFeeEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_events": toFeeEventResponses(events)})
}

// RecordPayment 收款
func (h *FeeEngineHandler) RecordPayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	amount, err := domain.ParseAmount("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	inv, err := h.service.RecordPayment(c.Request.Context(), application.RecordPaymentCommand{
		InvoiceID: c.Param("id"),
		Amount:    amount,
		Reference: req.Reference,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

func (h *FeeEngineHandler) invoiceAction(c *gin.Context, fn func(cmd application.InvoiceReasonCommand) (*domain.Invoice, error)) {
	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	inv, err := fn(application.InvoiceReasonCommand{InvoiceID: c.Param("id"), Reason: req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

// CancelInvoice 取消发票
func (h *FeeEngineHandler) CancelInvoice(c *gin.Context) {
	h.invoiceAction(c, func(cmd application.InvoiceReasonCommand) (*domain.Invoice, error) {
		return h.service.CancelInvoice(c.Request.Context(), cmd)
	})
}

// DisputeInvoice 发票争议
func (h *FeeEngineHandler) DisputeInvoice(c *gin.Context) {
	h.invoiceAction(c, func(cmd application.InvoiceReasonCommand) (*domain.Invoice, error) {
		return h.service.DisputeInvoice(c.Request.Context(), cmd)
	})
}

// ResolveInvoiceDispute 解决发票争议
func (h *FeeEngineHandler) ResolveInvoiceDispute(c *gin.Context) {
	h.invoiceAction(c, func(cmd application.InvoiceReasonCommand) (*domain.Invoice, error) {
		return h.service.ResolveInvoiceDispute(c.Request.Context(), cmd.InvoiceID)
	})
}

// InspectInvoice 对账检查
func (h *FeeEngineHandler) InspectInvoice(c *gin.Context) {
	h.invoiceAction(c, func(cmd application.InvoiceReasonCommand) (*domain.Invoice, error) {
		return h.service.InspectInvoice(c.Request.Context(), cmd.InvoiceID)
	})
}

// AccrueCommission 计提佣金
func (h *FeeEngineHandler) AccrueCommission(c *gin.Context) {
	var req AccrueCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	override, err := optionalAmount("override_base", req.OverrideBase)
	if err != nil {
		writeError(c, err)
		return
	}
	rate, err := resolveRate(req.RateBps, req.RatePercent)
	if err != nil {
		writeError(c, err)
		return
	}
	commission, err := h.service.AccrueCommission(c.Request.Context(), application.AccrueCommissionCommand{
		IntroducerID: req.IntroducerID,
		FeeEventID:   req.FeeEventID,
		OverrideBase: override,
		PartyID:      req.PartyID,
		Currency:     req.Currency,
		RateBps:      rate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCommissionResponse(commission))
}

// ListCommissions 按介绍人或费用事件查询佣金
func (h *FeeEngineHandler) ListCommissions(c *gin.Context) {
	list, err := h.service.ListCommissions(c.Request.Context(), c.Query("introducer_id"), c.Query("fee_event_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]*CommissionResponse, 0, len(list))
	for _, cm := range list {
		out = append(out, toCommissionResponse(cm))
	}
	c.JSON(http.StatusOK, gin.H{"commissions": out})
}

// GetCommission 查询佣金
func (h *FeeEngineHandler) GetCommission(c *gin.Context) {
	commission, err := h.service.GetCommission(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCommissionResponse(commission))
}

// ApproveCommission 审批佣金
func (h *FeeEngineHandler) ApproveCommission(c *gin.Context) {
	var req ApproveCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	commission, err := h.service.ApproveCommission(c.Request.Context(), application.ApproveCommissionCommand{
		CommissionID: c.Param("id"),
		Approver:     req.Approver,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCommissionResponse(commission))
}

// PayCommission 支付佣金
func (h *FeeEngineHandler) PayCommission(c *gin.Context) {
	var req PayCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	commission, err := h.service.PayCommission(c.Request.Context(), application.PayCommissionCommand{
		CommissionID: c.Param("id"),
		Reference:    req.Reference,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCommissionResponse(commission))
}
