package handler

import (
	"net/http"

	"kin_marketplace/internal/domain/order/model"
	"kin_marketplace/internal/domain/order/repository"
	"kin_marketplace/internal/domain/order/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/pkg/response"
	"kin_marketplace/pkg/utils"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(s service.OrderService) *OrderHandler {
	return &OrderHandler{service: s}
}

// CreateMarketplaceOrder 在某个 offer 上下单
// 已有未过期的 opened 订单时返回同一笔，不会重复占名额
// @Summary 创建市场订单
// @Tags Order
// @Router /v1/offers/{offer_id}/orders [post]
func (h *OrderHandler) CreateMarketplaceOrder(c *gin.Context) {
	view, err := h.service.CreateMarketplaceOrder(c.Request.Context(),
		middleware.AppID(c), middleware.UserID(c), middleware.DeviceID(c), c.Param("offer_id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, view)
}

type CreateExternalOrderInput struct {
	OrderJWT string `json:"order_jwt" binding:"required"`
}

// CreateExternalOrder 应用签发 JWT 的外部订单
// 同一 (offer, user, nonce) 已在途或已完成时返回 409 并带 Location
// @Summary 创建外部订单
// @Tags Order
// @Router /v1/orders [post]
func (h *OrderHandler) CreateExternalOrder(c *gin.Context) {
	var input CreateExternalOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	view, err := h.service.CreateExternalOrder(c.Request.Context(),
		middleware.AppID(c), middleware.UserID(c), middleware.DeviceID(c), input.OrderJWT)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, view)
}

// GetOrder 查询订单
// @Summary 查询订单
// @Tags Order
// @Router /v1/orders/{order_id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	view, err := h.service.GetOrder(c.Request.Context(), middleware.UserID(c), c.Param("order_id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

type SubmitOrderInput struct {
	Content     string `json:"content"`     // earn 答题载荷
	Transaction string `json:"transaction"` // spend 已签名交易
}

// SubmitOrder 提交订单，opened → pending 并触发支付
// @Summary 提交订单
// @Tags Order
// @Router /v1/orders/{order_id} [post]
func (h *OrderHandler) SubmitOrder(c *gin.Context) {
	var input SubmitOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	view, err := h.service.SubmitOrder(c.Request.Context(),
		middleware.UserID(c), c.Param("order_id"), input.Content, input.Transaction)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

// CancelOrder 取消 opened 订单
// @Summary 取消订单
// @Tags Order
// @Router /v1/orders/{order_id} [delete]
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	if err := h.service.CancelOrder(c.Request.Context(), middleware.UserID(c), c.Param("order_id")); err != nil {
		response.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ChangeOrderInput struct {
	Error model.OrderError `json:"error" binding:"required"`
}

// ChangeOrder 客户端上报失败（钱包侧签名失败等）
// @Summary 上报订单失败
// @Tags Order
// @Router /v1/orders/{order_id} [patch]
func (h *OrderHandler) ChangeOrder(c *gin.Context) {
	var input ChangeOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	view, err := h.service.ChangeOrder(c.Request.Context(),
		middleware.UserID(c), c.Param("order_id"), input.Error)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, view)
}

// OrderHistory 订单历史（不含 opened），分页，可按 origin / offer_id 过滤
// @Summary 订单历史
// @Tags Order
// @Router /v1/orders [get]
func (h *OrderHandler) OrderHistory(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	_, limit := p.GetPageOffset()

	filter := repository.HistoryFilter{
		Origin:  c.Query("origin"),
		OfferID: c.Query("offer_id"),
	}

	views, total, err := h.service.OrderHistory(c.Request.Context(), middleware.UserID(c), filter, p.Page, limit)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, utils.PageResult{
		List:  views,
		Total: total,
		Page:  p.Page,
		Limit: limit,
	})
}
