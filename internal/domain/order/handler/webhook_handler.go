package handler

import (
	"encoding/json"
	"net/http"

	"kin_marketplace/internal/domain/order/service"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/pkg/logger"
	"kin_marketplace/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 支付服务的回调入口
// 除了报文本身无法解析（400），一律返回 200：处理失败都已落到订单或日志上，
// 让支付服务重投解决不了问题，只会放大它

type WebhookHandler struct {
	service service.WebhookService
}

func NewWebhookHandler(s service.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: s}
}

// WebhookEvent 支付服务事件信封
type WebhookEvent struct {
	Object string          `json:"object"` // payment, wallet
	State  string          `json:"state"`  // success, fail
	Action string          `json:"action"` // send, receive
	Value  json.RawMessage `json:"value"`
}

// paymentFailure 失败事件的载荷
type paymentFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// walletEvent 钱包事件的载荷
type walletEvent struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
}

// HandleWebhook 支付服务回调（内部）
// @Summary 支付回调（内部）
// @Tags Webhook
// @Router /v1/internal/webhook [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	var event WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	switch event.Object {
	case "payment":
		h.handlePaymentEvent(c, event)
	case "wallet":
		// 钱包创建完成的通知，只留痕
		var w walletEvent
		if err := json.Unmarshal(event.Value, &w); err == nil {
			logger.Log.Info("wallet event received",
				zap.String("wallet_id", w.ID),
				zap.String("address", w.WalletAddress),
				zap.String("state", event.State))
		}
	default:
		logger.Log.Warn("unknown webhook object", zap.String("object", event.Object))
	}

	// 支付服务只认这个固定应答体，不走统一响应信封
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *WebhookHandler) handlePaymentEvent(c *gin.Context, event WebhookEvent) {
	ctx := c.Request.Context()

	switch event.State {
	case "success":
		var p payment.Payment
		if err := json.Unmarshal(event.Value, &p); err != nil {
			logger.Log.Error("malformed payment payload", zap.Error(err))
			return
		}
		if err := h.service.CompletePayment(ctx, p); err != nil {
			logger.Log.Error("payment completion failed",
				zap.String("payment_id", p.ID),
				zap.Error(err))
		}

	case "fail":
		var f paymentFailure
		if err := json.Unmarshal(event.Value, &f); err != nil {
			logger.Log.Error("malformed payment failure payload", zap.Error(err))
			return
		}
		if err := h.service.FailPayment(ctx, f.ID, f.Reason); err != nil {
			logger.Log.Error("payment failure handling failed",
				zap.String("order_id", f.ID),
				zap.Error(err))
		}

	default:
		logger.Log.Warn("unknown payment state", zap.String("state", event.State))
	}
}
