package order

import (
	assetRepository "kin_marketplace/internal/domain/asset/repository"
	offerRepository "kin_marketplace/internal/domain/offer/repository"
	offerService "kin_marketplace/internal/domain/offer/service"
	"kin_marketplace/internal/domain/order/handler"
	"kin_marketplace/internal/domain/order/repository"
	"kin_marketplace/internal/domain/order/service"
	userRepository "kin_marketplace/internal/domain/user/repository"
	userService "kin_marketplace/internal/domain/user/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/internal/pkg/registry"
	"kin_marketplace/internal/pkg/worker"

	"github.com/gin-gonic/gin"
)

// OrderModule 订单模块，依赖 user / offer / asset
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

func (m *OrderModule) Priority() int {
	return 20
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	oRepo := repository.NewOrderRepository(ctx.DB)
	offers := offerService.NewOfferService(offerRepository.NewOfferRepository(ctx.DB), ctx.Cache)
	users := userService.NewUserService(userRepository.NewUserRepository(ctx.DB), ctx.Limiter, ctx.Payment)
	assets := assetRepository.NewAssetRepository(ctx.DB)

	// 支付调用异步化，结果经 webhook 回来
	pool := worker.NewPool(ctx.Payment, 5, 200)
	pool.Start()

	oService := service.NewOrderService(oRepo, offers, users, ctx.Locker, ctx.Limiter, pool, ctx.Metrics)
	wService := service.NewWebhookService(oRepo, offers, users, assets, ctx.Cache, ctx.Metrics)

	oHandler := handler.NewOrderHandler(oService)
	wHandler := handler.NewWebhookHandler(wService)

	// 2. 路由注册
	setupRoutes(ctx.Router, oHandler, wHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.OrderHandler, w *handler.WebhookHandler) {
	authorized := r.Group("/v1")
	authorized.Use(middleware.AuthMiddleware())
	{
		authorized.POST("/offers/:offer_id/orders", h.CreateMarketplaceOrder)
		authorized.POST("/orders", h.CreateExternalOrder)
		authorized.GET("/orders", h.OrderHistory)
		authorized.GET("/orders/:order_id", h.GetOrder)
		authorized.POST("/orders/:order_id", h.SubmitOrder)
		authorized.DELETE("/orders/:order_id", h.CancelOrder)
		authorized.PATCH("/orders/:order_id", h.ChangeOrder)
	}

	// 支付服务回调，网络层隔离，不走用户鉴权
	internal := r.Group("/v1/internal")
	{
		internal.POST("/webhook", w.HandleWebhook)
	}
}
