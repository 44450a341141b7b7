package offer

import (
	"kin_marketplace/internal/domain/offer/handler"
	"kin_marketplace/internal/domain/offer/repository"
	"kin_marketplace/internal/domain/offer/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// OfferModule offer 模块
type OfferModule struct{}

func init() {
	registry.Register(&OfferModule{})
}

func (m *OfferModule) Name() string {
	return "offer"
}

func (m *OfferModule) Priority() int {
	return 5
}

func (m *OfferModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	oRepo := repository.NewOfferRepository(ctx.DB)
	oService := service.NewOfferService(oRepo, ctx.Cache)
	oHandler := handler.NewOfferHandler(oService)

	// 2. 路由注册
	setupRoutes(ctx.Router, oHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.OfferHandler) {
	authorized := r.Group("/v1")
	authorized.Use(middleware.AuthMiddleware())
	{
		authorized.GET("/offers", h.GetOffers)
	}

	// 内部接口，网络层隔离，不走用户鉴权
	internal := r.Group("/v1/internal")
	{
		internal.POST("/offers", h.CreateOffer)
	}
}
