package asset

import (
	"kin_marketplace/internal/domain/asset/handler"
	"kin_marketplace/internal/domain/asset/repository"
	"kin_marketplace/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// AssetModule 资产模块
type AssetModule struct{}

func init() {
	registry.Register(&AssetModule{})
}

func (m *AssetModule) Name() string {
	return "asset"
}

func (m *AssetModule) Priority() int {
	return 10
}

func (m *AssetModule) Init(ctx *registry.ModuleContext) error {
	aRepo := repository.NewAssetRepository(ctx.DB)
	aHandler := handler.NewAssetHandler(aRepo)

	setupRoutes(ctx.Router, aHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.AssetHandler) {
	// 内部接口，网络层隔离
	internal := r.Group("/v1/internal")
	{
		internal.POST("/offers/:offer_id/assets", h.Provision)
		internal.GET("/offers/:offer_id/assets", h.Remaining)
	}
}
