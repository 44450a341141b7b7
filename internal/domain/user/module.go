package user

import (
	"kin_marketplace/internal/domain/user/handler"
	"kin_marketplace/internal/domain/user/repository"
	"kin_marketplace/internal/domain/user/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// UserModule 用户模块
type UserModule struct{}

func init() {
	// 自动注册模块
	registry.Register(&UserModule{})
}

func (m *UserModule) Name() string {
	return "user"
}

func (m *UserModule) Priority() int {
	// 用户模块优先级最高，其他模块依赖它
	return 1
}

func (m *UserModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	uRepo := repository.NewUserRepository(ctx.DB)
	uService := service.NewUserService(uRepo, ctx.Limiter, ctx.Payment)
	uHandler := handler.NewUserHandler(uService)

	// 2. 路由注册
	setupRoutes(ctx.Router, uHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.UserHandler) {
	g := r.Group("/v1")

	g.POST("/users", h.Register)

	authorized := g.Group("")
	authorized.Use(middleware.AuthMiddleware())
	{
		authorized.POST("/users/me/wallets", h.RegisterWallet)
	}
}
