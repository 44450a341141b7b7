package handler

import (
	"net/http"

	"kin_marketplace/internal/domain/user/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service service.UserService
}

func NewUserHandler(s service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

type RegisterInput struct {
	AppID     string `json:"app_id" binding:"required"`
	AppUserID string `json:"app_user_id" binding:"required"`
	DeviceID  string `json:"device_id" binding:"required"`
}

// Register 注册/登录
// @Summary 注册或登录用户，返回会话 token
// @Tags User
// @Accept json
// @Produce json
// @Router /v1/users [post]
func (h *UserHandler) Register(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	token, expireAt, err := h.service.Register(c.Request.Context(), input.AppID, input.AppUserID, input.DeviceID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_at": expireAt,
	})
}

type RegisterWalletInput struct {
	Address string `json:"address" binding:"required"`
}

// RegisterWallet 登记当前设备的钱包
// @Summary 登记钱包地址
// @Tags User
// @Router /v1/users/me/wallets [post]
func (h *UserHandler) RegisterWallet(c *gin.Context) {
	var input RegisterWalletInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	wallet, err := h.service.RegisterWallet(
		c.Request.Context(),
		middleware.UserID(c),
		middleware.AppID(c),
		middleware.DeviceID(c),
		input.Address,
	)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, wallet)
}
