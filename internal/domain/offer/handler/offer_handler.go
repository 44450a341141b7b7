package handler

import (
	"net/http"

	"kin_marketplace/internal/domain/offer/model"
	"kin_marketplace/internal/domain/offer/service"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/pkg/response"
	"kin_marketplace/pkg/utils"

	"github.com/gin-gonic/gin"
)

type OfferHandler struct {
	service service.OfferService
}

func NewOfferHandler(s service.OfferService) *OfferHandler {
	return &OfferHandler{service: s}
}

// GetOffers 当前应用可见的 offer 列表
// @Summary offer 列表（分页）
// @Tags Offer
// @Produce json
// @Router /v1/offers [get]
func (h *OfferHandler) GetOffers(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	_, limit := p.GetPageOffset()

	offers, total, err := h.service.GetOffers(middleware.AppID(c), p.Page, limit)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, utils.PageResult{
		List:  offers,
		Total: total,
		Page:  p.Page,
		Limit: limit,
	})
}

type CreateOfferInput struct {
	AppID         string `json:"app_id" binding:"required"`
	Type          string `json:"type" binding:"required,oneof=earn spend"`
	ContentType   string `json:"content_type" binding:"required,oneof=poll quiz tutorial coupon"`
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	Content       string `json:"content"`
	CapTotal      int64  `json:"cap_total" binding:"required,gt=0"`
	CapPerUser    int64  `json:"cap_per_user" binding:"required,gt=0"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// CreateOffer 内部接口：创建 offer 并绑定到应用
// @Summary 创建 offer（内部）
// @Tags Offer
// @Router /v1/internal/offers [post]
func (h *OfferHandler) CreateOffer(c *gin.Context) {
	var input CreateOfferInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	offer := &model.Offer{
		Type:        input.Type,
		ContentType: input.ContentType,
		Title:       input.Title,
		Description: input.Description,
		Amount:      input.Amount,
		Content:     []byte(input.Content),
	}
	appOffer := &model.AppOffer{
		AppID:         input.AppID,
		CapTotal:      input.CapTotal,
		CapPerUser:    input.CapPerUser,
		WalletAddress: input.WalletAddress,
	}

	if err := h.service.CreateOffer(offer, appOffer); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, offer)
}
