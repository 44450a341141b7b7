package handler

import (
	"net/http"

	"kin_marketplace/internal/domain/asset/model"
	"kin_marketplace/internal/domain/asset/repository"
	"kin_marketplace/pkg/response"

	"github.com/gin-gonic/gin"
)

type AssetHandler struct {
	repo repository.AssetRepository
}

func NewAssetHandler(repo repository.AssetRepository) *AssetHandler {
	return &AssetHandler{repo: repo}
}

type ProvisionInput struct {
	Values []string `json:"values" binding:"required,min=1"` // 每条是一个兑换载荷 JSON
}

// Provision 内部接口：给 offer 预置资产
// @Summary 预置资产（内部）
// @Tags Asset
// @Router /v1/internal/offers/{offer_id}/assets [post]
func (h *AssetHandler) Provision(c *gin.Context) {
	offerID := c.Param("offer_id")

	var input ProvisionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	created := 0
	for _, value := range input.Values {
		asset := &model.Asset{
			OfferID: offerID,
			Value:   []byte(value),
		}
		if err := h.repo.Create(asset); err != nil {
			response.HandleError(c, err)
			return
		}
		created++
	}

	response.Created(c, gin.H{"created": created})
}

// Remaining 内部接口：剩余未领取数量
// @Summary 剩余资产数（内部）
// @Tags Asset
// @Router /v1/internal/offers/{offer_id}/assets [get]
func (h *AssetHandler) Remaining(c *gin.Context) {
	count, err := h.repo.CountUnclaimed(c.Param("offer_id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, gin.H{"remaining": count})
}
