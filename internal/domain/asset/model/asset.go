package model

import (
	"encoding/json"

	baseModel "kin_marketplace/pkg/model"
)

// Asset 预置的可兑换单元（券码等）
// OwnerID 为空表示未被领取；完成的 spend 订单原子认领一条
type Asset struct {
	baseModel.BaseModel
	OfferID string          `gorm:"index;not null" json:"offerId"`
	OwnerID *string         `gorm:"index" json:"ownerId,omitempty"`
	Value   json.RawMessage `gorm:"type:jsonb;not null" json:"value"` // 兑换载荷（券码等）
}
