package model

import (
	"encoding/json"

	baseModel "kin_marketplace/pkg/model"
)

// Offer 可参与的任务/商品
type Offer struct {
	baseModel.BaseModel
	Type         string          `gorm:"type:varchar(10);not null" json:"type"`         // earn, spend
	ContentType  string          `gorm:"type:varchar(20);not null" json:"contentType"`  // poll, quiz, tutorial, coupon
	Title        string          `gorm:"type:varchar(100);not null" json:"title"`
	Description  string          `gorm:"type:varchar(255);not null" json:"description"`
	Image        string          `json:"image"`
	Amount       int64           `gorm:"not null" json:"amount"`
	Content      json.RawMessage `gorm:"type:jsonb" json:"content,omitempty"` // poll/quiz 页面定义
	CallToAction string          `json:"callToAction"`
}

const (
	TypeEarn  = "earn"
	TypeSpend = "spend"

	ContentTypePoll     = "poll"
	ContentTypeQuiz     = "quiz"
	ContentTypeTutorial = "tutorial"
	ContentTypeCoupon   = "coupon"
)

// IsEarn earn 类 offer
func (o *Offer) IsEarn() bool {
	return o.Type == TypeEarn
}

// AppOffer Offer 与应用的绑定：名额上限 + 结算钱包
type AppOffer struct {
	baseModel.BaseModel
	AppID         string `gorm:"index:idx_app_offers,unique;not null" json:"appId"`
	OfferID       string `gorm:"index:idx_app_offers,unique;not null" json:"offerId"`
	CapTotal      int64  `gorm:"not null" json:"capTotal"`
	CapPerUser    int64  `gorm:"not null" json:"capPerUser"`
	WalletAddress string `gorm:"not null" json:"walletAddress"` // earn 时出款、spend 时收款的钱包
}
