package model

import (
	"time"

	baseModel "kin_marketplace/pkg/model"
)

// Application 接入市场的应用
// JWTSecret 用于校验该应用签发的外部订单 JWT
type Application struct {
	ID            string    `gorm:"primaryKey;type:varchar(40)" json:"id"`
	Name          string    `gorm:"type:varchar(100);not null" json:"name"`
	JWTSecret     string    `gorm:"not null" json:"-"`
	WalletAddress string    `gorm:"not null" json:"walletAddress"` // 应用的运营钱包
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Application) TableName() string {
	return "applications"
}

// User 市场用户，(app_id, app_user_id) 唯一
type User struct {
	baseModel.BaseModel
	AppID     string `gorm:"index:idx_users_app_user,unique;not null" json:"appId"`
	AppUserID string `gorm:"index:idx_users_app_user,unique;not null" json:"appUserId"`
}

// Wallet 用户在某台设备上的钱包
// 同一用户多设备多钱包，"当前钱包"取该设备上最近使用的一条
type Wallet struct {
	baseModel.BaseModel
	UserID     string    `gorm:"index;not null" json:"userId"`
	DeviceID   string    `gorm:"index;not null" json:"deviceId"`
	Address    string    `gorm:"index;not null" json:"address"`
	LastUsedAt time.Time `gorm:"not null" json:"lastUsedAt"`
}
