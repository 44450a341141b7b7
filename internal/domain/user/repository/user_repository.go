package repository

import (
	"time"

	"kin_marketplace/internal/domain/user/model"

	"gorm.io/gorm"
)

type UserRepository interface {
	GetApp(id string) (*model.Application, error)
	Create(user *model.User) error
	GetByID(id string) (*model.User, error)
	GetByAppUserID(appID, appUserID string) (*model.User, error)
	CreateWallet(wallet *model.Wallet) error
	// GetActiveWallet 返回该设备上最近使用的钱包
	GetActiveWallet(userID, deviceID string) (*model.Wallet, error)
	// GetLatestWallet 返回用户在任意设备上最近使用的钱包（P2P 收款方解析用）
	GetLatestWallet(userID string) (*model.Wallet, error)
	GetWalletByAddress(address string) (*model.Wallet, error)
	TouchWallet(walletID string) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetApp(id string) (*model.Application, error) {
	var app model.Application
	if err := r.db.First(&app, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id string) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByAppUserID(appID, appUserID string) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, "app_id = ? AND app_user_id = ?", appID, appUserID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) CreateWallet(wallet *model.Wallet) error {
	return r.db.Create(wallet).Error
}

func (r *userRepository) GetActiveWallet(userID, deviceID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Order("last_used_at DESC").
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *userRepository) GetLatestWallet(userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.
		Where("user_id = ?", userID).
		Order("last_used_at DESC").
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *userRepository) GetWalletByAddress(address string) (*model.Wallet, error) {
	var wallet model.Wallet
	if err := r.db.First(&wallet, "address = ?", address).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *userRepository) TouchWallet(walletID string) error {
	return r.db.Model(&model.Wallet{}).
		Where("id = ?", walletID).
		UpdateColumn("last_used_at", time.Now()).Error
}
