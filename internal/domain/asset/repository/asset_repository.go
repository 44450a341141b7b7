package repository

import (
	"errors"

	"kin_marketplace/internal/domain/asset/model"

	"gorm.io/gorm"
)

// ErrNoAssetAvailable 该 offer 已无未领取的资产
var ErrNoAssetAvailable = errors.New("no unclaimed asset available")

type AssetRepository interface {
	Create(asset *model.Asset) error
	// ClaimForUser 原子认领一条未领取的资产
	// 单条 UPDATE 完成挑选和归属，两个并发完成不会领到同一条
	ClaimForUser(offerID, userID string) (*model.Asset, error)
	CountUnclaimed(offerID string) (int64, error)
}

type assetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(asset *model.Asset) error {
	return r.db.Create(asset).Error
}

func (r *assetRepository) ClaimForUser(offerID, userID string) (*model.Asset, error) {
	var asset model.Asset

	// 挑选和归属必须在一条语句内完成；SKIP LOCKED 避免并发认领互相阻塞
	err := r.db.Raw(`
		UPDATE assets
		SET owner_id = ?, updated_at = NOW()
		WHERE id = (
			SELECT id FROM assets
			WHERE offer_id = ? AND owner_id IS NULL
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, created_at, updated_at, offer_id, owner_id, value`,
		userID, offerID).Scan(&asset).Error
	if err != nil {
		return nil, err
	}

	if asset.ID == "" {
		return nil, ErrNoAssetAvailable
	}
	return &asset, nil
}

func (r *assetRepository) CountUnclaimed(offerID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Asset{}).
		Where("offer_id = ? AND owner_id IS NULL", offerID).
		Count(&count).Error
	return count, err
}
