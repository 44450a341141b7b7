package repository

import (
	"kin_marketplace/internal/domain/offer/model"

	"gorm.io/gorm"
)

type OfferRepository interface {
	Create(offer *model.Offer) error
	GetByID(id string) (*model.Offer, error)
	ListByApp(appID string, offset, limit int) ([]model.Offer, int64, error)
	CreateAppOffer(appOffer *model.AppOffer) error
	GetAppOffer(appID, offerID string) (*model.AppOffer, error)
}

type offerRepository struct {
	db *gorm.DB
}

func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &offerRepository{db: db}
}

func (r *offerRepository) Create(offer *model.Offer) error {
	return r.db.Create(offer).Error
}

func (r *offerRepository) GetByID(id string) (*model.Offer, error) {
	var offer model.Offer
	if err := r.db.First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *offerRepository) ListByApp(appID string, offset, limit int) ([]model.Offer, int64, error) {
	var offers []model.Offer
	var total int64

	sub := r.db.Model(&model.AppOffer{}).Select("offer_id").Where("app_id = ?", appID)

	if err := r.db.Model(&model.Offer{}).Where("id IN (?)", sub).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.Where("id IN (?)", sub).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&offers).Error
	if err != nil {
		return nil, 0, err
	}

	return offers, total, nil
}

func (r *offerRepository) CreateAppOffer(appOffer *model.AppOffer) error {
	return r.db.Create(appOffer).Error
}

func (r *offerRepository) GetAppOffer(appID, offerID string) (*model.AppOffer, error) {
	var appOffer model.AppOffer
	if err := r.db.First(&appOffer, "app_id = ? AND offer_id = ?", appID, offerID).Error; err != nil {
		return nil, err
	}
	return &appOffer, nil
}
