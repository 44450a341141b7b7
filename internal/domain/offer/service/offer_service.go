package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"kin_marketplace/internal/domain/offer/model"
	"kin_marketplace/internal/domain/offer/repository"
	"kin_marketplace/pkg/cache"
	"kin_marketplace/pkg/response"

	"gorm.io/gorm"
)

type OfferService interface {
	GetOffers(appID string, page, limit int) ([]model.Offer, int64, error)
	GetOffer(offerID string) (*model.Offer, error)
	// GetAppOffer 返回 offer 在该应用下的绑定（名额 + 结算钱包），带 TTL 缓存
	GetAppOffer(ctx context.Context, appID, offerID string) (*model.AppOffer, error)
	// ValidateEarnContent 校验/计分提交的答题内容
	// 返回应支付的金额（quiz 重算，其余取 offer 面额）和入库的内容
	ValidateEarnContent(offer *model.Offer, rawContent string) (int64, string, error)
	CreateOffer(offer *model.Offer, appOffer *model.AppOffer) error
}

type offerService struct {
	repo  repository.OfferRepository
	cache cache.Cache
}

func NewOfferService(repo repository.OfferRepository, c cache.Cache) OfferService {
	return &offerService{repo: repo, cache: c}
}

func (s *offerService) GetOffers(appID string, page, limit int) ([]model.Offer, int64, error) {
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByApp(appID, offset, limit)
}

func (s *offerService) GetOffer(offerID string) (*model.Offer, error) {
	offer, err := s.repo.GetByID(offerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchOffer(offerID)
		}
		return nil, err
	}
	return offer, nil
}

func (s *offerService) GetAppOffer(ctx context.Context, appID, offerID string) (*model.AppOffer, error) {
	key := fmt.Sprintf("app_offer:%s:%s", appID, offerID)

	var cached model.AppOffer
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	appOffer, err := s.repo.GetAppOffer(appID, offerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchOffer(offerID)
		}
		return nil, err
	}

	_ = s.cache.Set(ctx, key, appOffer)
	return appOffer, nil
}

func (s *offerService) ValidateEarnContent(offer *model.Offer, rawContent string) (int64, string, error) {
	switch offer.ContentType {
	case model.ContentTypePoll:
		// poll 答案原样入库，金额取面额；只校验载荷是合法 JSON
		if _, err := model.ParseAnswers(rawContent); err != nil {
			return 0, "", response.InvalidContent(err.Error())
		}
		return offer.Amount, rawContent, nil

	case model.ContentTypeQuiz:
		answers, err := model.ParseAnswers(rawContent)
		if err != nil {
			return 0, "", response.InvalidContent(err.Error())
		}
		var quiz model.QuizContent
		if err := json.Unmarshal(offer.Content, &quiz); err != nil {
			return 0, "", fmt.Errorf("offer %s has malformed quiz content: %w", offer.ID, err)
		}
		// 计分结果覆盖订单金额
		return quiz.ScoreQuiz(answers), rawContent, nil

	case model.ContentTypeTutorial:
		// tutorial 完成即得面额，没有答题载荷
		return offer.Amount, rawContent, nil

	default:
		return 0, "", response.InvalidContent(fmt.Sprintf("offer content type %s does not accept content", offer.ContentType))
	}
}

func (s *offerService) CreateOffer(offer *model.Offer, appOffer *model.AppOffer) error {
	if err := s.repo.Create(offer); err != nil {
		return err
	}
	appOffer.OfferID = offer.ID
	return s.repo.CreateAppOffer(appOffer)
}
