package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kin_marketplace/internal/domain/user/model"
	"kin_marketplace/internal/domain/user/repository"
	"kin_marketplace/internal/pkg/config"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/internal/pkg/ratelimit"
	"kin_marketplace/pkg/response"
	"kin_marketplace/pkg/utils"

	"gorm.io/gorm"
)

type UserService interface {
	// Register 注册或登录：(app, app_user_id) 已存在则直接发新 token
	Register(ctx context.Context, appID, appUserID, deviceID string) (string, *time.Time, error)
	// RegisterWallet 登记用户在某设备上的钱包，并通知支付服务开始 watch
	RegisterWallet(ctx context.Context, userID, appID, deviceID, address string) (*model.Wallet, error)
	GetUser(userID string) (*model.User, error)
	// FindByAppUserID 按应用侧用户 ID 找用户（P2P 收款方解析用）
	FindByAppUserID(appID, appUserID string) (*model.User, error)
	GetApp(appID string) (*model.Application, error)
	// ActiveWallet 当前设备最近使用的钱包，没有则返回 UserHasNoWallet
	ActiveWallet(userID, deviceID string) (*model.Wallet, error)
	// LatestWallet 跨设备最近使用的钱包，P2P 订单解析对方收款地址用
	LatestWallet(userID string) (*model.Wallet, error)
	FindWalletByAddress(address string) (*model.Wallet, error)
}

type userService struct {
	repo    repository.UserRepository
	limiter ratelimit.Checker
	payment payment.Client
}

func NewUserService(repo repository.UserRepository, limiter ratelimit.Checker, paymentClient payment.Client) UserService {
	return &userService{
		repo:    repo,
		limiter: limiter,
		payment: paymentClient,
	}
}

func (s *userService) Register(ctx context.Context, appID, appUserID, deviceID string) (string, *time.Time, error) {
	app, err := s.repo.GetApp(appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, response.NoSuchApp(appID)
		}
		return "", nil, err
	}

	// 注册限流按应用计数
	limits := config.GlobalConfig.Limits
	if err := s.limiter.CheckRate(ctx, fmt.Sprintf("register:%s", app.ID), limits.Window(), limits.Registrations); err != nil {
		return "", nil, err
	}

	user, err := s.repo.GetByAppUserID(appID, appUserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, err
		}
		user = &model.User{AppID: appID, AppUserID: appUserID}
		if err := s.repo.Create(user); err != nil {
			return "", nil, err
		}
	}

	return issueToken(user.ID, appID, deviceID)
}

func (s *userService) RegisterWallet(ctx context.Context, userID, appID, deviceID, address string) (*model.Wallet, error) {
	wallet := &model.Wallet{
		UserID:     userID,
		DeviceID:   deviceID,
		Address:    address,
		LastUsedAt: time.Now(),
	}
	if err := s.repo.CreateWallet(wallet); err != nil {
		return nil, err
	}

	// 通知支付服务 watch 这个地址；失败不回滚本地记录，支付侧可重放
	cfg := config.GlobalConfig.Payment
	err := s.payment.CreateWallet(ctx, payment.CreateWalletRequest{
		WalletAddress: address,
		AppID:         appID,
		ID:            wallet.ID,
		Callback:      cfg.CallbackURL,
	})
	if err != nil {
		return wallet, err
	}

	return wallet, nil
}

func (s *userService) GetUser(userID string) (*model.User, error) {
	user, err := s.repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchUser(userID)
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) FindByAppUserID(appID, appUserID string) (*model.User, error) {
	user, err := s.repo.GetByAppUserID(appID, appUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchUser(appUserID)
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) GetApp(appID string) (*model.Application, error) {
	app, err := s.repo.GetApp(appID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchApp(appID)
		}
		return nil, err
	}
	return app, nil
}

func (s *userService) ActiveWallet(userID, deviceID string) (*model.Wallet, error) {
	wallet, err := s.repo.GetActiveWallet(userID, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.UserHasNoWallet(userID)
		}
		return nil, err
	}

	_ = s.repo.TouchWallet(wallet.ID)
	return wallet, nil
}

func (s *userService) LatestWallet(userID string) (*model.Wallet, error) {
	wallet, err := s.repo.GetLatestWallet(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.UserHasNoWallet(userID)
		}
		return nil, err
	}
	return wallet, nil
}

func (s *userService) FindWalletByAddress(address string) (*model.Wallet, error) {
	wallet, err := s.repo.GetWalletByAddress(address)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return wallet, nil
}

// issueToken 拆出来便于测试替换
var issueToken = func(userID, appID, deviceID string) (string, *time.Time, error) {
	return utils.GenerateToken(userID, appID, deviceID)
}
