package service

import (
	"context"
	"testing"
	"time"

	"kin_marketplace/internal/domain/user/model"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockUserRepository is a mock of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetApp(id string) (*model.Application, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Application), args.Error(1)
}

func (m *MockUserRepository) Create(user *model.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(id string) (*model.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) GetByAppUserID(appID, appUserID string) (*model.User, error) {
	args := m.Called(appID, appUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) CreateWallet(wallet *model.Wallet) error {
	args := m.Called(wallet)
	return args.Error(0)
}

func (m *MockUserRepository) GetActiveWallet(userID, deviceID string) (*model.Wallet, error) {
	args := m.Called(userID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockUserRepository) GetLatestWallet(userID string) (*model.Wallet, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockUserRepository) GetWalletByAddress(address string) (*model.Wallet, error) {
	args := m.Called(address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockUserRepository) TouchWallet(walletID string) error {
	args := m.Called(walletID)
	return args.Error(0)
}

// MockPaymentClient is a mock of payment.Client
type MockPaymentClient struct {
	mock.Mock
}

func (m *MockPaymentClient) Pay(ctx context.Context, req payment.PayRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockPaymentClient) SubmitTransaction(ctx context.Context, req payment.SubmitTransactionRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockPaymentClient) CreateWallet(ctx context.Context, req payment.CreateWalletRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *MockPaymentClient) GetWallet(ctx context.Context, address string) (*payment.Wallet, error) {
	args := m.Called(address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Wallet), args.Error(1)
}

func (m *MockPaymentClient) GetWalletPayments(ctx context.Context, address string) ([]payment.Payment, error) {
	args := m.Called(address)
	return args.Get(0).([]payment.Payment), args.Error(1)
}

func (m *MockPaymentClient) SetWatcherCallback(ctx context.Context, reg payment.WatcherRegistration) error {
	args := m.Called(reg)
	return args.Error(0)
}

func (m *MockPaymentClient) GetBlockchainConfig(ctx context.Context) (*payment.BlockchainConfig, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.BlockchainConfig), args.Error(1)
}

// stubChecker 限流桩，err 非空时模拟超限
type stubChecker struct {
	err error
}

func (s *stubChecker) CheckRate(ctx context.Context, prefix string, window time.Duration, limit int64) error {
	return s.err
}

func (s *stubChecker) CheckAmount(ctx context.Context, prefix string, window time.Duration, limit, amount int64) error {
	return s.err
}

func appFixture() *model.Application {
	return &model.Application{
		ID:            "app-1",
		Name:          "Test App",
		JWTSecret:     "secret",
		WalletAddress: "APP_WALLET",
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	// 固定发 token 的实现，测试不依赖 JWT 配置
	original := issueToken
	expire := time.Now().Add(time.Hour)
	issueToken = func(userID, appID, deviceID string) (string, *time.Time, error) {
		return "test-token", &expire, nil
	}
	defer func() { issueToken = original }()

	t.Run("a new app user is created and issued a token", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		mockRepo.On("GetApp", "app-1").Return(appFixture(), nil)
		mockRepo.On("GetByAppUserID", "app-1", "ext-1").Return(nil, gorm.ErrRecordNotFound)
		mockRepo.On("Create", mock.AnythingOfType("*model.User")).Return(nil)

		token, _, err := service.Register(ctx, "app-1", "ext-1", "device-1")

		assert.NoError(t, err)
		assert.Equal(t, "test-token", token)
		mockRepo.AssertExpectations(t)
	})

	t.Run("an existing app user just gets a fresh token", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		existing := &model.User{AppID: "app-1", AppUserID: "ext-1"}
		mockRepo.On("GetApp", "app-1").Return(appFixture(), nil)
		mockRepo.On("GetByAppUserID", "app-1", "ext-1").Return(existing, nil)

		token, _, err := service.Register(ctx, "app-1", "ext-1", "device-1")

		assert.NoError(t, err)
		assert.Equal(t, "test-token", token)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("an unknown app is rejected", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		mockRepo.On("GetApp", "nope").Return(nil, gorm.ErrRecordNotFound)

		_, _, err := service.Register(ctx, "nope", "ext-1", "device-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrNoSuchApp, appErr.Code)
	})

	t.Run("registration rate limiting is enforced per app", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		limited := &stubChecker{err: response.TooManyRequests("registration burst")}
		service := NewUserService(mockRepo, limited, new(MockPaymentClient))

		mockRepo.On("GetApp", "app-1").Return(appFixture(), nil)

		_, _, err := service.Register(ctx, "app-1", "ext-1", "device-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrTooManyRequests, appErr.Code)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything)
	})
}

func TestRegisterWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the wallet and notifies the payment service", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockPayment := new(MockPaymentClient)
		service := NewUserService(mockRepo, &stubChecker{}, mockPayment)

		mockRepo.On("CreateWallet", mock.AnythingOfType("*model.Wallet")).Return(nil)
		mockPayment.On("CreateWallet", mock.AnythingOfType("payment.CreateWalletRequest")).Return(nil)

		wallet, err := service.RegisterWallet(ctx, "user-1", "app-1", "device-1", "GWALLET")

		assert.NoError(t, err)
		assert.Equal(t, "GWALLET", wallet.Address)
		mockPayment.AssertExpectations(t)
	})

	t.Run("the local record survives a payment service failure", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockPayment := new(MockPaymentClient)
		service := NewUserService(mockRepo, &stubChecker{}, mockPayment)

		mockRepo.On("CreateWallet", mock.AnythingOfType("*model.Wallet")).Return(nil)
		mockPayment.On("CreateWallet", mock.AnythingOfType("payment.CreateWalletRequest")).
			Return(assert.AnError)

		wallet, err := service.RegisterWallet(ctx, "user-1", "app-1", "device-1", "GWALLET")

		assert.Error(t, err)
		assert.NotNil(t, wallet)
	})
}

func TestActiveWallet(t *testing.T) {
	t.Run("touches and returns the most recent wallet for the device", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		wallet := &model.Wallet{UserID: "user-1", DeviceID: "device-1", Address: "GWALLET"}
		mockRepo.On("GetActiveWallet", "user-1", "device-1").Return(wallet, nil)
		mockRepo.On("TouchWallet", mock.Anything).Return(nil)

		got, err := service.ActiveWallet("user-1", "device-1")

		assert.NoError(t, err)
		assert.Equal(t, "GWALLET", got.Address)
	})

	t.Run("a user without a wallet gets a conflict error", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		mockRepo.On("GetActiveWallet", "user-1", "device-1").Return(nil, gorm.ErrRecordNotFound)

		_, err := service.ActiveWallet("user-1", "device-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrUserHasNoWallet, appErr.Code)
	})
}

func TestFindWalletByAddress(t *testing.T) {
	t.Run("an unknown address is not an error", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		service := NewUserService(mockRepo, &stubChecker{}, new(MockPaymentClient))

		mockRepo.On("GetWalletByAddress", "GHOST").Return(nil, gorm.ErrRecordNotFound)

		wallet, err := service.FindWalletByAddress("GHOST")

		assert.NoError(t, err)
		assert.Nil(t, wallet)
	})
}
