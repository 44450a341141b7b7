package service

import (
	"context"
	"os"
	"testing"
	"time"

	offerModel "kin_marketplace/internal/domain/offer/model"
	"kin_marketplace/internal/domain/order/model"
	"kin_marketplace/internal/domain/order/repository"
	userModel "kin_marketplace/internal/domain/user/model"
	"kin_marketplace/internal/pkg/config"
	"kin_marketplace/internal/pkg/lock"
	"kin_marketplace/internal/pkg/worker"
	"kin_marketplace/pkg/logger"
	"kin_marketplace/pkg/metrics"
	baseModel "kin_marketplace/pkg/model"
	"kin_marketplace/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// 指标注册表是进程级的，整个测试包共用一个收集器
var testMetrics = metrics.NewCollector()

func TestMain(m *testing.M) {
	logger.Init(false)
	config.GlobalConfig.Marketplace = config.MarketplaceConfig{
		OpenOrderExpirationMin: 10,
		PendingTimeoutMin:      45,
	}
	config.GlobalConfig.Limits = config.LimitsConfig{
		WindowSec:     3600,
		Registrations: 100,
		EarnApp:       100000,
		EarnUser:      5000,
		EarnWallet:    5000,
	}
	config.GlobalConfig.Payment.CallbackURL = "http://localhost:8080/v1/internal/webhook"
	config.GlobalConfig.JWT.Secret = "unit-test-signing-secret"
	os.Exit(m.Run())
}

// MockOrderRepository is a mock of OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(order *model.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(id string) (*model.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetOpenOrder(offerID, userID string) (*model.Order, error) {
	args := m.Called(offerID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetLatestByNonce(offerID, userID, nonce string) (*model.Order, error) {
	args := m.Called(offerID, userID, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) CountActiveByOfferUser(offerID, userID string) (int64, error) {
	args := m.Called(offerID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) CountActiveByOffer(appID, offerID string) (int64, error) {
	args := m.Called(appID, offerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) Update(order *model.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) UpdateContext(orderContext *model.OrderContext) error {
	args := m.Called(orderContext)
	return args.Error(0)
}

func (m *MockOrderRepository) Delete(orderID string) error {
	args := m.Called(orderID)
	return args.Error(0)
}

func (m *MockOrderRepository) ListByUser(userID string, filter repository.HistoryFilter, offset, limit int) ([]model.Order, int64, error) {
	args := m.Called(userID, filter, offset, limit)
	return args.Get(0).([]model.Order), args.Get(1).(int64), args.Error(2)
}

// MockOfferService is a mock of the offer domain service
type MockOfferService struct {
	mock.Mock
}

func (m *MockOfferService) GetOffers(appID string, page, limit int) ([]offerModel.Offer, int64, error) {
	args := m.Called(appID, page, limit)
	return args.Get(0).([]offerModel.Offer), args.Get(1).(int64), args.Error(2)
}

func (m *MockOfferService) GetOffer(offerID string) (*offerModel.Offer, error) {
	args := m.Called(offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*offerModel.Offer), args.Error(1)
}

func (m *MockOfferService) GetAppOffer(ctx context.Context, appID, offerID string) (*offerModel.AppOffer, error) {
	args := m.Called(appID, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*offerModel.AppOffer), args.Error(1)
}

func (m *MockOfferService) ValidateEarnContent(offer *offerModel.Offer, rawContent string) (int64, string, error) {
	args := m.Called(offer, rawContent)
	return args.Get(0).(int64), args.String(1), args.Error(2)
}

func (m *MockOfferService) CreateOffer(offer *offerModel.Offer, appOffer *offerModel.AppOffer) error {
	args := m.Called(offer, appOffer)
	return args.Error(0)
}

// MockUserService is a mock of the user domain service
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, appID, appUserID, deviceID string) (string, *time.Time, error) {
	args := m.Called(appID, appUserID, deviceID)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*time.Time), args.Error(2)
}

func (m *MockUserService) RegisterWallet(ctx context.Context, userID, appID, deviceID, address string) (*userModel.Wallet, error) {
	args := m.Called(userID, appID, deviceID, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.Wallet), args.Error(1)
}

func (m *MockUserService) GetUser(userID string) (*userModel.User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserService) FindByAppUserID(appID, appUserID string) (*userModel.User, error) {
	args := m.Called(appID, appUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.User), args.Error(1)
}

func (m *MockUserService) GetApp(appID string) (*userModel.Application, error) {
	args := m.Called(appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.Application), args.Error(1)
}

func (m *MockUserService) ActiveWallet(userID, deviceID string) (*userModel.Wallet, error) {
	args := m.Called(userID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.Wallet), args.Error(1)
}

func (m *MockUserService) LatestWallet(userID string) (*userModel.Wallet, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.Wallet), args.Error(1)
}

func (m *MockUserService) FindWalletByAddress(address string) (*userModel.Wallet, error) {
	args := m.Called(address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*userModel.Wallet), args.Error(1)
}

// stubLocker 直接执行回调，err 非空时模拟抢锁失败
type stubLocker struct {
	err error
}

func (s *stubLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(ctx)
}

// stubLimiter 记录被检查的前缀，err 非空时模拟超限
type stubLimiter struct {
	err      error
	prefixes []string
}

func (s *stubLimiter) CheckRate(ctx context.Context, prefix string, window time.Duration, limit int64) error {
	s.prefixes = append(s.prefixes, prefix)
	return s.err
}

func (s *stubLimiter) CheckAmount(ctx context.Context, prefix string, window time.Duration, limit, amount int64) error {
	s.prefixes = append(s.prefixes, prefix)
	return s.err
}

// stubDispatcher 记录入队的支付任务
type stubDispatcher struct {
	tasks []worker.PaymentTask
}

func (s *stubDispatcher) AddTask(task worker.PaymentTask) {
	s.tasks = append(s.tasks, task)
}

type orderTestDeps struct {
	repo       *MockOrderRepository
	offers     *MockOfferService
	users      *MockUserService
	locker     *stubLocker
	limiter    *stubLimiter
	dispatcher *stubDispatcher
	service    OrderService
}

func newOrderTestDeps() *orderTestDeps {
	d := &orderTestDeps{
		repo:       new(MockOrderRepository),
		offers:     new(MockOfferService),
		users:      new(MockUserService),
		locker:     &stubLocker{},
		limiter:    &stubLimiter{},
		dispatcher: &stubDispatcher{},
	}
	d.service = NewOrderService(d.repo, d.offers, d.users, d.locker, d.limiter, d.dispatcher, testMetrics)
	return d
}

func earnOfferFixture() *offerModel.Offer {
	return &offerModel.Offer{
		BaseModel:   baseModel.BaseModel{ID: "offer-1"},
		Type:        offerModel.TypeEarn,
		ContentType: offerModel.ContentTypeQuiz,
		Title:       "Answer a quiz",
		Description: "Earn Kin",
		Amount:      100,
	}
}

func appOfferFixture() *offerModel.AppOffer {
	return &offerModel.AppOffer{
		AppID:         "app-1",
		OfferID:       "offer-1",
		CapTotal:      10,
		CapPerUser:    1,
		WalletAddress: "APP_WALLET",
	}
}

func walletFixture() *userModel.Wallet {
	return &userModel.Wallet{
		UserID:   "user-1",
		DeviceID: "device-1",
		Address:  "USER_WALLET",
	}
}

func openOrderFixture() *model.Order {
	now := time.Now()
	return &model.Order{
		BaseModel: baseModel.BaseModel{ID: "order-1"},
		OfferID:   "offer-1",
		AppID:     "app-1",
		Origin:    model.OriginMarketplace,
		OfferType: model.RoleEarn,
		Status:    model.StatusOpened,
		Amount:    100,
		Nonce:     model.DefaultNonce,
		BlockchainData: model.BlockchainData{
			SenderAddress:    "APP_WALLET",
			RecipientAddress: "USER_WALLET",
		},
		CurrentStatusDate: now,
		ExpirationDate:    now.Add(10 * time.Minute),
		Contexts: []model.OrderContext{{
			UserID:        "user-1",
			WalletAddress: "USER_WALLET",
			Role:          model.RoleEarn,
			Meta:          model.ContextMeta{Title: "Answer a quiz"},
		}},
	}
}

func TestCreateMarketplaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a new order when none is open", func(t *testing.T) {
		d := newOrderTestDeps()
		d.offers.On("GetOffer", "offer-1").Return(earnOfferFixture(), nil)
		d.offers.On("GetAppOffer", "app-1", "offer-1").Return(appOfferFixture(), nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetOpenOrder", "offer-1", "user-1").Return(nil, gorm.ErrRecordNotFound)
		d.repo.On("CountActiveByOffer", "app-1", "offer-1").Return(int64(3), nil)
		d.repo.On("CountActiveByOfferUser", "offer-1", "user-1").Return(int64(0), nil)

		var created *model.Order
		d.repo.On("Create", mock.AnythingOfType("*model.Order")).Run(func(args mock.Arguments) {
			created = args.Get(0).(*model.Order)
		}).Return(nil)

		view, err := d.service.CreateMarketplaceOrder(ctx, "app-1", "user-1", "device-1", "offer-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusOpened, view.Status)
		assert.Equal(t, int64(100), view.Amount)
		assert.Equal(t, model.OriginMarketplace, view.Origin)
		assert.Equal(t, "APP_WALLET", created.BlockchainData.SenderAddress)
		assert.Equal(t, "USER_WALLET", created.BlockchainData.RecipientAddress)
		assert.True(t, created.ExpirationDate.After(time.Now().Add(9*time.Minute)))
		d.repo.AssertExpectations(t)
	})

	t.Run("returns the existing open order instead of creating another", func(t *testing.T) {
		d := newOrderTestDeps()
		existing := openOrderFixture()
		d.offers.On("GetOffer", "offer-1").Return(earnOfferFixture(), nil)
		d.offers.On("GetAppOffer", "app-1", "offer-1").Return(appOfferFixture(), nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetOpenOrder", "offer-1", "user-1").Return(existing, nil)

		view, err := d.service.CreateMarketplaceOrder(ctx, "app-1", "user-1", "device-1", "offer-1")

		assert.NoError(t, err)
		assert.Equal(t, "order-1", view.ID)
		d.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("rejects when the offer cap is reached", func(t *testing.T) {
		d := newOrderTestDeps()
		d.offers.On("GetOffer", "offer-1").Return(earnOfferFixture(), nil)
		d.offers.On("GetAppOffer", "app-1", "offer-1").Return(appOfferFixture(), nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetOpenOrder", "offer-1", "user-1").Return(nil, gorm.ErrRecordNotFound)
		d.repo.On("CountActiveByOffer", "app-1", "offer-1").Return(int64(10), nil)

		_, err := d.service.CreateMarketplaceOrder(ctx, "app-1", "user-1", "device-1", "offer-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrOfferCapReached, appErr.Code)
		// 名额满了对外是 404，不暴露容量信息
		assert.Equal(t, 404, appErr.HTTPStatus)
		d.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("rejects when the per-user cap is reached", func(t *testing.T) {
		d := newOrderTestDeps()
		d.offers.On("GetOffer", "offer-1").Return(earnOfferFixture(), nil)
		d.offers.On("GetAppOffer", "app-1", "offer-1").Return(appOfferFixture(), nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetOpenOrder", "offer-1", "user-1").Return(nil, gorm.ErrRecordNotFound)
		d.repo.On("CountActiveByOffer", "app-1", "offer-1").Return(int64(3), nil)
		d.repo.On("CountActiveByOfferUser", "offer-1", "user-1").Return(int64(1), nil)

		_, err := d.service.CreateMarketplaceOrder(ctx, "app-1", "user-1", "device-1", "offer-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrOfferCapReached, appErr.Code)
	})

	t.Run("maps lock exhaustion to a gateway error", func(t *testing.T) {
		d := newOrderTestDeps()
		d.locker.err = lock.ErrNotAcquired
		d.offers.On("GetOffer", "offer-1").Return(earnOfferFixture(), nil)
		d.offers.On("GetAppOffer", "app-1", "offer-1").Return(appOfferFixture(), nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)

		_, err := d.service.CreateMarketplaceOrder(ctx, "app-1", "user-1", "device-1", "offer-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrLockUnavailable, appErr.Code)
		assert.Equal(t, 502, appErr.HTTPStatus)
	})
}

func TestSubmitOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("earn quiz submission rescores the amount and dispatches a payment", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		offer := earnOfferFixture()

		d.repo.On("GetByID", "order-1").Return(order, nil)
		d.offers.On("GetOffer", "offer-1").Return(offer, nil)
		d.offers.On("ValidateEarnContent", offer, `{"q1":"a"}`).Return(int64(20), `{"q1":"a"}`, nil)
		d.repo.On("UpdateContext", mock.AnythingOfType("*model.OrderContext")).Return(nil)
		d.repo.On("Update", mock.AnythingOfType("*model.Order")).Return(nil)

		view, err := d.service.SubmitOrder(ctx, "user-1", "order-1", `{"q1":"a"}`, "")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusPending, view.Status)
		// quiz 计分覆盖订单金额
		assert.Equal(t, int64(20), view.Amount)
		// pending 的过期窗口推到事务超时
		assert.True(t, order.ExpirationDate.After(time.Now().Add(40*time.Minute)))

		// 三个维度的 earn 限流都检查过
		assert.Equal(t, []string{"earn:app:app-1", "earn:user:user-1", "earn:wallet:USER_WALLET"}, d.limiter.prefixes)

		// earn 由服务端发起打款
		assert.Len(t, d.dispatcher.tasks, 1)
		task := d.dispatcher.tasks[0]
		assert.Equal(t, worker.TaskPay, task.Kind)
		assert.Equal(t, "order-1", task.Pay.ID)
		assert.Equal(t, int64(20), task.Pay.Amount)
		assert.Equal(t, "USER_WALLET", task.Pay.RecipientAddress)
	})

	t.Run("spend submission forwards the signed transaction", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.OfferType = model.RoleSpend
		order.BlockchainData = model.BlockchainData{SenderAddress: "USER_WALLET", RecipientAddress: "APP_WALLET"}
		order.Contexts[0].Role = model.RoleSpend

		d.repo.On("GetByID", "order-1").Return(order, nil)
		d.repo.On("Update", mock.AnythingOfType("*model.Order")).Return(nil)

		view, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "", "signed-tx-blob")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusPending, view.Status)
		assert.Len(t, d.dispatcher.tasks, 1)
		task := d.dispatcher.tasks[0]
		assert.Equal(t, worker.TaskSubmitTx, task.Kind)
		assert.Equal(t, "signed-tx-blob", task.SubmitTx.Transaction)
		assert.Equal(t, "USER_WALLET", task.SubmitTx.SenderAddress)
	})

	t.Run("spend submission without a transaction is rejected", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.OfferType = model.RoleSpend
		order.Contexts[0].Role = model.RoleSpend

		d.repo.On("GetByID", "order-1").Return(order, nil)

		_, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "", "")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrInvalidContent, appErr.Code)
		assert.Empty(t, d.dispatcher.tasks)
	})

	t.Run("resubmitting a pending order is an idempotent re-read", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusPending

		d.repo.On("GetByID", "order-1").Return(order, nil)

		view, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "", "tx")

		// 不是状态转换：什么都不改，也不再触发支付
		assert.NoError(t, err)
		assert.Equal(t, model.StatusPending, view.Status)
		assert.Empty(t, d.dispatcher.tasks)
		d.repo.AssertNotCalled(t, "Update", mock.Anything)
	})

	t.Run("submitting a completed order returns its final state", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusCompleted

		d.repo.On("GetByID", "order-1").Return(order, nil)

		view, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "", "")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, view.Status)
		assert.Empty(t, d.dispatcher.tasks)
	})

	t.Run("an expired opened order cannot be submitted", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.ExpirationDate = time.Now().Add(-time.Minute)

		d.repo.On("GetByID", "order-1").Return(order, nil)

		_, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "", "tx")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrOpenOrderExpired, appErr.Code)
	})

	t.Run("a rate limited earn submission leaves the order opened", func(t *testing.T) {
		d := newOrderTestDeps()
		d.limiter.err = response.TooMuchEarnOrdered("over the window limit")
		order := openOrderFixture()
		offer := earnOfferFixture()

		d.repo.On("GetByID", "order-1").Return(order, nil)
		d.offers.On("GetOffer", "offer-1").Return(offer, nil)
		d.offers.On("ValidateEarnContent", offer, "{}").Return(int64(100), "{}", nil)
		d.repo.On("UpdateContext", mock.AnythingOfType("*model.OrderContext")).Return(nil)

		_, err := d.service.SubmitOrder(ctx, "user-1", "order-1", "{}", "")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrTooMuchEarnOrdered, appErr.Code)
		assert.Equal(t, model.StatusOpened, order.Status)
		d.repo.AssertNotCalled(t, "Update", mock.Anything)
		assert.Empty(t, d.dispatcher.tasks)
	})
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("a pending order past its deadline fails lazily on read", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusPending
		order.ExpirationDate = time.Now().Add(-time.Minute)

		d.repo.On("GetByID", "order-1").Return(order, nil)
		d.repo.On("Update", mock.AnythingOfType("*model.Order")).Return(nil)

		view, err := d.service.GetOrder(ctx, "user-1", "order-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusFailed, view.Status)
		assert.Equal(t, response.ErrTransactionTimeout, view.Error.Code)
		d.repo.AssertExpectations(t)
	})

	t.Run("a completed order is returned untouched", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		now := time.Now()
		order.Status = model.StatusCompleted
		order.CompletionDate = &now
		order.ExpirationDate = now.Add(-time.Hour) // 过期时间对终态订单无意义

		d.repo.On("GetByID", "order-1").Return(order, nil)

		view, err := d.service.GetOrder(ctx, "user-1", "order-1")

		assert.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, view.Status)
		d.repo.AssertNotCalled(t, "Update", mock.Anything)
	})

	t.Run("another user's order looks like it does not exist", func(t *testing.T) {
		d := newOrderTestDeps()
		d.repo.On("GetByID", "order-1").Return(openOrderFixture(), nil)

		_, err := d.service.GetOrder(ctx, "someone-else", "order-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrNoSuchOrder, appErr.Code)
	})

	t.Run("an expired opened order reads as timed out", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.ExpirationDate = time.Now().Add(-time.Minute)

		d.repo.On("GetByID", "order-1").Return(order, nil)

		_, err := d.service.GetOrder(ctx, "user-1", "order-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrOpenOrderExpired, appErr.Code)
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelling an opened order deletes it", func(t *testing.T) {
		d := newOrderTestDeps()
		d.repo.On("GetByID", "order-1").Return(openOrderFixture(), nil)
		d.repo.On("Delete", "order-1").Return(nil)

		err := d.service.CancelOrder(ctx, "user-1", "order-1")

		assert.NoError(t, err)
		d.repo.AssertExpectations(t)
	})

	t.Run("a pending order cannot be cancelled", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusPending

		d.repo.On("GetByID", "order-1").Return(order, nil)

		err := d.service.CancelOrder(ctx, "user-1", "order-1")

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrOpenedOrderOnly, appErr.Code)
		d.repo.AssertNotCalled(t, "Delete", mock.Anything)
	})
}

func TestChangeOrder(t *testing.T) {
	ctx := context.Background()
	clientError := model.OrderError{Code: 6005, Title: "wallet error", Message: "signing failed"}

	t.Run("a client reported failure marks the order failed", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		d.repo.On("GetByID", "order-1").Return(order, nil)
		d.repo.On("Update", mock.AnythingOfType("*model.Order")).Return(nil)

		view, err := d.service.ChangeOrder(ctx, "user-1", "order-1", clientError)

		assert.NoError(t, err)
		assert.Equal(t, model.StatusFailed, view.Status)
		assert.Equal(t, "wallet error", view.Error.Title)
	})

	t.Run("a completed order cannot be failed by the client", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusCompleted

		d.repo.On("GetByID", "order-1").Return(order, nil)

		_, err := d.service.ChangeOrder(ctx, "user-1", "order-1", clientError)

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrCompletedOrderCantBeFail, appErr.Code)
	})

	t.Run("re-reporting an already failed order is idempotent", func(t *testing.T) {
		d := newOrderTestDeps()
		order := openOrderFixture()
		order.Status = model.StatusFailed
		order.Error = &model.OrderError{Code: 6005}

		d.repo.On("GetByID", "order-1").Return(order, nil)

		view, err := d.service.ChangeOrder(ctx, "user-1", "order-1", clientError)

		assert.NoError(t, err)
		assert.Equal(t, model.StatusFailed, view.Status)
		d.repo.AssertNotCalled(t, "Update", mock.Anything)
	})
}

func signExternalJWT(t *testing.T, secret string, claims *ExternalOrderClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func externalEarnClaims() *ExternalOrderClaims {
	return &ExternalOrderClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   SubjectEarn,
			Issuer:    "app-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Offer:     JWTOffer{ID: "ext-offer-1", Amount: 30},
		Recipient: &JWTParty{UserID: "app-user-1", Title: "Signup bonus", Description: "Welcome"},
	}
}

func TestCreateExternalOrder(t *testing.T) {
	ctx := context.Background()
	const secret = "app-signing-secret"

	appFixture := &userModel.Application{
		ID:            "app-1",
		Name:          "Test App",
		JWTSecret:     secret,
		WalletAddress: "APP_OP_WALLET",
	}
	callerFixture := &userModel.User{
		BaseModel: baseModel.BaseModel{ID: "user-1"},
		AppID:     "app-1",
		AppUserID: "app-user-1",
	}

	t.Run("creates an earn order from a valid app JWT", func(t *testing.T) {
		d := newOrderTestDeps()
		d.users.On("GetApp", "app-1").Return(appFixture, nil)
		d.users.On("GetUser", "user-1").Return(callerFixture, nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetLatestByNonce", "ext-offer-1", "user-1", model.DefaultNonce).Return(nil, gorm.ErrRecordNotFound)

		var created *model.Order
		d.repo.On("Create", mock.AnythingOfType("*model.Order")).Run(func(args mock.Arguments) {
			created = args.Get(0).(*model.Order)
		}).Return(nil)

		orderJWT := signExternalJWT(t, secret, externalEarnClaims())
		view, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		assert.NoError(t, err)
		assert.Equal(t, model.OriginExternal, view.Origin)
		assert.Equal(t, int64(30), view.Amount)
		assert.Equal(t, model.DefaultNonce, view.Nonce)
		assert.Equal(t, "Signup bonus", view.Title)
		assert.Equal(t, "APP_OP_WALLET", created.BlockchainData.SenderAddress)
		assert.Equal(t, "USER_WALLET", created.BlockchainData.RecipientAddress)
	})

	t.Run("a nonce already in flight is rejected with the existing order location", func(t *testing.T) {
		d := newOrderTestDeps()
		previous := openOrderFixture()
		previous.ID = "prev-1"
		previous.Status = model.StatusCompleted

		d.users.On("GetApp", "app-1").Return(appFixture, nil)
		d.users.On("GetUser", "user-1").Return(callerFixture, nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetLatestByNonce", "ext-offer-1", "user-1", model.DefaultNonce).Return(previous, nil)

		orderJWT := signExternalJWT(t, secret, externalEarnClaims())
		_, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrExternalOrderExhausted, appErr.Code)
		assert.Equal(t, "/v1/orders/prev-1", appErr.Location)
		d.repo.AssertNotCalled(t, "Create", mock.Anything)
	})

	t.Run("a failed previous order releases the nonce", func(t *testing.T) {
		d := newOrderTestDeps()
		previous := openOrderFixture()
		previous.Status = model.StatusFailed

		d.users.On("GetApp", "app-1").Return(appFixture, nil)
		d.users.On("GetUser", "user-1").Return(callerFixture, nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.repo.On("GetLatestByNonce", "ext-offer-1", "user-1", model.DefaultNonce).Return(previous, nil)
		d.repo.On("Create", mock.AnythingOfType("*model.Order")).Return(nil)

		orderJWT := signExternalJWT(t, secret, externalEarnClaims())
		view, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		assert.NoError(t, err)
		assert.Equal(t, model.StatusOpened, view.Status)
		d.repo.AssertExpectations(t)
	})

	t.Run("a JWT naming another recipient is rejected", func(t *testing.T) {
		d := newOrderTestDeps()
		d.users.On("GetApp", "app-1").Return(appFixture, nil)
		d.users.On("GetUser", "user-1").Return(callerFixture, nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)

		claims := externalEarnClaims()
		claims.Recipient.UserID = "someone-else"
		orderJWT := signExternalJWT(t, secret, claims)

		_, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrInvalidJWT, appErr.Code)
	})

	t.Run("a JWT signed with the wrong secret is rejected", func(t *testing.T) {
		d := newOrderTestDeps()
		d.users.On("GetApp", "app-1").Return(appFixture, nil)

		orderJWT := signExternalJWT(t, "wrong-secret", externalEarnClaims())
		_, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		appErr, ok := err.(*response.AppError)
		assert.True(t, ok)
		assert.Equal(t, response.ErrInvalidJWT, appErr.Code)
	})

	t.Run("a pay_to_user order carries both contexts", func(t *testing.T) {
		d := newOrderTestDeps()
		recipientUser := &userModel.User{
			BaseModel: baseModel.BaseModel{ID: "user-2"},
			AppID:     "app-1",
			AppUserID: "app-user-2",
		}
		recipientWallet := &userModel.Wallet{UserID: "user-2", Address: "FRIEND_WALLET"}

		d.users.On("GetApp", "app-1").Return(appFixture, nil)
		d.users.On("GetUser", "user-1").Return(callerFixture, nil)
		d.users.On("ActiveWallet", "user-1", "device-1").Return(walletFixture(), nil)
		d.users.On("FindByAppUserID", "app-1", "app-user-2").Return(recipientUser, nil)
		d.users.On("LatestWallet", "user-2").Return(recipientWallet, nil)
		d.repo.On("GetLatestByNonce", "ext-offer-1", "user-1", "gift-42").Return(nil, gorm.ErrRecordNotFound)

		var created *model.Order
		d.repo.On("Create", mock.AnythingOfType("*model.Order")).Run(func(args mock.Arguments) {
			created = args.Get(0).(*model.Order)
		}).Return(nil)

		claims := &ExternalOrderClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   SubjectPayToUser,
				Issuer:    "app-1",
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Offer:     JWTOffer{ID: "ext-offer-1", Amount: 15},
			Sender:    &JWTParty{UserID: "app-user-1", Title: "Sent Kin"},
			Recipient: &JWTParty{UserID: "app-user-2", Title: "Received Kin"},
			Nonce:     "gift-42",
		}
		orderJWT := signExternalJWT(t, secret, claims)

		view, err := d.service.CreateExternalOrder(ctx, "app-1", "user-1", "device-1", orderJWT)

		assert.NoError(t, err)
		assert.True(t, created.IsP2P())
		assert.Equal(t, "USER_WALLET", created.BlockchainData.SenderAddress)
		assert.Equal(t, "FRIEND_WALLET", created.BlockchainData.RecipientAddress)
		// 付款方视角是 spend
		assert.Equal(t, model.RoleSpend, view.OfferType)
		assert.Equal(t, "gift-42", view.Nonce)
	})
}

func TestOrderHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("returns non-open orders newest first", func(t *testing.T) {
		d := newOrderTestDeps()
		completed := *openOrderFixture()
		completed.Status = model.StatusCompleted

		d.repo.On("ListByUser", "user-1", repository.HistoryFilter{}, 0, 25).
			Return([]model.Order{completed}, int64(1), nil)

		views, total, err := d.service.OrderHistory(ctx, "user-1", repository.HistoryFilter{}, 1, 25)

		assert.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, views, 1)
		assert.Equal(t, model.StatusCompleted, views[0].Status)
	})

	t.Run("origin and offer filters reach the repository", func(t *testing.T) {
		d := newOrderTestDeps()
		filter := repository.HistoryFilter{Origin: model.OriginExternal, OfferID: "offer-1"}

		d.repo.On("ListByUser", "user-1", filter, 0, 25).Return([]model.Order{}, int64(0), nil)

		_, total, err := d.service.OrderHistory(ctx, "user-1", filter, 1, 25)

		assert.NoError(t, err)
		assert.Zero(t, total)
		d.repo.AssertExpectations(t)
	})
}
