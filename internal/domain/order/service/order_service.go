package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	offerModel "kin_marketplace/internal/domain/offer/model"
	offerService "kin_marketplace/internal/domain/offer/service"
	"kin_marketplace/internal/domain/order/model"
	"kin_marketplace/internal/domain/order/repository"
	userService "kin_marketplace/internal/domain/user/service"
	"kin_marketplace/internal/pkg/config"
	"kin_marketplace/internal/pkg/lock"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/internal/pkg/ratelimit"
	"kin_marketplace/internal/pkg/worker"
	"kin_marketplace/pkg/logger"
	"kin_marketplace/pkg/metrics"
	"kin_marketplace/pkg/response"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 订单核心流程
// 创建在两把 Redis 锁下做 read-or-create：外层锁 (offer, user) 串行化同一用户
// 的重复创建，内层锁 (offer) 串行化名额检查；过期惰性处理，读到 pending 且
// 超时的订单即置失败，完成与失败最终由支付 webhook 驱动

// lockTTL 单次创建流程的锁有效期
const lockTTL = time.Second

// Locking *lock.Locker 满足该接口，测试时可替换
type Locking interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// PaymentDispatcher *worker.Pool 满足该接口
type PaymentDispatcher interface {
	AddTask(task worker.PaymentTask)
}

type OrderService interface {
	// CreateMarketplaceOrder 市场订单 read-or-create：已有未过期 opened 订单则直接返回
	CreateMarketplaceOrder(ctx context.Context, appID, userID, deviceID, offerID string) (*model.OrderView, error)
	// CreateExternalOrder 应用签发的外部订单，按 (offer, user, nonce) 幂等
	CreateExternalOrder(ctx context.Context, appID, userID, deviceID, orderJWT string) (*model.OrderView, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.OrderView, error)
	// SubmitOrder opened → pending，earn 订单校验内容并过限流，然后异步触发支付
	// 对非 opened 订单是幂等重读，重复提交安全
	SubmitOrder(ctx context.Context, userID, orderID, content, transaction string) (*model.OrderView, error)
	// CancelOrder 取消并删除 opened 订单
	CancelOrder(ctx context.Context, userID, orderID string) error
	// ChangeOrder 客户端上报失败（钱包侧错误等），订单置为 failed
	ChangeOrder(ctx context.Context, userID, orderID string, orderErr model.OrderError) (*model.OrderView, error)
	// OrderHistory 非 opened 订单，按状态变更时间倒序，可按来源和 offer 过滤
	OrderHistory(ctx context.Context, userID string, filter repository.HistoryFilter, page, limit int) ([]model.OrderView, int64, error)
}

type orderService struct {
	repo    repository.OrderRepository
	offers  offerService.OfferService
	users   userService.UserService
	locker  Locking
	limiter ratelimit.Checker
	pool    PaymentDispatcher
	metrics *metrics.Collector
}

func NewOrderService(
	repo repository.OrderRepository,
	offers offerService.OfferService,
	users userService.UserService,
	locker Locking,
	limiter ratelimit.Checker,
	pool PaymentDispatcher,
	collector *metrics.Collector,
) OrderService {
	return &orderService{
		repo:    repo,
		offers:  offers,
		users:   users,
		locker:  locker,
		limiter: limiter,
		pool:    pool,
		metrics: collector,
	}
}

func getLockKey(offerID, userID string) string {
	return fmt.Sprintf("lock:order:get:%s:%s", offerID, userID)
}

func createLockKey(offerID string) string {
	return fmt.Sprintf("lock:order:create:%s", offerID)
}

func (s *orderService) CreateMarketplaceOrder(ctx context.Context, appID, userID, deviceID, offerID string) (*model.OrderView, error) {
	offer, err := s.offers.GetOffer(offerID)
	if err != nil {
		return nil, err
	}
	appOffer, err := s.offers.GetAppOffer(ctx, appID, offerID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.users.ActiveWallet(userID, deviceID)
	if err != nil {
		return nil, err
	}

	var view *model.OrderView
	err = s.locker.WithLock(ctx, getLockKey(offerID, userID), lockTTL, func(ctx context.Context) error {
		// 已有未过期的 opened 订单直接复用，不占新名额
		if existing, err := s.repo.GetOpenOrder(offerID, userID); err == nil {
			v := existing.ViewFor(userID)
			view = &v
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 名额检查和创建在 offer 级别的锁里，两个用户抢最后一个名额只会成功一个
		return s.locker.WithLock(ctx, createLockKey(offerID), lockTTL, func(ctx context.Context) error {
			if err := s.checkCaps(appOffer, userID); err != nil {
				return err
			}

			order := buildMarketplaceOrder(offer, appOffer, userID, wallet.Address)
			if err := s.repo.Create(order); err != nil {
				return err
			}

			s.metrics.RecordOrderCreated(model.OriginMarketplace, offer.Type, appID)
			logger.Log.Info("marketplace order created",
				zap.String("order_id", order.ID),
				zap.String("offer_id", offerID),
				zap.String("user_id", userID))

			v := order.ViewFor(userID)
			view = &v
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, response.LockUnavailable("order creation for offer " + offerID)
		}
		return nil, err
	}

	return view, nil
}

// checkCaps offer 总名额和单用户名额
// opened/pending/completed 都占名额，failed 释放
func (s *orderService) checkCaps(appOffer *offerModel.AppOffer, userID string) error {
	total, err := s.repo.CountActiveByOffer(appOffer.AppID, appOffer.OfferID)
	if err != nil {
		return err
	}
	if total >= appOffer.CapTotal {
		return response.OfferCapReached(appOffer.OfferID)
	}

	byUser, err := s.repo.CountActiveByOfferUser(appOffer.OfferID, userID)
	if err != nil {
		return err
	}
	if byUser >= appOffer.CapPerUser {
		return response.OfferCapReached(appOffer.OfferID)
	}

	return nil
}

func buildMarketplaceOrder(offer *offerModel.Offer, appOffer *offerModel.AppOffer, userID, userWallet string) *model.Order {
	now := time.Now()

	// earn 由应用钱包出款给用户，spend 反向
	bd := model.BlockchainData{
		SenderAddress:    appOffer.WalletAddress,
		RecipientAddress: userWallet,
	}
	role := model.RoleEarn
	if offer.Type == offerModel.TypeSpend {
		bd.SenderAddress, bd.RecipientAddress = bd.RecipientAddress, bd.SenderAddress
		role = model.RoleSpend
	}

	return &model.Order{
		OfferID:           offer.ID,
		AppID:             appOffer.AppID,
		Origin:            model.OriginMarketplace,
		OfferType:         offer.Type,
		Status:            model.StatusOpened,
		Amount:            offer.Amount,
		Nonce:             model.DefaultNonce,
		BlockchainData:    bd,
		CurrentStatusDate: now,
		ExpirationDate:    now.Add(config.GlobalConfig.Marketplace.OpenOrderExpiration()),
		Contexts: []model.OrderContext{{
			UserID:        userID,
			WalletAddress: userWallet,
			Role:          role,
			Meta: model.ContextMeta{
				Title:        offer.Title,
				Description:  offer.Description,
				CallToAction: offer.CallToAction,
			},
		}},
	}
}

func (s *orderService) CreateExternalOrder(ctx context.Context, appID, userID, deviceID, orderJWT string) (*model.OrderView, error) {
	app, err := s.users.GetApp(appID)
	if err != nil {
		return nil, err
	}
	claims, err := parseExternalOrderJWT(orderJWT, app.JWTSecret)
	if err != nil {
		return nil, err
	}

	nonce := claims.Nonce
	if nonce == "" {
		nonce = model.DefaultNonce
	}

	order, err := s.buildExternalOrder(ctx, app.ID, app.WalletAddress, userID, deviceID, claims, nonce)
	if err != nil {
		return nil, err
	}

	var view *model.OrderView
	err = s.locker.WithLock(ctx, getLockKey(claims.Offer.ID, userID), lockTTL, func(ctx context.Context) error {
		existing, err := s.repo.GetLatestByNonce(claims.Offer.ID, userID, nonce)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			existing, err = s.freshen(existing)
			if err != nil {
				return err
			}
			switch existing.Status {
			case model.StatusOpened:
				if !existing.IsExpired(time.Now()) {
					v := existing.ViewFor(userID)
					view = &v
					return nil
				}
				// 过期的 opened 订单视为不存在，重建
			case model.StatusPending, model.StatusCompleted:
				// 同一 nonce 已在途或已完成，指向已有订单
				return response.ExternalOrderExhausted(existing.ID)
			}
			// failed 订单释放 nonce，允许重建
		}

		if err := s.repo.Create(order); err != nil {
			return err
		}

		s.metrics.RecordOrderCreated(model.OriginExternal, order.OfferType, appID)
		logger.Log.Info("external order created",
			zap.String("order_id", order.ID),
			zap.String("offer_id", order.OfferID),
			zap.String("nonce", nonce),
			zap.String("user_id", userID))

		v := order.ViewFor(userID)
		view = &v
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, response.LockUnavailable("external order for offer " + claims.Offer.ID)
		}
		return nil, err
	}

	return view, nil
}

// buildExternalOrder 解析参与方并组装订单，不落库
func (s *orderService) buildExternalOrder(ctx context.Context, appID, appWallet, userID, deviceID string, claims *ExternalOrderClaims, nonce string) (*model.Order, error) {
	caller, err := s.users.GetUser(userID)
	if err != nil {
		return nil, err
	}
	callerWallet, err := s.users.ActiveWallet(userID, deviceID)
	if err != nil {
		return nil, err
	}

	subject, _ := claims.GetSubject()
	now := time.Now()

	order := &model.Order{
		OfferID:           claims.Offer.ID,
		AppID:             appID,
		Origin:            model.OriginExternal,
		Status:            model.StatusOpened,
		Amount:            claims.Offer.Amount,
		Nonce:             nonce,
		CurrentStatusDate: now,
		ExpirationDate:    now.Add(config.GlobalConfig.Marketplace.OpenOrderExpiration()),
	}

	switch subject {
	case SubjectEarn:
		if claims.Recipient.UserID != caller.AppUserID {
			return nil, response.InvalidExternalOrderJWT("recipient is not the requesting user")
		}
		order.OfferType = model.RoleEarn
		order.BlockchainData = model.BlockchainData{
			SenderAddress:    appWallet,
			RecipientAddress: callerWallet.Address,
		}
		order.Contexts = []model.OrderContext{
			contextFromParty(userID, callerWallet.Address, model.RoleEarn, claims.Recipient),
		}

	case SubjectSpend:
		if claims.Sender.UserID != caller.AppUserID {
			return nil, response.InvalidExternalOrderJWT("sender is not the requesting user")
		}
		recipientAddress := appWallet
		if claims.Recipient != nil && claims.Recipient.WalletAddress != "" {
			recipientAddress = claims.Recipient.WalletAddress
		}
		order.OfferType = model.RoleSpend
		order.BlockchainData = model.BlockchainData{
			SenderAddress:    callerWallet.Address,
			RecipientAddress: recipientAddress,
		}
		order.Contexts = []model.OrderContext{
			contextFromParty(userID, callerWallet.Address, model.RoleSpend, claims.Sender),
		}

	case SubjectPayToUser:
		// 付款方发起，收款方是同应用的另一个用户
		if claims.Sender.UserID != caller.AppUserID {
			return nil, response.InvalidExternalOrderJWT("sender is not the requesting user")
		}
		recipient, err := s.users.FindByAppUserID(appID, claims.Recipient.UserID)
		if err != nil {
			return nil, err
		}
		recipientWallet, err := s.users.LatestWallet(recipient.ID)
		if err != nil {
			return nil, err
		}
		order.OfferType = model.RoleSpend
		order.BlockchainData = model.BlockchainData{
			SenderAddress:    callerWallet.Address,
			RecipientAddress: recipientWallet.Address,
		}
		order.Contexts = []model.OrderContext{
			contextFromParty(userID, callerWallet.Address, model.RoleSpend, claims.Sender),
			contextFromParty(recipient.ID, recipientWallet.Address, model.RoleEarn, claims.Recipient),
		}
	}

	return order, nil
}

func contextFromParty(userID, walletAddress, role string, party *JWTParty) model.OrderContext {
	return model.OrderContext{
		UserID:        userID,
		WalletAddress: walletAddress,
		Role:          role,
		Meta: model.ContextMeta{
			Title:       party.Title,
			Description: party.Description,
		},
	}
}

// loadOrder 取订单并做惰性过期处理，非参与方一律按不存在处理
func (s *orderService) loadOrder(orderID, userID string) (*model.Order, error) {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NoSuchOrder(orderID)
		}
		return nil, err
	}
	if order.ContextForUser(userID) == nil {
		return nil, response.NoSuchOrder(orderID)
	}
	return s.freshen(order)
}

// freshen pending 且超时的订单惰性置为失败
// 没有后台清理任务，过期在下一次读取时落地
func (s *orderService) freshen(order *model.Order) (*model.Order, error) {
	if order.Status != model.StatusPending || !order.IsExpired(time.Now()) {
		return order, nil
	}

	if err := order.FailWith(response.ErrTransactionTimeout, "transaction timeout",
		"the transaction did not complete in time", time.Now()); err != nil {
		return order, nil
	}
	if err := s.repo.Update(order); err != nil {
		return nil, err
	}

	s.metrics.RecordOrderFailed(order.Origin, strconv.Itoa(response.ErrTransactionTimeout))
	logger.Log.Info("pending order expired",
		zap.String("order_id", order.ID),
		zap.Time("expiration_date", order.ExpirationDate))

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (*model.OrderView, error) {
	order, err := s.loadOrder(orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Status == model.StatusOpened && order.IsExpired(time.Now()) {
		return nil, response.OpenOrderExpired(orderID)
	}

	view := order.ViewFor(userID)
	return &view, nil
}

func (s *orderService) SubmitOrder(ctx context.Context, userID, orderID, content, transaction string) (*model.OrderView, error) {
	order, err := s.loadOrder(orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Status != model.StatusOpened {
		// 重复提交按幂等处理：不是状态转换，原样返回当前状态
		// （loadOrder 已做过惰性过期，pending 超时在这里已经落为 failed）
		view := order.ViewFor(userID)
		return &view, nil
	}
	now := time.Now()
	if order.IsExpired(now) {
		return nil, response.OpenOrderExpired(orderID)
	}

	userContext := order.ContextForUser(userID)

	if order.OfferType == model.RoleEarn {
		// 市场 earn 订单校验答题内容，quiz 的计分结果覆盖订单金额
		if order.Origin == model.OriginMarketplace {
			offer, err := s.offers.GetOffer(order.OfferID)
			if err != nil {
				return nil, err
			}
			amount, storedContent, err := s.offers.ValidateEarnContent(offer, content)
			if err != nil {
				return nil, err
			}
			order.Amount = amount
			userContext.Meta.Content = storedContent
			if err := s.repo.UpdateContext(userContext); err != nil {
				return nil, err
			}
		}

		if err := s.checkEarnLimits(ctx, order); err != nil {
			return nil, err
		}
	} else if transaction == "" {
		// spend 由客户端签名交易，服务端只转发
		return nil, response.InvalidContent("a signed transaction is required for spend orders")
	}

	if err := order.SetStatus(model.StatusPending, now); err != nil {
		return nil, err
	}
	// pending 窗口是事务超时，比 opened 的下单窗口长
	order.ExpirationDate = now.Add(config.GlobalConfig.Marketplace.PendingTimeout())
	if err := s.repo.Update(order); err != nil {
		return nil, err
	}

	s.dispatchPayment(order, transaction)
	s.metrics.RecordOrderSubmitted(order.Origin, order.OfferType)
	logger.Log.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("offer_type", order.OfferType),
		zap.Int64("amount", order.Amount))

	view := order.ViewFor(userID)
	return &view, nil
}

// checkEarnLimits earn 金额限流：应用、用户、钱包三个维度
func (s *orderService) checkEarnLimits(ctx context.Context, order *model.Order) error {
	limits := config.GlobalConfig.Limits
	window := limits.Window()

	if err := s.limiter.CheckAmount(ctx, fmt.Sprintf("earn:app:%s", order.AppID), window, limits.EarnApp, order.Amount); err != nil {
		return err
	}
	earnContext := order.ContextForRole(model.RoleEarn)
	if err := s.limiter.CheckAmount(ctx, fmt.Sprintf("earn:user:%s", earnContext.UserID), window, limits.EarnUser, order.Amount); err != nil {
		return err
	}
	return s.limiter.CheckAmount(ctx, fmt.Sprintf("earn:wallet:%s", earnContext.WalletAddress), window, limits.EarnWallet, order.Amount)
}

// dispatchPayment 支付调用入队；结果经 webhook 异步回来
func (s *orderService) dispatchPayment(order *model.Order, transaction string) {
	callback := config.GlobalConfig.Payment.CallbackURL

	if order.OfferType == model.RoleEarn {
		s.pool.AddTask(worker.PaymentTask{
			Kind: worker.TaskPay,
			Pay: payment.PayRequest{
				Amount:           order.Amount,
				AppID:            order.AppID,
				RecipientAddress: order.BlockchainData.RecipientAddress,
				ID:               order.ID,
				Callback:         callback,
			},
		})
		return
	}

	s.pool.AddTask(worker.PaymentTask{
		Kind: worker.TaskSubmitTx,
		SubmitTx: payment.SubmitTransactionRequest{
			Amount:           order.Amount,
			AppID:            order.AppID,
			RecipientAddress: order.BlockchainData.RecipientAddress,
			SenderAddress:    order.BlockchainData.SenderAddress,
			ID:               order.ID,
			Callback:         callback,
			Transaction:      transaction,
		},
	})
}

func (s *orderService) CancelOrder(ctx context.Context, userID, orderID string) error {
	order, err := s.loadOrder(orderID, userID)
	if err != nil {
		return err
	}
	if order.Status != model.StatusOpened {
		return response.OpenedOrderOnly(orderID)
	}

	logger.Log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("user_id", userID))
	return s.repo.Delete(orderID)
}

func (s *orderService) ChangeOrder(ctx context.Context, userID, orderID string, orderErr model.OrderError) (*model.OrderView, error) {
	order, err := s.loadOrder(orderID, userID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.StatusCompleted:
		return nil, response.CompletedOrderCantBeFail(orderID)
	case model.StatusFailed:
		// 已失败的订单重复上报按幂等处理
		view := order.ViewFor(userID)
		return &view, nil
	}

	if err := order.FailWith(orderErr.Code, orderErr.Title, orderErr.Message, time.Now()); err != nil {
		return nil, response.CompletedOrderCantBeFail(orderID)
	}
	if err := s.repo.Update(order); err != nil {
		return nil, err
	}

	s.metrics.RecordOrderFailed(order.Origin, strconv.Itoa(orderErr.Code))
	logger.Log.Info("order failed by client report",
		zap.String("order_id", orderID),
		zap.Int("code", orderErr.Code))

	view := order.ViewFor(userID)
	return &view, nil
}

func (s *orderService) OrderHistory(ctx context.Context, userID string, filter repository.HistoryFilter, page, limit int) ([]model.OrderView, int64, error) {
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	orders, total, err := s.repo.ListByUser(userID, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	views := make([]model.OrderView, 0, len(orders))
	for i := range orders {
		fresh, err := s.freshen(&orders[i])
		if err != nil {
			return nil, 0, err
		}
		views = append(views, fresh.ViewFor(userID))
	}

	return views, total, nil
}
