package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	assetRepository "kin_marketplace/internal/domain/asset/repository"
	offerModel "kin_marketplace/internal/domain/offer/model"
	offerService "kin_marketplace/internal/domain/offer/service"
	"kin_marketplace/internal/domain/order/model"
	"kin_marketplace/internal/domain/order/repository"
	userService "kin_marketplace/internal/domain/user/service"
	"kin_marketplace/internal/pkg/config"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/pkg/cache"
	"kin_marketplace/pkg/logger"
	"kin_marketplace/pkg/metrics"
	"kin_marketplace/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 支付 webhook 处理
// 订单的终态由这里决定；重复投递按幂等处理，对支付服务永远返回成功，
// 避免它无限重投一个我们已经处理不了的事件

// incomingAliasTTL 入账支付 ID → 订单 ID 的映射保留时长
const incomingAliasTTL = 24 * time.Hour

func incomingAliasKey(paymentID string) string {
	return "incoming:" + paymentID
}

type WebhookService interface {
	// CompletePayment 支付成功回调
	// 校验通过则订单 completed；金额/地址不符则订单 failed 并记录结构化错误
	CompletePayment(ctx context.Context, p payment.Payment) error
	// FailPayment 支付失败回调
	FailPayment(ctx context.Context, orderID, reason string) error
}

type webhookService struct {
	repo    repository.OrderRepository
	offers  offerService.OfferService
	users   userService.UserService
	assets  assetRepository.AssetRepository
	cache   cache.Cache
	metrics *metrics.Collector
}

func NewWebhookService(
	repo repository.OrderRepository,
	offers offerService.OfferService,
	users userService.UserService,
	assets assetRepository.AssetRepository,
	c cache.Cache,
	collector *metrics.Collector,
) WebhookService {
	return &webhookService{
		repo:    repo,
		offers:  offers,
		users:   users,
		assets:  assets,
		cache:   c,
		metrics: collector,
	}
}

func (s *webhookService) CompletePayment(ctx context.Context, p payment.Payment) error {
	order, err := s.repo.GetByID(p.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 支付 ID 不是订单：watched 钱包的入账转账，补建订单
			return s.handleIncomingPayment(ctx, p)
		}
		return err
	}

	now := time.Now()

	switch order.Status {
	case model.StatusCompleted:
		// 重复投递，幂等返回
		logger.Log.Info("duplicate payment completion ignored", zap.String("order_id", order.ID))
		return nil
	case model.StatusFailed:
		// 惰性超时失败后链上结算才到：完成覆盖超时
		// 其他失败原因（金额不符等）不被后来的支付推翻
		if order.Error == nil || order.Error.Code != response.ErrTransactionTimeout {
			logger.Log.Warn("payment completion for a failed order ignored",
				zap.String("order_id", order.ID))
			return nil
		}
	}

	// 链上实际结算必须和订单完全一致
	if p.Amount != order.Amount {
		return s.failOrder(order, response.ErrWrongAmount, "wrong amount",
			"payment amount does not match the order", now)
	}
	if p.SenderAddress != order.BlockchainData.SenderAddress {
		return s.failOrder(order, response.ErrWrongSender, "wrong sender",
			"payment sender does not match the order", now)
	}
	if p.RecipientAddress != order.BlockchainData.RecipientAddress {
		return s.failOrder(order, response.ErrWrongRecipient, "wrong recipient",
			"payment recipient does not match the order", now)
	}

	previousStatusDate := order.CurrentStatusDate
	order.BlockchainData.TransactionID = p.TransactionID

	// 结算载荷在状态转换之前生成：资产认领失败时订单还未 completed，
	// 仍然可以转入 failed 并落库
	if err := s.attachResult(order, p); err != nil {
		// 资产耗尽：支付已发生但无货可发，订单失败留痕
		if errors.Is(err, assetRepository.ErrNoAssetAvailable) {
			return s.failOrder(order, response.ErrAssetUnavailable, "asset unavailable",
				"no asset left for this offer", now)
		}
		return err
	}

	order.Error = nil
	if err := order.SetStatus(model.StatusCompleted, now); err != nil {
		return err
	}

	if err := s.repo.Update(order); err != nil {
		return err
	}

	logSettlement(order, p)
	s.metrics.RecordOrderCompleted(order.Origin, order.OfferType, now.Sub(previousStatusDate))
	logger.Log.Info("order completed",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.Int64("amount", p.Amount))

	return nil
}

// logSettlement 每个参与方各记一条结算事件
// P2P 订单收付双方都要有独立痕迹，不能只在订单级别留一条
func logSettlement(order *model.Order, p payment.Payment) {
	for i := range order.Contexts {
		octx := &order.Contexts[i]
		msg := "spend payment confirmed"
		if octx.Role == model.RoleEarn {
			msg = "earn payment received"
		}
		logger.Log.Info(msg,
			zap.String("order_id", order.ID),
			zap.String("user_id", octx.UserID),
			zap.String("wallet_address", octx.WalletAddress),
			zap.Int64("amount", p.Amount))
	}
}

// attachResult 完成订单的结算载荷
// coupon 类 spend 订单原子认领一条资产，其余订单给签名的支付确认凭证
func (s *webhookService) attachResult(order *model.Order, p payment.Payment) error {
	if order.Origin == model.OriginMarketplace && order.OfferType == model.RoleSpend {
		offer, err := s.offers.GetOffer(order.OfferID)
		if err != nil {
			return err
		}
		if offer.ContentType == offerModel.ContentTypeCoupon {
			spendContext := order.ContextForRole(model.RoleSpend)
			asset, err := s.assets.ClaimForUser(order.OfferID, spendContext.UserID)
			if err != nil {
				return err
			}
			order.Value = asset.Value
			return nil
		}
	}

	value, err := paymentConfirmation(order, p)
	if err != nil {
		return err
	}
	order.Value = value
	return nil
}

// PaymentConfirmationClaims 市场签发的支付确认凭证
// 客户端可凭市场密钥校验真伪
type PaymentConfirmationClaims struct {
	jwt.RegisteredClaims
	OfferID       string `json:"offer_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Role          string `json:"role"`
}

// paymentConfirmation 签名的支付确认
// P2P 订单从付款方视角签发（role=spend），普通订单用其参与角色
func paymentConfirmation(order *model.Order, p payment.Payment) (json.RawMessage, error) {
	role := order.OfferType
	if order.IsP2P() {
		role = model.RoleSpend
	}

	claims := PaymentConfirmationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "payment_confirmation",
			Issuer:   "kin-marketplace",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		OfferID:       order.OfferID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Role:          role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(config.GlobalConfig.JWT.Secret))
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{
		"type": "payment_confirmation",
		"jwt":  token,
	})
}

// failOrder 订单置为失败，错误记录在订单上而不是抛给支付服务
func (s *webhookService) failOrder(order *model.Order, code int, title, message string, now time.Time) error {
	if err := order.FailWith(code, title, message, now); err != nil {
		// completed 不能再失败，留日志即可
		logger.Log.Warn("cannot fail order", zap.String("order_id", order.ID), zap.Error(err))
		return nil
	}
	if err := s.repo.Update(order); err != nil {
		return err
	}

	s.metrics.RecordOrderFailed(order.Origin, strconv.Itoa(code))
	logger.Log.Warn("order failed by payment validation",
		zap.String("order_id", order.ID),
		zap.Int("code", code),
		zap.String("title", title))
	return nil
}

func (s *webhookService) FailPayment(ctx context.Context, orderID, reason string) error {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Log.Warn("payment failure for unknown order", zap.String("order_id", orderID))
			return nil
		}
		return err
	}

	if order.Status == model.StatusFailed {
		return nil
	}

	return s.failOrder(order, response.ErrBlockchainEndpoint, "payment failed", reason, time.Now())
}

// handleIncomingPayment 不对应任何订单的入账
// 给 watched 钱包的持有人补建一条已完成的外部订单，支付 ID 到订单 ID 的
// 映射进缓存，重复投递借此幂等（best effort，映射丢失会重建订单）
func (s *webhookService) handleIncomingPayment(ctx context.Context, p payment.Payment) error {
	var existingOrderID string
	if err := s.cache.Get(ctx, incomingAliasKey(p.ID), &existingOrderID); err == nil {
		logger.Log.Info("duplicate incoming payment ignored",
			zap.String("payment_id", p.ID),
			zap.String("order_id", existingOrderID))
		return nil
	}

	wallet, err := s.users.FindWalletByAddress(p.RecipientAddress)
	if err != nil {
		return err
	}
	if wallet == nil {
		logger.Log.Warn("incoming payment to unknown wallet",
			zap.String("payment_id", p.ID),
			zap.String("recipient", p.RecipientAddress))
		return nil
	}

	now := time.Now()
	order := &model.Order{
		OfferID:   incomingAliasKey(p.ID),
		AppID:     p.AppID,
		Origin:    model.OriginExternal,
		OfferType: model.RoleEarn,
		Status:    model.StatusCompleted,
		Amount:    p.Amount,
		Nonce:     model.DefaultNonce,
		BlockchainData: model.BlockchainData{
			SenderAddress:    p.SenderAddress,
			RecipientAddress: p.RecipientAddress,
			TransactionID:    p.TransactionID,
		},
		CurrentStatusDate: now,
		ExpirationDate:    now,
		CompletionDate:    &now,
		Contexts: []model.OrderContext{{
			UserID:        wallet.UserID,
			WalletAddress: wallet.Address,
			Role:          model.RoleEarn,
			Meta: model.ContextMeta{
				Title:       "Received Kin",
				Description: "Incoming transfer",
			},
		}},
	}

	value, err := paymentConfirmation(order, p)
	if err != nil {
		return err
	}
	order.Value = value

	if err := s.repo.Create(order); err != nil {
		return err
	}

	_ = s.cache.SetWithTTL(ctx, incomingAliasKey(p.ID), order.ID, incomingAliasTTL)

	logSettlement(order, p)
	s.metrics.RecordOrderCreated(model.OriginExternal, model.RoleEarn, p.AppID)
	s.metrics.RecordOrderCompleted(model.OriginExternal, model.RoleEarn, 0)
	logger.Log.Info("incoming transfer order created",
		zap.String("payment_id", p.ID),
		zap.String("order_id", order.ID),
		zap.String("user_id", wallet.UserID))

	return nil
}
