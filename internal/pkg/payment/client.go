package payment

import (
	"context"
	"fmt"
	"time"

	"kin_marketplace/pkg/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 外部支付微服务客户端
// 本服务只通过这个 REST 契约与链上结算交互，支付结果经 webhook 异步回来

// PayRequest 触发 earn 打款
type PayRequest struct {
	Amount           int64  `json:"amount"`
	AppID            string `json:"app_id"`
	RecipientAddress string `json:"recipient_address"`
	ID               string `json:"id"` // 订单 ID，webhook 回调时原样带回
	Callback         string `json:"callback"`
}

// SubmitTransactionRequest 提交客户端已签名的 spend 交易（blockchain v3）
type SubmitTransactionRequest struct {
	Amount           int64  `json:"amount"`
	AppID            string `json:"app_id"`
	RecipientAddress string `json:"recipient_address"`
	SenderAddress    string `json:"sender_address"`
	ID               string `json:"id"`
	Callback         string `json:"callback"`
	Transaction      string `json:"transaction"` // 签名后的交易 blob
}

// CreateWalletRequest 创建/登记钱包
type CreateWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
	AppID         string `json:"app_id"`
	ID            string `json:"id"`
	Callback      string `json:"callback"`
}

// Wallet 钱包信息
type Wallet struct {
	WalletAddress string `json:"wallet_address"`
	KinBalance    int64  `json:"kin_balance"`
	NativeBalance int64  `json:"native_balance"`
}

// Payment 链上支付记录
type Payment struct {
	ID               string    `json:"id"`
	AppID            string    `json:"app_id"`
	TransactionID    string    `json:"transaction_id"`
	RecipientAddress string    `json:"recipient_address"`
	SenderAddress    string    `json:"sender_address"`
	Amount           int64     `json:"amount"`
	Timestamp        time.Time `json:"timestamp"`
}

// WatcherRegistration watcher 注册请求
type WatcherRegistration struct {
	WalletAddresses []string `json:"wallet_addresses"`
	Callback        string   `json:"callback"`
	ServiceID       string   `json:"service_id"`
}

// BlockchainConfig 链配置
type BlockchainConfig struct {
	Horizon     string `json:"horizon_url"`
	NetworkID   string `json:"network_passphrase"`
	AssetIssuer string `json:"asset_issuer"`
	AssetCode   string `json:"asset_code"`
}

// Client 支付微服务接口
type Client interface {
	Pay(ctx context.Context, req PayRequest) error
	SubmitTransaction(ctx context.Context, req SubmitTransactionRequest) error
	CreateWallet(ctx context.Context, req CreateWalletRequest) error
	GetWallet(ctx context.Context, address string) (*Wallet, error)
	GetWalletPayments(ctx context.Context, address string) ([]Payment, error)
	SetWatcherCallback(ctx context.Context, reg WatcherRegistration) error
	GetBlockchainConfig(ctx context.Context) (*BlockchainConfig, error)
}

type restClient struct {
	http *resty.Client
}

// NewClient 创建支付微服务客户端
// 5xx 自动重试，最终失败由调用方记录（支付结果以 webhook 为准）
func NewClient(baseURL string) Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &restClient{http: http}
}

func (c *restClient) post(ctx context.Context, path string, body interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("payment service %s returned %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *restClient) Pay(ctx context.Context, req PayRequest) error {
	logger.Log.Info("requesting payment",
		zap.String("order_id", req.ID),
		zap.Int64("amount", req.Amount),
		zap.String("recipient", req.RecipientAddress))
	return c.post(ctx, "/payments", req)
}

func (c *restClient) SubmitTransaction(ctx context.Context, req SubmitTransactionRequest) error {
	logger.Log.Info("submitting signed transaction",
		zap.String("order_id", req.ID),
		zap.Int64("amount", req.Amount))
	return c.post(ctx, "/tx/submit", req)
}

func (c *restClient) CreateWallet(ctx context.Context, req CreateWalletRequest) error {
	return c.post(ctx, "/wallets", req)
}

func (c *restClient) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	var wallet Wallet
	resp, err := c.http.R().SetContext(ctx).SetResult(&wallet).Get("/wallets/" + address)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment service get wallet returned %d", resp.StatusCode())
	}
	return &wallet, nil
}

func (c *restClient) GetWalletPayments(ctx context.Context, address string) ([]Payment, error) {
	var result struct {
		Payments []Payment `json:"payments"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/wallets/" + address + "/payments")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment service get payments returned %d", resp.StatusCode())
	}
	return result.Payments, nil
}

func (c *restClient) SetWatcherCallback(ctx context.Context, reg WatcherRegistration) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(reg).Put("/services/" + reg.ServiceID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("payment service watcher registration returned %d", resp.StatusCode())
	}
	return nil
}

func (c *restClient) GetBlockchainConfig(ctx context.Context) (*BlockchainConfig, error) {
	var cfg BlockchainConfig
	resp, err := c.http.R().SetContext(ctx).SetResult(&cfg).Get("/config")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment service get config returned %d", resp.StatusCode())
	}
	return &cfg, nil
}
