package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	baseModel "kin_marketplace/pkg/model"
)

// 订单生命周期
// opened → pending → completed | failed，终态不再变化
// completed 永远不允许再转 failed（显式守卫，不只是约定）
const (
	StatusOpened    = "opened"
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	OriginMarketplace = "marketplace"
	OriginExternal    = "external"

	RoleEarn  = "earn"
	RoleSpend = "spend"

	// DefaultNonce 外部订单未携带 nonce 时的约定值
	DefaultNonce = "default"
)

// BlockchainData 链上结算信息
// 创建时写入地址，完成时回填交易 ID 并重新确认地址
type BlockchainData struct {
	SenderAddress    string `json:"sender_address"`
	RecipientAddress string `json:"recipient_address"`
	TransactionID    string `json:"transaction_id,omitempty"`
}

func (d BlockchainData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *BlockchainData) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// OrderError 失败订单携带的结构化错误
type OrderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (e OrderError) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *OrderError) Scan(value interface{}) error {
	return scanJSON(value, e)
}

// ContextMeta 上下文展示信息
type ContextMeta struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Content      string `json:"content,omitempty"` // earn 答题载荷，提交时写入
	CallToAction string `json:"call_to_action,omitempty"`
}

func (m ContextMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ContextMeta) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// OrderContext 订单的参与方
// 普通订单一条（用户对系统钱包），P2P 两条（一收一付，都是真实用户）
type OrderContext struct {
	baseModel.BaseModel
	OrderID       string      `gorm:"index;not null" json:"orderId"`
	UserID        string      `gorm:"index;not null" json:"userId"`
	WalletAddress string      `gorm:"not null" json:"walletAddress"`
	Role          string      `gorm:"type:varchar(10);not null" json:"role"` // earn, spend
	Meta          ContextMeta `gorm:"type:jsonb" json:"meta"`
}

// Order 订单实体
type Order struct {
	baseModel.BaseModel
	OfferID           string          `gorm:"index;not null" json:"offerId"`
	AppID             string          `gorm:"index;not null" json:"appId"`
	Origin            string          `gorm:"type:varchar(20);not null" json:"origin"`
	OfferType         string          `gorm:"type:varchar(10);not null" json:"offerType"` // earn, spend；P2P 订单按查看者视角另行解析
	Status            string          `gorm:"index;type:varchar(10);not null" json:"status"`
	Amount            int64           `gorm:"not null" json:"amount"`
	Nonce             string          `gorm:"index;not null;default:'default'" json:"nonce"`
	BlockchainData    BlockchainData  `gorm:"type:jsonb" json:"blockchainData"`
	Value             json.RawMessage `gorm:"type:jsonb" json:"value,omitempty"` // 完成时的结算载荷
	Error             *OrderError     `gorm:"type:jsonb" json:"error,omitempty"` // 失败时的结构化错误
	CurrentStatusDate time.Time       `gorm:"not null" json:"currentStatusDate"`
	ExpirationDate    time.Time       `gorm:"not null" json:"expirationDate"`
	CompletionDate    *time.Time      `json:"completionDate,omitempty"`
	Contexts          []OrderContext  `gorm:"foreignKey:OrderID" json:"contexts"`
}

// IsOpen opened 或 pending
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpened || o.Status == StatusPending
}

// IsTerminal completed 或 failed
func (o *Order) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// IsExpired 是否已过有效期
// opened 用创建时设置的过期时间；进入 pending 时服务层会把窗口推到事务超时
func (o *Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpirationDate)
}

// IsP2P 两个不同真实用户的上下文
func (o *Order) IsP2P() bool {
	if len(o.Contexts) != 2 {
		return false
	}
	return o.Contexts[0].UserID != "" && o.Contexts[1].UserID != "" &&
		o.Contexts[0].UserID != o.Contexts[1].UserID
}

// SetStatus 推进状态并盖时间戳
// completed → failed 被显式拒绝，状态只能向前走
func (o *Order) SetStatus(status string, now time.Time) error {
	if o.Status == StatusCompleted && status == StatusFailed {
		return errors.New("completed order cannot transition to failed")
	}
	o.Status = status
	o.CurrentStatusDate = now
	if status == StatusCompleted || status == StatusFailed {
		o.CompletionDate = &now
	}
	return nil
}

// FailWith 记录结构化错误并置为 failed
func (o *Order) FailWith(code int, title, message string, now time.Time) error {
	if err := o.SetStatus(StatusFailed, now); err != nil {
		return err
	}
	o.Error = &OrderError{Code: code, Title: title, Message: message}
	o.Value = nil
	return nil
}

// ContextForUser 请求者在订单中的上下文
func (o *Order) ContextForUser(userID string) *OrderContext {
	for i := range o.Contexts {
		if o.Contexts[i].UserID == userID {
			return &o.Contexts[i]
		}
	}
	return nil
}

// ContextForWallet 匿名（按钱包）查找上下文
func (o *Order) ContextForWallet(address string) *OrderContext {
	for i := range o.Contexts {
		if o.Contexts[i].WalletAddress == address {
			return &o.Contexts[i]
		}
	}
	return nil
}

// ContextForRole 指定角色的上下文
func (o *Order) ContextForRole(role string) *OrderContext {
	for i := range o.Contexts {
		if o.Contexts[i].Role == role {
			return &o.Contexts[i]
		}
	}
	return nil
}

// TypeFor 查看者视角下的订单类型
// 非 P2P 订单就是唯一上下文的角色；P2P 按查看者所在的上下文
func (o *Order) TypeFor(userID string) string {
	if ctx := o.ContextForUser(userID); ctx != nil {
		return ctx.Role
	}
	return o.OfferType
}

// OrderView 对客户端暴露的订单投影
type OrderView struct {
	ID             string          `json:"id"`
	OfferID        string          `json:"offer_id"`
	OfferType      string          `json:"offer_type"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Amount         int64           `json:"amount"`
	Nonce          string          `json:"nonce"`
	BlockchainData BlockchainData  `json:"blockchain_data"`
	Status         string          `json:"status"`
	CompletionDate *time.Time      `json:"completion_date,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *OrderError     `json:"error,omitempty"`
	Content        string          `json:"content,omitempty"`
	CallToAction   string          `json:"call_to_action,omitempty"`
	Origin         string          `json:"origin"`
}

// ViewFor 构造查看者视角的投影
func (o *Order) ViewFor(userID string) OrderView {
	ctx := o.ContextForUser(userID)
	if ctx == nil && len(o.Contexts) > 0 {
		ctx = &o.Contexts[0]
	}

	view := OrderView{
		ID:             o.ID,
		OfferID:        o.OfferID,
		OfferType:      o.TypeFor(userID),
		Amount:         o.Amount,
		Nonce:          o.Nonce,
		BlockchainData: o.BlockchainData,
		Status:         o.Status,
		CompletionDate: o.CompletionDate,
		Result:         o.Value,
		Error:          o.Error,
		Origin:         o.Origin,
	}
	if ctx != nil {
		view.Title = ctx.Meta.Title
		view.Description = ctx.Meta.Description
		view.Content = ctx.Meta.Content
		view.CallToAction = ctx.Meta.CallToAction
	}
	return view
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb scan type %T", value)
	}
}
