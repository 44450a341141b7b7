package repository

import (
	"kin_marketplace/internal/domain/order/model"

	"gorm.io/gorm"
)

// 占名额的状态：opened 本身就持有一个名额（这也是 read-or-create 的原因），
// failed 订单释放名额
var activeStatuses = []string{model.StatusOpened, model.StatusPending, model.StatusCompleted}

type OrderRepository interface {
	// Create 创建订单及其上下文
	Create(order *model.Order) error
	GetByID(id string) (*model.Order, error)
	// GetOpenOrder 用户在某 offer 上未过期的 opened 订单
	GetOpenOrder(offerID, userID string) (*model.Order, error)
	// GetLatestByNonce 同一 (offer, user, nonce) 最近一笔订单，外部订单幂等检查用
	GetLatestByNonce(offerID, userID, nonce string) (*model.Order, error)
	// CountActiveByOfferUser 用户在该 offer 上占名额的订单数
	CountActiveByOfferUser(offerID, userID string) (int64, error)
	// CountActiveByOffer 该应用下 offer 占名额的订单总数
	CountActiveByOffer(appID, offerID string) (int64, error)
	Update(order *model.Order) error
	UpdateContext(orderContext *model.OrderContext) error
	// Delete 删除订单及其上下文（只用于取消 opened 订单）
	Delete(orderID string) error
	// ListByUser 用户订单历史，不含 opened，按状态变更时间倒序
	ListByUser(userID string, filter HistoryFilter, offset, limit int) ([]model.Order, int64, error)
}

// HistoryFilter 订单历史的可选过滤条件，零值表示不过滤
type HistoryFilter struct {
	Origin  string
	OfferID string
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByID(id string) (*model.Order, error) {
	var order model.Order
	err := r.db.Preload("Contexts").First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetOpenOrder(offerID, userID string) (*model.Order, error) {
	var order model.Order
	err := r.db.Preload("Contexts").
		Joins("JOIN order_contexts ON order_contexts.order_id = orders.id").
		Where("orders.offer_id = ? AND order_contexts.user_id = ? AND orders.status = ? AND orders.expiration_date > NOW()",
			offerID, userID, model.StatusOpened).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetLatestByNonce(offerID, userID, nonce string) (*model.Order, error) {
	var order model.Order
	err := r.db.Preload("Contexts").
		Joins("JOIN order_contexts ON order_contexts.order_id = orders.id").
		Where("orders.offer_id = ? AND order_contexts.user_id = ? AND orders.nonce = ?", offerID, userID, nonce).
		Order("orders.created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) CountActiveByOfferUser(offerID, userID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Order{}).
		Joins("JOIN order_contexts ON order_contexts.order_id = orders.id").
		Where("orders.offer_id = ? AND order_contexts.user_id = ? AND orders.status IN ?",
			offerID, userID, activeStatuses).
		Count(&count).Error
	return count, err
}

func (r *orderRepository) CountActiveByOffer(appID, offerID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Order{}).
		Where("app_id = ? AND offer_id = ? AND status IN ?", appID, offerID, activeStatuses).
		Count(&count).Error
	return count, err
}

func (r *orderRepository) Update(order *model.Order) error {
	// 上下文单独维护，避免 Save 级联触碰关联行
	return r.db.Omit("Contexts").Save(order).Error
}

func (r *orderRepository) UpdateContext(orderContext *model.OrderContext) error {
	return r.db.Save(orderContext).Error
}

func (r *orderRepository) Delete(orderID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.OrderContext{}, "order_id = ?", orderID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Order{}, "id = ?", orderID).Error
	})
}

func (r *orderRepository) ListByUser(userID string, filter HistoryFilter, offset, limit int) ([]model.Order, int64, error) {
	base := r.db.Model(&model.Order{}).
		Joins("JOIN order_contexts ON order_contexts.order_id = orders.id").
		Where("order_contexts.user_id = ? AND orders.status <> ?", userID, model.StatusOpened)

	if filter.Origin != "" {
		base = base.Where("orders.origin = ?", filter.Origin)
	}
	if filter.OfferID != "" {
		base = base.Where("orders.offer_id = ?", filter.OfferID)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []model.Order
	err := base.
		Preload("Contexts").
		Order("orders.current_status_date DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
