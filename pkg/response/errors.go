package response

import (
	"fmt"
	"net/http"
)

// AppError 服务层带业务码的错误
// Location 非空时会写入响应头，用于指向已存在的资源（外部订单幂等冲突）
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
	Location   string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// NewAppError 构造服务层错误
func NewAppError(httpStatus, code int, msg string) *AppError {
	return &AppError{HTTPStatus: httpStatus, Code: code, Message: msg}
}

func NoSuchApp(id string) *AppError {
	return NewAppError(http.StatusNotFound, ErrNoSuchApp, fmt.Sprintf("no such app: %s", id))
}

func NoSuchOffer(id string) *AppError {
	return NewAppError(http.StatusNotFound, ErrNoSuchOffer, fmt.Sprintf("no such offer: %s", id))
}

func NoSuchOrder(id string) *AppError {
	return NewAppError(http.StatusNotFound, ErrNoSuchOrder, fmt.Sprintf("no such order: %s", id))
}

func NoSuchUser(id string) *AppError {
	return NewAppError(http.StatusNotFound, ErrNoSuchUser, fmt.Sprintf("no such user: %s", id))
}

// OfferCapReached 名额已满对外表现为 404，避免向客户端暴露容量信息
func OfferCapReached(offerID string) *AppError {
	return NewAppError(http.StatusNotFound, ErrOfferCapReached, fmt.Sprintf("offer %s cap reached", offerID))
}

func UserHasNoWallet(userID string) *AppError {
	return NewAppError(http.StatusConflict, ErrUserHasNoWallet, fmt.Sprintf("user %s has no wallet for this device", userID))
}

func OpenOrderExpired(orderID string) *AppError {
	return NewAppError(http.StatusRequestTimeout, ErrOpenOrderExpired, fmt.Sprintf("open order %s expired", orderID))
}

// ExternalOrderExhausted 同一 nonce 的外部订单已处于 pending/completed
func ExternalOrderExhausted(orderID string) *AppError {
	e := NewAppError(http.StatusConflict, ErrExternalOrderExhausted, "external order already completed")
	e.Location = "/v1/orders/" + orderID
	return e
}

func CompletedOrderCantBeFail(orderID string) *AppError {
	return NewAppError(http.StatusConflict, ErrCompletedOrderCantBeFail, fmt.Sprintf("completed order %s cannot be changed to failed", orderID))
}

func InvalidContent(reason string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrInvalidContent, fmt.Sprintf("submitted content is invalid: %s", reason))
}

func InvalidExternalOrderJWT(reason string) *AppError {
	return NewAppError(http.StatusBadRequest, ErrInvalidJWT, fmt.Sprintf("invalid external order jwt: %s", reason))
}

func BlockchainVersionDeprecated(version string) *AppError {
	return NewAppError(http.StatusGone, ErrBlockchainVersionDeprecated, fmt.Sprintf("blockchain version %s is deprecated", version))
}

func TooManyRequests(msg string) *AppError {
	return NewAppError(http.StatusTooManyRequests, ErrTooManyRequests, msg)
}

func TooMuchEarnOrdered(msg string) *AppError {
	return NewAppError(http.StatusTooManyRequests, ErrTooMuchEarnOrdered, msg)
}

// OpenedOrderOnly 提交和取消只对 opened 状态的订单有效
func OpenedOrderOnly(orderID string) *AppError {
	return NewAppError(http.StatusConflict, ErrOpenedOrderOnly, fmt.Sprintf("order %s is not opened; only opened orders can be submitted or cancelled", orderID))
}

// LockUnavailable 分布式锁重试耗尽，按网关错误上抛
func LockUnavailable(resource string) *AppError {
	return NewAppError(http.StatusBadGateway, ErrLockUnavailable, fmt.Sprintf("could not acquire lock for %s", resource))
}
