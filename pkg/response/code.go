package response

// 业务状态码：HTTP 状态类 * 100 + 序号
const (
	CodeSuccess = 0

	// 请求错误 400xx
	ErrInvalidParam   = 40001
	ErrInvalidJWT     = 40002
	ErrInvalidContent = 40003

	// 认证错误 401xx
	ErrMissingToken = 40101
	ErrTokenInvalid = 40102
	ErrTokenExpired = 40103
	ErrNoPermission = 40104

	// 资源不存在 404xx
	ErrNoSuchApp       = 40401
	ErrNoSuchOffer     = 40402
	ErrNoSuchOrder     = 40403
	ErrNoSuchUser      = 40404
	ErrOfferCapReached = 40405

	// 超时 408xx
	ErrOpenOrderExpired = 40801

	// 冲突 409xx
	ErrExternalOrderExhausted   = 40901
	ErrCompletedOrderCantBeFail = 40902
	ErrUserHasNoWallet          = 40903
	ErrOpenedOrderOnly          = 40904

	// 已废弃 410xx
	ErrBlockchainVersionDeprecated = 41001

	// 限流 429xx
	ErrTooManyRequests    = 42901
	ErrTooMuchEarnOrdered = 42902

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrLockUnavailable = 50201

	// 区块链结算错误 6xxx，只记录在订单上，不抛给 HTTP 调用方
	ErrWrongAmount        = 6001
	ErrWrongSender        = 6002
	ErrWrongRecipient     = 6003
	ErrAssetUnavailable   = 6004
	ErrBlockchainEndpoint = 6005
	ErrTransactionTimeout = 6006
)
