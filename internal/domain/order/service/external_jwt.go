package service

import (
	"fmt"

	"kin_marketplace/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

// 外部订单 JWT
// 应用后端用自己的密钥签发，subject 表示订单方向：
//   earn        应用付给用户
//   spend       用户付给应用
//   pay_to_user 用户付给用户（P2P）
// offer 段携带订单金额和外部 offer ID，sender/recipient 段指明参与方

const (
	SubjectEarn      = "earn"
	SubjectSpend     = "spend"
	SubjectPayToUser = "pay_to_user"
)

// JWTOffer 外部 offer 载荷
type JWTOffer struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// JWTParty 订单参与方
// UserID 是应用侧的用户 ID（app_user_id），不是本服务的内部 ID
type JWTParty struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// WalletAddress 可选，显式指定结算地址（spend 收款方等）
	WalletAddress string `json:"wallet_address,omitempty"`
}

// ExternalOrderClaims 外部订单 JWT 的全部载荷
type ExternalOrderClaims struct {
	jwt.RegisteredClaims
	Offer     JWTOffer  `json:"offer"`
	Sender    *JWTParty `json:"sender,omitempty"`
	Recipient *JWTParty `json:"recipient,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
}

// parseExternalOrderJWT 用应用密钥验签并做结构校验
func parseExternalOrderJWT(tokenString, secret string) (*ExternalOrderClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ExternalOrderClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, response.InvalidExternalOrderJWT(err.Error())
	}

	claims, ok := token.Claims.(*ExternalOrderClaims)
	if !ok || !token.Valid {
		return nil, response.InvalidExternalOrderJWT("malformed claims")
	}

	if claims.Offer.ID == "" {
		return nil, response.InvalidExternalOrderJWT("offer.id is required")
	}
	if claims.Offer.Amount <= 0 {
		return nil, response.InvalidExternalOrderJWT("offer.amount must be positive")
	}

	subject, _ := claims.GetSubject()
	switch subject {
	case SubjectEarn:
		if claims.Recipient == nil || claims.Recipient.UserID == "" {
			return nil, response.InvalidExternalOrderJWT("earn order requires a recipient")
		}
	case SubjectSpend:
		if claims.Sender == nil || claims.Sender.UserID == "" {
			return nil, response.InvalidExternalOrderJWT("spend order requires a sender")
		}
	case SubjectPayToUser:
		if claims.Sender == nil || claims.Sender.UserID == "" ||
			claims.Recipient == nil || claims.Recipient.UserID == "" {
			return nil, response.InvalidExternalOrderJWT("pay_to_user order requires both sender and recipient")
		}
		if claims.Sender.UserID == claims.Recipient.UserID {
			return nil, response.InvalidExternalOrderJWT("pay_to_user sender and recipient must differ")
		}
	default:
		return nil, response.InvalidExternalOrderJWT(fmt.Sprintf("unknown subject %q", subject))
	}

	return claims, nil
}
