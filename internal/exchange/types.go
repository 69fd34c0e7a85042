package exchange

import (
	"fmt"
	"strconv"

	"polyrelay/internal/clob"
)

// OrderType 订单的时效类型。
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good Till Cancelled，默认
	OrderTypeGTD OrderType = "GTD" // Good Till Date
	OrderTypeFOK OrderType = "FOK" // Fill or Kill
	OrderTypeFAK OrderType = "FAK" // Fill and Kill
)

// APICredentials 交易所签发的 L2 凭证，按签名身份持有，可跨交易复用。
type APICredentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Empty 判断凭证是否未设置。
func (c APICredentials) Empty() bool {
	return c.Key == "" || c.Secret == "" || c.Passphrase == ""
}

type apiKeyResponse struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// SignedOrder 交易所接受的订单线格式，数值字段一律字符串化。
type SignedOrder struct {
	Salt          int64     `json:"salt"`
	Maker         string    `json:"maker"`
	Signer        string    `json:"signer"`
	Taker         string    `json:"taker"`
	TokenID       string    `json:"tokenId"`
	MakerAmount   string    `json:"makerAmount"`
	TakerAmount   string    `json:"takerAmount"`
	Expiration    string    `json:"expiration"`
	Nonce         string    `json:"nonce"`
	FeeRateBps    string    `json:"feeRateBps"`
	Side          clob.Side `json:"side"`
	SignatureType int       `json:"signatureType"`
	Signature     string    `json:"signature"`
}

// newSignedOrder 将内部订单转换为线格式，签名由调用方填充。
func newSignedOrder(order *clob.Order) SignedOrder {
	return SignedOrder{
		Salt:          order.Salt,
		Maker:         order.Maker.Hex(),
		Signer:        order.Signer.Hex(),
		Taker:         order.Taker.Hex(),
		TokenID:       order.TokenID,
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Expiration:    strconv.FormatInt(order.Expiration, 10),
		Nonce:         order.Nonce.String(),
		FeeRateBps:    strconv.FormatInt(order.FeeRateBps, 10),
		Side:          order.Side,
		SignatureType: order.SignatureType,
	}
}

type newOrderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
}

// APIError 交易所返回的非 2xx 响应。
type APIError struct {
	Status   int
	ErrorMsg string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error (status=%d): %s", e.Status, e.ErrorMsg)
}

// RejectionError 交易所在 HTTP 层成功但业务上拒单，与传输错误区分开。
type RejectionError struct {
	ErrorMsg string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected order: %s", e.ErrorMsg)
}
