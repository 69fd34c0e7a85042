package clob

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Code 返回链上枚举编码：BUY=0，SELL=1。
func (s Side) Code() uint8 {
	if s == SideSell {
		return 1
	}
	return 0
}

// ParseSide 解析订单方向，大小写不敏感。
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("订单方向非法: %q", raw)
	}
}

// 价格允许的闭区间边界。
var (
	MinPrice = decimal.NewFromFloat(0.01)
	MaxPrice = decimal.NewFromFloat(0.99)
)

// 校验失败的哨兵错误。
var (
	ErrEmptyTokenID    = errors.New("token id 不能为空")
	ErrBadTokenID      = errors.New("token id 必须是 uint256 整数")
	ErrPriceOutOfRange = errors.New("价格超出 [0.01, 0.99] 区间")
	ErrNonPositiveSize = errors.New("数量必须大于0")
)

// TradeIntent 用户的交易意图。
// Amount 的语义随方向变化：BUY 为计价货币（USDC）支出，SELL 为份额数量。
type TradeIntent struct {
	TokenID string
	Side    Side
	Price   decimal.Decimal
	Amount  decimal.Decimal
}

// Validate 校验交易意图，边界价格（0.01/0.99）视为合法。
func (i TradeIntent) Validate() error {
	if strings.TrimSpace(i.TokenID) == "" {
		return ErrEmptyTokenID
	}
	// 条件份额 id 在签名摘要里是 uint256，非数值 id 必须在落库前拒绝。
	if id, ok := math.ParseBig256(i.TokenID); !ok || id.Sign() < 0 {
		return fmt.Errorf("%w: %q", ErrBadTokenID, i.TokenID)
	}
	if _, err := ParseSide(string(i.Side)); err != nil {
		return err
	}
	if i.Price.LessThan(MinPrice) || i.Price.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: %s", ErrPriceOutOfRange, i.Price)
	}
	if !i.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveSize, i.Amount)
	}
	return nil
}

// Shares 计算意图对应的份额数。
// BUY: amount/price（amount 为 USDC 支出）；SELL: amount 本身即份额。
func (i TradeIntent) Shares() (decimal.Decimal, error) {
	if i.Side == SideSell {
		return i.Amount, nil
	}
	if !i.Price.IsPositive() {
		// 价格区间已排除零，此处仅为除零兜底。
		return decimal.Zero, ErrPriceOutOfRange
	}
	return i.Amount.DivRound(i.Price, 12), nil
}

// Order 可签名的订单结构，按交易所合约的字段定义组织。
// 订单即建即签，从不以未签名形态落库。
type Order struct {
	Salt          int64
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       string
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    int64
	Nonce         *big.Int
	FeeRateBps    int64
	Side          Side
	SignatureType int
}
