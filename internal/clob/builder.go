package clob

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 订单固定参数：24 小时有效期、零手续费、EOA 签名。
const (
	orderTTL          = 24 * time.Hour
	feeRateBps        = 0
	signatureTypeEOA  = 0
	fixedPointDecimal = 6
)

// Builder 将交易意图转换为可签名的订单及其签名域。
// 签名域对同一交易所/链固定不变，与订单数据无关。
type Builder struct {
	domain Domain
}

// NewBuilder 创建订单构造器。
func NewBuilder(chainID int64, exchangeContract common.Address) *Builder {
	return &Builder{domain: NewDomain(chainID, exchangeContract)}
}

// Domain 返回构造器绑定的签名域。
func (b *Builder) Domain() Domain {
	return b.domain
}

// Build 构造一笔新订单。
// nonce 为空时取当前时间戳，仅用于交易所侧的撤单与排序；
// 防重放由随机 salt、签名与交易所的订单哈希去重共同保证。
func (b *Builder) Build(intent TradeIntent, maker, signer common.Address, nonce *big.Int) (*Order, error) {
	salt, err := randomSalt()
	if err != nil {
		return nil, fmt.Errorf("生成订单 salt 失败: %w", err)
	}
	now := time.Now().UTC()
	if nonce == nil {
		nonce = big.NewInt(now.Unix())
	}
	return b.buildAt(intent, maker, signer, nonce, salt, now)
}

// buildAt 是确定性的构造内核，时间与 salt 由调用方注入。
func (b *Builder) buildAt(intent TradeIntent, maker, signer common.Address, nonce *big.Int, salt int64, createdAt time.Time) (*Order, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	shares, err := intent.Shares()
	if err != nil {
		return nil, err
	}

	var makerAmount, takerAmount *big.Int
	switch intent.Side {
	case SideBuy:
		// BUY：付出 USDC（amount），换回份额。
		makerAmount = toFixed6(intent.Amount)
		takerAmount = toFixed6(shares)
	case SideSell:
		// SELL：付出份额（amount），换回 USDC（amount*price）。
		makerAmount = toFixed6(shares)
		takerAmount = toFixed6(intent.Amount.Mul(intent.Price))
	default:
		return nil, fmt.Errorf("订单方向非法: %q", intent.Side)
	}

	return &Order{
		Salt:          salt,
		Maker:         maker,
		Signer:        signer,
		Taker:         common.Address{}, // 零地址表示公开订单
		TokenID:       intent.TokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    createdAt.Add(orderTTL).Unix(),
		Nonce:         new(big.Int).Set(nonce),
		FeeRateBps:    feeRateBps,
		Side:          intent.Side,
		SignatureType: signatureTypeEOA,
	}, nil
}

// toFixed6 将十进制数转换为 6 位定点整数，采用四舍五入。
func toFixed6(d decimal.Decimal) *big.Int {
	return d.Round(fixedPointDecimal).Shift(fixedPointDecimal).BigInt()
}

func randomSalt() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}
