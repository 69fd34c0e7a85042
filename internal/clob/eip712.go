package clob

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// 交易所签名域常量，对给定链上的所有订单完全一致。
const (
	domainName    = "Polymarket CTF Exchange"
	domainVersion = "1"
)

// Domain EIP-712 签名域。
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain 构造固定签名域。
func NewDomain(chainID int64, verifyingContract common.Address) Domain {
	return Domain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
}

// orderTypes Order 主类型的字段表。
// 字段顺序是合约约定的一部分，不可调整。
var orderTypes = []apitypes.Type{
	{Name: "salt", Type: "uint256"},
	{Name: "maker", Type: "address"},
	{Name: "signer", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "tokenId", Type: "uint256"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "takerAmount", Type: "uint256"},
	{Name: "expiration", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "feeRateBps", Type: "uint256"},
	{Name: "side", Type: "uint8"},
	{Name: "signatureType", Type: "uint8"},
}

// TypedData 将订单编码为钱包可签的 EIP-712 结构。
func (b *Builder) TypedData(order *Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": orderTypes,
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              b.domain.Name,
			Version:           b.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(b.domain.ChainID),
			VerifyingContract: b.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          fmt.Sprintf("%d", order.Salt),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    fmt.Sprintf("%d", order.Expiration),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    fmt.Sprintf("%d", order.FeeRateBps),
			"side":          fmt.Sprintf("%d", order.Side.Code()),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}
