package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// L1/L2 认证头。
const (
	headerAddress    = "POLY_ADDRESS"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerNonce      = "POLY_NONCE"
	headerAPIKey     = "POLY_API_KEY"
	headerPassphrase = "POLY_PASSPHRASE"
)

// clobAuthMessage 是凭证握手固定的声明文本，交易所按原文校验。
const clobAuthMessage = "This message attests that I control the given wallet"

// clobAuthTypedData 构造凭证握手（L1）要签的 EIP-712 结构。
// 该签名离线证明对 address 的控制权，与订单签名域相互独立。
func clobAuthTypedData(address common.Address, chainID int64, timestamp int64, nonce int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*math.HexOrDecimal256)(big.NewInt(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   clobAuthMessage,
		},
	}
}

// setL1Headers 设置凭证握手请求头。
func setL1Headers(h http.Header, address common.Address, signature string, timestamp int64, nonce int64) {
	h.Set(headerAddress, address.Hex())
	h.Set(headerSignature, signature)
	h.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	h.Set(headerNonce, strconv.FormatInt(nonce, 10))
}

// setL2Headers 为已持凭证的请求计算 HMAC 签名头。
func setL2Headers(h http.Header, address common.Address, creds APICredentials, timestamp int64, method, path, body string) error {
	sig, err := buildHMACSignature(creds.Secret, timestamp, method, path, body)
	if err != nil {
		return err
	}
	h.Set(headerAddress, address.Hex())
	h.Set(headerSignature, sig)
	h.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	h.Set(headerAPIKey, creds.Key)
	h.Set(headerPassphrase, creds.Passphrase)
	return nil
}

// buildHMACSignature 按 timestamp+method+path+body 计算 base64url 编码的 HMAC-SHA256。
func buildHMACSignature(secret string, timestamp int64, method, path, body string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("解码凭证密钥失败: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + method + path + body))

	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
