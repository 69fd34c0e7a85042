package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// LocalKey 使用本地 secp256k1 私钥的签名实现。
type LocalKey struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Capability = (*LocalKey)(nil)

// NewLocalKey 从十六进制私钥构造本地签名器。
func NewLocalKey(hexKey string) (*LocalKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &LocalKey{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回私钥对应的地址。
func (s *LocalKey) Address() common.Address {
	return s.address
}

// SignTypedData 对 EIP-712 结构签名，返回 0x 前缀的 65 字节签名。
func (s *LocalKey) SignTypedData(_ context.Context, typedData apitypes.TypedData) (string, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("计算 EIP-712 摘要失败: %w", err)
	}

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("签名失败: %w", err)
	}

	// 恢复标识从 {0,1} 调整为以太坊惯用的 {27,28}。
	sig[64] += 27

	return hexutil.Encode(sig), nil
}
