package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"polyrelay/internal/config"
)

// Capability 抽象"代表某地址签名"的能力，只有两个操作。
// 授权方式（委托密钥、浏览器转发、本地私钥）对调用方不可见。
type Capability interface {
	Address() common.Address
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) (string, error)
}

// FromConfig 按配置选择签名实现，绝不做运行时形状判断。
func FromConfig(ctx context.Context, cfg config.SignerConfig) (Capability, error) {
	switch strings.ToLower(cfg.Mode) {
	case config.SignerModeLocal:
		return NewLocalKey(cfg.PrivateKey)
	case config.SignerModeRemote:
		return NewRemote(ctx, cfg.Endpoint, cfg.Timeout)
	default:
		return nil, fmt.Errorf("signer.mode 取值非法: %q", cfg.Mode)
	}
}
