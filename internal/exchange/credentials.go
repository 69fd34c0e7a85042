package exchange

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"polyrelay/internal/signer"
)

// credentialIssuer 凭证签发的最小接口，便于测试替换真实客户端。
type credentialIssuer interface {
	CreateAPIKey(ctx context.Context, capability signer.Capability) (APICredentials, error)
}

// CredentialSource 按签名身份解析 API 凭证。
// 解析顺序：环境预置凭证 > 缓存 > 向交易所签发。
// 同一身份的首次签发通过 singleflight 收敛为一次网络调用，
// 避免并发首跑触发交易所限频的重复创建。
type CredentialSource struct {
	env    APICredentials
	issuer credentialIssuer
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]APICredentials
	group singleflight.Group
}

// NewCredentialSource 创建凭证解析器。env 为空时走缓存/签发路径。
func NewCredentialSource(env APICredentials, issuer credentialIssuer, logger *zap.Logger) *CredentialSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialSource{
		env:    env,
		issuer: issuer,
		logger: logger,
		cache:  make(map[string]APICredentials),
	}
}

// Resolve 解析给定签名身份的凭证。
// 签发失败只影响本次交易，不污染缓存，后续调用可以重试。
func (s *CredentialSource) Resolve(ctx context.Context, capability signer.Capability) (APICredentials, error) {
	if !s.env.Empty() {
		return s.env, nil
	}

	key := strings.ToLower(capability.Address().Hex())

	s.mu.RLock()
	creds, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return creds, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// 双检：等待 singleflight 期间可能已有结果入缓存。
		s.mu.RLock()
		cached, hit := s.cache[key]
		s.mu.RUnlock()
		if hit {
			return cached, nil
		}

		issued, err := s.issuer.CreateAPIKey(ctx, capability)
		if err != nil {
			return APICredentials{}, err
		}

		s.mu.Lock()
		s.cache[key] = issued
		s.mu.Unlock()

		s.logger.Info("已为签名身份签发交易所凭证", zap.String("address", key))
		return issued, nil
	})
	if err != nil {
		return APICredentials{}, err
	}

	return v.(APICredentials), nil
}
