package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Remote 将待签数据转发给委托签名服务（浏览器扩展侧的会话密钥代理）。
// 服务持有签名权限的方式对本进程透明。
type Remote struct {
	endpoint string
	client   *http.Client
	address  common.Address
}

var _ Capability = (*Remote)(nil)

type remoteAccountResponse struct {
	Address string `json:"address"`
}

type remoteSignRequest struct {
	TypedData apitypes.TypedData `json:"typedData"`
}

type remoteSignResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// NewRemote 构造远端签名器，并在构造时向服务查询受托地址。
func NewRemote(ctx context.Context, endpoint string, timeout time.Duration) (*Remote, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}

	addr, err := r.fetchAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询委托签名地址失败: %w", err)
	}
	r.address = addr

	return r, nil
}

// Address 返回受托签名的账户地址。
func (r *Remote) Address() common.Address {
	return r.address
}

// SignTypedData 请求签名服务对 EIP-712 结构签名。
func (r *Remote) SignTypedData(ctx context.Context, typedData apitypes.TypedData) (string, error) {
	body, err := json.Marshal(remoteSignRequest{TypedData: typedData})
	if err != nil {
		return "", fmt.Errorf("序列化签名请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/sign-typed-data", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求签名服务失败: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取签名响应失败: %w", err)
	}

	var parsed remoteSignResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("解析签名响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Signature == "" {
		msg := parsed.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("签名服务拒绝请求 (status=%d): %s", resp.StatusCode, msg)
	}

	return parsed.Signature, nil
}

func (r *Remote) fetchAddress(ctx context.Context) (common.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/account", nil)
	if err != nil {
		return common.Address{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return common.Address{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return common.Address{}, fmt.Errorf("签名服务返回异常状态: %d", resp.StatusCode)
	}

	var parsed remoteAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return common.Address{}, fmt.Errorf("解析地址响应失败: %w", err)
	}
	if !common.IsHexAddress(parsed.Address) {
		return common.Address{}, fmt.Errorf("签名服务返回的地址非法: %q", parsed.Address)
	}

	return common.HexToAddress(parsed.Address), nil
}
