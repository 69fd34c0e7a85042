package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyrelay/internal/clob"
	"polyrelay/internal/config"
	"polyrelay/internal/signer"
)

// CLOB REST 端点。
const (
	pathCreateAPIKey = "/auth/api-key"
	pathDeriveAPIKey = "/auth/derive-api-key"
	pathPostOrder    = "/order"
)

// Client 负责与 CLOB 交易所的 REST 交互：凭证签发与订单提交。
type Client struct {
	baseURL string
	chainID int64
	http    *http.Client
	logger  *zap.Logger
}

// NewClient 构造交易所客户端。
func NewClient(cfg config.ExchangeConfig, chainID int64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		chainID: chainID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateAPIKey 用签名能力完成 L1 握手，签发（或取回已有的）API 凭证。
// 同一身份重复调用是幂等的：创建接口报冲突时退回派生接口。
func (c *Client) CreateAPIKey(ctx context.Context, capability signer.Capability) (APICredentials, error) {
	address := capability.Address()
	timestamp := time.Now().Unix()
	const authNonce = 0

	signature, err := capability.SignTypedData(ctx, clobAuthTypedData(address, c.chainID, timestamp, authNonce))
	if err != nil {
		return APICredentials{}, fmt.Errorf("签署凭证握手消息失败: %w", err)
	}

	creds, err := c.requestAPIKey(ctx, http.MethodPost, pathCreateAPIKey, address, signature, timestamp, authNonce)
	if err == nil {
		return creds, nil
	}

	// 身份已注册过时创建接口返回 4xx，改走派生分支复用既有凭证。
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		c.logger.Debug("创建凭证冲突，尝试派生已有凭证", zap.String("address", address.Hex()))
		return c.requestAPIKey(ctx, http.MethodGet, pathDeriveAPIKey, address, signature, timestamp, authNonce)
	}

	return APICredentials{}, err
}

func (c *Client) requestAPIKey(ctx context.Context, method, path string, address common.Address, signature string, timestamp, nonce int64) (APICredentials, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return APICredentials{}, err
	}
	setL1Headers(req.Header, address, signature, timestamp, nonce)

	var parsed apiKeyResponse
	if err := c.do(req, &parsed); err != nil {
		return APICredentials{}, fmt.Errorf("请求凭证失败: %w", err)
	}

	creds := APICredentials{Key: parsed.APIKey, Secret: parsed.Secret, Passphrase: parsed.Passphrase}
	if creds.Empty() {
		return APICredentials{}, fmt.Errorf("交易所返回的凭证不完整")
	}

	return creds, nil
}

// PostOrder 提交已签名订单，返回交易所分配的订单号。
func (c *Client) PostOrder(ctx context.Context, creds APICredentials, capability signer.Capability, order *clob.Order, signature string, orderType OrderType) (string, error) {
	if orderType == "" {
		orderType = OrderTypeGTC
	}

	signed := newSignedOrder(order)
	signed.Signature = signature

	body, err := json.Marshal(newOrderRequest{
		Order:     signed,
		Owner:     creds.Key,
		OrderType: orderType,
	})
	if err != nil {
		return "", fmt.Errorf("序列化订单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathPostOrder, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := setL2Headers(req.Header, capability.Address(), creds, time.Now().Unix(), http.MethodPost, pathPostOrder, string(body)); err != nil {
		return "", err
	}

	var parsed orderResponse
	if err := c.do(req, &parsed); err != nil {
		return "", fmt.Errorf("提交订单失败: %w", err)
	}

	if !parsed.Success || parsed.OrderID == "" {
		msg := parsed.ErrorMsg
		if msg == "" {
			msg = "exchange rejected the order without detail"
		}
		return "", &RejectionError{ErrorMsg: msg}
	}

	return parsed.OrderID, nil
}

// do 执行请求并解析 JSON 响应，非 2xx 状态转为 APIError。
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var parsed struct {
			Error    string `json:"error"`
			ErrorMsg string `json:"errorMsg"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			if parsed.ErrorMsg != "" {
				msg = parsed.ErrorMsg
			} else if parsed.Error != "" {
				msg = parsed.Error
			}
		}
		return &APIError{Status: resp.StatusCode, ErrorMsg: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
