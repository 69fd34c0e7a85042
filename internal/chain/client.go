package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyrelay/internal/config"
)

// 只读查询所需的 ERC-20 片段。
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var tokenABI = mustParseABI(erc20ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析 ERC-20 ABI 失败: %v", err))
	}
	return parsed
}

// contractCaller 是 ethclient.Client 的最小只读切面，便于测试替换。
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client 针对固定代币合约的余额/授权只读查询。
// 返回值按 10^decimals 归一化为人类可读的十进制数。
type Client struct {
	caller   contractCaller
	token    common.Address
	decimals int32
	timeout  time.Duration
	logger   *zap.Logger
}

// Dial 连接 RPC 节点并构造查询客户端。
func Dial(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接链上 RPC 失败: %w", err)
	}
	return NewClient(ec, common.HexToAddress(cfg.CollateralToken), cfg.TokenDecimals, cfg.CallTimeout, logger), nil
}

// NewClient 用外部注入的调用器构造客户端。
func NewClient(caller contractCaller, token common.Address, decimals int32, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		caller:   caller,
		token:    token,
		decimals: decimals,
		timeout:  timeout,
		logger:   logger,
	}
}

// Balance 查询账户的代币余额。
func (c *Client) Balance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	raw, err := c.call(ctx, "balanceOf", account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询余额失败: %w", err)
	}
	return c.normalize(raw), nil
}

// Allowance 查询 owner 对 spender 的授权额度。
func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	raw, err := c.call(ctx, "allowance", owner, spender)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询授权额度失败: %w", err)
	}
	return c.normalize(raw), nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	input, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.caller.CallContract(callCtx, ethereum.CallMsg{To: &c.token, Data: input}, nil)
	if err != nil {
		return nil, err
	}

	values, err := tokenABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	result, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型异常: %T", method, values[0])
	}

	return result, nil
}

func (c *Client) normalize(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -c.decimals)
}
