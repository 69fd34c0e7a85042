package precheck

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polyrelay/internal/clob"
)

// Oracle 余额与授权的链上只读查询。
type Oracle interface {
	Balance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error)
}

// Details 预检查涉及的数值明细，供 UI 展示缺口。
type Details struct {
	Balance   decimal.Decimal `json:"balance"`
	Allowance decimal.Decimal `json:"allowance"`
	Required  decimal.Decimal `json:"required"`
}

// Result 预检查结论。拒绝是预期的业务结果，不作为错误传播。
type Result struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Details *Details `json:"details,omitempty"`
}

// 拒绝原因的机器可读分类。
type Denial string

const (
	DenialNone      Denial = ""
	DenialPrice     Denial = "price_out_of_range"
	DenialBalance   Denial = "insufficient_balance"
	DenialAllowance Denial = "insufficient_allowance"
	DenialNetwork   Denial = "oracle_unavailable"
)

// Engine 按固定顺序执行交易前的只读检查，无任何副作用。
type Engine struct {
	oracle  Oracle
	spender common.Address
	logger  *zap.Logger
}

// NewEngine 创建预检查引擎，spender 为固定的交易所合约地址。
func NewEngine(oracle Oracle, spender common.Address, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		oracle:  oracle,
		spender: spender,
		logger:  logger,
	}
}

// Check 对交易意图执行预检查。
// 余额与授权相互独立，可并发读取，但按"先余额后授权"的固定顺序评估，
// 保证两者同时不足时优先报告余额缺口。
func (e *Engine) Check(ctx context.Context, intent clob.TradeIntent, account common.Address) (Result, Denial) {
	// 上游应已校验过价格，这里是最后一道防线。
	if err := intent.Validate(); err != nil {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("invalid trade intent: %v", err),
		}, DenialPrice
	}

	// SELL 不占用计价货币，份额托管在别处校验。
	required := decimal.Zero
	if intent.Side == clob.SideBuy {
		required = intent.Amount
	}

	var balance, allowance decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = e.oracle.Balance(gctx, account)
		return err
	})
	g.Go(func() error {
		var err error
		allowance, err = e.oracle.Allowance(gctx, account, e.spender)
		return err
	})
	if err := g.Wait(); err != nil {
		// 链上查询失败对整笔交易非致命，转化为预检查拒绝。
		e.logger.Warn("预检查链上查询失败", zap.String("account", account.Hex()), zap.Error(err))
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("unable to read on-chain state: %v", err),
		}, DenialNetwork
	}

	details := &Details{Balance: balance, Allowance: allowance, Required: required}

	if balance.LessThan(required) {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf("insufficient balance: have %s USDC, need %s USDC",
				balance.StringFixed(2), required.StringFixed(2)),
			Details: details,
		}, DenialBalance
	}

	if allowance.LessThan(required) {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf("allowance %s USDC below required %s USDC, approve the exchange contract first",
				allowance.StringFixed(2), required.StringFixed(2)),
			Details: details,
		}, DenialAllowance
	}

	return Result{Allowed: true, Details: details}, DenialNone
}
