package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyrelay/internal/clob"
	"polyrelay/internal/exchange"
	"polyrelay/internal/ledger"
	"polyrelay/internal/precheck"
	"polyrelay/internal/signer"
)

// Request 一次交易尝试的输入。
type Request struct {
	UserID    string
	Intent    clob.TradeIntent
	Nonce     *big.Int
	OrderType exchange.OrderType
}

// Result 交易尝试的结论。失败以结构化的 Err 返回，流程本身不抛错。
type Result struct {
	Success  bool             `json:"success"`
	TradeID  string           `json:"tradeId,omitempty"`
	OrderID  string           `json:"orderId,omitempty"`
	Precheck *precheck.Result `json:"precheck,omitempty"`
	Err      *TradeError      `json:"error,omitempty"`
}

// prechecker 预检查引擎的最小切面。
type prechecker interface {
	Check(ctx context.Context, intent clob.TradeIntent, account common.Address) (precheck.Result, precheck.Denial)
}

// credentialResolver 凭证解析的最小切面。
type credentialResolver interface {
	Resolve(ctx context.Context, capability signer.Capability) (exchange.APICredentials, error)
}

// orderSubmitter 订单提交的最小切面。
type orderSubmitter interface {
	PostOrder(ctx context.Context, creds exchange.APICredentials, capability signer.Capability,
		order *clob.Order, signature string, orderType exchange.OrderType) (string, error)
}

// tradeLedger 台账写入的最小切面。
type tradeLedger interface {
	Create(ctx context.Context, t ledger.Trade) (string, error)
	MarkConfirmed(ctx context.Context, id, orderID string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Service 串联预检查、订单构造、签名与提交的完整交易管线。
// 每次尝试是顺序管线；多次尝试仅共享凭证缓存与台账连接。
type Service struct {
	precheck  prechecker
	builder   *clob.Builder
	signer    signer.Capability
	creds     credentialResolver
	submitter orderSubmitter
	ledger    tradeLedger
	logger    *zap.Logger
}

// NewService 创建交易管线。
func NewService(pc prechecker, builder *clob.Builder, capability signer.Capability,
	creds credentialResolver, submitter orderSubmitter, tl tradeLedger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		precheck:  pc,
		builder:   builder,
		signer:    capability,
		creds:     creds,
		submitter: submitter,
		ledger:    tl,
		logger:    logger,
	}
}

// Execute 执行一次完整的交易尝试。
// 管线内不做自动重试；所有网络调用由各客户端自带超时约束。
func (s *Service) Execute(ctx context.Context, req Request) Result {
	intent := req.Intent

	// 校验在任何网络调用之前完成，非法意图不产生台账记录。
	if err := intent.Validate(); err != nil {
		return Result{Err: &TradeError{
			Kind:   KindValidation,
			Stage:  StageIntentReceived,
			Reason: err.Error(),
			Err:    err,
		}}
	}

	shares, err := intent.Shares()
	if err != nil {
		return Result{Err: &TradeError{
			Kind:   KindValidation,
			Stage:  StageIntentReceived,
			Reason: err.Error(),
			Err:    err,
		}}
	}

	tradeID, err := s.ledger.Create(ctx, ledger.Trade{
		UserID:  req.UserID,
		TokenID: intent.TokenID,
		Side:    intent.Side,
		Amount:  intent.Amount,
		Price:   intent.Price,
		Shares:  shares,
	})
	if err != nil {
		s.logger.Error("写入台账失败", zap.Error(err))
		return Result{Err: &TradeError{
			Kind:   KindSubmission,
			Stage:  StageIntentReceived,
			Reason: "failed to record trade attempt",
			Err:    err,
		}}
	}

	account := s.signer.Address()

	checkResult, denial := s.precheck.Check(ctx, intent, account)
	if !checkResult.Allowed {
		return s.reject(ctx, tradeID, &checkResult, &TradeError{
			Kind:    denialKind(denial),
			Stage:   StagePrechecked,
			Reason:  checkResult.Reason,
			Details: checkResult.Details,
		})
	}
	s.logger.Debug("预检查通过",
		zap.String("tradeId", tradeID),
		zap.String("account", account.Hex()),
	)

	order, err := s.builder.Build(intent, account, account, req.Nonce)
	if err != nil {
		return s.reject(ctx, tradeID, &checkResult, &TradeError{
			Kind:   KindValidation,
			Stage:  StageOrderBuilt,
			Reason: err.Error(),
			Err:    err,
		})
	}

	creds, err := s.creds.Resolve(ctx, s.signer)
	if err != nil {
		return s.reject(ctx, tradeID, &checkResult, &TradeError{
			Kind:   KindCredential,
			Stage:  StageOrderBuilt,
			Reason: err.Error(),
			Err:    err,
		})
	}

	signature, err := s.signer.SignTypedData(ctx, s.builder.TypedData(order))
	if err != nil {
		return s.reject(ctx, tradeID, &checkResult, &TradeError{
			Kind:   KindSigning,
			Stage:  StageOrderBuilt,
			Reason: err.Error(),
			Err:    err,
		})
	}
	s.logger.Debug("订单已签名", zap.String("tradeId", tradeID))

	orderID, err := s.submitter.PostOrder(ctx, creds, s.signer, order, signature, req.OrderType)
	if err != nil {
		kind := KindSubmission
		if exchange.IsRetryable(err) {
			kind = KindNetwork
		}
		return s.reject(ctx, tradeID, &checkResult, &TradeError{
			Kind:   kind,
			Stage:  StageSigned,
			Reason: err.Error(),
			Err:    err,
		})
	}

	if err := s.ledger.MarkConfirmed(ctx, tradeID, orderID); err != nil {
		// 订单已被交易所接受，台账落盘失败只记录日志，不否定结果。
		s.logger.Error("确认状态写入失败",
			zap.String("tradeId", tradeID),
			zap.String("orderId", orderID),
			zap.Error(err),
		)
	}

	s.logger.Info("订单已提交",
		zap.String("tradeId", tradeID),
		zap.String("orderId", orderID),
		zap.String("side", string(intent.Side)),
		zap.String("tokenId", intent.TokenID),
	)

	return Result{
		Success:  true,
		TradeID:  tradeID,
		OrderID:  orderID,
		Precheck: &checkResult,
	}
}

// reject 标记台账失败并返回 REJECTED 结果。
func (s *Service) reject(ctx context.Context, tradeID string, pc *precheck.Result, terr *TradeError) Result {
	if err := s.ledger.MarkFailed(ctx, tradeID, terr.Reason); err != nil {
		s.logger.Warn("失败状态写入失败", zap.String("tradeId", tradeID), zap.Error(err))
	}

	s.logger.Info("交易尝试被拒绝",
		zap.String("tradeId", tradeID),
		zap.String("kind", string(terr.Kind)),
		zap.String("stage", string(terr.Stage)),
		zap.String("reason", terr.Reason),
	)

	return Result{TradeID: tradeID, Precheck: pc, Err: terr}
}
