package relay

import (
	"fmt"

	"polyrelay/internal/precheck"
)

// Kind 失败的机器可读分类，对应调用方的补救路径。
type Kind string

const (
	KindValidation            Kind = "validation"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindInsufficientAllowance Kind = "insufficient_allowance"
	KindCredential            Kind = "credential"
	KindSigning               Kind = "signing"
	KindSubmission            Kind = "submission"
	KindNetwork               Kind = "network"
)

// Stage 单次交易尝试的状态机阶段。
// 不存在跳过预检查的路径；SIGNED 只在拿到有效签名后进入。
type Stage string

const (
	StageIntentReceived Stage = "INTENT_RECEIVED"
	StagePrechecked     Stage = "PRECHECKED"
	StageOrderBuilt     Stage = "ORDER_BUILT"
	StageSigned         Stage = "SIGNED"
	StageSubmitted      Stage = "SUBMITTED"
	StageConfirmed      Stage = "CONFIRMED"
	StageRejected       Stage = "REJECTED"
)

// TradeError 携带阶段与分类的结构化失败。
// 预检查拒绝、交易所拒单都是预期业务结果，以该类型返回而非异常传播。
type TradeError struct {
	Kind    Kind              `json:"kind"`
	Stage   Stage             `json:"stage"`
	Reason  string            `json:"reason"`
	Details *precheck.Details `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Reason)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// denialKind 将预检查拒绝原因映射到失败分类。
func denialKind(d precheck.Denial) Kind {
	switch d {
	case precheck.DenialBalance:
		return KindInsufficientFunds
	case precheck.DenialAllowance:
		return KindInsufficientAllowance
	case precheck.DenialNetwork:
		return KindNetwork
	default:
		return KindValidation
	}
}
