package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyrelay/internal/chain"
	"polyrelay/internal/clob"
	"polyrelay/internal/config"
	"polyrelay/internal/exchange"
	"polyrelay/internal/ledger"
	"polyrelay/internal/precheck"
	"polyrelay/internal/relay"
	"polyrelay/internal/signer"
	"polyrelay/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
// 所有客户端与缓存都在这里显式构造并按引用传递，进程内没有惰性全局状态。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 构造依赖图并对外提供中继服务，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("订单中继已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int64("chainId", a.cfg.Chain.ChainID),
		zap.String("exchange", a.cfg.Exchange.BaseURL),
		zap.String("signerMode", a.cfg.Signer.Mode),
	)

	chainClient, err := chain.Dial(ctx, a.cfg.Chain, a.logger)
	if err != nil {
		return fmt.Errorf("初始化链上客户端失败: %w", err)
	}

	capability, err := signer.FromConfig(ctx, a.cfg.Signer)
	if err != nil {
		return fmt.Errorf("初始化签名能力失败: %w", err)
	}

	exchangeClient := exchange.NewClient(a.cfg.Exchange, a.cfg.Chain.ChainID, a.logger)
	credSource := exchange.NewCredentialSource(exchange.APICredentials{
		Key:        a.cfg.Exchange.APIKey,
		Secret:     a.cfg.Exchange.APISecret,
		Passphrase: a.cfg.Exchange.APIPass,
	}, exchangeClient, a.logger)

	engine := precheck.NewEngine(chainClient, common.HexToAddress(a.cfg.Chain.Spender), a.logger)
	builder := clob.NewBuilder(a.cfg.Chain.ChainID, common.HexToAddress(a.cfg.Exchange.Contract))

	ledgerSvc, err := ledger.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化台账失败: %w", err)
	}

	relaySvc := relay.NewService(engine, builder, capability, credSource, exchangeClient, ledgerSvc, a.logger)

	if err := a.serve(ctx, relaySvc, ledgerSvc); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		}
		return err
	}

	return nil
}
