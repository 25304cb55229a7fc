package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyalgo/internal/config"
	"polyalgo/internal/exchange"
	"polyalgo/internal/execution"
	"polyalgo/internal/monitor"
	"polyalgo/internal/session"
	"polyalgo/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
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

// Run 完成全部组件装配后进入调度主循环，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("算法执行系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("clob", a.cfg.Clob.BaseURL),
		zap.Int64("chain_id", a.cfg.Clob.ChainID),
	)

	orderStore, err := store.NewOrderStore(a.store, a.logger)
	if err != nil {
		return err
	}

	journal, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	client := exchange.NewClient(a.cfg.Clob, a.logger)

	sessions := session.NewManager(
		common.HexToAddress(a.cfg.Clob.FactoryAddress),
		common.HexToAddress(a.cfg.Clob.ImplementationAddress),
		a.cfg.Session.TTL,
		client,
		a.logger,
	)
	if _, err := sessions.Initialize(ctx, a.cfg.Wallet.PrivateKey, a.cfg.Wallet.ProxyAddress); err != nil {
		return fmt.Errorf("初始化交易会话失败: %w", err)
	}

	coordinator := execution.NewCoordinator(orderStore, client, sessions, journal, a.cfg.Execution, a.logger)

	if a.cfg.API.Enabled {
		svc := NewService(orderStore, sessions, journal, a.logger)
		if err := startAPIServer(ctx, svc, journal, a.cfg.API.Port, a.logger); err != nil {
			return err
		}
	}

	tickInterval := a.cfg.Scheduler.TickInterval
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}

	if err = coordinator.Tick(ctx); err != nil {
		a.logger.Error("首次调度失败", zap.Error(err))
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = coordinator.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}
