package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/pkg/logger"
	"github.com/betbot/oraclebot/pkg/syncgroup"
)

// gracefulJoin 关停时等待各引擎退出的上限
const gracefulJoin = 5 * time.Second

// Orchestrator 总编排器：拥有所有时钟与生命周期。
// 各引擎（15m/5m 通道、尾盘扫描、套利扫描、做市、对冲）作为独立
// 逻辑任务并发运行；任何一条通道里阻塞的 HTTP 调用都不会拖住其他通道。
type Orchestrator struct {
	appCtx  *app.Context
	engines []app.Engine
	sg      *syncgroup.SyncGroup

	fatalErr error
}

// NewOrchestrator 创建编排器
func NewOrchestrator(appCtx *app.Context, engines []app.Engine) *Orchestrator {
	return &Orchestrator{
		appCtx:  appCtx,
		engines: engines,
		sg:      syncgroup.NewSyncGroup(),
	}
}

// Run 启动全部引擎并阻塞到 ctx 取消或出现 Fatal。
// 返回 nil = 优雅退出（exit 0）；返回错误 = 运行期 Fatal（exit 2）。
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.appCtx.Feed.Start(runCtx)

	for _, engine := range o.engines {
		eng := engine
		o.sg.Add(func() {
			logger.Infof("引擎启动: %s", eng.Name())
			o.appCtx.Events.Publish("engine_status", events.EngineStatusPayload{Engine: eng.Name(), Status: "running"})
			eng.Start(runCtx)
			o.appCtx.Events.Publish("engine_status", events.EngineStatusPayload{Engine: eng.Name(), Status: "stopped"})
		})
	}
	o.sg.Run()

	// 阻塞：等取消或存储层 Fatal（例如 JSONL 磁盘满）
	select {
	case <-ctx.Done():
	case err := <-o.appCtx.Store.FatalC():
		o.fatalErr = fmt.Errorf("运行期致命错误: %w", err)
		logger.Errorf("%v — 触发关停", o.fatalErr)
		cancel()
	}

	o.shutdown()
	return o.fatalErr
}

// shutdown 关停顺序：撤掉 CLOB 挂单 → 引擎清理回调 → 停扫描器 → 关流 → 刷日志并关闭存储。
// 各步依次执行；前三步共用 5s 限时，引擎退出超时则不再等待，继续后续步骤。
func (o *Orchestrator) shutdown() {
	logger.Info("开始关停…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulJoin)
	defer cancel()

	// best-effort 撤掉在簿订单（先于一切：敞口最贵）
	o.appCtx.Executor.Shutdown(shutdownCtx)

	// 引擎回调（各自注册的清理逻辑）
	o.appCtx.Shutdown.Shutdown(shutdownCtx)

	// 限时等引擎循环退出
	done := make(chan struct{})
	go func() {
		for _, eng := range o.engines {
			eng.Stop()
		}
		o.sg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("所有引擎已退出")
	case <-shutdownCtx.Done():
		logger.Warn("引擎退出超时 — 强制关停")
	}

	o.appCtx.Feed.Stop()
	if err := o.appCtx.Store.Close(); err != nil {
		logger.Errorf("存储层关闭失败: %v", err)
	}
	logger.Info("关停完成")
}
