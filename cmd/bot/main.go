package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/sirupsen/logrus"

	"github.com/betbot/oraclebot/clob"
	"github.com/betbot/oraclebot/internal/app"
	"github.com/betbot/oraclebot/internal/dashboard"
	"github.com/betbot/oraclebot/internal/events"
	"github.com/betbot/oraclebot/internal/execution"
	"github.com/betbot/oraclebot/internal/feed"
	"github.com/betbot/oraclebot/internal/risk"
	"github.com/betbot/oraclebot/internal/scheduler"
	"github.com/betbot/oraclebot/internal/storage"
	"github.com/betbot/oraclebot/internal/strategies/arbscan"
	"github.com/betbot/oraclebot/internal/strategies/hedge"
	"github.com/betbot/oraclebot/internal/strategies/latewindow"
	"github.com/betbot/oraclebot/internal/strategies/maker"
	"github.com/betbot/oraclebot/pkg/config"
	"github.com/betbot/oraclebot/pkg/logger"
	"github.com/betbot/oraclebot/pkg/secretstore"
	"github.com/betbot/oraclebot/pkg/shutdown"
)

// 退出码：0 优雅退出；1 启动期致命；2 运行期致命
const (
	exitOK           = 0
	exitFatalStartup = 1
	exitFatalRuntime = 2
)

// hd 钱包默认派生路径（POLY_MNEMONIC 兜底用）
const defaultDerivationPath = "m/44'/60'/0'/0/0"

func main() {
	os.Exit(run())
}

func run() int {
	// .env 不存在不算错
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（YAML）")
	bankroll := flag.Float64("bankroll", 500, "总资金（USD）")
	cycles := flag.Int("cycles", 0, "15m 窗口数上限（0 = 不限）")
	enableArb := flag.Bool("arb", false, "启用套利扫描")
	arbOnly := flag.Bool("arb-only", false, "只跑套利扫描")
	enableLate := flag.Bool("late-window", false, "启用尾盘信念交易")
	enable5m := flag.Bool("5m", false, "启用 5m 并行通道")
	enableMM := flag.Bool("mm", false, "启用做市")
	enableHedge := flag.Bool("hedge", false, "启用对冲")
	enableDash := flag.Bool("dashboard", false, "启用控制台 (:8765)")
	syncBankroll := flag.Bool("sync-live-bankroll", false, "定期用链上余额同步资金")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return exitFatalStartup
	}
	cfg.Bankroll = *bankroll
	cfg.SyncLiveBankroll = *syncBankroll

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		OutputFile:  cfg.Logging.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      7,
		Compress:    true,
		LogByWindow: cfg.Logging.LogByWindow,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return exitFatalStartup
	}

	// 钱包：环境变量 → 密钥库 → 助记词派生。缺失或非法 = 启动期致命
	if err := resolveWallet(&cfg.Wallet); err != nil {
		logger.Errorf("钱包配置错误: %v", err)
		return exitFatalStartup
	}

	clobClient, err := clob.New(clob.Options{
		APIURL:      cfg.Clob.APIURL,
		GammaAPIURL: cfg.Clob.GammaAPIURL,
		ChainID:     cfg.Clob.ChainID,
		PrivateKey:  cfg.Wallet.PrivateKey,
		Funder:      cfg.Wallet.Funder,
		SigType:     cfg.Wallet.SigType,
	})
	if err != nil {
		logger.Errorf("创建 CLOB 客户端失败: %v", err)
		return exitFatalStartup
	}

	credsCtx, cancelCreds := context.WithTimeout(context.Background(), 15*time.Second)
	err = clobClient.DeriveCreds(credsCtx)
	cancelCreds()
	if err != nil {
		logger.Errorf("派生 API 凭证失败（钱包不可用）: %v", err)
		return exitFatalStartup
	}
	logger.Infof("钱包就绪: %s (sig_type=%d)", clobClient.Address(), cfg.Wallet.SigType)

	store, err := storage.New(cfg.Logging)
	if err != nil {
		logger.Errorf("打开存储层失败: %v", err)
		return exitFatalStartup
	}

	priceFeed := feed.New(cfg.Oracle)
	riskMgr := risk.NewManager(cfg.Risk, cfg.Bankroll)
	executor := execution.New(clobClient, cfg.Clob, store)
	bus := events.NewBus()
	shutdownMgr := shutdown.NewManager()

	appCtx := &app.Context{
		Cfg:      cfg,
		Feed:     priceFeed,
		Executor: executor,
		Risk:     riskMgr,
		Store:    store,
		Events:   bus,
		Shutdown: shutdownMgr,
		Markets:  app.NewGammaMarkets(clobClient),
		Books:    clobClient,
	}

	// 信号处理：SIGINT/SIGTERM → 取消 → 优雅关停
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engines := assembleEngines(appCtx, engineFlags{
		arb: *enableArb || *arbOnly, arbOnly: *arbOnly,
		late: *enableLate, fiveM: *enable5m,
		mm: *enableMM, hedge: *enableHedge, dash: *enableDash,
		cycles: *cycles, stopAll: cancel,
	})
	if len(engines) == 0 {
		logger.Error("没有启用任何引擎")
		return exitFatalStartup
	}

	if cfg.SyncLiveBankroll {
		go syncLiveBankroll(ctx, clobClient, riskMgr, cfg.BankrollPollSecs)
	}

	printBanner(cfg, engines)

	orch := scheduler.NewOrchestrator(appCtx, engines)
	if err := orch.Run(ctx); err != nil {
		return exitFatalRuntime
	}
	return exitOK
}

type engineFlags struct {
	arb, arbOnly, late, fiveM, mm, hedge, dash bool
	cycles                                     int
	stopAll                                    func()
}

// assembleEngines 按 CLI 开关组装引擎集合（tagged-union 启动）
func assembleEngines(appCtx *app.Context, f engineFlags) []app.Engine {
	var engines []app.Engine

	if !f.arbOnly {
		lane15 := scheduler.NewLane(appCtx, appCtx.Cfg.Lane15m, risk.Bucket15m)
		if f.cycles > 0 {
			lane15.SetCycleLimit(f.cycles, f.stopAll)
		}
		engines = append(engines, lane15)

		if f.fiveM {
			engines = append(engines, scheduler.NewLane(appCtx, appCtx.Cfg.Lane5m, risk.Bucket5m))
		}
		if f.late {
			engines = append(engines, latewindow.New(appCtx))
		}
		if f.mm {
			engines = append(engines, maker.New(appCtx))
		}
		if f.hedge {
			engines = append(engines, hedge.New(appCtx))
		}
	}
	if f.arb {
		engines = append(engines, arbscan.New(appCtx))
	}
	if f.dash {
		engines = append(engines, dashboard.New(appCtx))
	}
	return engines
}

// resolveWallet 钱包解析顺序：env → badger 密钥库 → POLY_MNEMONIC 派生
func resolveWallet(w *config.WalletConfig) error {
	if w.PrivateKey == "" {
		if store, err := secretstore.Open(secretstore.OpenOptions{Path: "data/secrets", ReadOnly: true}); err == nil {
			if v, ok, _ := store.GetString("POLY_PRIVATE_KEY"); ok {
				w.PrivateKey = v
			}
			if v, ok, _ := store.GetString("POLY_FUNDER"); ok && w.Funder == "" {
				w.Funder = v
			}
			_ = store.Close()
		}
	}
	if w.PrivateKey == "" {
		if mnemonic := strings.TrimSpace(os.Getenv("POLY_MNEMONIC")); mnemonic != "" {
			pk, err := derivePrivateKey(mnemonic, defaultDerivationPath)
			if err != nil {
				return fmt.Errorf("助记词派生失败: %w", err)
			}
			w.PrivateKey = pk
		}
	}
	return w.Validate()
}

func derivePrivateKey(mnemonic, derivationPath string) (string, error) {
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return "", fmt.Errorf("无效助记词: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return "", fmt.Errorf("无效派生路径: %w", err)
	}
	acct, err := wallet.Derive(path, false)
	if err != nil {
		return "", err
	}
	return wallet.PrivateKeyHex(acct)
}

// syncLiveBankroll 定期用 USDC 余额覆盖风控资金
func syncLiveBankroll(ctx context.Context, client *clob.Client, riskMgr *risk.Manager, pollSecs int) {
	if pollSecs < 10 {
		pollSecs = 60
	}
	ticker := time.NewTicker(time.Duration(pollSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			bal, err := client.GetCollateralBalance(balCtx)
			cancel()
			if err != nil {
				logrus.Warnf("实时资金同步失败: %v", err)
				continue
			}
			riskMgr.SetBankroll(bal)
		}
	}
}

func printBanner(cfg *config.Config, engines []app.Engine) {
	names := make([]string, 0, len(engines))
	for _, e := range engines {
		names = append(names, e.Name())
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("  oraclebot — BTC up/down 多引擎交易代理")
	fmt.Printf("  资金: $%.2f\n", cfg.Bankroll)
	fmt.Printf("  引擎: %s\n", strings.Join(names, ", "))
	fmt.Printf("  15m: 边界前 %ds 锚定, 漂移等待 %ds | 5m 边界让位 :00/:15/:30/:45\n",
		cfg.Lane15m.EntryLeadSecs, cfg.Lane15m.StrategyDelaySecs)
	fmt.Println(strings.Repeat("=", 60))
}
