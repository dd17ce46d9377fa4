package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置（来自环境变量，缺失或格式错误 → 启动失败）
type WalletConfig struct {
	PrivateKey string // POLY_PRIVATE_KEY（hex）
	Funder     string // POLY_FUNDER（funder proxy 地址，不是充值地址）
	SigType    int    // POLY_SIG_TYPE ∈ {0,1,2}：EOA / email-Magic / browser-wallet
}

// Validate 校验钱包配置
func (w WalletConfig) Validate() error {
	pk := strings.TrimPrefix(strings.TrimSpace(w.PrivateKey), "0x")
	if len(pk) != 64 {
		return fmt.Errorf("POLY_PRIVATE_KEY 必须是 64 位 hex")
	}
	if _, err := strconv.ParseUint(pk[:16], 16, 64); err != nil {
		return fmt.Errorf("POLY_PRIVATE_KEY 不是合法 hex: %w", err)
	}
	if !strings.HasPrefix(w.Funder, "0x") || len(w.Funder) != 42 {
		return fmt.Errorf("POLY_FUNDER 必须是 0x 开头的 40 位地址")
	}
	if w.SigType < 0 || w.SigType > 2 {
		return fmt.Errorf("POLY_SIG_TYPE 必须是 0/1/2")
	}
	return nil
}

// OracleConfig 价格源配置
type OracleConfig struct {
	RTDSWSURL       string `yaml:"rtds_ws_url"`
	BinanceBaseURL  string `yaml:"binance_base_url"`
	CoinGeckoURL    string `yaml:"coingecko_base_url"`
	PollIntervalSec int    `yaml:"poll_interval_secs"` // 次级源轮询间隔（>= 2s）
	StaleMs         int64  `yaml:"stale_ms"`
	CandleCount     int    `yaml:"candle_count"`
}

// ClobConfig CLOB 接入配置
type ClobConfig struct {
	APIURL          string  `yaml:"api_url"`
	GammaAPIURL     string  `yaml:"gamma_api_url"`
	ChainID         int64   `yaml:"chain_id"`
	MaxSlippagePct  float64 `yaml:"max_slippage_pct"`
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	FoKTimeoutMs    int     `yaml:"fok_timeout_ms"`
	FeeCacheTTLSecs int     `yaml:"fee_cache_ttl_secs"`
	FeeFallbackPct  float64 `yaml:"fee_fallback_pct"` // 50c 处最坏费率
}

// StrategyConfig 信号引擎配置
type StrategyConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	DeadZonePct         float64 `yaml:"dead_zone_pct"`
	RSIPeriod           int     `yaml:"rsi_period"`
	EMAFast             int     `yaml:"ema_fast"`
	EMASlow             int     `yaml:"ema_slow"`
	MACDFast            int     `yaml:"macd_fast"`
	MACDSlow            int     `yaml:"macd_slow"`
	MACDSignal          int     `yaml:"macd_signal"`
	MomentumLookback    int     `yaml:"momentum_lookback"`
	MinVolatilityPct    float64 `yaml:"min_volatility_pct"`
	MaxVolatilityPct    float64 `yaml:"max_volatility_pct"`
}

// BucketConfig 单个风控桶配置
type BucketConfig struct {
	BudgetPct        float64 `yaml:"budget_pct"`     // 占银行资金的预算上限（%）
	MaxTrades        int     `yaml:"max_trades"`     // 每日交易上限
	HardCapUSD       float64 `yaml:"hard_cap_usd"`   // 单笔上限
	DailyLossCapPct  float64 `yaml:"daily_loss_cap_pct"`
	MaxStreak        int     `yaml:"max_streak"`     // 连亏熔断阈值
	CooldownMins     int     `yaml:"cooldown_mins"`
	KellyFraction    float64 `yaml:"kelly_fraction"` // quarter-Kelly = 0.25
	MinTradeSizeUSD  float64 `yaml:"min_trade_size_usd"`
}

// RiskConfig 风控配置（每条引擎通道独立一个桶）
type RiskConfig struct {
	Bucket15m  BucketConfig `yaml:"bucket_15m"`
	Bucket5m   BucketConfig `yaml:"bucket_5m"`
	BucketLate BucketConfig `yaml:"bucket_late_window"`
	BucketArb  BucketConfig `yaml:"bucket_arb"`
	BucketMM   BucketConfig `yaml:"bucket_mm"`
}

// LaneConfig 一条定向交易通道（15m / 5m）的时序参数
type LaneConfig struct {
	TimeframeMins     int     `yaml:"timeframe_mins"`
	EntryLeadSecs     int     `yaml:"entry_lead_secs"`     // 边界前多少秒捕获锚定价
	StrategyDelaySecs int     `yaml:"strategy_delay_secs"` // 锚定后等待漂移的秒数
	EntryWindowSecs   int     `yaml:"entry_window_secs"`   // 下单窗口
	DeadZonePct       float64 `yaml:"dead_zone_pct"`       // 每通道可独立调整
}

// ArbConfig 套利扫描器配置
type ArbConfig struct {
	Threshold      float64  `yaml:"threshold"`        // YES+NO < 此值触发
	MinEdgePct     float64  `yaml:"min_edge_pct"`
	SizeUSD        float64  `yaml:"size_usd"`         // 每腿
	PollSecs       float64  `yaml:"poll_secs"`
	MaxDailyTrades int      `yaml:"max_daily_trades"` // 扫描器不读取；每日配对上限由 arb 风控桶的 MaxTrades 决定
	CooldownSecs   float64  `yaml:"cooldown_secs"`    // 同一市场再套利冷却
	Timeframes     []string `yaml:"timeframes"`
}

// LateWindowConfig 尾盘信念交易配置
type LateWindowConfig struct {
	LeadSecs      int     `yaml:"lead_secs"`       // 距关闭多少秒内开始扫描
	MinRemainSecs int     `yaml:"min_remain_secs"` // 剩余时间下限
	MinDriftPct   float64 `yaml:"min_drift_pct"`
	BaseConf      float64 `yaml:"base_confidence"`
	MaxConf       float64 `yaml:"max_confidence"`
	DriftScalePct float64 `yaml:"drift_scale_pct"`
	MaxEntryPrice float64 `yaml:"max_entry_price"` // > 此价不进场（保证每份 >= 0.20 的赢面）
	ScanSecs      int     `yaml:"scan_secs"`
}

// MakerConfig 做市引擎配置
type MakerConfig struct {
	SpreadBps          int     `yaml:"spread_bps"`
	OrderSizeUSD       float64 `yaml:"order_size_usd"`
	RefreshSecs        float64 `yaml:"refresh_secs"`
	MaxInventoryUSD    float64 `yaml:"max_inventory_usd"`
	SkewBpsPerDollar   int     `yaml:"skew_bps_per_dollar"`
	CancelLeadSecs     int     `yaml:"cancel_lead_secs"` // 窗口关闭前撤单
	MaxOpenOrders      int     `yaml:"max_open_orders"`
}

// HedgeConfig 对冲引擎配置
type HedgeConfig struct {
	MinConfidence float64 `yaml:"min_confidence"` // 反向信号至少这么强才对冲
}

// DashboardConfig 控制台配置
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig 日志与落盘配置
type LoggingConfig struct {
	Level           string `yaml:"level"`
	File            string `yaml:"file"`
	LogByWindow     bool   `yaml:"log_by_window"`
	TradeLogFile    string `yaml:"trade_log_file"`
	StrategyLogFile string `yaml:"strategy_log_file"`
	OracleLogFile   string `yaml:"oracle_log_file"`
	ErrorLogFile    string `yaml:"error_log_file"`
	PerformanceDir  string `yaml:"performance_dir"`
	SQLitePath      string `yaml:"sqlite_path"`
}

// Config 应用配置
type Config struct {
	Wallet    WalletConfig     `yaml:"-"`
	Oracle    OracleConfig     `yaml:"oracle"`
	Clob      ClobConfig       `yaml:"clob"`
	Strategy  StrategyConfig   `yaml:"strategy"`
	Risk      RiskConfig       `yaml:"risk"`
	Lane15m   LaneConfig       `yaml:"lane_15m"`
	Lane5m    LaneConfig       `yaml:"lane_5m"`
	Arb       ArbConfig        `yaml:"arb"`
	Late      LateWindowConfig `yaml:"late_window"`
	Maker     MakerConfig      `yaml:"market_maker"`
	Hedge     HedgeConfig      `yaml:"hedge"`
	Dashboard DashboardConfig  `yaml:"dashboard"`
	Logging   LoggingConfig    `yaml:"logging"`

	Bankroll          float64 `yaml:"bankroll"`
	SleepPollSecs     int     `yaml:"sleep_poll_secs"`
	SyncLiveBankroll  bool    `yaml:"sync_live_bankroll"`
	BankrollPollSecs  int     `yaml:"bankroll_poll_secs"`
}

// Default 返回全部默认值（与上游市场参数对齐）
func Default() *Config {
	return &Config{
		Oracle: OracleConfig{
			RTDSWSURL:       "wss://ws-live-data.polymarket.com",
			BinanceBaseURL:  "https://api.binance.com",
			CoinGeckoURL:    "https://api.coingecko.com/api/v3",
			PollIntervalSec: 2,
			StaleMs:         30_000,
			CandleCount:     100,
		},
		Clob: ClobConfig{
			APIURL:          "https://clob.polymarket.com",
			GammaAPIURL:     "https://gamma-api.polymarket.com",
			ChainID:         137,
			MaxSlippagePct:  2.0,
			MinLiquidityUSD: 50.0,
			FoKTimeoutMs:    2000,
			FeeCacheTTLSecs: 60,
			FeeFallbackPct:  1.56,
		},
		Strategy: StrategyConfig{
			ConfidenceThreshold: 0.60,
			DeadZonePct:         0.04,
			RSIPeriod:           14,
			EMAFast:             5,
			EMASlow:             15,
			MACDFast:            12,
			MACDSlow:            26,
			MACDSignal:          9,
			MomentumLookback:    3,
			MinVolatilityPct:    0.03,
			MaxVolatilityPct:    3.0,
		},
		Risk: RiskConfig{
			Bucket15m: BucketConfig{
				BudgetPct: 100, MaxTrades: 20, HardCapUSD: 25,
				DailyLossCapPct: 25, MaxStreak: 5, CooldownMins: 60,
				KellyFraction: 0.25, MinTradeSizeUSD: 1,
			},
			Bucket5m: BucketConfig{
				BudgetPct: 30, MaxTrades: 30, HardCapUSD: 10,
				DailyLossCapPct: 15, MaxStreak: 4, CooldownMins: 30,
				KellyFraction: 0.25, MinTradeSizeUSD: 1,
			},
			BucketLate: BucketConfig{
				BudgetPct: 25, MaxTrades: 12, HardCapUSD: 8,
				DailyLossCapPct: 15, MaxStreak: 4, CooldownMins: 30,
				KellyFraction: 0.25, MinTradeSizeUSD: 1,
			},
			BucketArb: BucketConfig{
				BudgetPct: 4, MaxTrades: 50, HardCapUSD: 10,
				DailyLossCapPct: 10, MaxStreak: 10, CooldownMins: 10,
				KellyFraction: 0.25, MinTradeSizeUSD: 1,
			},
			BucketMM: BucketConfig{
				BudgetPct: 10, MaxTrades: 200, HardCapUSD: 3,
				DailyLossCapPct: 10, MaxStreak: 20, CooldownMins: 10,
				KellyFraction: 0.25, MinTradeSizeUSD: 1,
			},
		},
		Lane15m: LaneConfig{
			TimeframeMins: 15, EntryLeadSecs: 60,
			StrategyDelaySecs: 45, EntryWindowSecs: 30, DeadZonePct: 0.04,
		},
		Lane5m: LaneConfig{
			TimeframeMins: 5, EntryLeadSecs: 55,
			StrategyDelaySecs: 45, EntryWindowSecs: 20, DeadZonePct: 0.04,
		},
		Arb: ArbConfig{
			Threshold: 0.98, MinEdgePct: 1.0, SizeUSD: 5.0, PollSecs: 8,
			MaxDailyTrades: 50, CooldownSecs: 120,
			Timeframes: []string{"5m", "15m", "30m", "1h"},
		},
		Late: LateWindowConfig{
			LeadSecs: 150, MinRemainSecs: 30, MinDriftPct: 0.08,
			BaseConf: 0.80, MaxConf: 0.95, DriftScalePct: 0.25,
			MaxEntryPrice: 0.80, ScanSecs: 3,
		},
		Maker: MakerConfig{
			SpreadBps: 400, OrderSizeUSD: 3.0, RefreshSecs: 15,
			MaxInventoryUSD: 10, SkewBpsPerDollar: 10,
			CancelLeadSecs: 60, MaxOpenOrders: 4,
		},
		Hedge:     HedgeConfig{MinConfidence: 0.65},
		Dashboard: DashboardConfig{Port: 8765},
		Logging: LoggingConfig{
			Level:           "info",
			File:            "logs/combined.log",
			LogByWindow:     true,
			TradeLogFile:    "logs/trades.jsonl",
			StrategyLogFile: "logs/strategy.jsonl",
			OracleLogFile:   "logs/oracle.jsonl",
			ErrorLogFile:    "logs/errors.jsonl",
			PerformanceDir:  "data",
			SQLitePath:      "data/trades.db",
		},
		Bankroll:         500,
		SleepPollSecs:    5,
		BankrollPollSecs: 60,
	}
}

// Load 加载配置：默认值 ← YAML 文件 ← 环境变量（钱包只从环境变量/密钥库读）
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}

	cfg.Wallet = WalletConfig{
		PrivateKey: os.Getenv("POLY_PRIVATE_KEY"),
		Funder:     os.Getenv("POLY_FUNDER"),
		SigType:    parseIntEnv("POLY_SIG_TYPE", 0),
	}
	return cfg, nil
}

// PollInterval 次级源轮询间隔（下限 2s）
func (c *OracleConfig) PollInterval() time.Duration {
	if c.PollIntervalSec < 2 {
		return 2 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

func parseIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
