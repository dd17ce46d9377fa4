package signal

import (
	"fmt"
	"math"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

// 组件权重：漂移主导（70%），指标只做 tiebreaker（合计 30%）
const (
	weightPriceVsOpen = 0.70
	weightMomentum    = 0.09
	weightRSI         = 0.075
	weightMACD        = 0.075
	weightEMACross    = 0.06

	// 漂移 0.10% 时 price_vs_open 组件达到满值 1.0
	driftSaturationPct = 0.10

	// 置信度封顶：70% 权重压在漂移上时，一边倒的分数会把置信度推到 1.0，
	// Kelly 仓位随之打满。封在 0.92，信号依旧足够强
	confidenceCap = 0.92

	minCandles = 30
)

// Engine 策略引擎。纯函数、确定性、无 I/O：
// 输入锚定价、当前价和 1 分钟 K 线序列，输出 Signal。
type Engine struct {
	cfg config.StrategyConfig
}

// NewEngine 创建策略引擎
func NewEngine(cfg config.StrategyConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Input 一次评估的输入
type Input struct {
	WindowID     domain.WindowID
	AnchorPrice  float64
	CurrentPrice float64
	Candles      []domain.Candle // 旧 → 新，1 分钟粒度，长度 >= 30
	FeePct       float64         // 执行器提供的费率估计（%）
	DeadZonePct  float64         // 每通道可覆盖；<=0 用全局默认
}

// Analyze 运行全部组件并输出加权判定。
//
// 判定顺序：历史不足 → 波动率闸门 → 死区 → 噪音过滤（chop）→
// 加权打分 → 一致性过滤 → 费率边际 → 置信度阈值。
func (e *Engine) Analyze(in Input) domain.Signal {
	id := in.WindowID

	if len(in.Candles) < minCandles {
		return domain.HoldSignal(id, fmt.Sprintf("insufficient history (%d candles)", len(in.Candles)))
	}
	if in.AnchorPrice <= 0 || in.CurrentPrice <= 0 {
		return domain.HoldSignal(id, "no anchor")
	}

	closes := make([]float64, len(in.Candles))
	for i, c := range in.Candles {
		closes[i] = c.Close
	}

	// 波动率闸门：太安静没有信息，太狂野不可预测
	volPct := volatility(closes[maxInt(0, len(closes)-20):])
	if volPct < e.cfg.MinVolatilityPct || volPct > e.cfg.MaxVolatilityPct {
		sig := domain.HoldSignal(id, fmt.Sprintf("vol %.3f%% out of [%.2f, %.2f]", volPct, e.cfg.MinVolatilityPct, e.cfg.MaxVolatilityPct))
		sig.VolatilityPct = volPct
		sig.Reason = "vol"
		return sig
	}

	driftPct := (in.CurrentPrice - in.AnchorPrice) / in.AnchorPrice * 100

	// 死区：低于此阈值的漂移在买卖价差噪音之内，70% 权重的主信号没有信息量
	deadZone := in.DeadZonePct
	if deadZone <= 0 {
		deadZone = e.cfg.DeadZonePct
	}
	if math.Abs(driftPct) <= deadZone {
		sig := domain.HoldSignal(id, "dead_zone")
		sig.DriftPct = driftPct
		sig.VolatilityPct = volPct
		return sig
	}

	// 各组件输出 [-1, +1]
	pvo := clamp(driftPct/driftSaturationPct, -1, 1)
	mom := e.momentumValue(closes)
	rsiV := e.rsiValue(closes)
	macdV := e.macdValue(closes)
	emaV := e.emaCrossValue(closes)

	votes := map[string]int{
		"momentum":  sign(mom),
		"rsi":       sign(rsiV),
		"macd":      sign(macdV),
		"ema_cross": sign(emaV),
	}

	// 噪音过滤：指标 2v2 均分且漂移 < 0.12% = 无趋势
	upVotes, downVotes := 0, 0
	for _, v := range votes {
		if v > 0 {
			upVotes++
		} else if v < 0 {
			downVotes++
		}
	}
	if upVotes == 2 && downVotes == 2 && math.Abs(driftPct) < 0.12 {
		sig := domain.HoldSignal(id, "chop")
		sig.DriftPct = driftPct
		sig.VolatilityPct = volPct
		sig.IndicatorVotes = votes
		return sig
	}

	score := weightPriceVsOpen*pvo +
		weightMomentum*mom +
		weightRSI*rsiV +
		weightMACD*macdV +
		weightEMACross*emaV

	direction := domain.DirectionHold
	if score > 0 {
		direction = domain.DirectionUp
	} else if score < 0 {
		direction = domain.DirectionDown
	}
	confidence := math.Min(1, math.Abs(score))
	confidence = math.Min(confidence, confidenceCap)

	sig := domain.Signal{
		WindowID:       id,
		Direction:      direction,
		Confidence:     confidence,
		DriftPct:       driftPct,
		VolatilityPct:  volPct,
		IndicatorVotes: votes,
	}
	if direction == domain.DirectionHold {
		sig.Reason = "flat score"
		return sig
	}

	// 一致性过滤：技术面在和漂移打架。
	// 漂移弱（< 0.10%）时 2 个反对就放弃；漂移强时要 3 个反对才放弃
	pvoSign := sign(pvo)
	oppose := 0
	for _, v := range votes {
		if v != 0 && v == -pvoSign {
			oppose++
		}
	}
	absDrift := math.Abs(driftPct)
	if (absDrift < 0.10 && oppose >= 2) || oppose >= 3 {
		sig.Direction = domain.DirectionHold
		sig.Reason = "agreement"
		return sig
	}

	// 费率边际：毛边际打不过手续费就不交易
	edgePct := (2*confidence - 1) * 100
	if in.FeePct > 0 && edgePct < in.FeePct {
		sig.Direction = domain.DirectionHold
		sig.Reason = fmt.Sprintf("fee (edge %.1f%% < fee %.2f%%)", edgePct, in.FeePct)
		return sig
	}

	sig.ShouldTrade = confidence > e.cfg.ConfidenceThreshold
	if !sig.ShouldTrade {
		sig.Reason = fmt.Sprintf("confidence %.2f <= %.2f", confidence, e.cfg.ConfidenceThreshold)
		return sig
	}

	sig.Reason = fmt.Sprintf("%s score=%.3f drift=%+.4f%%", direction, score, driftPct)
	return sig
}

// momentumValue 最近 N 根 K 线的方向压力
func (e *Engine) momentumValue(closes []float64) float64 {
	lookback := e.cfg.MomentumLookback
	if lookback >= len(closes) {
		lookback = len(closes) - 1
	}
	if lookback < 1 {
		return 0
	}
	current := closes[len(closes)-1]
	past := closes[len(closes)-1-lookback]
	if past == 0 {
		return 0
	}
	pct := (current - past) / past * 100
	if math.Abs(pct) <= 0.02 {
		return 0
	}
	strength := math.Min(1, math.Abs(pct)/0.5)
	if pct < 0 {
		return -strength
	}
	return strength
}

// rsiValue RSI 映射：50 → 0，超买/超卖区间反向
func (e *Engine) rsiValue(closes []float64) float64 {
	const (
		overbought = 70.0
		oversold   = 30.0
		center     = 50.0
	)
	v := rsi(closes, e.cfg.RSIPeriod)
	switch {
	case v > overbought:
		return -math.Min(1, (v-overbought)/15)
	case v < oversold:
		return math.Min(1, (oversold-v)/15)
	case v > center:
		return (v - center) / (overbought - center) * 0.3
	case v < center:
		return -(center - v) / (center - oversold) * 0.3
	}
	return 0
}

// macdValue MACD 柱方向 × 幅度启发值；柱翻转加成
func (e *Engine) macdValue(closes []float64) float64 {
	_, _, hist := macd(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
	if hist == 0 {
		return 0
	}
	last := closes[len(closes)-1]
	if last == 0 {
		return 0
	}
	normalized := math.Abs(hist) / last * 10000
	strength := math.Min(1, normalized/10)

	if len(closes) > 2 {
		_, _, prevHist := macd(closes[:len(closes)-1], e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
		if prevHist*hist < 0 {
			strength = math.Min(1, strength*1.5)
		}
	}
	if hist < 0 {
		return -strength
	}
	return strength
}

// emaCrossValue 快慢 EMA 差值 × 归一化 gap；刚交叉加成
func (e *Engine) emaCrossValue(closes []float64) float64 {
	emaFast := ema(closes, e.cfg.EMAFast)
	emaSlow := ema(closes, e.cfg.EMASlow)
	if len(emaFast) == 0 || len(emaSlow) == 0 {
		return 0
	}
	diff := emaFast[len(emaFast)-1] - emaSlow[len(emaSlow)-1]
	if diff == 0 {
		return 0
	}
	last := closes[len(closes)-1]
	if last == 0 {
		return 0
	}
	spreadPct := math.Abs(diff) / last * 100
	strength := math.Min(1, spreadPct/0.15)

	if len(emaFast) >= 2 && len(emaSlow) >= 2 {
		prevDiff := emaFast[len(emaFast)-2] - emaSlow[len(emaSlow)-2]
		if prevDiff*diff < 0 {
			strength = math.Min(1, strength*2)
		}
	}
	if diff < 0 {
		return -strength
	}
	return strength
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
