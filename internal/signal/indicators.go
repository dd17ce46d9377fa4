package signal

import "math"

// 技术指标实现。全部是纯函数，输入收盘价序列（旧 → 新）。

// ema 指数移动平均；数据不足时退化为整体均值
func ema(data []float64, period int) []float64 {
	if len(data) == 0 {
		return nil
	}
	if len(data) < period {
		sum := 0.0
		for _, v := range data {
			sum += v
		}
		avg := sum / float64(len(data))
		out := make([]float64, len(data))
		for i := range out {
			out[i] = avg
		}
		return out
	}

	multiplier := 2.0 / float64(period+1)
	seed := 0.0
	for _, v := range data[:period] {
		seed += v
	}
	out := []float64{seed / float64(period)}
	for _, price := range data[period:] {
		out = append(out, price*multiplier+out[len(out)-1]*(1-multiplier))
	}
	return out
}

// rsi Wilder 平滑 RSI；历史不足返回中值 50
func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}
	deltas := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		deltas = append(deltas, closes[i]-closes[i-1])
	}

	var avgGain, avgLoss float64
	for _, d := range deltas[:period] {
		if d > 0 {
			avgGain += d
		} else {
			avgLoss += -d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for _, d := range deltas[period:] {
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// macd 返回 (macd 线, 信号线, 柱)
func macd(closes []float64, fast, slow, signalPeriod int) (float64, float64, float64) {
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0
	}
	emaFast := ema(closes, fast)
	emaSlow := ema(closes, slow)

	n := len(emaFast)
	if len(emaSlow) < n {
		n = len(emaSlow)
	}
	macdLine := make([]float64, n)
	for i := 0; i < n; i++ {
		macdLine[i] = emaFast[len(emaFast)-n+i] - emaSlow[len(emaSlow)-n+i]
	}
	if len(macdLine) < signalPeriod {
		return macdLine[len(macdLine)-1], 0, 0
	}
	signalLine := ema(macdLine, signalPeriod)
	m := macdLine[len(macdLine)-1]
	s := signalLine[len(signalLine)-1]
	return m, s, m - s
}

// volatility 收益率标准差（百分比口径）
func volatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) int {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}
