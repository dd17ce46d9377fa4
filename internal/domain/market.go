package domain

// Market 市场领域模型（一个窗口对应一个二元市场）
type Market struct {
	Slug        string
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	Question    string
	Timeframe   string  // "5m" / "15m" / "30m" / "1h"
	OpenTs      int64   // 窗口开始（Unix 秒）
	CloseTs     int64   // 窗口结束（Unix 秒）
	Liquidity   float64 // USDC
	FeeRateBps  int
}

// TimeframeMins timeframe 字符串 → 分钟数
func TimeframeMins(tf string) int {
	switch tf {
	case "5m":
		return 5
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	}
	return 15
}

// WindowIDFor 市场对应的窗口 ID
func (m *Market) WindowIDFor() WindowID {
	return WindowID{TimeframeMins: TimeframeMins(m.Timeframe), OpenTs: m.OpenTs}
}

// IsValid 市场是否可交易
func (m *Market) IsValid() bool {
	return m != nil && m.Slug != "" && m.YesTokenID != "" && m.NoTokenID != "" && m.CloseTs > 0
}

// TokenID 根据 token 类型返回资产 ID
func (m *Market) TokenID(t TokenType) string {
	if t == TokenTypeDown {
		return m.NoTokenID
	}
	return m.YesTokenID
}

// TokenIDForSide 订单方向 → 资产 ID
func (m *Market) TokenIDForSide(s Side) string {
	if s == SideNo {
		return m.NoTokenID
	}
	return m.YesTokenID
}
