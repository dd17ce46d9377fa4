package signal

import (
	"math"
	"testing"

	"github.com/betbot/oraclebot/internal/domain"
	"github.com/betbot/oraclebot/pkg/config"
)

func TestLateWindow_BelowThresholdHolds(t *testing.T) {
	cfg := config.Default().Late
	sig := AnalyzeLateWindow(cfg, testWindowID(), 60000, 60030, 90) // 0.05% < 0.08%
	if sig.ShouldTrade || sig.Direction != domain.DirectionHold {
		t.Fatalf("低漂移应 Hold，got %s should_trade=%v", sig.Direction, sig.ShouldTrade)
	}
}

func TestLateWindow_ConfidenceScaling(t *testing.T) {
	cfg := config.Default().Late

	// 恰在最小漂移处：base 置信度
	sig := AnalyzeLateWindow(cfg, testWindowID(), 60000, 60048, 120) // 0.08%
	if !sig.ShouldTrade || sig.Direction != domain.DirectionUp {
		t.Fatalf("0.08%% 漂移应进场 Up，got %s", sig.Direction)
	}
	if math.Abs(sig.Confidence-cfg.BaseConf) > 0.01 {
		t.Fatalf("最小漂移处置信度应 ≈ %.2f，got %.3f", cfg.BaseConf, sig.Confidence)
	}

	// 超过 scale 点：封顶
	sig = AnalyzeLateWindow(cfg, testWindowID(), 60000, 60000*1.003, 120) // 0.3%
	if sig.Confidence != cfg.MaxConf {
		t.Fatalf("大漂移应封顶 %.2f，got %.3f", cfg.MaxConf, sig.Confidence)
	}

	// 向下漂移 → Down
	sig = AnalyzeLateWindow(cfg, testWindowID(), 60000, 60000*0.998, 120)
	if sig.Direction != domain.DirectionDown {
		t.Fatalf("向下漂移应 Down，got %s", sig.Direction)
	}
}

func TestLateWindow_TimeBonus(t *testing.T) {
	cfg := config.Default().Late
	mid := AnalyzeLateWindow(cfg, testWindowID(), 60000, 60072, 120) // 0.12%，充裕时间
	late := AnalyzeLateWindow(cfg, testWindowID(), 60000, 60072, 45) // 同漂移，< 60s

	if late.Confidence < mid.Confidence {
		t.Fatalf("临近关闭置信度不应更低: %.3f < %.3f", late.Confidence, mid.Confidence)
	}
	if late.Confidence > cfg.MaxConf {
		t.Fatalf("时间加成不应突破上限: %.3f", late.Confidence)
	}
}

func TestLateWindow_NoAnchor(t *testing.T) {
	cfg := config.Default().Late
	sig := AnalyzeLateWindow(cfg, testWindowID(), 0, 60000, 90)
	if sig.ShouldTrade {
		t.Fatal("无锚定价不应交易")
	}
}
