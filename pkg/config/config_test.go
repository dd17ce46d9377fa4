package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Bankroll != 500 {
		t.Fatalf("默认资金应为 500，got %.0f", cfg.Bankroll)
	}
	if cfg.Strategy.ConfidenceThreshold != 0.60 || cfg.Strategy.DeadZonePct != 0.04 {
		t.Fatalf("策略默认值不对: %+v", cfg.Strategy)
	}
	if cfg.Lane15m.EntryLeadSecs != 60 || cfg.Lane15m.EntryWindowSecs != 30 {
		t.Fatalf("15m 通道默认值不对: %+v", cfg.Lane15m)
	}
	if cfg.Lane5m.EntryLeadSecs != 55 || cfg.Lane5m.EntryWindowSecs != 20 {
		t.Fatalf("5m 通道默认值不对: %+v", cfg.Lane5m)
	}
	if cfg.Arb.Threshold != 0.98 || cfg.Arb.MinEdgePct != 1.0 {
		t.Fatalf("套利默认值不对: %+v", cfg.Arb)
	}
	if cfg.Late.MaxEntryPrice != 0.80 || cfg.Late.MinDriftPct != 0.08 {
		t.Fatalf("尾盘默认值不对: %+v", cfg.Late)
	}
	if cfg.Dashboard.Port != 8765 {
		t.Fatalf("控制台端口应为 8765，got %d", cfg.Dashboard.Port)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("bankroll: 1000\nstrategy:\n  confidence_threshold: 0.70\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bankroll != 1000 {
		t.Fatalf("bankroll 应被覆盖，got %.0f", cfg.Bankroll)
	}
	if cfg.Strategy.ConfidenceThreshold != 0.70 {
		t.Fatalf("confidence_threshold 应被覆盖，got %.2f", cfg.Strategy.ConfidenceThreshold)
	}
	// 未覆盖的保持默认
	if cfg.Strategy.DeadZonePct != 0.04 {
		t.Fatalf("未覆盖字段应保持默认，got %.2f", cfg.Strategy.DeadZonePct)
	}
}

func TestWalletValidate(t *testing.T) {
	good := WalletConfig{
		PrivateKey: "0x" + repeat64("a"),
		Funder:     "0x1234567890abcdef1234567890abcdef12345678",
		SigType:    0,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("合法配置不应报错: %v", err)
	}

	bad := good
	bad.PrivateKey = "tooshort"
	if err := bad.Validate(); err == nil {
		t.Fatal("短私钥应报错")
	}

	bad = good
	bad.SigType = 3
	if err := bad.Validate(); err == nil {
		t.Fatal("sig_type=3 应报错")
	}

	bad = good
	bad.Funder = "not-an-address"
	if err := bad.Validate(); err == nil {
		t.Fatal("非法地址应报错")
	}
}

func repeat64(s string) string {
	out := ""
	for i := 0; i < 64; i++ {
		out += s
	}
	return out
}
