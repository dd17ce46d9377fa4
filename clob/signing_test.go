package clob

import "testing"

func TestOrderAmounts_Buy(t *testing.T) {
	// BUY: maker = USDC 支出，taker = 份额。44.64 份 @ 0.56
	maker, taker, err := orderAmounts(SideBuy, 0.56, 44.64)
	if err != nil {
		t.Fatalf("orderAmounts: %v", err)
	}
	// 44.64 × 0.56 = 24.9984 → 向上取 2 位 = 25.00 → 25000000
	if maker != "25000000" {
		t.Fatalf("maker got=%s want=25000000", maker)
	}
	// 44.64 份 → 44640000
	if taker != "44640000" {
		t.Fatalf("taker got=%s want=44640000", taker)
	}
}

func TestOrderAmounts_Sell(t *testing.T) {
	maker, taker, err := orderAmounts(SideSell, 0.62, 10)
	if err != nil {
		t.Fatalf("orderAmounts: %v", err)
	}
	if maker != "10000000" {
		t.Fatalf("maker got=%s want=10000000", maker)
	}
	// 10 × 0.62 = 6.2 → 6200000
	if taker != "6200000" {
		t.Fatalf("taker got=%s want=6200000", taker)
	}
}

func TestOrderAmounts_RejectsBadInput(t *testing.T) {
	if _, _, err := orderAmounts(SideBuy, 0, 10); err == nil {
		t.Fatal("价格 0 应报错")
	}
	if _, _, err := orderAmounts(SideBuy, 1.0, 10); err == nil {
		t.Fatal("价格 1 应报错")
	}
	if _, _, err := orderAmounts(SideBuy, 0.5, 0); err == nil {
		t.Fatal("数量 0 应报错")
	}
	if _, _, err := orderAmounts("HOLD", 0.5, 10); err == nil {
		t.Fatal("非法方向应报错")
	}
}

func TestHmacSignatureURLSafe(t *testing.T) {
	// 签名输出必须是 URL-safe base64（不含 '+' 或 '/'）
	sig, err := buildHmacSignature("c2VjcmV0LXNlY3JldC1zZWNyZXQ=", 1765985400, "POST", "/order", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHmacSignature: %v", err)
	}
	for _, c := range sig {
		if c == '+' || c == '/' {
			t.Fatalf("签名应为 URL-safe base64: %s", sig)
		}
	}
}
