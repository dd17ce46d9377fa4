package marketmath

import "testing"

func TestGetEffectivePrices(t *testing.T) {
	tob := TopOfBook{
		YesBidPips: 5500, // 0.55
		YesAskPips: 5600, // 0.56
		NoBidPips:  4700, // 0.47
		NoAskPips:  4800, // 0.48
	}
	eff, err := GetEffectivePrices(tob)
	if err != nil {
		t.Fatalf("GetEffectivePrices error: %v", err)
	}
	// effectiveBuyYes = min(0.56, 1-0.47=0.53) => 0.53
	if eff.EffectiveBuyYesPips != 5300 {
		t.Fatalf("EffectiveBuyYesPips got=%d want=%d", eff.EffectiveBuyYesPips, 5300)
	}
	// effectiveBuyNo = min(0.48, 1-0.55=0.45) => 0.45
	if eff.EffectiveBuyNoPips != 4500 {
		t.Fatalf("EffectiveBuyNoPips got=%d want=%d", eff.EffectiveBuyNoPips, 4500)
	}
	// effectiveSellYes = max(0.55, 1-0.48=0.52) => 0.55
	if eff.EffectiveSellYesPips != 5500 {
		t.Fatalf("EffectiveSellYesPips got=%d want=%d", eff.EffectiveSellYesPips, 5500)
	}
	// effectiveSellNo = max(0.47, 1-0.56=0.44) => 0.47
	if eff.EffectiveSellNoPips != 4700 {
		t.Fatalf("EffectiveSellNoPips got=%d want=%d", eff.EffectiveSellNoPips, 4700)
	}
}

func TestCheckLongArb(t *testing.T) {
	// YES ask 0.45 + NO ask 0.48 = 0.93 < 0.98，边际 7%
	tob := TopOfBook{
		YesBidPips: 4400,
		YesAskPips: 4500,
		NoBidPips:  4700,
		NoAskPips:  4800,
	}
	arb, err := CheckLongArb(tob, 9800, 100)
	if err != nil {
		t.Fatalf("CheckLongArb error: %v", err)
	}
	if arb == nil {
		t.Fatal("expected long arb, got nil")
	}
	// 镜像价：buy YES = min(0.45, 1-0.47=0.53)=0.45; buy NO = min(0.48, 1-0.44=0.56)=0.48
	if arb.CostPips != 9300 {
		t.Fatalf("cost got=%d want=%d", arb.CostPips, 9300)
	}
	if arb.ProfitPips != 700 {
		t.Fatalf("profit got=%d want=%d", arb.ProfitPips, 700)
	}
}

func TestCheckLongArb_NoTrigger(t *testing.T) {
	// sum = 0.99 >= 0.98 阈值，不触发
	tob := TopOfBook{
		YesBidPips: 4900,
		YesAskPips: 5000,
		NoBidPips:  4800,
		NoAskPips:  4900,
	}
	arb, err := CheckLongArb(tob, 9800, 100)
	if err != nil {
		t.Fatalf("CheckLongArb error: %v", err)
	}
	if arb != nil {
		t.Fatalf("expected nil, got %+v", arb)
	}
}
