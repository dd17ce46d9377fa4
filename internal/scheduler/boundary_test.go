package scheduler

import (
	"testing"
	"time"

	"github.com/betbot/oraclebot/pkg/config"
)

func configLane15() config.LaneConfig {
	return config.Default().Lane15m
}

func TestNextBoundary15m(t *testing.T) {
	cases := []struct {
		now  string
		want string
	}{
		{"2026-08-05T10:00:00Z", "2026-08-05T10:15:00Z"},
		{"2026-08-05T10:00:01Z", "2026-08-05T10:15:00Z"},
		{"2026-08-05T10:14:59Z", "2026-08-05T10:15:00Z"},
		{"2026-08-05T10:15:00Z", "2026-08-05T10:30:00Z"},
		{"2026-08-05T10:59:30Z", "2026-08-05T11:00:00Z"},
	}
	for _, c := range cases {
		now, _ := time.Parse(time.RFC3339, c.now)
		want, _ := time.Parse(time.RFC3339, c.want)
		if got := NextBoundary(now, 15); !got.Equal(want) {
			t.Errorf("NextBoundary(%s, 15) = %s, want %s", c.now, got, c.want)
		}
	}
}

func TestNextBoundary5m(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-08-05T10:07:30Z")
	want, _ := time.Parse(time.RFC3339, "2026-08-05T10:10:00Z")
	if got := NextBoundary(now, 5); !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

// 5m 边界与 15m 重合的分钟：:00/:15/:30/:45 让位，
// {:05,:10,:20,:25,:35,:40,:50,:55} 正常交易
func TestSharedBoundaryMinutes(t *testing.T) {
	shared := map[int]bool{0: true, 15: true, 30: true, 45: true}
	for minute := 0; minute < 60; minute += 5 {
		b := time.Date(2026, 8, 5, 10, minute, 0, 0, time.UTC)
		if got := IsSharedBoundary(b); got != shared[minute] {
			t.Errorf("IsSharedBoundary(:%02d) = %v, want %v", minute, got, shared[minute])
		}
	}
}

// 边界计算基于 UTC 墙钟：传入带时区的时间也要得到同一边界
func TestBoundaryUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2026, 8, 5, 18, 3, 0, 0, loc) // = 10:03 UTC
	got := NextBoundary(local, 15)
	want := time.Date(2026, 8, 5, 10, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

// 同一 (timeframe, openTs) 永远只发一条流水线
func TestLaneClaimDeduplicates(t *testing.T) {
	l := &Lane{fired: make(map[int64]bool), cfg: configLane15()}
	openTs := int64(1765985400)

	if !l.claim(openTs) {
		t.Fatal("第一次领取应成功")
	}
	if l.claim(openTs) {
		t.Fatal("重复领取同一窗口必须失败")
	}
	if !l.claim(openTs + 900) {
		t.Fatal("下一个窗口应可领取")
	}
}
