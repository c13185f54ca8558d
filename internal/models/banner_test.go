package models

import (
	"testing"
	"time"
)

func TestBannerIsActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name   string
		banner Banner
		want   bool
	}{
		{"active no window", Banner{Active: true}, true},
		{"inactive", Banner{Active: false}, false},
		{"inside window", Banner{Active: true, StartAt: &past, EndAt: &future}, true},
		{"before start", Banner{Active: true, StartAt: &future}, false},
		{"after end", Banner{Active: true, EndAt: &past}, false},
		{"start only, started", Banner{Active: true, StartAt: &past}, true},
		{"end only, not ended", Banner{Active: true, EndAt: &future}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.banner.IsActiveAt(now); got != tc.want {
				t.Fatalf("IsActiveAt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBannerMatchesDevice(t *testing.T) {
	any := Banner{DeviceConstraint: DeviceAny}
	mobile := Banner{DeviceConstraint: DeviceMobile}

	if !any.MatchesDevice("desktop") || !any.MatchesDevice("unknown") {
		t.Fatal("unconstrained banner should match every device")
	}
	if !mobile.MatchesDevice("mobile") {
		t.Fatal("mobile banner should match mobile")
	}
	if mobile.MatchesDevice("desktop") || mobile.MatchesDevice("unknown") {
		t.Fatal("mobile banner should not match desktop or unknown")
	}
}

func TestBannerMatchesArticle(t *testing.T) {
	b := Banner{TargetArticles: []string{"Deal-One", "deal-two"}}
	if !b.MatchesArticle("deal-one") {
		t.Fatal("article match should be case insensitive")
	}
	if b.MatchesArticle("deal-three") {
		t.Fatal("unlisted article should not match")
	}

	open := Banner{}
	if !open.MatchesArticle("anything") {
		t.Fatal("empty target list should match every article")
	}
}

func TestBannerCTR(t *testing.T) {
	b := Banner{Impressions: 200, Clicks: 10}
	if got := b.CTR(); got != 0.05 {
		t.Fatalf("CTR = %v, want 0.05", got)
	}
	empty := Banner{}
	if got := empty.CTR(); got != 0 {
		t.Fatalf("CTR with no impressions = %v, want 0", got)
	}
}
