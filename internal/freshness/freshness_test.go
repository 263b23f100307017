package freshness

import (
	"testing"
	"time"

	"github.com/trackdeck/trackdeck/internal/clock"
)

func TestCompute_Thresholds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outdated := 2 * time.Minute
	stale := 10 * time.Minute

	tests := []struct {
		name         string
		age          time.Duration
		wantFresh    bool
		wantOutdated bool
		wantStale    bool
	}{
		{"just updated", 0, true, false, false},
		{"under outdated", time.Minute, true, false, false},
		{"at outdated", 2 * time.Minute, false, true, false},
		{"between thresholds", 5 * time.Minute, false, true, false},
		{"at stale", 10 * time.Minute, false, true, true},
		{"well past stale", time.Hour, false, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := Compute(now, now.Add(-tc.age), false, true, outdated, stale)
			if st.IsFresh != tc.wantFresh || st.IsOutdated != tc.wantOutdated || st.IsStale != tc.wantStale {
				t.Fatalf("age %v: got fresh=%v outdated=%v stale=%v",
					tc.age, st.IsFresh, st.IsOutdated, st.IsStale)
			}
			if st.LastGlobalUpdate == nil {
				t.Fatal("expected non-nil last update")
			}
		})
	}
}

func TestCompute_NoUpdateYet(t *testing.T) {
	st := Compute(time.Now(), time.Time{}, false, true, time.Minute, 10*time.Minute)
	if !st.IsStale || !st.IsOutdated || st.IsFresh {
		t.Fatalf("cold start should read as stale, got %+v", st)
	}
	if st.LastGlobalUpdate != nil {
		t.Fatal("cold start should have nil last update")
	}
}

func TestCompute_PassthroughFlags(t *testing.T) {
	st := Compute(time.Now(), time.Now(), true, false, time.Minute, 10*time.Minute)
	if !st.IsRefreshing {
		t.Fatal("refreshing flag not carried through")
	}
	if st.Online {
		t.Fatal("online flag not carried through")
	}
}

func TestTracker_TouchAndSnapshot(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(TrackerConfig{
		Clock:             clk,
		OutdatedThreshold: func() time.Duration { return 2 * time.Minute },
		StaleThreshold:    func() time.Duration { return 10 * time.Minute },
		Online:            func() bool { return true },
	})

	if st := tr.Snapshot(); !st.IsStale {
		t.Fatalf("expected stale before first touch, got %+v", st)
	}

	tr.Touch()
	if st := tr.Snapshot(); !st.IsFresh {
		t.Fatalf("expected fresh right after touch, got %+v", st)
	}

	clk.Advance(3 * time.Minute)
	if st := tr.Snapshot(); !st.IsOutdated || st.IsStale {
		t.Fatalf("expected outdated-not-stale at 3m, got %+v", st)
	}

	clk.Advance(8 * time.Minute)
	if st := tr.Snapshot(); !st.IsStale {
		t.Fatalf("expected stale at 11m, got %+v", st)
	}
}

func TestTracker_RefreshingFlag(t *testing.T) {
	clk := clock.NewFake(time.Now())
	tr := NewTracker(TrackerConfig{
		Clock:             clk,
		OutdatedThreshold: func() time.Duration { return time.Minute },
		StaleThreshold:    func() time.Duration { return 10 * time.Minute },
	})

	tr.SetRefreshing(true)
	if !tr.Snapshot().IsRefreshing {
		t.Fatal("expected refreshing flag set")
	}
	tr.SetRefreshing(false)
	if tr.Snapshot().IsRefreshing {
		t.Fatal("expected refreshing flag cleared")
	}
}
