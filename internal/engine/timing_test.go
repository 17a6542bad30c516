package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTimingConfig() TimingConfig {
	return TimingConfig{
		DwellDelay:     3 * time.Minute,
		BatchWindow:    time.Hour,
		SmartDelayMin:  2 * time.Minute,
		SmartDelayMax:  5 * time.Minute,
		RecentOpenPush: time.Minute,
	}
}

func newTestScheduler(at time.Time) (*Scheduler, *EngagementProfile) {
	profile := NewEngagementProfile()
	s := NewScheduler(testTimingConfig(), profile, testLogger())
	s.now = func() time.Time { return at }
	return s, profile
}

func TestDetermineStrategy(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		dctx DeliveryContext
		want Strategy
	}{
		{"exceptional match is immediate", DeliveryContext{TriggerType: TriggerHotZone, BestMatchScore: 95}, StrategyImmediate},
		{"price drop is immediate", DeliveryContext{TriggerType: TriggerPriceDrop, BestMatchScore: 60}, StrategyImmediate},
		{"active app batches", DeliveryContext{TriggerType: TriggerHotZone, BestMatchScore: 80, IsAppActive: true}, StrategyBatch},
		{"many listings batch", DeliveryContext{TriggerType: TriggerHotZone, BestMatchScore: 80, ListingCount: 4}, StrategyBatch},
		{"dwell trigger", DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80, ListingCount: 2}, StrategyDwell},
		{"default smart delay", DeliveryContext{TriggerType: TriggerHotZone, BestMatchScore: 80, ListingCount: 2}, StrategySmartDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.DetermineStrategy(tt.dctx))
		})
	}
}

func TestDelayPerStrategy(t *testing.T) {
	// 10:00 is inside the default morning window, so smart delay starts at
	// the minimum with a fresh profile.
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	strategy, delay := s.Delay(DeliveryContext{TriggerType: TriggerPriceDrop})
	assert.Equal(t, StrategyImmediate, strategy)
	assert.Equal(t, time.Duration(0), delay)

	strategy, delay = s.Delay(DeliveryContext{TriggerType: TriggerHotZone, ListingCount: 5, BestMatchScore: 80})
	assert.Equal(t, StrategyBatch, strategy)
	assert.Equal(t, time.Hour, delay)

	strategy, delay = s.Delay(DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80})
	assert.Equal(t, StrategyDwell, strategy)
	assert.Equal(t, 3*time.Minute, delay)

	strategy, delay = s.Delay(DeliveryContext{TriggerType: TriggerHotZone, ListingCount: 1, BestMatchScore: 80})
	assert.Equal(t, StrategySmartDelay, strategy)
	assert.Equal(t, 2*time.Minute, delay)
}

// neutralRatio seeds enough mixed history to land the engagement ratio
// between the fast and slow thresholds, while staying below the window
// learning threshold so the default windows stand.
func neutralRatio(p *EngagementProfile, at time.Time) {
	for i := 0; i < 5; i++ {
		p.RecordEngagement(TriggerHotZone, ActionTapped, at)
	}
	for i := 0; i < 4; i++ {
		p.RecordEngagement(TriggerHotZone, ActionIgnored, at)
	}
}

func TestSmartDelayAdjustments(t *testing.T) {
	inWindow := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)  // morning window
	offWindow := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC) // between windows

	t.Run("high engagement ratio speeds up", func(t *testing.T) {
		// A fresh profile reads as fully engaged.
		s, _ := newTestScheduler(inWindow)
		d := s.smartDelay(DeliveryContext{BestMatchScore: 80})
		assert.Equal(t, 2*time.Minute, d) // 2min * 0.8 clamped up to the minimum
	})

	t.Run("off-window backs off", func(t *testing.T) {
		s, profile := newTestScheduler(offWindow)
		neutralRatio(profile, offWindow)
		d := s.smartDelay(DeliveryContext{BestMatchScore: 80})
		assert.Equal(t, 3*time.Minute, d) // 2min * 1.5
	})

	t.Run("strong match speeds up but clamps to minimum", func(t *testing.T) {
		s, profile := newTestScheduler(inWindow)
		neutralRatio(profile, inWindow)
		d := s.smartDelay(DeliveryContext{BestMatchScore: 88})
		assert.Equal(t, 2*time.Minute, d) // 2min * 0.7 clamped up
	})

	t.Run("weak match slows down", func(t *testing.T) {
		s, profile := newTestScheduler(inWindow)
		neutralRatio(profile, inWindow)
		d := s.smartDelay(DeliveryContext{BestMatchScore: 60})
		assert.Equal(t, time.Duration(float64(2*time.Minute)*1.2), d)
	})

	t.Run("low engagement ratio hesitates", func(t *testing.T) {
		s, profile := newTestScheduler(inWindow)
		for i := 0; i < 9; i++ {
			profile.RecordEngagement(TriggerHotZone, ActionIgnored, inWindow)
		}
		d := s.smartDelay(DeliveryContext{BestMatchScore: 80})
		assert.Equal(t, time.Duration(float64(2*time.Minute)*1.3), d)
	})

	t.Run("recent app open adds breathing room", func(t *testing.T) {
		s, profile := newTestScheduler(inWindow)
		neutralRatio(profile, inWindow)
		d := s.smartDelay(DeliveryContext{BestMatchScore: 80, RecentAppOpen: true})
		assert.Equal(t, 3*time.Minute, d) // 2min + 1min push
	})

	t.Run("compounded adjustments clamp to maximum", func(t *testing.T) {
		s, profile := newTestScheduler(offWindow)
		for i := 0; i < 9; i++ {
			profile.RecordEngagement(TriggerHotZone, ActionIgnored, offWindow)
		}
		// 2min * 1.5 * 1.3 * 1.2 + 1min = 5.68min → clamped to 5min.
		d := s.smartDelay(DeliveryContext{BestMatchScore: 60, RecentAppOpen: true})
		assert.Equal(t, 5*time.Minute, d)
	})
}

func TestScheduleImmediateDeliversSynchronously(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	var delivered atomic.Int32
	info := s.Schedule("n1", DeliveryContext{TriggerType: TriggerPriceDrop}, func(id string, _ DeliveryContext) {
		assert.Equal(t, "n1", id)
		delivered.Add(1)
	})

	assert.Equal(t, StrategyImmediate, info.Strategy)
	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduleDeferredFires(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	s.cfg.DwellDelay = 20 * time.Millisecond

	done := make(chan string, 1)
	info := s.Schedule("n1", DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80}, func(id string, _ DeliveryContext) {
		done <- id
	})
	assert.Equal(t, StrategyDwell, info.Strategy)
	assert.Equal(t, 1, s.Pending())

	select {
	case id := <-done:
		assert.Equal(t, "n1", id)
	case <-time.After(time.Second):
		t.Fatal("deferred delivery never fired")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduleReplacesPendingTimer(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	s.cfg.DwellDelay = 30 * time.Millisecond

	var fired atomic.Int32
	dctx := DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80}
	s.Schedule("n1", dctx, func(string, DeliveryContext) { fired.Add(1) })
	s.Schedule("n1", dctx, func(string, DeliveryContext) { fired.Add(1) })
	require.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "replaced timer must not also fire")
}

func TestCancel(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	var fired atomic.Int32
	s.Schedule("n1", DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80}, func(string, DeliveryContext) { fired.Add(1) })
	require.Equal(t, 1, s.Pending())

	assert.True(t, s.Cancel("n1"))
	assert.False(t, s.Cancel("n1"))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancelAll(t *testing.T) {
	s, _ := newTestScheduler(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	dctx := DeliveryContext{TriggerType: TriggerDwell, BestMatchScore: 80}

	s.Schedule("n1", dctx, func(string, DeliveryContext) {})
	s.Schedule("n2", dctx, func(string, DeliveryContext) {})
	require.Equal(t, 2, s.Pending())

	s.CancelAll()
	assert.Equal(t, 0, s.Pending())
}
