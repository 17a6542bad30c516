package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Strategy names a delivery-timing approach.
type Strategy string

const (
	StrategyImmediate  Strategy = "immediate"
	StrategyBatch      Strategy = "batch"
	StrategyDwell      Strategy = "dwell"
	StrategySmartDelay Strategy = "smart_delay"
)

// TimingConfig holds the per-strategy delay parameters.
type TimingConfig struct {
	DwellDelay     time.Duration // fixed delay for dwell-triggered alerts
	BatchWindow    time.Duration // delay used to batch digest-style updates
	SmartDelayMin  time.Duration
	SmartDelayMax  time.Duration
	RecentOpenPush time.Duration // added when the app was opened very recently
}

// DeliveryContext describes one prospective delivery for strategy selection.
type DeliveryContext struct {
	TriggerType    TriggerType
	ListingCount   int
	BestMatchScore float64
	IsAppActive    bool
	RecentAppOpen  bool
}

// ScheduleInfo reports how a delivery was scheduled.
type ScheduleInfo struct {
	Strategy     Strategy      `json:"strategy"`
	Delay        time.Duration `json:"delay"`
	ScheduledFor time.Time     `json:"scheduledFor"`
}

// DeliveryFunc is invoked when a scheduled delivery comes due.
type DeliveryFunc func(notificationID string, dctx DeliveryContext)

// Scheduler picks a delay strategy per notification context and manages the
// pending delivery timers. Timers are keyed by notification ID; scheduling
// an ID that already has a pending timer replaces it, so at most one timer
// exists per ID.
type Scheduler struct {
	cfg     TimingConfig
	profile *EngagementProfile
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a scheduler reading engagement signals from profile.
func NewScheduler(cfg TimingConfig, profile *EngagementProfile, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
	}
}

// DetermineStrategy selects the timing strategy for a delivery context.
//
// Foreground suppression normally denies before scheduling, so the
// IsAppActive branch only applies when suppression is disabled in config.
func (s *Scheduler) DetermineStrategy(dctx DeliveryContext) Strategy {
	if dctx.BestMatchScore > 90 || dctx.TriggerType == TriggerPriceDrop {
		return StrategyImmediate
	}
	if dctx.IsAppActive || dctx.ListingCount > 3 {
		return StrategyBatch
	}
	if dctx.TriggerType == TriggerDwell {
		return StrategyDwell
	}
	return StrategySmartDelay
}

// Delay computes the delivery delay for a context.
func (s *Scheduler) Delay(dctx DeliveryContext) (Strategy, time.Duration) {
	strategy := s.DetermineStrategy(dctx)
	switch strategy {
	case StrategyImmediate:
		return strategy, 0
	case StrategyBatch:
		return strategy, s.cfg.BatchWindow
	case StrategyDwell:
		return strategy, s.cfg.DwellDelay
	default:
		return strategy, s.smartDelay(dctx)
	}
}

// smartDelay starts from the strategy's minimum and adjusts it
// multiplicatively from the user's behavior model, clamped to the bounds.
func (s *Scheduler) smartDelay(dctx DeliveryContext) time.Duration {
	delay := float64(s.cfg.SmartDelayMin)

	// Outside the user's preferred hours, back off.
	if !s.profile.InPreferredWindow(s.now().Hour()) {
		delay *= 1.5
	}

	// Engagement ratio: hesitant for ignorers, prompt for engagers.
	ratio := s.profile.EngagementRatio()
	if ratio < 0.3 {
		delay *= 1.3
	} else if ratio > 0.7 {
		delay *= 0.8
	}

	// Listing quality: faster for strong matches.
	if dctx.BestMatchScore > 85 {
		delay *= 0.7
	} else if dctx.BestMatchScore < 70 {
		delay *= 1.2
	}

	// Give a freshly opened app some breathing room.
	if dctx.RecentAppOpen {
		delay += float64(s.cfg.RecentOpenPush)
	}

	d := time.Duration(delay)
	if d < s.cfg.SmartDelayMin {
		d = s.cfg.SmartDelayMin
	}
	if d > s.cfg.SmartDelayMax {
		d = s.cfg.SmartDelayMax
	}
	return d
}

// Schedule arms a delivery timer for the notification, cancelling and
// replacing any pending timer for the same ID. A zero delay invokes the
// callback synchronously.
func (s *Scheduler) Schedule(notificationID string, dctx DeliveryContext, deliver DeliveryFunc) ScheduleInfo {
	strategy, delay := s.Delay(dctx)

	s.mu.Lock()
	if t, ok := s.timers[notificationID]; ok {
		t.Stop()
		delete(s.timers, notificationID)
	}

	info := ScheduleInfo{
		Strategy:     strategy,
		Delay:        delay,
		ScheduledFor: s.now().Add(delay),
	}

	if delay == 0 {
		s.mu.Unlock()
		deliver(notificationID, dctx)
		return info
	}

	s.timers[notificationID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, notificationID)
		s.mu.Unlock()
		deliver(notificationID, dctx)
	})
	s.mu.Unlock()

	s.logger.Debug("delivery scheduled",
		"notification_id", notificationID,
		"strategy", strategy,
		"delay", delay)
	return info
}

// Cancel removes a pending timer without firing it. Returns false when no
// timer was pending for the ID.
func (s *Scheduler) Cancel(notificationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[notificationID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, notificationID)
	return true
}

// CancelAll stops every pending timer. Called on session shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed delivery timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
