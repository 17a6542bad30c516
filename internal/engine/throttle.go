package engine

import (
	"time"

	"github.com/mrktfy/prospector/internal/config"
)

// DenyReason explains why a notification was not allowed.
type DenyReason string

const (
	DenyDailyLimit            DenyReason = "daily_limit_exceeded"
	DenyHourlyLimit           DenyReason = "hourly_limit_exceeded"
	DenyCooldownActive        DenyReason = "cooldown_active"
	DenyRecentListingView     DenyReason = "recent_listing_view"
	DenyLowEngagementCooldown DenyReason = "low_engagement_cooldown"
	DenyAppActive             DenyReason = "app_active"
)

// Decision is the throttle verdict for one prospective notification.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func allow() Decision            { return Decision{Allowed: true} }
func deny(r DenyReason) Decision { return Decision{Allowed: false, Reason: r} }

// ThrottleInput is the context the policy evaluates against. All counters
// derive from the notification log at decision time — never from cached
// counts — so concurrent decision paths cannot drift.
type ThrottleInput struct {
	Tier            config.TierConfig
	Store           *Store
	Profile         *EngagementProfile
	LastListingView time.Time // zero = never
	AppActive       bool
	SuppressActive  bool // foreground suppression enabled
	Now             time.Time
}

// CanSend evaluates the policy checks in order; the first failing check
// short-circuits.
func CanSend(in ThrottleInput) Decision {
	now := in.Now

	// 1. Daily cap (0 = unlimited).
	if in.Tier.MaxPerDay > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if in.Store.CountSince(startOfDay) >= in.Tier.MaxPerDay {
			return deny(DenyDailyLimit)
		}
	}

	// 2. Hourly cap (0 = unlimited).
	if in.Tier.MaxPerHour > 0 {
		if in.Store.CountSince(now.Add(-time.Hour)) >= in.Tier.MaxPerHour {
			return deny(DenyHourlyLimit)
		}
	}

	// 3. Minimum cooldown since the most recent record.
	last := in.Store.LastTimestamp()
	if !last.IsZero() && now.Sub(last) < in.Tier.MinCooldown {
		return deny(DenyCooldownActive)
	}

	// 4. Context delay — don't interrupt active browsing.
	if !in.LastListingView.IsZero() && now.Sub(in.LastListingView) < in.Tier.ContextDelay {
		return deny(DenyRecentListingView)
	}

	// 5. Engagement-adaptive cooldown: doubled for low-engagement users.
	if in.Profile.Score() < lowEngagementThreshold {
		if !last.IsZero() && now.Sub(last) < 2*in.Tier.MinCooldown {
			return deny(DenyLowEngagementCooldown)
		}
	}

	// 6. Foreground suppression — notifications are for when the user is
	// not already in the app.
	if in.SuppressActive && in.AppActive {
		return deny(DenyAppActive)
	}

	return allow()
}

// ThrottleStats is a point-in-time view of the policy state, exposed for
// the UI's notification settings screen.
type ThrottleStats struct {
	Tier            string     `json:"tier"`
	TodayCount      int        `json:"todayCount"`
	HourCount       int        `json:"hourCount"`
	DailyLimit      int        `json:"dailyLimit"`  // 0 = unlimited
	HourlyLimit     int        `json:"hourlyLimit"` // 0 = unlimited
	IgnoredCount    int        `json:"ignoredCount"`
	EngagementScore float64    `json:"engagementScore"`
	LastNotified    *time.Time `json:"lastNotificationTime,omitempty"`
	NextAvailable   time.Time  `json:"nextAvailableTime"`
}

// Stats computes the current throttle statistics from the log.
func Stats(in ThrottleInput) ThrottleStats {
	now := in.Now
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := ThrottleStats{
		Tier:            in.Tier.ID,
		TodayCount:      in.Store.CountSince(startOfDay),
		HourCount:       in.Store.CountSince(now.Add(-time.Hour)),
		DailyLimit:      in.Tier.MaxPerDay,
		HourlyLimit:     in.Tier.MaxPerHour,
		IgnoredCount:    in.Profile.IgnoredStreak(),
		EngagementScore: in.Profile.Score(),
		NextAvailable:   NextAvailableTime(in),
	}
	if last := in.Store.LastTimestamp(); !last.IsZero() {
		stats.LastNotified = &last
	}
	return stats
}

// NextAvailableTime returns the earliest instant a notification could be
// allowed, walking the same checks CanSend applies.
func NextAvailableTime(in ThrottleInput) time.Time {
	now := in.Now

	// Daily cap exhausted: midnight tomorrow.
	if in.Tier.MaxPerDay > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if in.Store.CountSince(startOfDay) >= in.Tier.MaxPerDay {
			return startOfDay.Add(24 * time.Hour)
		}
	}

	// Hourly cap exhausted: when the oldest in-window record ages out.
	if in.Tier.MaxPerHour > 0 {
		windowStart := now.Add(-time.Hour)
		if in.Store.CountSince(windowStart) >= in.Tier.MaxPerHour {
			if oldest, ok := in.Store.OldestInWindow(windowStart); ok {
				return oldest.Add(time.Hour)
			}
		}
	}

	// Cooldown (doubled while engagement is low).
	if last := in.Store.LastTimestamp(); !last.IsZero() {
		cooldown := in.Tier.MinCooldown
		if in.Profile.Score() < lowEngagementThreshold {
			cooldown *= 2
		}
		if next := last.Add(cooldown); next.After(now) {
			return next
		}
	}

	// Context delay after a listing view.
	if !in.LastListingView.IsZero() {
		if next := in.LastListingView.Add(in.Tier.ContextDelay); next.After(now) {
			return next
		}
	}

	return now
}
