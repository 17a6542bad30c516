package engine

import (
	"sort"
	"sync"
	"time"
)

// TimeWindow is an hour-of-day band during which the user tends to engage.
type TimeWindow struct {
	Start    int     `json:"start"` // inclusive hour, 0-23
	End      int     `json:"end"`   // inclusive hour, 0-23
	Strength float64 `json:"strength"`
}

// EngagementEvent is one recorded response, kept for window learning and the
// engagement ratio.
type EngagementEvent struct {
	Timestamp   time.Time   `json:"timestamp"`
	Hour        int         `json:"hour"`
	TriggerType TriggerType `json:"triggerType"`
	Action      Action      `json:"action"`
}

// ProfileData is the persisted shape of an engagement profile.
type ProfileData struct {
	EngagementScore  float64           `json:"engagementScore"` // clamped to [0,100]
	IgnoredCount     int               `json:"ignoredCount"`
	PreferredWindows []TimeWindow      `json:"preferredTimeWindows"`
	History          []EngagementEvent `json:"engagementHistory"`
}

// EngagementProfile is the running model of how the user responds to
// notifications. Mutated only by recorded interactions; persisted and
// reloaded at startup. Safe for the concurrent readers (scheduler, throttle,
// maintenance flush) that interleave with UI-driven mutation.
type EngagementProfile struct {
	mu   sync.Mutex
	data ProfileData
}

// NewEngagementProfile returns a profile at full engagement with the default
// morning and evening windows.
func NewEngagementProfile() *EngagementProfile {
	return &EngagementProfile{
		data: ProfileData{
			EngagementScore:  engagementStart,
			PreferredWindows: defaultWindows(),
		},
	}
}

func defaultWindows() []TimeWindow {
	return []TimeWindow{
		{Start: 8, End: 12},  // morning
		{Start: 18, End: 21}, // evening
	}
}

// ApplyInteraction adjusts the engagement score for a notification response:
// a tap raises the score and clears the ignore streak, a dismissal or ignore
// lowers it and extends the streak.
func (p *EngagementProfile) ApplyInteraction(action Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch action {
	case ActionTapped:
		p.data.EngagementScore = min(engagementStart, p.data.EngagementScore+engagementTapBonus)
		p.data.IgnoredCount = 0
	case ActionDismissed, ActionIgnored:
		p.data.EngagementScore = max(0, p.data.EngagementScore-engagementPenalty)
		p.data.IgnoredCount++
	}
}

// RecordEngagement appends an event to the history (capped) and re-learns
// the preferred windows once enough data exists.
func (p *EngagementProfile) RecordEngagement(trigger TriggerType, action Action, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.History = append(p.data.History, EngagementEvent{
		Timestamp:   at,
		Hour:        at.Hour(),
		TriggerType: trigger,
		Action:      action,
	})
	if len(p.data.History) > maxEngagementHistory {
		p.data.History = p.data.History[len(p.data.History)-maxEngagementHistory:]
	}
	p.updateWindowsLocked()
}

// updateWindowsLocked derives windows of [hour-1, hour+1] around the three
// most-engaged hours, clamped to waking hours.
func (p *EngagementProfile) updateWindowsLocked() {
	if len(p.data.History) < minHistoryForWindows {
		return
	}

	counts := make(map[int]int)
	for _, e := range p.data.History {
		counts[e.Hour]++
	}

	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > 3 {
		hours = hours[:3]
	}

	windows := make([]TimeWindow, 0, len(hours))
	for _, h := range hours {
		windows = append(windows, TimeWindow{
			Start:    max(7, h-1),
			End:      min(22, h+1),
			Strength: float64(counts[h]) / float64(len(p.data.History)),
		})
	}
	p.data.PreferredWindows = windows
}

// InPreferredWindow reports whether the given hour falls inside any
// preferred window.
func (p *EngagementProfile) InPreferredWindow(hour int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.data.PreferredWindows {
		if hour >= w.Start && hour <= w.End {
			return true
		}
	}
	return false
}

// EngagementRatio is engaged/(engaged+ignored) over the retained history.
// Returns 1 with no history — a new user is assumed engaged.
func (p *EngagementProfile) EngagementRatio() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var engaged, ignored int
	for _, e := range p.data.History {
		if e.Action == ActionTapped {
			engaged++
		} else {
			ignored++
		}
	}
	total := engaged + ignored
	if total == 0 {
		return 1
	}
	return float64(engaged) / float64(total)
}

// Score returns the current engagement score.
func (p *EngagementProfile) Score() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.EngagementScore
}

// IgnoredStreak returns the current consecutive-ignore count.
func (p *EngagementProfile) IgnoredStreak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.IgnoredCount
}

// Snapshot returns a deep copy of the profile data for persistence.
func (p *EngagementProfile) Snapshot() ProfileData {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.data
	out.PreferredWindows = append([]TimeWindow(nil), p.data.PreferredWindows...)
	out.History = append([]EngagementEvent(nil), p.data.History...)
	return out
}

// Restore replaces the profile data from a persisted snapshot, clamping the
// score back into range in case the snapshot predates the clamp.
func (p *EngagementProfile) Restore(data ProfileData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data.EngagementScore = min(engagementStart, max(0, data.EngagementScore))
	if len(data.PreferredWindows) == 0 {
		data.PreferredWindows = defaultWindows()
	}
	p.data = data
}
