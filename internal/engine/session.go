package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/kv"
	"github.com/mrktfy/prospector/internal/listings"
)

// An app open within this window counts as "recent" for delivery timing.
const recentAppOpenWindow = 5 * time.Minute

// Session is the per-user decision engine: one shared instance per user
// session, constructed once and passed to collaborators by reference. All
// session-level state (tier, criteria, browsing context) is guarded by its
// mutex; the detector, store, scheduler, and profile guard their own.
type Session struct {
	UserID string

	cfg     *config.Config
	kv      kv.Store
	checker *listings.Client
	sender  PushSender
	logger  *slog.Logger
	now     func() time.Time

	detector  *Detector
	profile   *EngagementProfile
	store     *Store
	scheduler *Scheduler

	mu              sync.Mutex
	tier            config.TierConfig
	criteria        UserCriteria
	appActive       bool
	lastListingView time.Time
	lastAppOpen     time.Time
	lastActivity    time.Time
}

// NewSession wires a session's components together. Call Restore afterwards
// to reload persisted state.
func NewSession(
	userID, tierID string,
	criteria UserCriteria,
	cfg *config.Config,
	kvStore kv.Store,
	checker *listings.Client,
	sender PushSender,
	logger *slog.Logger,
) *Session {
	logger = logger.With("user_id", userID)

	tier, known := config.TierFor(tierID)
	if !known {
		logger.Warn("unknown tier, using lowest-privilege defaults", "tier", tierID)
	}

	s := &Session{
		UserID:   userID,
		cfg:      cfg,
		kv:       kvStore,
		checker:  checker,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		tier:     tier,
		criteria: criteria,
		profile:  NewEngagementProfile(),
		store:    NewStore(userID, kvStore, logger),
	}
	s.lastActivity = s.now()

	s.scheduler = NewScheduler(TimingConfig{
		DwellDelay:     cfg.DwellDelay,
		BatchWindow:    cfg.BatchWindow,
		SmartDelayMin:  cfg.SmartDelayMin,
		SmartDelayMax:  cfg.SmartDelayMax,
		RecentOpenPush: cfg.RecentOpenPush,
	}, s.profile, logger)

	s.detector = NewDetector(DetectorConfig{
		MovementThresholdMeters: cfg.MovementThresholdMeters,
		DwellTime:               cfg.DwellTime,
		MovingSpeedThreshold:    cfg.MovingSpeedThreshold,
	}, s.onSignificantMovement, s.onDwell, logger)

	return s
}

// Restore reloads persisted state: the notification log, the engagement
// profile, and the last known location. Unreadable snapshots are discarded
// with a warning — never fatal.
func (s *Session) Restore(ctx context.Context) {
	s.store.Load(ctx)

	if raw, found, err := s.kv.Get(ctx, engagementKey(s.UserID)); err != nil {
		s.logger.Warn("engagement profile load failed", "error", err)
	} else if found {
		var data ProfileData
		if err := unmarshalState(raw, &data); err != nil {
			s.logger.Warn("discarding unreadable engagement profile", "error", err)
		} else {
			s.profile.Restore(data)
		}
	}

	if raw, found, err := s.kv.Get(ctx, lastSampleKey(s.UserID)); err != nil {
		s.logger.Warn("last sample load failed", "error", err)
	} else if found {
		var sample LocationSample
		if err := unmarshalState(raw, &sample); err != nil {
			s.logger.Warn("discarding unreadable last sample", "error", err)
		} else {
			s.detector.RestoreLastSample(sample)
		}
	}
}

// --------------------------------------------------------------------------
// Location flow
// --------------------------------------------------------------------------

// HandleSample feeds one location sample through the detector and persists
// the last-known-location snapshot.
func (s *Session) HandleSample(ctx context.Context, sample LocationSample) {
	s.touch()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	s.detector.HandleSample(sample)

	raw, err := marshalState(sample)
	if err != nil {
		s.logger.Warn("last sample encode failed", "error", err)
		return
	}
	if err := s.kv.Set(ctx, lastSampleKey(s.UserID), raw); err != nil {
		s.logger.Warn("last sample persist failed", "error", err)
	}
}

// onSignificantMovement runs the hot-zone check off the sample-handling
// path so a slow backend never delays classification of the next sample.
func (s *Session) onSignificantMovement(sample LocationSample, prev *LocationSample) {
	go s.runCheck(TriggerHotZone, sample, prev)
}

// onDwell already runs on the dwell timer's goroutine.
func (s *Session) onDwell(sample LocationSample) {
	s.runCheck(TriggerDwell, sample, nil)
}

func (s *Session) runCheck(trigger TriggerType, sample LocationSample, prev *LocationSample) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ListingsTimeout)
	defer cancel()

	s.mu.Lock()
	radius := s.tier.RadiusMeters
	s.mu.Unlock()

	req := listings.CheckRequest{
		Latitude:     sample.Latitude,
		Longitude:    sample.Longitude,
		RadiusMeters: radius,
	}

	var result listings.CheckResult
	switch trigger {
	case TriggerDwell:
		result = s.checker.CheckDwellArea(ctx, req)
	default:
		if prev != nil {
			req.LastKnown = &listings.LatLng{Latitude: prev.Latitude, Longitude: prev.Longitude}
		}
		result = s.checker.CheckHotZone(ctx, req)
	}

	if !result.ShouldNotify || len(result.Listings) == 0 {
		return
	}
	s.ProcessCandidates(ctx, result.Listings, trigger, &sample)
}

// ProcessCandidates scores a candidate set, applies the throttle policy,
// and schedules delivery of the resulting notification. Exposed for the
// price-drop path, which arrives from the backend rather than a zone check.
func (s *Session) ProcessCandidates(ctx context.Context, candidates []listings.Candidate, trigger TriggerType, userLoc *LocationSample) {
	now := s.now()

	s.mu.Lock()
	tier := s.tier
	criteria := s.criteria
	s.mu.Unlock()

	scored := ScoreAndFilter(candidates, criteria, tier, userLoc, now)
	if len(scored) == 0 {
		s.logger.Debug("no qualifying candidates", "trigger", trigger, "offered", len(candidates))
		return
	}

	decision := CanSend(s.throttleInput(now))
	if !decision.Allowed {
		s.logger.Info("notification throttled", "trigger", trigger, "reason", decision.Reason)
		return
	}

	title, body := BuildMessage(trigger, scored)
	rec := s.store.Save(ctx, trigger, title, body, listingIDs(scored), tier.ID)

	s.mu.Lock()
	dctx := DeliveryContext{
		TriggerType:    trigger,
		ListingCount:   len(scored),
		BestMatchScore: scored[0].Score,
		IsAppActive:    s.appActive,
		RecentAppOpen:  !s.lastAppOpen.IsZero() && now.Sub(s.lastAppOpen) < recentAppOpenWindow,
	}
	s.mu.Unlock()

	info := s.scheduler.Schedule(rec.ID, dctx, s.deliver)
	s.logger.Info("notification scheduled",
		"notification_id", rec.ID,
		"trigger", trigger,
		"listings", len(scored),
		"best_score", scored[0].Score,
		"strategy", info.Strategy,
		"delay", info.Delay)
}

// deliver hands a due notification to the push capability.
func (s *Session) deliver(notificationID string, dctx DeliveryContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, ok := s.store.Get(notificationID)
	if !ok {
		// Deleted between scheduling and expiry.
		return
	}

	data := map[string]string{
		"notificationId": rec.ID,
		"triggerType":    string(rec.TriggerType),
	}
	if err := s.sender.Send(ctx, s.UserID, rec.Title, rec.Body, data); err != nil {
		s.logger.Warn("push delivery failed", "notification_id", rec.ID, "error", err)
		return
	}
	s.logger.Info("notification delivered", "notification_id", rec.ID, "trigger", rec.TriggerType)
}

// --------------------------------------------------------------------------
// UI-originated events
// --------------------------------------------------------------------------

// RecordListingView resets the context-delay clock — the user is actively
// browsing and should not be interrupted.
func (s *Session) RecordListingView() {
	s.touch()
	s.mu.Lock()
	s.lastListingView = s.now()
	s.mu.Unlock()
}

// SetAppActive tracks foreground state. Turning active also marks an app
// open for the recent-open timing adjustment.
func (s *Session) SetAppActive(active bool) {
	s.touch()
	s.mu.Lock()
	if active && !s.appActive {
		s.lastAppOpen = s.now()
	}
	s.appActive = active
	s.mu.Unlock()
}

// RecordInteraction attaches a response to a notification and feeds it into
// the engagement model. Returns false when the ID is unknown.
func (s *Session) RecordInteraction(ctx context.Context, notificationID string, action Action) bool {
	s.touch()
	rec, ok := s.store.Get(notificationID)
	if !ok {
		return false
	}

	s.store.SetInteraction(ctx, notificationID, action)
	s.profile.ApplyInteraction(action)
	s.profile.RecordEngagement(rec.TriggerType, action, s.now())
	s.flushProfile(ctx)
	return true
}

// RecordUserEngagement feeds the timing model directly, for engagement
// signals that are not tied to a stored notification.
func (s *Session) RecordUserEngagement(ctx context.Context, trigger TriggerType, action Action) {
	s.touch()
	s.profile.ApplyInteraction(action)
	s.profile.RecordEngagement(trigger, action, s.now())
	s.flushProfile(ctx)
}

// SetTier switches the session's subscription tier.
func (s *Session) SetTier(tierID string) bool {
	s.touch()
	tier, known := config.TierFor(tierID)
	s.mu.Lock()
	s.tier = tier
	s.mu.Unlock()
	if !known {
		s.logger.Warn("unknown tier on update, using lowest-privilege defaults", "tier", tierID)
	}
	return known
}

// SetCriteria replaces the user's saved search filters.
func (s *Session) SetCriteria(criteria UserCriteria) {
	s.touch()
	s.mu.Lock()
	s.criteria = criteria
	s.mu.Unlock()
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Store exposes the notification log for queries and maintenance.
func (s *Session) Store() *Store { return s.store }

// Scheduler exposes the timing scheduler for cancellation paths.
func (s *Session) Scheduler() *Scheduler { return s.scheduler }

// MovementState returns the detector's current classification.
func (s *Session) MovementState() MovementState { return s.detector.State() }

// LastKnownLocation returns the most recent location sample, if any.
func (s *Session) LastKnownLocation() (LocationSample, bool) { return s.detector.LastSample() }

// Tier returns the current tier ID.
func (s *Session) Tier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier.ID
}

// SessionStats is the composite stats view exposed to the UI.
type SessionStats struct {
	Throttle          ThrottleStats       `json:"throttle"`
	MovementState     MovementState       `json:"movementState"`
	PendingDeliveries int                 `json:"pendingDeliveries"`
	UnreadCount       int                 `json:"unreadCount"`
	ByTrigger         map[TriggerType]int `json:"byTrigger"`
}

// Stats computes the current session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Throttle:          Stats(s.throttleInput(s.now())),
		MovementState:     s.detector.State(),
		PendingDeliveries: s.scheduler.Pending(),
		UnreadCount:       s.store.UnreadCount(),
		ByTrigger:         s.store.CountByTrigger(),
	}
}

// Decision evaluates the throttle policy without sending, for diagnostics.
func (s *Session) Decision() Decision {
	return CanSend(s.throttleInput(s.now()))
}

// LastActivity reports when the session last saw any event, for idle
// eviction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// FlushProfile persists the engagement profile; driven from maintenance.
func (s *Session) FlushProfile(ctx context.Context) {
	s.flushProfile(ctx)
}

// Close cancels all timers and flushes the profile. The session must not be
// used afterwards.
func (s *Session) Close(ctx context.Context) {
	s.detector.Stop()
	s.scheduler.CancelAll()
	s.flushProfile(ctx)
}

func (s *Session) throttleInput(now time.Time) ThrottleInput {
	s.mu.Lock()
	in := ThrottleInput{
		Tier:            s.tier,
		LastListingView: s.lastListingView,
		AppActive:       s.appActive,
		SuppressActive:  s.cfg.SuppressForeground,
		Now:             now,
	}
	s.mu.Unlock()
	in.Store = s.store
	in.Profile = s.profile
	return in
}

func (s *Session) flushProfile(ctx context.Context) {
	raw, err := marshalState(s.profile.Snapshot())
	if err != nil {
		s.logger.Warn("engagement profile encode failed", "error", err)
		return
	}
	if err := s.kv.Set(ctx, engagementKey(s.UserID), raw); err != nil {
		s.logger.Warn("engagement profile persist failed", "error", err)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}
