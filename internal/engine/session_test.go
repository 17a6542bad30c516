package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/kv"
	"github.com/mrktfy/prospector/internal/listings"
)

// recordingSender captures pushes for assertions.
type recordingSender struct {
	sends chan sentPush
}

type sentPush struct {
	UserID string
	Title  string
	Body   string
	Data   map[string]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sends: make(chan sentPush, 16)}
}

func (r *recordingSender) Send(_ context.Context, userID, title, body string, data map[string]string) error {
	r.sends <- sentPush{UserID: userID, Title: title, Body: body, Data: data}
	return nil
}

func sessionTestConfig(listingsURL string) *config.Config {
	return &config.Config{
		ListingsBaseURL:         listingsURL,
		ListingsTimeout:         5 * time.Second,
		MovementThresholdMeters: 500,
		DwellTime:               50 * time.Millisecond,
		MovingSpeedThreshold:    2.5,
		DwellDelay:              10 * time.Millisecond,
		BatchWindow:             10 * time.Millisecond,
		SmartDelayMin:           10 * time.Millisecond,
		SmartDelayMax:           20 * time.Millisecond,
		RecentOpenPush:          time.Millisecond,
		SuppressForeground:      true,
	}
}

// zoneCheckServer answers every check positively with the given candidates.
func zoneCheckServer(t *testing.T, candidates []listings.Candidate, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listings.CheckResult{ShouldNotify: true, Listings: candidates})
	}))
}

func testCandidates() []listings.Candidate {
	return []listings.Candidate{
		{ID: "l1", Price: 250_000, Bedrooms: 3, Latitude: 51.505, Longitude: -0.12,
			ListingDate: time.Now().Add(-2 * time.Hour).Format(time.RFC3339), Title: "Terraced house"},
		{ID: "l2", Price: 280_000, Bedrooms: 3, Latitude: 51.507, Longitude: -0.121,
			ListingDate: time.Now().Add(-36 * time.Hour).Format(time.RFC3339), Title: "Semi-detached"},
	}
}

func newTestSession(t *testing.T, cfg *config.Config) (*Session, *recordingSender, kv.Store) {
	t.Helper()
	kvStore := kv.NewMemory()
	checker := listings.NewClient(cfg.ListingsBaseURL, "", cfg.ListingsTimeout, testLogger())
	sender := newRecordingSender()
	s := NewSession("u1", "developer", UserCriteria{PriceMin: 200_000, PriceMax: 300_000},
		cfg, kvStore, checker, sender, testLogger())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, sender, kvStore
}

func TestSessionMovementTriggersHotZoneNotification(t *testing.T) {
	srv := zoneCheckServer(t, testCandidates(), nil)
	defer srv.Close()

	s, sender, _ := newTestSession(t, sessionTestConfig(srv.URL))

	s.HandleSample(context.Background(), LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})

	select {
	case push := <-sender.sends:
		assert.Equal(t, "u1", push.UserID)
		assert.Contains(t, push.Title, "propert")
		assert.Equal(t, string(TriggerHotZone), push.Data["triggerType"])
		require.NotEmpty(t, push.Data["notificationId"])

		rec, ok := s.Store().Get(push.Data["notificationId"])
		require.True(t, ok)
		assert.Equal(t, TriggerHotZone, rec.TriggerType)
		assert.ElementsMatch(t, []string{"l1", "l2"}, rec.ListingIDs)
		assert.Equal(t, "developer", rec.Tier)
	case <-time.After(2 * time.Second):
		t.Fatal("no push delivered after significant movement")
	}
}

func TestSessionDwellTriggersNotification(t *testing.T) {
	srv := zoneCheckServer(t, testCandidates(), nil)
	defer srv.Close()

	s, sender, _ := newTestSession(t, sessionTestConfig(srv.URL))

	s.HandleSample(context.Background(), LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 0.2})
	assert.Equal(t, Stationary, s.MovementState())

	select {
	case push := <-sender.sends:
		assert.Equal(t, string(TriggerDwell), push.Data["triggerType"])
	case <-time.After(2 * time.Second):
		t.Fatal("no push delivered after dwell")
	}
}

func TestSessionThrottleBlocksSecondNotification(t *testing.T) {
	var hits atomic.Int32
	srv := zoneCheckServer(t, testCandidates(), &hits)
	defer srv.Close()

	cfg := sessionTestConfig(srv.URL)
	s, sender, _ := newTestSession(t, cfg)

	s.HandleSample(context.Background(), LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})
	select {
	case <-sender.sends:
	case <-time.After(2 * time.Second):
		t.Fatal("first notification never arrived")
	}

	// A second significant movement inside the developer tier's 1min
	// cooldown runs the check but is throttled before storage.
	s.HandleSample(context.Background(), LocationSample{Latitude: 51.52, Longitude: -0.12, Speed: 5})
	assert.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, s.Store().Notifications(), 1)

	d := s.Decision()
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyCooldownActive, d.Reason)
}

func TestSessionForegroundSuppression(t *testing.T) {
	srv := zoneCheckServer(t, testCandidates(), nil)
	defer srv.Close()

	s, sender, _ := newTestSession(t, sessionTestConfig(srv.URL))
	s.SetAppActive(true)

	s.HandleSample(context.Background(), LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})

	select {
	case <-sender.sends:
		t.Fatal("push delivered while the app is foregrounded")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, s.Store().Notifications())
}

func TestSessionInteractionFeedsEngagement(t *testing.T) {
	srv := zoneCheckServer(t, testCandidates(), nil)
	defer srv.Close()

	s, sender, kvStore := newTestSession(t, sessionTestConfig(srv.URL))
	ctx := context.Background()

	s.HandleSample(ctx, LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})
	var id string
	select {
	case push := <-sender.sends:
		id = push.Data["notificationId"]
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}

	require.True(t, s.RecordInteraction(ctx, id, ActionDismissed))
	assert.False(t, s.RecordInteraction(ctx, "missing", ActionDismissed))

	rec, ok := s.Store().Get(id)
	require.True(t, ok)
	require.NotNil(t, rec.Interaction)
	assert.Equal(t, ActionDismissed, rec.Interaction.Action)

	stats := s.Stats()
	assert.Equal(t, 95.0, stats.Throttle.EngagementScore)
	assert.Equal(t, 1, stats.Throttle.IgnoredCount)

	// The interaction also flushed the profile.
	_, found, err := kvStore.Get(ctx, engagementKey("u1"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSessionRestoreRoundTrip(t *testing.T) {
	srv := zoneCheckServer(t, testCandidates(), nil)
	defer srv.Close()

	cfg := sessionTestConfig(srv.URL)
	kvStore := kv.NewMemory()
	checker := listings.NewClient(cfg.ListingsBaseURL, "", cfg.ListingsTimeout, testLogger())
	sender := newRecordingSender()
	ctx := context.Background()

	s1 := NewSession("u1", "investor", UserCriteria{PriceMin: 200_000, PriceMax: 300_000},
		cfg, kvStore, checker, sender, testLogger())
	s1.HandleSample(ctx, LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})

	var id string
	select {
	case push := <-sender.sends:
		id = push.Data["notificationId"]
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
	require.True(t, s1.RecordInteraction(ctx, id, ActionTapped))
	s1.Close(ctx)

	s2 := NewSession("u1", "investor", UserCriteria{},
		cfg, kvStore, checker, newRecordingSender(), testLogger())
	s2.Restore(ctx)
	defer s2.Close(ctx)

	notifs := s2.Store().Notifications()
	require.Len(t, notifs, 1)
	assert.Equal(t, id, notifs[0].ID)

	sample, ok := s2.LastKnownLocation()
	require.True(t, ok)
	assert.Equal(t, 51.505, sample.Latitude)
}

func TestSessionTierFallback(t *testing.T) {
	s, _, _ := newTestSession(t, sessionTestConfig(""))

	assert.False(t, s.SetTier("mogul"))
	assert.Equal(t, "prospector", s.Tier())

	assert.True(t, s.SetTier("investor"))
	assert.Equal(t, "investor", s.Tier())
}

func TestSessionUnconfiguredCheckerIsQuiet(t *testing.T) {
	s, sender, _ := newTestSession(t, sessionTestConfig(""))

	s.HandleSample(context.Background(), LocationSample{Latitude: 51.505, Longitude: -0.12, Speed: 5})

	select {
	case <-sender.sends:
		t.Fatal("push delivered with no listings backend configured")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestManagerLifecycle(t *testing.T) {
	cfg := sessionTestConfig("")
	kvStore := kv.NewMemory()
	checker := listings.NewClient("", "", time.Second, testLogger())
	m := NewManager(cfg, kvStore, checker, newRecordingSender(), testLogger())
	ctx := context.Background()

	s1 := m.Session(ctx, "u1")
	s2 := m.Session(ctx, "u1")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Count())

	m.Session(ctx, "u2")
	assert.Equal(t, 2, m.Count())

	var seen int
	m.Range(func(*Session) { seen++ })
	assert.Equal(t, 2, seen)

	_, ok := m.Peek("u3")
	assert.False(t, ok)

	// Nothing is idle yet.
	assert.Equal(t, 0, m.EvictIdle(ctx, time.Hour))

	// With a zero idle window everything is evicted.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, m.EvictIdle(ctx, 0))
	assert.Equal(t, 0, m.Count())

	m.Session(ctx, "u1")
	m.CloseAll(ctx)
	assert.Equal(t, 0, m.Count())
}
