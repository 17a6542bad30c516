// Package engine turns a stream of raw position samples into a bounded,
// subscription-tier-aware, timing-optimized stream of property alerts.
//
// Pipeline: detect movement/dwell → zone check → match & score listings →
// throttle → pick delivery timing → push → persist. One Session per user
// owns all mutable state; interaction events from the UI feed back into the
// throttle's engagement score and the scheduler's preferred-time model.
package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Notification log retention.
	maxStoredNotifications = 100
	maxNotificationAge     = 7 * 24 * time.Hour

	// Engagement history cap.
	maxEngagementHistory = 100

	// Engagement score bounds and feedback steps.
	engagementStart    = 100.0
	engagementTapBonus = 10.0
	engagementPenalty  = 5.0

	// Below this score the effective cooldown doubles.
	lowEngagementThreshold = 50.0

	// Preferred-window learning needs this much history.
	minHistoryForWindows = 10

	// Schema version for persisted state envelopes.
	stateVersion = 1
)

// --------------------------------------------------------------------------
// Trigger and interaction enums
// --------------------------------------------------------------------------

// TriggerType identifies what caused a notification.
type TriggerType string

const (
	TriggerHotZone   TriggerType = "hot_zone"
	TriggerDwell     TriggerType = "dwell"
	TriggerPriceDrop TriggerType = "price_drop"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerHotZone, TriggerDwell, TriggerPriceDrop:
		return true
	}
	return false
}

// Action is a user's response to a delivered notification.
type Action string

const (
	ActionTapped    Action = "tapped"
	ActionDismissed Action = "dismissed"
	ActionIgnored   Action = "ignored"
)

// Valid reports whether a is a known interaction action.
func (a Action) Valid() bool {
	switch a {
	case ActionTapped, ActionDismissed, ActionIgnored:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Core types
// --------------------------------------------------------------------------

// LocationSample is one position fix from the location provider. Immutable
// once created; only the most recent sample is retained.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"` // m/s; negative = unknown
	Timestamp time.Time `json:"timestamp"`
}

// MovementState is the detector's current classification of the user.
type MovementState string

const (
	Moving     MovementState = "moving"
	Stationary MovementState = "stationary"
)

// UserCriteria are the user's saved search filters. Read-only to the
// matching engine. A zero PriceMax means no upper bound; a zero Bedrooms
// means unspecified.
type UserCriteria struct {
	PriceMin      float64  `json:"priceMin"`
	PriceMax      float64  `json:"priceMax"`
	Bedrooms      int      `json:"bedrooms"`
	PropertyTypes []string `json:"propertyTypes"`
	Keywords      []string `json:"keywords"`
}

// Interaction records the user's response to a notification.
type Interaction struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationRecord is one entry in the append-only notification log.
// IDs are unique and monotonic by creation order.
type NotificationRecord struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	TriggerType TriggerType  `json:"triggerType"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	ListingIDs  []string     `json:"listingIds"`
	Tier        string       `json:"tier"`
	Read        bool         `json:"read"`
	ReadAt      *time.Time   `json:"readAt,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
}

// --------------------------------------------------------------------------
// Versioned persistence envelope
// --------------------------------------------------------------------------

// envelope wraps persisted state with a schema version so future layout
// changes can migrate or discard old snapshots instead of misreading them.
type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// marshalState wraps v in a versioned envelope.
func marshalState(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	env, err := json.Marshal(envelope{V: stateVersion, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(env), nil
}

// unmarshalState unwraps a versioned envelope into v. Unknown versions are
// rejected so the caller can start fresh rather than misread the snapshot.
func unmarshalState(raw string, v any) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.V != stateVersion {
		return fmt.Errorf("unsupported state version %d", env.V)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	return nil
}

// Persistence key layout, one namespace per user.
func lastSampleKey(userID string) string    { return "prospector:" + userID + ":last_sample" }
func notificationsKey(userID string) string { return "prospector:" + userID + ":notifications" }
func engagementKey(userID string) string    { return "prospector:" + userID + ":engagement" }

// StateKeys lists every persistence key for a user, for bulk state removal.
func StateKeys(userID string) []string {
	return []string{
		lastSampleKey(userID),
		notificationsKey(userID),
		engagementKey(userID),
	}
}
