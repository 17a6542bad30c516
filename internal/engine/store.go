package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mrktfy/prospector/internal/kv"
)

// Store is the append-only notification log for one user: newest first,
// capped at 100 entries and 7 days of age. The cap is enforced on every
// write; the age ceiling by SweepExpired, driven from maintenance.
//
// All counters exposed here (unread, daily, hourly) are recomputed from the
// log on each call — they can never drift from its contents.
type Store struct {
	userID string
	kv     kv.Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records []*NotificationRecord // newest first
	seq     uint64
}

// NewStore creates an empty store; call Load to restore a persisted log.
func NewStore(userID string, kvStore kv.Store, logger *slog.Logger) *Store {
	return &Store{
		userID: userID,
		kv:     kvStore,
		logger: logger,
		now:    time.Now,
	}
}

// Load restores the log from the key-value store. A missing key is a fresh
// start; an unreadable or wrong-version snapshot is discarded with a warning.
func (s *Store) Load(ctx context.Context) {
	raw, found, err := s.kv.Get(ctx, notificationsKey(s.userID))
	if err != nil {
		s.logger.Warn("notification log load failed", "user_id", s.userID, "error", err)
		return
	}
	if !found {
		return
	}

	var records []*NotificationRecord
	if err := unmarshalState(raw, &records); err != nil {
		s.logger.Warn("discarding unreadable notification log", "user_id", s.userID, "error", err)
		return
	}

	s.mu.Lock()
	s.records = records
	s.seq = uint64(len(records))
	s.mu.Unlock()
}

// Save appends a new record to the log, assigning its ID and timestamp, and
// evicts oldest-first beyond the cap. This append is the only way the
// throttle's daily/hourly counters change.
func (s *Store) Save(ctx context.Context, trigger TriggerType, title, body string, listingIDs []string, tier string) *NotificationRecord {
	s.mu.Lock()
	now := s.now()
	s.seq++
	rec := &NotificationRecord{
		ID:          fmt.Sprintf("%d-%04d", now.UnixMilli(), s.seq),
		Timestamp:   now,
		TriggerType: trigger,
		Title:       title,
		Body:        body,
		ListingIDs:  listingIDs,
		Tier:        tier,
	}

	s.records = append([]*NotificationRecord{rec}, s.records...)
	if len(s.records) > maxStoredNotifications {
		s.records = s.records[:maxStoredNotifications]
	}
	s.mu.Unlock()

	s.persist(ctx)
	return rec
}

// MarkRead marks one record read. Idempotent — marking an already-read
// record is a no-op success. Returns false only when the ID is unknown.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	rec := s.findLocked(id)
	if rec == nil {
		s.mu.Unlock()
		return false
	}
	if !rec.Read {
		rec.Read = true
		at := s.now()
		rec.ReadAt = &at
	}
	s.mu.Unlock()

	s.persist(ctx)
	return true
}

// MarkAllRead marks every unread record read.
func (s *Store) MarkAllRead(ctx context.Context) {
	s.mu.Lock()
	at := s.now()
	for _, rec := range s.records {
		if !rec.Read {
			rec.Read = true
			t := at
			rec.ReadAt = &t
		}
	}
	s.mu.Unlock()

	s.persist(ctx)
}

// SetInteraction attaches the user's response to a record. Returns false
// when the ID is unknown.
func (s *Store) SetInteraction(ctx context.Context, id string, action Action) bool {
	s.mu.Lock()
	rec := s.findLocked(id)
	if rec == nil {
		s.mu.Unlock()
		return false
	}
	rec.Interaction = &Interaction{Action: action, Timestamp: s.now()}
	s.mu.Unlock()

	s.persist(ctx)
	return true
}

// Delete removes one record. Returns false when the ID is unknown.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	idx := -1
	for i, rec := range s.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.mu.Unlock()

	s.persist(ctx)
	return true
}

// ClearAll removes every record.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, notificationsKey(s.userID)); err != nil {
		s.logger.Warn("notification log clear failed", "user_id", s.userID, "error", err)
	}
}

// Get returns a copy of one record by ID.
func (s *Store) Get(id string) (NotificationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.findLocked(id); rec != nil {
		return *rec, true
	}
	return NotificationRecord{}, false
}

// Notifications returns a copy of the log, newest first.
func (s *Store) Notifications() []NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotificationRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// UnreadCount recomputes the unread total from the log.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !rec.Read {
			n++
		}
	}
	return n
}

// CountSince counts records with timestamp at or after t.
func (s *Store) CountSince(t time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !rec.Timestamp.Before(t) {
			n++
		}
	}
	return n
}

// LastTimestamp returns the most recent record's timestamp, or the zero
// time for an empty log.
func (s *Store) LastTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return time.Time{}
	}
	return s.records[0].Timestamp
}

// OldestInWindow returns the oldest timestamp within the trailing window,
// used to compute when an hourly slot frees up.
func (s *Store) OldestInWindow(since time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	for _, rec := range s.records {
		if rec.Timestamp.Before(since) {
			continue
		}
		if oldest.IsZero() || rec.Timestamp.Before(oldest) {
			oldest = rec.Timestamp
		}
	}
	return oldest, !oldest.IsZero()
}

// CountByTrigger breaks the log down by trigger type.
func (s *Store) CountByTrigger() map[TriggerType]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[TriggerType]int)
	for _, rec := range s.records {
		out[rec.TriggerType]++
	}
	return out
}

// SweepExpired evicts records older than the retention ceiling. Returns the
// number evicted.
func (s *Store) SweepExpired(ctx context.Context) int {
	cutoff := s.now().Add(-maxNotificationAge)

	s.mu.Lock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	evicted := len(s.records) - len(kept)
	s.records = kept
	s.mu.Unlock()

	if evicted > 0 {
		s.persist(ctx)
	}
	return evicted
}

// persist writes the log snapshot. Failures are logged and the in-memory
// state stays authoritative for the cycle; the next successful write
// resynchronizes.
func (s *Store) persist(ctx context.Context) {
	s.mu.Lock()
	raw, err := marshalState(s.records)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("notification log encode failed", "user_id", s.userID, "error", err)
		return
	}
	if err := s.kv.Set(ctx, notificationsKey(s.userID), raw); err != nil {
		s.logger.Warn("notification log persist failed", "user_id", s.userID, "error", err)
	}
}

func (s *Store) findLocked(id string) *NotificationRecord {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}
