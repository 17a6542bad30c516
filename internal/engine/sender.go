package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// PushSender is the external push-delivery capability. Fire-and-forget; the
// engine does not manage OS-level permission or channel setup.
type PushSender interface {
	Send(ctx context.Context, userID, title, body string, data map[string]string) error
}

// LogSender is the development PushSender: it logs sends instead of
// delivering them. Nil-safe — a nil *LogSender drops sends silently, which
// is the disabled-push configuration.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that records deliveries in the log, or nil
// when push is not configured.
func NewLogSender(enabled bool, logger *slog.Logger) *LogSender {
	if !enabled {
		return nil
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, userID, title, body string, data map[string]string) error {
	if s == nil {
		return nil // no-op when not configured
	}
	s.logger.Info("push send",
		"user_id", userID, "title", title, "body", body, "data_keys", len(data))
	return nil
}

// --------------------------------------------------------------------------
// Notification content
// --------------------------------------------------------------------------

// BuildMessage composes the notification title and body for a trigger and
// its scored candidates.
func BuildMessage(trigger TriggerType, scored []ScoredCandidate) (title, body string) {
	count := len(scored)
	priceRange := formatPriceRange(scored)

	switch trigger {
	case TriggerHotZone:
		title = "New properties nearby"
		if count == 1 {
			title = "New property nearby"
			body = "A new property near you matches your search"
		} else {
			body = fmt.Sprintf("%d new properties near you match your search", count)
		}
	case TriggerDwell:
		title = "Properties around you"
		if count == 1 {
			body = "You're near a property that matches your criteria"
		} else {
			body = fmt.Sprintf("You're near %d properties matching your filters", count)
		}
	case TriggerPriceDrop:
		title = "Price drop"
		if count == 1 {
			body = "Price drop on a property you viewed"
		} else {
			body = fmt.Sprintf("%d properties you viewed had price drops", count)
		}
	default:
		title = "Property alert"
		body = fmt.Sprintf("%d properties match your criteria", count)
	}

	if priceRange != "" {
		body += " (" + priceRange + ")"
	}
	return title, body
}

// formatPriceRange summarizes candidate prices as £Xk or £Xk–£Yk.
func formatPriceRange(scored []ScoredCandidate) string {
	var prices []float64
	for _, c := range scored {
		if c.Price > 0 {
			prices = append(prices, c.Price)
		}
	}
	if len(prices) == 0 {
		return ""
	}

	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if lo == hi {
		return fmt.Sprintf("£%.0fk", lo/1000)
	}
	return fmt.Sprintf("£%.0fk–£%.0fk", lo/1000, hi/1000)
}

// listingIDs extracts the candidate IDs for the notification record.
func listingIDs(scored []ScoredCandidate) []string {
	ids := make([]string, len(scored))
	for i, c := range scored {
		ids[i] = c.ID
	}
	return ids
}

var _ PushSender = (*LogSender)(nil)
