package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/geo"
	"github.com/mrktfy/prospector/internal/listings"
)

// Match score weights. Each sub-score is in [0,100]; the composite is the
// weighted sum, also in [0,100].
const (
	weightPrice    = 30
	weightBedrooms = 25
	weightLocation = 20
	weightRecency  = 15
	weightEngage   = 10
)

const neutralSubScore = 50.0

// ScoredCandidate is a candidate with its computed match score attached.
// The score is transient — it is never persisted apart from the
// notification that used it.
type ScoredCandidate struct {
	listings.Candidate
	Score float64
}

// ScoreAndFilter applies the hard criteria filter, scores the survivors,
// drops those below the tier's minimum match score, and returns them ordered
// best-first. Pure: identical inputs (including now) yield identical output.
func ScoreAndFilter(
	candidates []listings.Candidate,
	criteria UserCriteria,
	tier config.TierConfig,
	userLoc *LocationSample,
	now time.Time,
) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !matchesCriteria(c, criteria) {
			continue
		}
		score := matchScore(c, criteria, tier, userLoc, now)
		if score < tier.MinMatchScore {
			continue
		}
		scored = append(scored, ScoredCandidate{Candidate: c, Score: score})
	}

	// Highest score first; ties broken by listing recency, newer first.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ListedAt().After(scored[j].ListedAt())
	})
	return scored
}

// matchesCriteria is the hard filter: price band, required bedroom count,
// allowed property types, and required keywords.
func matchesCriteria(c listings.Candidate, criteria UserCriteria) bool {
	if c.Price < criteria.PriceMin {
		return false
	}
	if criteria.PriceMax > 0 && c.Price > criteria.PriceMax {
		return false
	}

	// Unknown bedroom counts pass; only a stated mismatch drops.
	if criteria.Bedrooms > 0 && c.Bedrooms > 0 && c.Bedrooms != criteria.Bedrooms {
		return false
	}

	if len(criteria.PropertyTypes) > 0 && c.PropertyType != "" {
		if !containsFold(criteria.PropertyTypes, c.PropertyType) {
			return false
		}
	}

	if len(criteria.Keywords) > 0 {
		text := strings.ToLower(c.Title + " " + c.Description)
		found := false
		for _, kw := range criteria.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchScore computes the weighted composite score for one candidate.
func matchScore(
	c listings.Candidate,
	criteria UserCriteria,
	tier config.TierConfig,
	userLoc *LocationSample,
	now time.Time,
) float64 {
	score := priceScore(c.Price, criteria) * weightPrice / 100
	score += bedroomScore(c, criteria) * weightBedrooms / 100
	score += locationScore(c, tier, userLoc) * weightLocation / 100
	score += recencyScore(c.ListedAt(), now) * weightRecency / 100
	score += listingEngagementScore(c) * weightEngage / 100
	return math.Round(score)
}

// priceScore is 100 at the midpoint of [priceMin, priceMax], decaying
// linearly to 0 at either bound. Neutral when no upper bound is set.
func priceScore(price float64, criteria UserCriteria) float64 {
	if criteria.PriceMax <= criteria.PriceMin {
		return neutralSubScore
	}
	halfRange := (criteria.PriceMax - criteria.PriceMin) / 2
	midpoint := criteria.PriceMin + halfRange
	deviation := math.Abs(price - midpoint)
	return math.Max(0, 100-(deviation/halfRange)*100)
}

// bedroomScore is 100 on an exact match, 50 otherwise or when either side
// is unspecified.
func bedroomScore(c listings.Candidate, criteria UserCriteria) float64 {
	if criteria.Bedrooms > 0 && c.Bedrooms > 0 {
		if c.Bedrooms == criteria.Bedrooms {
			return 100
		}
		return neutralSubScore
	}
	return neutralSubScore
}

// locationScore decays linearly with distance across the tier radius.
// Neutral when either side's coordinates are unavailable.
func locationScore(c listings.Candidate, tier config.TierConfig, userLoc *LocationSample) float64 {
	if userLoc == nil || (c.Latitude == 0 && c.Longitude == 0) {
		return neutralSubScore
	}
	dist := geo.Distance(userLoc.Latitude, userLoc.Longitude, c.Latitude, c.Longitude)
	return math.Max(0, 100-(dist/tier.RadiusMeters)*100)
}

// recencyScore is a step function on listing age. Neutral when no date is
// known.
func recencyScore(listedAt time.Time, now time.Time) float64 {
	if listedAt.IsZero() {
		return neutralSubScore
	}
	age := now.Sub(listedAt)
	switch {
	case age <= 24*time.Hour:
		return 100
	case age <= 3*24*time.Hour:
		return 90
	case age <= 7*24*time.Hour:
		return 80
	case age <= 14*24*time.Hour:
		return 60
	case age <= 30*24*time.Hour:
		return 40
	default:
		return 20
	}
}

// listingEngagementScore estimates market interest from view and save
// counts: base 50, capped at 100.
func listingEngagementScore(c listings.Candidate) float64 {
	score := neutralSubScore
	score += math.Min(30, float64(c.ViewCount)/10)
	score += math.Min(20, float64(c.SavedCount)*5)
	return math.Min(100, score)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
