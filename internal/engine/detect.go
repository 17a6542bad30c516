package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mrktfy/prospector/internal/geo"
)

// DetectorConfig holds the movement-classification thresholds.
type DetectorConfig struct {
	MovementThresholdMeters float64       // displacement that counts as significant movement
	DwellTime               time.Duration // sustained stillness before a dwell fires
	MovingSpeedThreshold    float64       // m/s above which the user counts as moving
}

// Detector is the movement & dwell state machine. It consumes location
// samples, maintains the Moving/Stationary state, and emits significant
// movement and dwell events through the callbacks it was constructed with.
//
// Exactly one dwell timer may be live at a time; it is armed when the user
// turns stationary and always cancelled before the state can change under
// it. A stationary episode produces at most one dwell — further stationary
// samples after the timer fires do not re-arm it until movement resets the
// episode. Callbacks are invoked without the detector lock held, so a slow zone
// check never stalls classification of subsequent samples.
type Detector struct {
	cfg    DetectorConfig
	logger *slog.Logger

	onMovement func(sample LocationSample, prev *LocationSample)
	onDwell    func(LocationSample)

	mu         sync.Mutex
	state      MovementState
	lastSample *LocationSample
	dwellTimer *time.Timer
	dwellGen   uint64 // invalidates stale timer fires after cancel/re-arm
	dwellFired bool   // this stationary episode already produced its dwell
}

// NewDetector creates a detector in the Moving state (no data yet).
func NewDetector(cfg DetectorConfig, onMovement func(LocationSample, *LocationSample), onDwell func(LocationSample), logger *slog.Logger) *Detector {
	return &Detector{
		cfg:        cfg,
		logger:     logger,
		onMovement: onMovement,
		onDwell:    onDwell,
		state:      Moving,
	}
}

// HandleSample classifies one sample and updates the last known location.
func (d *Detector) HandleSample(sample LocationSample) {
	d.mu.Lock()

	var emitMovement bool
	var prev *LocationSample
	if sample.Speed > d.cfg.MovingSpeedThreshold {
		d.state = Moving
		d.cancelDwellLocked()
		d.dwellFired = false
		emitMovement = d.significantLocked(sample)
		if d.lastSample != nil {
			p := *d.lastSample
			prev = &p
		}
	} else {
		d.state = Stationary
		// One dwell per stationary episode: once it has fired, nothing
		// re-arms until movement resets the episode.
		if d.dwellTimer == nil && !d.dwellFired {
			d.armDwellLocked(sample)
		}
	}

	s := sample
	d.lastSample = &s
	d.mu.Unlock()

	if emitMovement {
		d.onMovement(sample, prev)
	}
}

// significantLocked reports whether the displacement from the last known
// sample reaches the movement threshold. The first sample always counts.
func (d *Detector) significantLocked(sample LocationSample) bool {
	if d.lastSample == nil {
		return true
	}
	dist := geo.Distance(
		d.lastSample.Latitude, d.lastSample.Longitude,
		sample.Latitude, sample.Longitude,
	)
	return dist >= d.cfg.MovementThresholdMeters
}

// armDwellLocked starts the dwell timer for the given sample. Cancellation
// before re-arming is mandatory; callers guarantee dwellTimer is nil.
func (d *Detector) armDwellLocked(sample LocationSample) {
	d.dwellGen++
	gen := d.dwellGen
	d.dwellTimer = time.AfterFunc(d.cfg.DwellTime, func() {
		d.fireDwell(gen, sample)
	})
}

// cancelDwellLocked stops a pending dwell timer, if any, and bumps the
// generation so an already-running expiry cannot fire a stale dwell.
func (d *Detector) cancelDwellLocked() {
	if d.dwellTimer != nil {
		d.dwellTimer.Stop()
		d.dwellTimer = nil
	}
	d.dwellGen++
}

func (d *Detector) fireDwell(gen uint64, sample LocationSample) {
	d.mu.Lock()
	if gen != d.dwellGen || d.state != Stationary {
		// Cancelled or superseded between expiry and lock acquisition.
		d.mu.Unlock()
		return
	}
	d.dwellTimer = nil
	d.dwellFired = true
	d.mu.Unlock()

	d.logger.Debug("dwell fired",
		"lat", sample.Latitude, "lon", sample.Longitude)
	d.onDwell(sample)
}

// State returns the current movement state.
func (d *Detector) State() MovementState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastSample returns a copy of the most recent sample, if any.
func (d *Detector) LastSample() (LocationSample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastSample == nil {
		return LocationSample{}, false
	}
	return *d.lastSample, true
}

// RestoreLastSample seeds the last known location from a persisted snapshot.
func (d *Detector) RestoreLastSample(sample LocationSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := sample
	d.lastSample = &s
}

// Stop cancels any pending dwell timer. Called on session shutdown.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelDwellLocked()
}
