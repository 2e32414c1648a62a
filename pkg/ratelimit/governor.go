package ratelimit

import (
	"log"
	"sync"
	"time"
)

const (
	// DefaultWindow is the lookback interval for counting send attempts.
	DefaultWindow = 15 * time.Second
	// DefaultThreshold is the number of sends within the window that trips a mute.
	DefaultThreshold = 14
	// DefaultMuteDuration is how long a tripped mute lasts.
	DefaultMuteDuration = 90 * time.Second
)

// Governor is a fixed-threshold sliding-window limiter. Bursts up to the
// threshold pass untouched; crossing it mutes the sender for the mute
// duration. It is not a token bucket and applies no smoothing.
type Governor struct {
	mu         sync.Mutex
	window     time.Duration
	threshold  int
	muteFor    time.Duration
	attempts   []time.Time
	muted      bool
	muteEndsAt time.Time
	muteTimer  *time.Timer
	unmuteFn   func()
	log        *log.Logger
}

func NewGovernor(logger *log.Logger) *Governor {
	return &Governor{
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		muteFor:   DefaultMuteDuration,
		log:       logger,
	}
}

// SetUnmuteFunc registers a callback invoked when a mute expires via the
// background timer. Must be set before the first RecordAttempt.
func (g *Governor) SetUnmuteFunc(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unmuteFn = fn
}

// RecordAttempt registers a send attempt at now and reports whether the send
// is allowed. A rejected attempt while muted does not consume a window slot.
func (g *Governor) RecordAttempt(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.muted {
		if now.Before(g.muteEndsAt) {
			return false
		}
		// mute expired but the timer hasn't fired yet
		g.clearMuteLocked()
	}

	g.trimLocked(now)
	g.attempts = append(g.attempts, now)

	if len(g.attempts) >= g.threshold {
		g.muted = true
		g.muteEndsAt = now.Add(g.muteFor)
		g.attempts = nil
		g.armMuteTimerLocked()
		g.log.Printf("rate limit tripped, muted until %s", g.muteEndsAt.Format(time.RFC3339))
		return false
	}

	return true
}

// IsMuted reports whether sends are currently rejected.
func (g *Governor) IsMuted(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.muted && !now.Before(g.muteEndsAt) {
		g.clearMuteLocked()
	}
	return g.muted
}

// MuteEndsAt returns the mute deadline, if muted.
func (g *Governor) MuteEndsAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muteEndsAt, g.muted
}

// Reset drops all rate state. Called on logout.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.attempts = nil
	g.clearMuteLocked()
}

func (g *Governor) trimLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.attempts) && !g.attempts[i].After(cutoff) {
		i++
	}
	g.attempts = g.attempts[i:]
}

func (g *Governor) armMuteTimerLocked() {
	if g.muteTimer != nil {
		g.muteTimer.Stop()
	}
	g.muteTimer = time.AfterFunc(g.muteFor, g.onMuteExpired)
}

func (g *Governor) onMuteExpired() {
	g.mu.Lock()
	if !g.muted || time.Now().Before(g.muteEndsAt) {
		// superseded by a Reset or a newer mute
		g.mu.Unlock()
		return
	}
	g.clearMuteLocked()
	fn := g.unmuteFn
	g.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (g *Governor) clearMuteLocked() {
	g.muted = false
	g.muteEndsAt = time.Time{}
	if g.muteTimer != nil {
		g.muteTimer.Stop()
		g.muteTimer = nil
	}
}
