package cursor

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/fluxchat/go-chatsync/pkg/types"
)

const (
	// maxLatencyComp caps dead-reckoning extrapolation so a long delivery gap
	// can't fling a cursor off its reported position.
	maxLatencyComp    = 100 * time.Millisecond
	latencyCompFactor = 0.5
	// staleAfter marks a cursor for fading when no update arrives. The cursor
	// is only removed on an explicit leave, never by this timeout.
	staleAfter   = 2 * time.Second
	typingExpiry = 1200 * time.Millisecond
)

type state struct {
	targetX, targetY     float64
	currentX, currentY   float64
	velocityX, velocityY float64
	lastUpdateAt         time.Time
	typingUntil          time.Time
}

// Predictor tracks one remote cursor per participant, dead-reckoning a target
// from each reported sample and easing the displayed position toward it every
// frame tick.
type Predictor struct {
	mu      sync.Mutex
	cursors map[string]*state
	log     *log.Logger
}

func NewPredictor(logger *log.Logger) *Predictor {
	return &Predictor{
		cursors: make(map[string]*state),
		log:     logger,
	}
}

// Observe ingests a reported cursor sample. The predicted target compensates
// for delivery latency using the reported velocity, capped at maxLatencyComp.
// The first sample for a participant snaps the displayed position to the
// target so a new cursor doesn't sweep in from the origin.
func (p *Predictor) Observe(userId string, x, y, vx, vy float64, reportedAt, now time.Time) {
	elapsed := now.Sub(reportedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxLatencyComp {
		elapsed = maxLatencyComp
	}

	comp := elapsed.Seconds() * latencyCompFactor
	targetX := clamp(x+vx*comp, 0, 100)
	targetY := clamp(y+vy*comp, 0, 100)

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.cursors[userId]
	if !ok {
		c = &state{currentX: targetX, currentY: targetY}
		p.cursors[userId] = c
	}

	c.targetX, c.targetY = targetX, targetY
	c.velocityX, c.velocityY = vx, vy
	c.lastUpdateAt = now
}

// SetTyping refreshes the participant's typing indicator, which expires on
// its own clock independent of position updates. Unknown participants are
// ignored; a cursor only exists once a position sample has arrived.
func (p *Predictor) SetTyping(userId string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cursors[userId]; ok {
		c.typingUntil = now.Add(typingExpiry)
	}
}

// Remove destroys a participant's cursor. Called when a leave is observed in
// the user list, not on staleness.
func (p *Predictor) Remove(userId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cursors, userId)
}

// Retain removes every cursor whose participant is absent from present.
func (p *Predictor) Retain(present map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.cursors {
		if _, ok := present[id]; !ok {
			p.log.Printf("removing cursor for departed user %q", id)
			delete(p.cursors, id)
		}
	}
}

// Tick advances every cursor one frame toward its target and returns the
// displayed positions. The smoothing factor adapts to the remaining distance:
// large jumps (reconnect teleports) catch up fast, small jitter is damped.
func (p *Predictor) Tick(now time.Time) map[string]types.CursorPosition {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make(map[string]types.CursorPosition, len(p.cursors))
	for id, c := range p.cursors {
		dx := c.targetX - c.currentX
		dy := c.targetY - c.currentY
		factor := smoothingFactor(math.Hypot(dx, dy))
		c.currentX += dx * factor
		c.currentY += dy * factor

		positions[id] = types.CursorPosition{
			UserId:   id,
			X:        c.currentX,
			Y:        c.currentY,
			IsTyping: now.Before(c.typingUntil),
			IsStale:  now.Sub(c.lastUpdateAt) > staleAfter,
		}
	}

	return positions
}

// Len returns the number of tracked cursors.
func (p *Predictor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cursors)
}

func smoothingFactor(distance float64) float64 {
	switch {
	case distance >= 100:
		return 0.35
	case distance >= 50:
		return 0.25
	case distance >= 10:
		return 0.15
	case distance >= 2:
		return 0.08
	default:
		return 0.05
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
