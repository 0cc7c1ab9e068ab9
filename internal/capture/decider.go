package capture

import (
	"time"

	"github.com/jackzampolin/pagecam/internal/detect"
)

// Decider is the capture decision state machine. Decide is called once per
// observation; Captured is called after the frame was actually saved.
type Decider interface {
	Decide(obs detect.Observation, now time.Time) bool
	Captured(now time.Time)
}

// NewDecider returns the decider for a strategy policy.
func NewDecider(policy detect.Policy, cooldown time.Duration) Decider {
	if policy == detect.PolicyEdgeTrigger {
		return &EdgeTrigger{cooldown: cooldown}
	}
	return &Continuous{Cooldown: cooldown}
}

// EdgeState is the EdgeTrigger state.
type EdgeState int

const (
	// Idle: no page seen since the last capture run ended.
	Idle EdgeState = iota
	// Waiting: a page was captured and is still in view.
	Waiting
)

func (s EdgeState) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "idle"
}

// EdgeTrigger captures once per contiguous run of detections.
//
//	idle    + detected -> capture, waiting
//	waiting + detected -> waiting
//	waiting + absent   -> idle
type EdgeTrigger struct {
	state    EdgeState
	cooldown time.Duration
	last     time.Time
}

// NewEdgeTrigger returns an EdgeTrigger in the idle state.
func NewEdgeTrigger() *EdgeTrigger {
	return &EdgeTrigger{}
}

func (e *EdgeTrigger) Decide(obs detect.Observation, now time.Time) bool {
	if !obs.Detected {
		e.state = Idle
		return false
	}
	if e.state == Waiting {
		return false
	}
	if e.cooldown > 0 && !e.last.IsZero() && now.Sub(e.last) < e.cooldown {
		return false
	}
	return true
}

func (e *EdgeTrigger) Captured(now time.Time) {
	e.state = Waiting
	e.last = now
}

// State returns the current state.
func (e *EdgeTrigger) State() EdgeState {
	return e.state
}

// Continuous captures whenever the observation differs from the last
// captured reference and Cooldown has passed since the previous capture.
type Continuous struct {
	Cooldown time.Duration
	last     time.Time
}

func (c *Continuous) Decide(obs detect.Observation, now time.Time) bool {
	if !obs.Detected || !obs.Changed {
		return false
	}
	if c.last.IsZero() {
		return true
	}
	return now.Sub(c.last) >= c.Cooldown
}

func (c *Continuous) Captured(now time.Time) {
	c.last = now
}

// LastCapture returns the time of the last capture (zero if none).
func (c *Continuous) LastCapture() time.Time {
	return c.last
}
