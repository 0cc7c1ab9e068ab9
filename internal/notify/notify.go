// Package notify publishes session events to interested listeners.
package notify

import (
	"context"
	"time"
)

// Event types.
const (
	EventCaptured  = "captured"
	EventProcessed = "processed"
	EventFinalized = "finalized"
	EventStopped   = "stopped"
)

// Event is one session occurrence.
type Event struct {
	Type    string    `json:"type"`
	Session string    `json:"session"`
	Path    string    `json:"path,omitempty"`
	Pages   int       `json:"pages,omitempty"`
	URL     string    `json:"url,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier delivers events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close()                              {}
