package sysnotify

import (
	"context"
	"errors"
	"time"

	"blackoutd/internal/model"
)

var (
	ErrDisabled  = errors.New("sysnotify disabled")
	ErrQueueFull = errors.New("sysnotify queue full")
	ErrStopped   = errors.New("sysnotify stopped")
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	DedupWindow   time.Duration
}

// Notification is a system-level alert.
type Notification struct {
	Title string
	Body  string
	Type  model.NotificationType
}

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Gate decides whether system notifications may be shown right now.
// reason is logged when delivery is suppressed.
type Gate func() (allowed bool, reason string)
