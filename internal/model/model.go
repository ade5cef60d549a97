// Package model holds the data types shared by blackoutd's components.
package model

import (
	"strings"
	"time"
)

type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeWarning NotificationType = "warning"
	TypeSuccess NotificationType = "success"
)

// CoerceType maps any incoming type to one of info/warning/success.
// Emergency variants become warning; unknown values become info.
func CoerceType(s string) NotificationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(TypeWarning):
		return TypeWarning
	case string(TypeSuccess):
		return TypeSuccess
	case "emergency", "emergency_blackout":
		return TypeWarning
	default:
		return TypeInfo
	}
}

// IsEmergency reports whether a delivered type is one of the emergency variants.
func IsEmergency(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emergency", "emergency_blackout":
		return true
	}
	return false
}

// NotificationItem is one entry of the notification history.
// Date is epoch milliseconds.
type NotificationItem struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Date      int64            `json:"date"`
	Read      bool             `json:"read"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// At returns the instant used for ordering and dedup: the explicit timestamp
// when present and parseable, else Date.
func (n NotificationItem) At() time.Time {
	if n.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, n.Timestamp); err == nil {
			return t
		}
	}
	return time.UnixMilli(n.Date)
}

type Settings struct {
	LightAlerts      bool `json:"lightAlerts"`
	NightMode        bool `json:"nightMode"`
	ScheduleUpdates  bool `json:"scheduleUpdates"`
	TomorrowSchedule bool `json:"tomorrowSchedule"`
	SilentMode       bool `json:"silentMode"`
}

func DefaultSettings() Settings {
	return Settings{
		LightAlerts:      true,
		NightMode:        true,
		ScheduleUpdates:  true,
		TomorrowSchedule: true,
		SilentMode:       false,
	}
}

// Interval is an outage window; Start and End are "HH:MM".
type Interval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type QueueData struct {
	Queue     string     `json:"queue"`
	Intervals []Interval `json:"intervals"`
}

type Schedule struct {
	Success            bool        `json:"success"`
	Date               string      `json:"date"`
	Queues             []QueueData `json:"queues"`
	Available          *bool       `json:"available,omitempty"`
	Message            string      `json:"message,omitempty"`
	Error              string      `json:"error,omitempty"`
	ServiceUnavailable bool        `json:"serviceUnavailable,omitempty"`
}

// HasData reports whether the schedule carries usable queue data.
func (s *Schedule) HasData() bool {
	return s != nil && s.Success && len(s.Queues) > 0 && (s.Available == nil || *s.Available)
}

// Queue returns the data for queue id, or nil.
func (s *Schedule) Queue(id string) *QueueData {
	if s == nil {
		return nil
	}
	for i := range s.Queues {
		if s.Queues[i].Queue == id {
			return &s.Queues[i]
		}
	}
	return nil
}

// CachedSchedule is the fast-store representation of a fetched schedule.
// Timestamp is epoch milliseconds.
type CachedSchedule struct {
	Data      Schedule `json:"data"`
	Timestamp int64    `json:"timestamp"`
}

type DateList struct {
	Success bool     `json:"success"`
	Dates   []string `json:"dates"`
}

// UpdateItem is one entry of the new/changed schedule feeds.
type UpdateItem struct {
	Date         string `json:"date"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	SourcePostID string `json:"sourcePostId,omitempty"`
	PushMessage  string `json:"pushMessage,omitempty"`
	MessageDate  string `json:"messageDate,omitempty"`
	PublishedAt  string `json:"publishedAt,omitempty"`
	UpdateCount  int    `json:"updateCount,omitempty"`
}

// Revision returns the timestamp string used to pick the latest revision.
func (u UpdateItem) Revision() string {
	if u.UpdatedAt != "" {
		return u.UpdatedAt
	}
	return u.MessageDate
}

type UpdatesResponse struct {
	Success            bool         `json:"success"`
	Count              int          `json:"count"`
	Schedules          []UpdateItem `json:"schedules"`
	ServiceUnavailable bool         `json:"serviceUnavailable,omitempty"`
}

// Queues lists the selectable queue identifiers.
var Queues = []string{
	"1.1", "1.2", "2.1", "2.2", "3.1", "3.2",
	"4.1", "4.2", "5.1", "5.2", "6.1", "6.2",
}

// DefaultQueue is the queue used before the user picks one.
const DefaultQueue = "1.1"

// ValidQueue reports whether q is a known queue identifier.
func ValidQueue(q string) bool {
	for _, v := range Queues {
		if v == q {
			return true
		}
	}
	return false
}

// DateLayout is the calendar-date format used in identifiers and API paths.
const DateLayout = "2006-01-02"

type Address struct {
	ID          int64  `json:"id"`
	FullAddress string `json:"full_address"`
	Queue       string `json:"queue"`
}

type AddressSearch struct {
	Success   bool      `json:"success"`
	Query     string    `json:"query"`
	Count     int       `json:"count"`
	Addresses []Address `json:"addresses"`
}
