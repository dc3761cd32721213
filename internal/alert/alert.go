// Package alert defines the alert model and the dispatcher that fans alerts
// out to registered listeners.
package alert

import "time"

// Level indicates alert urgency
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert is a transient event describing a noteworthy condition. Alerts are
// broadcast, never thrown; persisting them is a listener's concern.
type Alert struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func New(level Level, message string) Alert {
	return Alert{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
}
