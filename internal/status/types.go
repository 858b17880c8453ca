package status

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of status event
type EventType string

const (
	// EventTypeRotationStarted marks the start of a rotation
	EventTypeRotationStarted EventType = "rotation_started"
	// EventTypeRotationCompleted carries the result of a finished rotation
	EventTypeRotationCompleted EventType = "rotation_completed"
	// EventTypeSourceAdvanced marks a source offset moving forward
	EventTypeSourceAdvanced EventType = "source_advanced"
	// EventTypeSystemStatus represents a system status snapshot
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents client connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a status event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Rotation  int         `json:"rotation,omitempty"`
}

// RotationStartedEvent announces an in-flight rotation
type RotationStartedEvent struct {
	Rotation  int `json:"rotation"`
	BatchSize int `json:"batch_size"`
}

// SourceAdvancedEvent reports one source contributing to a rotation
type SourceAdvancedEvent struct {
	Rotation int    `json:"rotation"`
	Source   string `json:"source"`
	Offset   int    `json:"offset"`
	Pulled   int    `json:"pulled"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	Rotation         int     `json:"rotation"`
	UniqueProcessed  int     `json:"unique_processed"`
	TotalProcessed   int     `json:"total_processed"`
	CoveragePercent  float64 `json:"coverage_percent"`
	ConnectedClients int     `json:"connected_clients"`
	MemoryUsage      string  `json:"memory_usage"`
}

// ConnectionEvent represents client connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a subscribed client receives
type EventFilter struct {
	Sources      []string `json:"sources,omitempty"`
	MinNewEmails int      `json:"min_new_emails,omitempty"`
}

// Client represents a connected dashboard client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
