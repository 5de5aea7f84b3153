package types

import "time"

// StatusEvent is emitted on every document lifecycle transition
type StatusEvent struct {
	DocumentID   string         `json:"document_id"`
	Filename     string         `json:"filename"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	PassageCount int            `json:"passage_count,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ConnectionKind separates notification-channel clients from protocol sessions
type ConnectionKind string

const (
	KindNotification ConnectionKind = "notification"
	KindSession      ConnectionKind = "session"
)

// ConnectionStatus is the state of a tracked client
type ConnectionStatus string

const (
	ConnConnected    ConnectionStatus = "connected"
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnError        ConnectionStatus = "error"
)

// ConnectionRecord describes one notification client or protocol session
type ConnectionRecord struct {
	ID               string           `json:"id"`
	Kind             ConnectionKind   `json:"kind"`
	Peer             string           `json:"peer"`
	Status           ConnectionStatus `json:"status"`
	ConnectedAt      time.Time        `json:"connected_at"`
	LastActivity     time.Time        `json:"last_activity"`
	DisconnectedAt   *time.Time       `json:"disconnected_at,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	MessagesSent     int64            `json:"messages_sent"`
	MessagesReceived int64            `json:"messages_received"`
}
