package botplatform

import (
	"context"
	"time"
)

// ContainmentType classifies how a session ended on the bot platform.
type ContainmentType string

const (
	ContainmentAgent       ContainmentType = "agent"
	ContainmentSelfService ContainmentType = "selfService"
	ContainmentDropOff     ContainmentType = "dropOff"
)

// AllContainmentTypes lists every containment partition of the source. The
// platform partitions sessions by containment type internally, so callers
// must query each type separately and merge.
var AllContainmentTypes = []ContainmentType{
	ContainmentAgent,
	ContainmentSelfService,
	ContainmentDropOff,
}

// SessionMetadata describes one recorded session.
type SessionMetadata struct {
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId"`
	Channel     string          `json:"channel,omitempty"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     time.Time       `json:"endTime"`
	Containment ContainmentType `json:"containmentType"`
}

// Message is one transcript turn as stored by the platform.
type Message struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// SessionQuery selects sessions of one containment type within a time range.
type SessionQuery struct {
	Containment ContainmentType
	DateFrom    time.Time
	DateTo      time.Time
	Skip        int
	Limit       int
}

// MessageQuery selects the messages of a set of sessions within a time range.
type MessageQuery struct {
	SessionIDs []string
	DateFrom   time.Time
	DateTo     time.Time
}

// Source is the session store consumed by the analysis pipeline.
type Source interface {
	ListSessions(ctx context.Context, q SessionQuery) ([]SessionMetadata, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]Message, error)
}
