package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

// EventOf reads the event name of an encoded server event. Payloads that are
// not event objects yield "".
func EventOf(payload []byte) Event {
	var head struct {
		Event Event `json:"event"`
	}
	if json.Unmarshal(payload, &head) != nil {
		return ""
	}
	return head.Event
}

const (
	EventError            Event = "error"
	EventPong             Event = "pong"
	EventSubscribed       Event = "subscribed"
	EventAssessmentClosed Event = "assessment_closed"
)

// AssessmentClosedEvent is published on the assessment's events channel when the
// closure handler force-submits it, and relayed verbatim to connected candidates.
type AssessmentClosedEvent struct {
	Event             Event     `json:"event"`
	AssessmentID      uuid.UUID `json:"assessment_id"`
	ClosedAt          time.Time `json:"closed_at"`
	SubmittedAttempts int       `json:"submitted_attempts"`
}

type SubscribedResponse struct {
	Event        Event     `json:"event"`
	AssessmentID uuid.UUID `json:"assessment_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
