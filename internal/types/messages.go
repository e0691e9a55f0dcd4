package types

import "time"

// EventType names a notification sent to observers
type EventType string

const (
	EventTranscriptUpdate     EventType = "transcript_update"
	EventAgentResponse        EventType = "agent_response"
	EventAudioReady           EventType = "audio_ready"
	EventConversationError    EventType = "conversation_error"
	EventConversationStarted  EventType = "conversation.started"
	EventConversationEnded    EventType = "conversation.ended"
	EventConversationOrphaned EventType = "conversation.orphaned"
)

// Event is a fire-and-forget notification
type Event struct {
	Type      EventType      `json:"type"`
	CallID    string         `json:"callId"`
	TenantID  string         `json:"tenantId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with now
func NewEvent(t EventType, callID, tenantID string, payload map[string]any) Event {
	return Event{
		Type:      t,
		CallID:    callID,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// MediaMessage is a frame on the telephony media stream
type MediaMessage struct {
	Event      string `json:"event"` // "start", "media", "stop", "dispatch"
	CallID     string `json:"callId"`
	TenantID   string `json:"tenantId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	ContactID  string `json:"contactId,omitempty"`
	Sequence   int64  `json:"sequence,omitempty"`
	Payload    string `json:"payload,omitempty"` // base64 audio
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CallStartSignal is sent by telephony when a call connects
type CallStartSignal struct {
	CallID    string `json:"callId"`
	TenantID  string `json:"tenantId"`
	AgentID   string `json:"agentId"`
	ContactID string `json:"contactId,omitempty"`
}

// CallEndSignal is sent by telephony when a call hangs up
type CallEndSignal struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}
