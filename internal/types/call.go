package types

import "time"

// NoCurrentTurn marks a context with no turn in progress
const NoCurrentTurn = -1

// Turn is one user utterance plus the agent's reply to it
type Turn struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Role            Role      `json:"role"`
	Transcript      string    `json:"transcript,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	Language        string    `json:"language,omitempty"`
	Intent          Intent    `json:"intent,omitempty"`
	Sentiment       Sentiment `json:"sentiment,omitempty"`
	ReplyText       string    `json:"replyText,omitempty"`
	ReplyAudioBytes int       `json:"replyAudioBytes,omitempty"` // size of the audio handed to telephony
	ReplyDurationMs int64     `json:"replyDurationMs,omitempty"`
	TokensUsed      int       `json:"tokensUsed,omitempty"`
	LatencyMs       *int64    `json:"latencyMs,omitempty"`
	Failed          bool      `json:"failed,omitempty"`
	FailureKind     string    `json:"failureKind,omitempty"`
}

// Terminal reports whether the turn can no longer change
func (t *Turn) Terminal() bool {
	return t.LatencyMs != nil || t.Failed
}

// HasReplyAudio reports whether synthesized audio was attached
func (t *Turn) HasReplyAudio() bool {
	return t.ReplyAudioBytes > 0
}

// CallContext is the authoritative state of one live call.
// Only the context store hands out pointers to it, inside Mutate.
type CallContext struct {
	CallID         string       `json:"callId"`
	TenantID       string       `json:"tenantId"`
	AgentID        string       `json:"agentId"`
	ContactID      string       `json:"contactId,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	AgentConfig    AgentConfig  `json:"agentConfig"`
	ContactInfo    *ContactInfo `json:"contactInfo,omitempty"`
	Turns          []Turn       `json:"turns"`
	CurrentTurn    int          `json:"currentTurn"`
	Topics         []string     `json:"topics,omitempty"`
	Appointments   []string     `json:"appointments,omitempty"`
}

// ContextInit carries the immutable fields of a new context
type ContextInit struct {
	TenantID    string
	AgentID     string
	ContactID   string
	AgentConfig AgentConfig
	ContactInfo *ContactInfo
	StartedAt   time.Time
}

// Clone returns a deep copy safe to hand outside the store
func (c *CallContext) Clone() CallContext {
	out := *c
	out.Turns = make([]Turn, len(c.Turns))
	for i, t := range c.Turns {
		if t.LatencyMs != nil {
			v := *t.LatencyMs
			t.LatencyMs = &v
		}
		out.Turns[i] = t
	}
	if c.ContactInfo != nil {
		ci := *c.ContactInfo
		out.ContactInfo = &ci
	}
	out.Topics = append([]string(nil), c.Topics...)
	out.Appointments = append([]string(nil), c.Appointments...)
	return out
}

// AddTopic records a topic once
func (c *CallContext) AddTopic(topic string) {
	if topic == "" {
		return
	}
	for _, t := range c.Topics {
		if t == topic {
			return
		}
	}
	c.Topics = append(c.Topics, topic)
}

// Summary returns the dashboard view of the context
func (c *CallContext) Summary() CallSummary {
	failed := 0
	for i := range c.Turns {
		if c.Turns[i].Failed {
			failed++
		}
	}
	return CallSummary{
		CallID:         c.CallID,
		TenantID:       c.TenantID,
		AgentID:        c.AgentID,
		StartedAt:      c.StartedAt,
		LastActivityAt: c.LastActivityAt,
		TurnCount:      len(c.Turns),
		FailedTurns:    failed,
	}
}

// AudioChunk is one inbound chunk of caller audio
type AudioChunk struct {
	CallID     string    `json:"callId"`
	Sequence   int64     `json:"sequence"`
	Audio      []byte    `json:"audio"`
	Format     string    `json:"format,omitempty"`
	SampleRate int       `json:"sampleRate,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
