package types

import "time"

// Role identifies who produced a turn
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Intent is a coarse classification of what the caller wants
type Intent string

const (
	IntentBooking      Intent = "booking"
	IntentAvailability Intent = "availability"
	IntentCancel       Intent = "cancel"
	IntentPricing      Intent = "pricing"
	IntentInformation  Intent = "information"
	IntentGreeting     Intent = "greeting"
	IntentFarewell     Intent = "farewell"
	IntentOther        Intent = "other"
)

// Sentiment is the polarity detected in a transcript
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// CalendarProvider names a supported calendar backend
type CalendarProvider string

const (
	CalendarProviderNone        CalendarProvider = ""
	CalendarProviderGoHighLevel CalendarProvider = "gohighlevel"
	CalendarProviderInternal    CalendarProvider = "internal"
)

// SupportedCalendarProviders lists the providers the tool handler can book against
var SupportedCalendarProviders = []CalendarProvider{
	CalendarProviderGoHighLevel,
	CalendarProviderInternal,
}

// VoiceSettings are vendor-neutral synthesis knobs
type VoiceSettings struct {
	Stability       float64 `json:"stability" dynamodbav:"Stability"`
	SimilarityBoost float64 `json:"similarityBoost" dynamodbav:"SimilarityBoost"`
	Speed           float64 `json:"speed" dynamodbav:"Speed"`
}

// VoiceConfig selects a synthesis voice
type VoiceConfig struct {
	VoiceID  string        `json:"voiceId" dynamodbav:"VoiceID"`
	Settings VoiceSettings `json:"settings" dynamodbav:"Settings"`
}

// CalendarConfig controls mid-call booking
type CalendarConfig struct {
	BookingEnabled bool             `json:"bookingEnabled" dynamodbav:"BookingEnabled"`
	Provider       CalendarProvider `json:"provider" dynamodbav:"Provider"`
	CalendarID     string           `json:"calendarId" dynamodbav:"CalendarID"`
	Timezone       string           `json:"timezone" dynamodbav:"Timezone"`
}

// AgentConfig is the immutable agent snapshot captured at call start
type AgentConfig struct {
	AgentID      string         `json:"agentId" dynamodbav:"AgentID"`
	TenantID     string         `json:"tenantId" dynamodbav:"TenantID"`
	Name         string         `json:"name" dynamodbav:"Name"`
	SystemPrompt string         `json:"systemPrompt" dynamodbav:"SystemPrompt"`
	Language     string         `json:"language" dynamodbav:"Language"`
	Model        string         `json:"model" dynamodbav:"Model"`
	MaxTokens    int            `json:"maxTokens" dynamodbav:"MaxTokens"`
	Voice        VoiceConfig    `json:"voice" dynamodbav:"Voice"`
	Calendar     CalendarConfig `json:"calendar" dynamodbav:"Calendar"`
}

// BookingEnabled reports whether the agent may book on a supported provider
func (a AgentConfig) BookingEnabled() bool {
	if !a.Calendar.BookingEnabled {
		return false
	}
	for _, p := range SupportedCalendarProviders {
		if a.Calendar.Provider == p {
			return true
		}
	}
	return false
}

// ContactInfo is the immutable contact snapshot captured at call start
type ContactInfo struct {
	ContactID string `json:"contactId" dynamodbav:"ContactID"`
	TenantID  string `json:"tenantId" dynamodbav:"TenantID"`
	FirstName string `json:"firstName" dynamodbav:"FirstName"`
	LastName  string `json:"lastName" dynamodbav:"LastName"`
	Phone     string `json:"phone" dynamodbav:"Phone"`
	Email     string `json:"email" dynamodbav:"Email"`
}

// DisplayName returns the best human name for the contact
func (c ContactInfo) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	default:
		return c.LastName
	}
}

// AlertSeverity represents the severity of a call alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert rules
const (
	RuleOrphaned    = "orphaned"
	RuleIdle        = "idle"
	RuleFailedTurns = "failed_turns"
)

// CallAlert represents an alert condition on an active call
type CallAlert struct {
	CallID   string        `json:"callId"`
	TenantID string        `json:"tenantId"`
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// CallSummary is the dashboard view of one active call
type CallSummary struct {
	CallID         string      `json:"callId"`
	TenantID       string      `json:"tenantId"`
	AgentID        string      `json:"agentId"`
	StartedAt      time.Time   `json:"startedAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	TurnCount      int         `json:"turnCount"`
	FailedTurns    int         `json:"failedTurns"`
	Alerts         []CallAlert `json:"alerts,omitempty"`
}

// Widget is a periodic dashboard payload
type Widget struct {
	Type      string        `json:"type"` // "active_calls"
	TenantID  string        `json:"tenantId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Summary   WidgetSummary `json:"summary"`
	Calls     []CallSummary `json:"calls,omitempty"`
}

// WidgetSummary contains aggregated counts
type WidgetSummary struct {
	ActiveCalls int `json:"activeCalls"`
	Orphaned    int `json:"orphaned"`
	TotalTurns  int `json:"totalTurns"`
}
