package types

// ConversationRecord represents an ended conversation for DynamoDB persistence
type ConversationRecord struct {
	DateKey      string   `json:"dateKey" dynamodbav:"DateKey"` // YYYY-MM-DD (partition key)
	CallID       string   `json:"callId" dynamodbav:"CallID"`   // sort key
	TenantID     string   `json:"tenantId" dynamodbav:"TenantID"`
	AgentID      string   `json:"agentId" dynamodbav:"AgentID"`
	ContactID    string   `json:"contactId" dynamodbav:"ContactID"`
	StartedAt    string   `json:"startedAt" dynamodbav:"StartedAt"` // RFC3339
	EndedAt      string   `json:"endedAt" dynamodbav:"EndedAt"`     // RFC3339
	Reason       string   `json:"reason" dynamodbav:"Reason"`
	DurationSecs float64  `json:"durationSecs" dynamodbav:"DurationSecs"`
	TurnCount    int      `json:"turnCount" dynamodbav:"TurnCount"`
	FailedTurns  int      `json:"failedTurns" dynamodbav:"FailedTurns"`
	AvgLatencyMs float64  `json:"avgLatencyMs" dynamodbav:"AvgLatencyMs"`
	Topics       []string `json:"topics" dynamodbav:"Topics"`
	Appointments []string `json:"appointments" dynamodbav:"Appointments"`
	Transcript   []Turn   `json:"transcript" dynamodbav:"Transcript"`
}
