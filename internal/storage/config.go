package storage

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal  DynamoMode = "local"
	DynamoModeAWS    DynamoMode = "aws"
	DynamoModeMemory DynamoMode = "memory"
	DynamoModeNone   DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode               DynamoMode
	Endpoint           string // for local mode
	Region             string
	AgentsTable        string
	ContactsTable      string
	ConversationsTable string
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "none"))
	switch mode {
	case DynamoModeLocal, DynamoModeAWS, DynamoModeMemory:
	default:
		mode = DynamoModeNone
	}

	return DynamoConfig{
		Mode:               mode,
		Endpoint:           getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:             getEnv("DYNAMO_REGION", "eu-central-1"),
		AgentsTable:        getEnv("DYNAMO_AGENTS_TABLE", "convo-agents"),
		ContactsTable:      getEnv("DYNAMO_CONTACTS_TABLE", "convo-contacts"),
		ConversationsTable: getEnv("DYNAMO_CONVERSATIONS_TABLE", "convo-conversations"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
