package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client DynamoAPI
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBClient builds the SDK client for the configured mode
func NewDynamoDBClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		return dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		}), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// NewDynamoDBStore wraps client. Tables are created in local mode.
func NewDynamoDBStore(ctx context.Context, client DynamoAPI, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "dynamodb").Logger(),
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, store.logger); err != nil {
			return nil, err
		}
	}

	store.logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) getItem(ctx context.Context, table string, key map[string]dbtypes.AttributeValue, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return false, err
	}
	if len(result.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

func stringKey(pk, pv, sk, sv string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		pk: &dbtypes.AttributeValueMemberS{Value: pv},
		sk: &dbtypes.AttributeValueMemberS{Value: sv},
	}
}

// GetAgentConfig reads one agent. A missing agent is types.ErrAgentNotFound.
func (s *DynamoDBStore) GetAgentConfig(ctx context.Context, agentID, tenantID string) (types.AgentConfig, error) {
	var cfg types.AgentConfig
	found, err := s.getItem(ctx, s.config.AgentsTable, stringKey("TenantID", tenantID, "AgentID", agentID), &cfg)
	if err != nil {
		return types.AgentConfig{}, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	if !found {
		return types.AgentConfig{}, types.ErrAgentNotFound
	}
	return cfg, nil
}

// GetContact reads one contact. A missing contact is ErrContactNotFound.
func (s *DynamoDBStore) GetContact(ctx context.Context, contactID, tenantID string) (*types.ContactInfo, error) {
	var contact types.ContactInfo
	found, err := s.getItem(ctx, s.config.ContactsTable, stringKey("TenantID", tenantID, "ContactID", contactID), &contact)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact %s: %w", contactID, err)
	}
	if !found {
		return nil, ErrContactNotFound
	}
	return &contact, nil
}

func (s *DynamoDBStore) put(ctx context.Context, table string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	return err
}

// PutAgentConfig writes an agent
func (s *DynamoDBStore) PutAgentConfig(ctx context.Context, cfg types.AgentConfig) error {
	if cfg.AgentID == "" || cfg.TenantID == "" {
		return errors.New("agent id and tenant id are required")
	}
	if err := s.put(ctx, s.config.AgentsTable, cfg); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

// PutContact writes a contact
func (s *DynamoDBStore) PutContact(ctx context.Context, contact types.ContactInfo) error {
	if contact.ContactID == "" || contact.TenantID == "" {
		return errors.New("contact id and tenant id are required")
	}
	if err := s.put(ctx, s.config.ContactsTable, contact); err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// SaveConversationRecord writes an ended conversation
func (s *DynamoDBStore) SaveConversationRecord(ctx context.Context, record types.ConversationRecord) error {
	if err := s.put(ctx, s.config.ConversationsTable, record); err != nil {
		return fmt.Errorf("failed to save conversation record: %w", err)
	}
	return nil
}

// ConversationsByDate returns the records of one day (YYYY-MM-DD)
func (s *DynamoDBStore) ConversationsByDate(ctx context.Context, dateKey string) ([]types.ConversationRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var records []types.ConversationRecord
	var lastKey map[string]dbtypes.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.config.ConversationsTable),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query conversation records: %w", err)
		}

		var page []types.ConversationRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation records: %w", err)
		}
		records = append(records, page...)

		lastKey = result.LastEvaluatedKey
		if len(lastKey) == 0 {
			break
		}
	}
	return records, nil
}

// Backends is what NewStore wires for the configured mode
type Backends struct {
	Directory Directory
	Records   RecordStore
	// Seeder is set when the directory accepts writes
	Seeder Seeder
}

// Seeder writes directory entries, used for demo data
type Seeder interface {
	PutAgentConfig(ctx context.Context, cfg types.AgentConfig) error
	PutContact(ctx context.Context, contact types.ContactInfo) error
}

// NewStore creates the appropriate backends based on configuration
func NewStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (Backends, error) {
	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		client, err := NewDynamoDBClient(ctx, cfg)
		if err != nil {
			return Backends{}, err
		}
		store, err := NewDynamoDBStore(ctx, client, cfg, logger)
		if err != nil {
			return Backends{}, err
		}
		return Backends{Directory: store, Records: store, Seeder: store}, nil
	case DynamoModeMemory:
		logger.Info().Msg("using in-memory store (DYNAMO_MODE=memory)")
		mem := NewMemoryStore()
		return Backends{Directory: mem, Records: mem, Seeder: mem}, nil
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), conversation records are discarded")
		mem := NewMemoryStore()
		return Backends{Directory: mem, Records: NewNoopStore(), Seeder: mem}, nil
	}
}
