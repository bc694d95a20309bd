package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/avnmr/ai-retail/pkg/auth"
)

// DynamoDBProvider implements the StorageProvider interface using DynamoDB
type DynamoDBProvider struct {
	client       dynamodbiface.DynamoDBAPI
	flowStore    *DynamoDBFlowStore
	accountStore *DynamoDBAccountStore
	tablePrefix  string
}

// DynamoDBProviderConfig contains configuration for the DynamoDB provider
type DynamoDBProviderConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// NewDynamoDBProvider creates a new DynamoDB storage provider
func NewDynamoDBProvider(config DynamoDBProviderConfig) (*DynamoDBProvider, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBProviderWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBProviderWithClient creates a new DynamoDB storage provider with a custom client.
// This is primarily used for testing with mock clients.
func NewDynamoDBProviderWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBProvider {
	return &DynamoDBProvider{
		client:       client,
		tablePrefix:  tablePrefix,
		flowStore:    NewDynamoDBFlowStore(client, tablePrefix),
		accountStore: NewDynamoDBAccountStore(client, tablePrefix),
	}
}

// Initialize sets up the storage backend
func (p *DynamoDBProvider) Initialize() error {
	if err := p.flowStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize flow store: %w", err)
	}

	if err := p.accountStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize account store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// GetFlowStore returns a store for flow definitions
func (p *DynamoDBProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetAccountStore returns a store for account data
func (p *DynamoDBProvider) GetAccountStore() AccountStore {
	return p.accountStore
}

// ensureTable creates a table when DescribeTable reports it missing
func ensureTable(client dynamodbiface.DynamoDBAPI, input *dynamodb.CreateTableInput) error {
	_, err := client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err == nil {
		return nil
	}

	var aerr awserr.Error
	if !errors.As(err, &aerr) || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to check if table %s exists: %w", aws.StringValue(input.TableName), err)
	}

	if _, err := client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", aws.StringValue(input.TableName), err)
	}

	err = client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})
	if err != nil {
		return fmt.Errorf("failed to wait for table %s creation: %w", aws.StringValue(input.TableName), err)
	}

	return nil
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

// DynamoDBFlowStore implements the FlowStore interface using DynamoDB.
// Flows are keyed by Username (hash) and FlowID (range).
type DynamoDBFlowStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// flowItem is the DynamoDB shape of a FlowRecord. Timestamps are unix nanoseconds.
type flowItem struct {
	Username    string `json:"Username"`
	FlowID      string `json:"FlowID"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Definition  string `json:"Definition,omitempty"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func (i flowItem) record() FlowRecord {
	flow := FlowRecord{
		ID:          i.FlowID,
		Username:    i.Username,
		Name:        i.Name,
		Description: i.Description,
		CreatedAt:   time.Unix(0, i.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, i.UpdatedAt).UTC(),
	}
	if i.Definition != "" {
		flow.Definition = []byte(i.Definition)
	}
	return flow
}

// NewDynamoDBFlowStore creates a new DynamoDB flow store
func NewDynamoDBFlowStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBFlowStore {
	return &DynamoDBFlowStore{
		client:    client,
		tableName: tablePrefix + "flows",
	}
}

// Initialize creates the flows table if it doesn't exist
func (s *DynamoDBFlowStore) Initialize() error {
	return ensureTable(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("Username"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("FlowID"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("Username"),
				KeyType:       aws.String("HASH"),
			},
			{
				AttributeName: aws.String("FlowID"),
				KeyType:       aws.String("RANGE"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
}

func (s *DynamoDBFlowStore) key(username, flowID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"Username": {S: aws.String(username)},
		"FlowID":   {S: aws.String(flowID)},
	}
}

// SaveFlow inserts or updates a flow, keeping the stored creation time
func (s *DynamoDBFlowStore) SaveFlow(flow FlowRecord) error {
	existing, err := s.GetFlow(flow.Username, flow.ID)
	switch {
	case err == nil:
		flow.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrFlowNotFound):
		return err
	}

	item := flowItem{
		Username:    flow.Username,
		FlowID:      flow.ID,
		Name:        flow.Name,
		Description: flow.Description,
		Definition:  string(flow.Definition),
		CreatedAt:   flow.CreatedAt.UnixNano(),
		UpdatedAt:   flow.UpdatedAt.UnixNano(),
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// GetFlow retrieves a flow
func (s *DynamoDBFlowStore) GetFlow(username, flowID string) (FlowRecord, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(username, flowID),
	})
	if err != nil {
		return FlowRecord{}, fmt.Errorf("failed to get flow: %w", err)
	}

	if result.Item == nil {
		return FlowRecord{}, ErrFlowNotFound
	}

	var item flowItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return FlowRecord{}, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	return item.record(), nil
}

// ListFlows returns the user's flows ordered by creation time then id
func (s *DynamoDBFlowStore) ListFlows(username string) ([]FlowRecord, error) {
	keyCond := expression.Key("Username").Equal(expression.Value(username))
	proj := expression.NamesList(
		expression.Name("Username"),
		expression.Name("FlowID"),
		expression.Name("Name"),
		expression.Name("Description"),
		expression.Name("CreatedAt"),
		expression.Name("UpdatedAt"),
	)
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	flows := []FlowRecord{}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	for {
		result, err := s.client.Query(input)
		if err != nil {
			return nil, fmt.Errorf("failed to query flows: %w", err)
		}

		for _, av := range result.Items {
			var item flowItem
			if err := dynamodbattribute.UnmarshalMap(av, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
			}
			flow := item.record()
			flow.Definition = nil
			flows = append(flows, flow)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.SliceStable(flows, func(i, j int) bool {
		if !flows[i].CreatedAt.Equal(flows[j].CreatedAt) {
			return flows[i].CreatedAt.Before(flows[j].CreatedAt)
		}
		return flows[i].ID < flows[j].ID
	})

	return flows, nil
}

// DeleteFlow removes a flow
func (s *DynamoDBFlowStore) DeleteFlow(username, flowID string) error {
	cond := expression.AttributeExists(expression.Name("FlowID"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.key(username, flowID),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrFlowNotFound
		}
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	return nil
}

// DynamoDBAccountStore implements the AccountStore interface using DynamoDB
type DynamoDBAccountStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// accountItem is the DynamoDB shape of an account
type accountItem struct {
	ID           string `json:"ID"`
	Username     string `json:"Username"`
	PasswordHash string `json:"PasswordHash"`
	APIToken     string `json:"APIToken"`
	CreatedAt    int64  `json:"CreatedAt"`
	UpdatedAt    int64  `json:"UpdatedAt"`
}

func (i accountItem) account() auth.Account {
	return auth.Account{
		ID:           i.ID,
		Username:     i.Username,
		PasswordHash: i.PasswordHash,
		APIToken:     i.APIToken,
		CreatedAt:    time.Unix(i.CreatedAt, 0),
		UpdatedAt:    time.Unix(i.UpdatedAt, 0),
	}
}

// NewDynamoDBAccountStore creates a new DynamoDB account store
func NewDynamoDBAccountStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBAccountStore {
	return &DynamoDBAccountStore{
		client:    client,
		tableName: tablePrefix + "accounts",
	}
}

// Initialize creates the accounts table and its lookup indexes if they don't exist
func (s *DynamoDBAccountStore) Initialize() error {
	return ensureTable(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("ID"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("Username"),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String("APIToken"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("ID"),
				KeyType:       aws.String("HASH"),
			},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String("UsernameIndex"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("Username"),
						KeyType:       aws.String("HASH"),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String("ALL"),
				},
			},
			{
				IndexName: aws.String("TokenIndex"),
				KeySchema: []*dynamodb.KeySchemaElement{
					{
						AttributeName: aws.String("APIToken"),
						KeyType:       aws.String("HASH"),
					},
				},
				Projection: &dynamodb.Projection{
					ProjectionType: aws.String("ALL"),
				},
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
}

// SaveAccount persists an account
func (s *DynamoDBAccountStore) SaveAccount(account auth.Account) error {
	av, err := dynamodbattribute.MarshalMap(accountItem{
		ID:           account.ID,
		Username:     account.Username,
		PasswordHash: account.PasswordHash,
		APIToken:     account.APIToken,
		CreatedAt:    account.CreatedAt.Unix(),
		UpdatedAt:    account.UpdatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account
func (s *DynamoDBAccountStore) GetAccount(accountID string) (auth.Account, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"ID": {
				S: aws.String(accountID),
			},
		},
	})
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	if result.Item == nil {
		return auth.Account{}, ErrAccountNotFound
	}

	var item accountItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return auth.Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return item.account(), nil
}

// GetAccountByUsername retrieves an account by username
func (s *DynamoDBAccountStore) GetAccountByUsername(username string) (auth.Account, error) {
	return s.queryIndex("UsernameIndex", "Username", username)
}

// GetAccountByToken retrieves an account by API token
func (s *DynamoDBAccountStore) GetAccountByToken(token string) (auth.Account, error) {
	return s.queryIndex("TokenIndex", "APIToken", token)
}

func (s *DynamoDBAccountStore) queryIndex(index, attribute, value string) (auth.Account, error) {
	keyCond := expression.Key(attribute).Equal(expression.Value(value))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to query accounts: %w", err)
	}

	if len(result.Items) == 0 {
		return auth.Account{}, ErrAccountNotFound
	}

	var item accountItem
	if err := dynamodbattribute.UnmarshalMap(result.Items[0], &item); err != nil {
		return auth.Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return item.account(), nil
}
