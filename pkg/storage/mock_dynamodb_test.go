package storage

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// MockDynamoDBAPI is an in-memory dynamodbiface.DynamoDBAPI covering the calls the stores make
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable

	createCalls int
}

// MockTable represents a DynamoDB table in memory
type MockTable struct {
	Name      string
	Items     map[string]map[string]*dynamodb.AttributeValue
	KeySchema []*dynamodb.KeySchemaElement
	GSI       []*dynamodb.GlobalSecondaryIndex
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{
		tables: make(map[string]*MockTable),
	}
}

// CreateTable creates a mock table
func (m *MockDynamoDBAPI) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table already exists: "+tableName, nil)
	}

	m.createCalls++
	m.tables[tableName] = &MockTable{
		Name:      tableName,
		Items:     make(map[string]map[string]*dynamodb.AttributeValue),
		KeySchema: input.KeySchema,
		GSI:       input.GlobalSecondaryIndexes,
	}

	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String("ACTIVE"),
		},
	}, nil
}

// DescribeTable describes a mock table
func (m *MockDynamoDBAPI) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[aws.StringValue(input.TableName)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   aws.String(table.Name),
			TableStatus: aws.String("ACTIVE"),
			KeySchema:   table.KeySchema,
		},
	}, nil
}

// WaitUntilTableExists returns immediately; mock tables are active on creation
func (m *MockDynamoDBAPI) WaitUntilTableExists(*dynamodb.DescribeTableInput) error {
	return nil
}

// PutItem puts an item in a mock table
func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	table.Items[generateKey(table.KeySchema, input.Item)] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem gets an item from a mock table
func (m *MockDynamoDBAPI) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	item, exists := table.Items[generateKey(table.KeySchema, input.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}

	return &dynamodb.GetItemOutput{Item: item}, nil
}

var keyConditionTerm = regexp.MustCompile(`^\(?\s*(#\w+)\s*=\s*(:\w+)\s*\)?$`)

// Query returns the items matching equality key conditions. Index queries scan the base table.
func (m *MockDynamoDBAPI) Query(input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	conditions := map[string]*dynamodb.AttributeValue{}
	for _, term := range strings.Split(aws.StringValue(input.KeyConditionExpression), " AND ") {
		match := keyConditionTerm.FindStringSubmatch(strings.TrimSpace(term))
		if match == nil {
			return nil, fmt.Errorf("unsupported key condition: %s", term)
		}
		conditions[aws.StringValue(input.ExpressionAttributeNames[match[1]])] = input.ExpressionAttributeValues[match[2]]
	}

	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		matches := true
		for name, want := range conditions {
			got, ok := item[name]
			if !ok || aws.StringValue(got.S) != aws.StringValue(want.S) {
				matches = false
				break
			}
		}
		if matches {
			resultItems = append(resultItems, item)
		}
	}

	return &dynamodb.QueryOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

// DeleteItem deletes an item from a mock table. Any condition expression is treated as attribute_exists.
func (m *MockDynamoDBAPI) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := generateKey(table.KeySchema, input.Key)
	if _, exists := table.Items[key]; !exists && input.ConditionExpression != nil {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	}

	delete(table.Items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *MockDynamoDBAPI) table(name *string) (*MockTable, error) {
	table, exists := m.tables[aws.StringValue(name)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found: "+aws.StringValue(name), nil)
	}
	return table, nil
}

// generateKey generates a composite key from key schema and item attributes
func generateKey(keySchema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) string {
	var keyParts []string
	for _, keyElement := range keySchema {
		if attr, exists := item[aws.StringValue(keyElement.AttributeName)]; exists {
			if attr.S != nil {
				keyParts = append(keyParts, aws.StringValue(attr.S))
			} else if attr.N != nil {
				keyParts = append(keyParts, aws.StringValue(attr.N))
			}
		}
	}
	return strings.Join(keyParts, "#")
}
