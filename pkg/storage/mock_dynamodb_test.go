package storage

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// MockDynamoDBAPI implements the parts of dynamodbiface.DynamoDBAPI used by the provider
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable
}

// MockTable represents a DynamoDB table in memory, keyed on its hash key
type MockTable struct {
	Name    string
	HashKey string
	Items   map[string]map[string]*dynamodb.AttributeValue
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{tables: make(map[string]*MockTable)}
}

func (m *MockDynamoDBAPI) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.StringValue(input.TableName)
	if _, exists := m.tables[name]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table already exists: "+name, nil)
	}
	var hashKey string
	for _, k := range input.KeySchema {
		if aws.StringValue(k.KeyType) == dynamodb.KeyTypeHash {
			hashKey = aws.StringValue(k.AttributeName)
		}
	}
	m.tables[name] = &MockTable{Name: name, HashKey: hashKey, Items: make(map[string]map[string]*dynamodb.AttributeValue)}
	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{TableName: input.TableName, TableStatus: aws.String("ACTIVE")},
	}, nil
}

func (m *MockDynamoDBAPI) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[aws.StringValue(input.TableName)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}
	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{TableName: aws.String(table.Name), TableStatus: aws.String("ACTIVE")},
	}, nil
}

func (m *MockDynamoDBAPI) WaitUntilTableExists(*dynamodb.DescribeTableInput) error {
	return nil
}

func (m *MockDynamoDBAPI) table(name string) (*MockTable, error) {
	table, exists := m.tables[name]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found: "+name, nil)
	}
	return table, nil
}

func (t *MockTable) key(item map[string]*dynamodb.AttributeValue) (string, error) {
	attr, ok := item[t.HashKey]
	if !ok || attr.S == nil {
		return "", fmt.Errorf("missing hash key %s", t.HashKey)
	}
	return aws.StringValue(attr.S), nil
}

func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}
	key, err := table.key(input.Item)
	if err != nil {
		return nil, err
	}
	table.Items[key] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *MockDynamoDBAPI) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}
	key, err := table.key(input.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: table.Items[key]}, nil
}

// Scan returns every item in one page
func (m *MockDynamoDBAPI) Scan(input *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]*dynamodb.AttributeValue, 0, len(table.Items))
	for _, item := range table.Items {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items, Count: aws.Int64(int64(len(items)))}, nil
}

// DeleteItem treats any condition expression as attribute_exists on the key
func (m *MockDynamoDBAPI) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}
	key, err := table.key(input.Key)
	if err != nil {
		return nil, err
	}
	if _, exists := table.Items[key]; !exists && input.ConditionExpression != nil {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	}
	delete(table.Items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}
