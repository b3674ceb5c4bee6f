package storage

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/goccy/go-json"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// DynamoDBProvider implements Provider using DynamoDB
type DynamoDBProvider struct {
	client      dynamodbiface.DynamoDBAPI
	runStore    *DynamoDBRunStore
	presetStore *DynamoDBPresetStore
	tablePrefix string
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
		client:      client,
		tablePrefix: tablePrefix,
		runStore:    &DynamoDBRunStore{client: client, tableName: tablePrefix + "runs"},
		presetStore: &DynamoDBPresetStore{client: client, tableName: tablePrefix + "presets"},
	}
}

// Initialize creates the tables if they don't exist
func (p *DynamoDBProvider) Initialize() error {
	if err := ensureTable(p.client, p.runStore.tableName); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	if err := ensureTable(p.client, p.presetStore.tableName); err != nil {
		return fmt.Errorf("failed to initialize preset store: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// Runs returns the run store
func (p *DynamoDBProvider) Runs() RunStore {
	return p.runStore
}

// Presets returns the preset store
func (p *DynamoDBProvider) Presets() PresetStore {
	return p.presetStore
}

// ensureTable creates a table keyed on the string attribute ID
func ensureTable(client dynamodbiface.DynamoDBAPI, tableName string) error {
	_, err := client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil
	}

	aerr, ok := err.(awserr.Error)
	if !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	_, err = client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("ID"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("ID"),
				KeyType:       aws.String("HASH"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	return client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
}

// dynamoItem is the stored shape of runs and presets: the key, a creation
// timestamp in nanoseconds and the JSON document
type dynamoItem struct {
	ID        string `dynamodbav:"ID"`
	CreatedAt int64  `dynamodbav:"CreatedAt"`
	Data      string `dynamodbav:"Data"`
}

func idKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"ID": {S: aws.String(id)},
	}
}

func putItem(client dynamodbiface.DynamoDBAPI, table string, item dynamoItem) error {
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	return err
}

func getItem(client dynamodbiface.DynamoDBAPI, table, id string) (dynamoItem, error) {
	result, err := client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return dynamoItem{}, err
	}
	if result.Item == nil {
		return dynamoItem{}, ErrNotFound
	}
	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return dynamoItem{}, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item, nil
}

func scanItems(client dynamodbiface.DynamoDBAPI, table string) ([]dynamoItem, error) {
	var items []dynamoItem
	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	for {
		out, err := client.Scan(input)
		if err != nil {
			return nil, err
		}
		var page []dynamoItem
		if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// DynamoDBRunStore implements RunStore using DynamoDB
type DynamoDBRunStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// SaveRun inserts or replaces a run
func (s *DynamoDBRunStore) SaveRun(run models.ExecutionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	err = putItem(s.client, s.tableName, dynamoItem{
		ID:        run.ID,
		CreatedAt: run.StartTime.UnixNano(),
		Data:      string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run
func (s *DynamoDBRunStore) GetRun(runID string) (models.ExecutionRun, error) {
	item, err := getItem(s.client, s.tableName, runID)
	if err == ErrNotFound {
		return models.ExecutionRun{}, err
	}
	if err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	var run models.ExecutionRun
	if err := json.Unmarshal([]byte(item.Data), &run); err != nil {
		return models.ExecutionRun{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return run, nil
}

// ListRuns scans the table and returns runs newest first
func (s *DynamoDBRunStore) ListRuns(limit int) ([]models.ExecutionRun, error) {
	items, err := scanItems(s.client, s.tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]models.ExecutionRun, 0, len(items))
	for _, item := range items {
		var run models.ExecutionRun
		if err := json.Unmarshal([]byte(item.Data), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	return newestFirst(runs, limit), nil
}

// DynamoDBPresetStore implements PresetStore using DynamoDB
type DynamoDBPresetStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// SavePreset inserts or replaces a preset
func (s *DynamoDBPresetStore) SavePreset(preset models.Preset) error {
	data, err := json.Marshal(preset)
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}
	err = putItem(s.client, s.tableName, dynamoItem{
		ID:        preset.ID,
		CreatedAt: preset.CreatedAt.UnixNano(),
		Data:      string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	return nil
}

// GetPreset retrieves a preset
func (s *DynamoDBPresetStore) GetPreset(id string) (models.Preset, error) {
	item, err := getItem(s.client, s.tableName, id)
	if err == ErrNotFound {
		return models.Preset{}, err
	}
	if err != nil {
		return models.Preset{}, fmt.Errorf("failed to get preset: %w", err)
	}
	var preset models.Preset
	if err := json.Unmarshal([]byte(item.Data), &preset); err != nil {
		return models.Preset{}, fmt.Errorf("failed to unmarshal preset: %w", err)
	}
	return preset, nil
}

// ListPresets returns all presets ordered by name
func (s *DynamoDBPresetStore) ListPresets() ([]models.Preset, error) {
	items, err := scanItems(s.client, s.tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	presets := make([]models.Preset, 0, len(items))
	for _, item := range items {
		var preset models.Preset
		if err := json.Unmarshal([]byte(item.Data), &preset); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preset: %w", err)
		}
		presets = append(presets, preset)
	}
	return byName(presets), nil
}

// DeletePreset removes a preset
func (s *DynamoDBPresetStore) DeletePreset(id string) error {
	_, err := s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(ID)"),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	return nil
}
