package session

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type dynamoRecord struct {
	ProfileID string `dynamodbav:"profile_id"`
	SessionToken
	// ExpiresAt feeds the table's TTL attribute for housekeeping only.
	ExpiresAt int64 `dynamodbav:"expires_at"`
}

// DynamoBackend stores tokens in a table keyed by profile_id.
type DynamoBackend struct {
	client dynamoAPI
	table  string
}

func NewDynamoBackend(client *dynamodb.Client, table string) *DynamoBackend {
	return &DynamoBackend{client: client, table: table}
}

func (d *DynamoBackend) itemKey(profile string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"profile_id": &types.AttributeValueMemberS{Value: profile},
	}
}

func (d *DynamoBackend) Load(ctx context.Context, profile string) (*SessionToken, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      sdkaws.String(d.table),
		Key:            d.itemKey(profile),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec.SessionToken, nil
}

func (d *DynamoBackend) Save(ctx context.Context, profile string, tok SessionToken) error {
	item, err := attributevalue.MarshalMap(dynamoRecord{
		ProfileID:    profile,
		SessionToken: tok,
		ExpiresAt:    tok.CreatedAt.Add(TTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: sdkaws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put failed: %w", err)
	}
	return nil
}

func (d *DynamoBackend) Delete(ctx context.Context, profile string) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: sdkaws.String(d.table),
		Key:       d.itemKey(profile),
	}); err != nil {
		return fmt.Errorf("dynamodb delete failed: %w", err)
	}
	return nil
}
