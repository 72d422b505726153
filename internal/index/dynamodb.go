package index

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mailroom-io/mailroom/internal/models"
)

// Index names on the messages table.
const (
	recipientIndex = "recipient-index"
	dateIndex      = "date-index"
)

// DynamoStore keeps index records in a DynamoDB table keyed by messageId,
// with global secondary indexes on recipient and date. Empty fields are
// dropped by omitempty marshaling, so stored items stay sparse.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore wraps a DynamoDB client for one table.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func init() {
	Register("dynamodb", func(cfg Config) (Store, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("index: load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		return NewDynamoStore(client, cfg.Table), nil
	})
}

func (s *DynamoStore) Upsert(ctx context.Context, rec *models.MessageRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("index: marshal %s: %w", rec.MessageID, err)
	}
	// Duplicate attribute backing the recipient GSI hash key.
	if rec.RecipientEmail != "" {
		item["recipient"] = &types.AttributeValueMemberS{Value: rec.RecipientEmail}
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("index: upsert %s: %w", rec.MessageID, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, messageID string) (*models.MessageRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", messageID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec models.MessageRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("index: unmarshal %s: %w", messageID, err)
	}
	return &rec, nil
}

func (s *DynamoStore) ListByDate(ctx context.Context, partitionDate string) ([]models.MessageRecord, error) {
	return s.query(ctx, dateIndex, "#d = :v", map[string]string{"#d": "date"}, partitionDate, 0)
}

func (s *DynamoStore) ListByRecipient(ctx context.Context, recipientEmail string, limit int) ([]models.MessageRecord, error) {
	return s.query(ctx, recipientIndex, "#r = :v", map[string]string{"#r": "recipient"}, recipientEmail, limit)
}

func (s *DynamoStore) query(ctx context.Context, indexName, keyCondition string, names map[string]string, value string, limit int) ([]models.MessageRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(indexName),
		KeyConditionExpression:   aws.String(keyCondition),
		ExpressionAttributeNames: names,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	var out []models.MessageRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("index: query %s: %w", indexName, err)
		}
		var records []models.MessageRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("index: unmarshal %s page: %w", indexName, err)
		}
		out = append(out, records...)
		if limit > 0 && len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	sortNewestFirst(out)
	return out, nil
}
