package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

// RecordTTL is how long DynamoDB keeps a record when the table has TTL
// enabled on the "ttl" attribute.
const RecordTTL = 90 * 24 * time.Hour

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	dynamodb.ScanAPIClient
}

// DynamoDBStore keeps records in a DynamoDB table keyed by "id".
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
	now       func() time.Time
}

// NewDynamoDBStore creates a store over an existing table.
func NewDynamoDBStore(client DynamoDBAPI, tableName string, logger *events.Logger) (*DynamoDBStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb history needs a table name")
	}
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_history"),
		now:       time.Now,
	}, nil
}

// Record implements Store.
func (s *DynamoDBStore) Record(ctx context.Context, r *Record) error {
	r.prepare()

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	item := map[string]types.AttributeValue{
		"id":         &types.AttributeValueMemberS{Value: r.ID},
		"record":     &types.AttributeValueMemberS{Value: string(body)},
		"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(r.Time.UnixMilli(), 10)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(RecordTTL).Unix(), 10)},
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":      r.ID,
		"changes": r.Total(),
	}).Debug("Recorded comparison")
	return nil
}

// Get implements Store.
func (s *DynamoDBStore) Get(ctx context.Context, id string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return decodeItem(out.Item)
}

// List implements Store. DynamoDB has no global ordering on a hash key, so
// the table is scanned and sorted client side.
func (s *DynamoDBStore) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("#r"),
		ExpressionAttributeNames: map[string]string{
			"#r": "record",
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			r, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *r)
		}
	}

	return newestFirst(out, limit), nil
}

func decodeItem(item map[string]types.AttributeValue) (*Record, error) {
	attr, ok := item["record"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("invalid record attribute type")
	}
	var r Record
	if err := json.Unmarshal([]byte(attr.Value), &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if r.Counts == nil {
		r.Counts = map[string]int{}
	}
	return &r, nil
}

// Close implements Store.
func (s *DynamoDBStore) Close() error {
	return nil
}
