package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

type eventRecord struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Data string `dynamodbav:"data"`
	TTL  int64  `dynamodbav:"ttl"`
}

// AppendEvent records an audit event under the run's partition.
func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	item, err := attributevalue.MarshalMap(eventRecord{
		PK:   runPK(event.RunID),
		SK:   eventSK(event.Timestamp),
		Data: string(data),
		TTL:  s.ttlEpoch(),
	})
	if err != nil {
		return fmt.Errorf("marshaling event item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("appending event for run %q: %w", event.RunID, err)
	}
	return nil
}

// ListEvents returns events for a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixEvent},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing events for run %q: %w", runID, err)
	}

	events := make([]types.Event, 0, len(out.Items))
	for _, item := range out.Items {
		var rec eventRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			s.logger.Warn("skipping undecodable event item", "error", err)
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			s.logger.Warn("skipping undecodable event data", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
