package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// runRecord is the flat item shape stored for a run. The run itself travels
// as JSON in Data so schema evolution never requires a table migration.
type runRecord struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Data    string `dynamodbav:"data"`
	Version int    `dynamodbav:"version"`
	TTL     int64  `dynamodbav:"ttl"`
}

func (s *Store) runItem(run types.PipelineRun, pk, sk string) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshaling run %q: %w", run.RunID, err)
	}
	item, err := attributevalue.MarshalMap(runRecord{
		PK:      pk,
		SK:      sk,
		Data:    string(data),
		Version: run.Version,
		TTL:     s.ttlEpoch(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling run item: %w", err)
	}
	return item, nil
}

// PutRun stores a run using dual-write: truth item plus a list copy keyed by
// pipeline and creation time.
func (s *Store) PutRun(ctx context.Context, run types.PipelineRun) error {
	truth, err := s.runItem(run, runPK(run.RunID), skTruth)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      truth,
	}); err != nil {
		return fmt.Errorf("putting run %q: %w", run.RunID, err)
	}

	listCopy, err := s.runItem(run, pipelinePK(run.Pipeline), runListSK(run.CreatedAt, run.RunID))
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      listCopy,
	}); err != nil {
		s.logger.Warn("run list copy write failed", "runId", run.RunID, "error", err)
	}
	return nil
}

// GetRun retrieves a run from the truth item (strongly consistent).
func (s *Store) GetRun(ctx context.Context, runID string) (*types.PipelineRun, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skTruth},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting run %q: %w", runID, err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	return decodeRun(out.Item)
}

// ListRuns returns runs for a pipeline, newest first.
func (s *Store) ListRuns(ctx context.Context, pipeline string, limit int) ([]types.PipelineRun, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: pipelinePK(pipeline)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixRun},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing runs for %q: %w", pipeline, err)
	}

	runs := make([]types.PipelineRun, 0, len(out.Items))
	for _, item := range out.Items {
		run, err := decodeRun(item)
		if err != nil {
			s.logger.Warn("skipping undecodable run item", "error", err)
			continue
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// CompareAndSwapRun atomically updates the run truth item if the stored
// version matches.
func (s *Store) CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, run types.PipelineRun) (bool, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return false, fmt.Errorf("marshaling run %q: %w", runID, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skTruth},
		},
		UpdateExpression:    aws.String("SET #data = :data, #version = :newVersion, #ttl = :ttl"),
		ConditionExpression: aws.String("#version = :expectedVersion"),
		ExpressionAttributeNames: map[string]string{
			"#data":    "data",
			"#version": "version",
			"#ttl":     "ttl",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":data":            &ddbtypes.AttributeValueMemberS{Value: string(data)},
			":newVersion":      &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", run.Version)},
			":expectedVersion": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
			":ttl":             &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", s.ttlEpoch())},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("CAS on run %q: %w", runID, err)
	}

	// Best-effort refresh of the list copy.
	if listCopy, err := s.runItem(run, pipelinePK(run.Pipeline), runListSK(run.CreatedAt, runID)); err == nil {
		_, _ = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &s.tableName,
			Item:      listCopy,
		})
	}
	return true, nil
}

// DeleteRun removes the run truth item. List copies age out via TTL.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skTruth},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting run %q: %w", runID, err)
	}
	return nil
}

// NextBuildNumber atomically increments and returns the per-pipeline counter.
func (s *Store) NextBuildNumber(ctx context.Context, pipeline string) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: counterPK(pipeline)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skCounter},
		},
		UpdateExpression: aws.String("ADD #n :one"),
		ExpressionAttributeNames: map[string]string{
			"#n": "buildNumber",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":one": &ddbtypes.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: ddbtypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing build counter for %q: %w", pipeline, err)
	}

	var counter struct {
		BuildNumber int `dynamodbav:"buildNumber"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return 0, fmt.Errorf("decoding build counter: %w", err)
	}
	return counter.BuildNumber, nil
}

func decodeRun(item map[string]ddbtypes.AttributeValue) (*types.PipelineRun, error) {
	var rec runRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling run item: %w", err)
	}
	var run types.PipelineRun
	if err := json.Unmarshal([]byte(rec.Data), &run); err != nil {
		return nil, fmt.Errorf("unmarshaling run data: %w", err)
	}
	return &run, nil
}
