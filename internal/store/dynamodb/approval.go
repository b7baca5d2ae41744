package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

type approvalRecord struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Data string `dynamodbav:"data"`
	TTL  int64  `dynamodbav:"ttl"`
}

func pendingListSK(requestedAt time.Time, id string) string {
	return prefixApproval + requestedAt.UTC().Format(time.RFC3339Nano) + "#" + id
}

// PutApproval persists an approval: truth item plus, while pending, a copy
// under the shared pending partition for listing.
func (s *Store) PutApproval(ctx context.Context, approval types.PendingApproval) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("marshaling approval %q: %w", approval.ApprovalID, err)
	}

	truth, err := attributevalue.MarshalMap(approvalRecord{
		PK:   approvalPK(approval.ApprovalID),
		SK:   skApproval,
		Data: string(data),
		TTL:  s.ttlEpoch(),
	})
	if err != nil {
		return fmt.Errorf("marshaling approval item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      truth,
	}); err != nil {
		return fmt.Errorf("putting approval %q: %w", approval.ApprovalID, err)
	}

	if approval.Pending() {
		listCopy, err := attributevalue.MarshalMap(approvalRecord{
			PK:   gsiPendingPK,
			SK:   pendingListSK(approval.RequestedAt, approval.ApprovalID),
			Data: string(data),
			TTL:  s.ttlEpoch(),
		})
		if err != nil {
			return fmt.Errorf("marshaling pending approval item: %w", err)
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &s.tableName,
			Item:      listCopy,
		}); err != nil {
			s.logger.Warn("pending approval list copy write failed", "approvalId", approval.ApprovalID, "error", err)
		}
	}
	return nil
}

// GetApproval returns the approval truth item.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*types.PendingApproval, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: approvalPK(approvalID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skApproval},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting approval %q: %w", approvalID, err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	return decodeApproval(out.Item)
}

// ListPendingApprovals returns unresolved approvals, oldest first.
func (s *Store) ListPendingApprovals(ctx context.Context) ([]types.PendingApproval, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: gsiPendingPK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}

	approvals := make([]types.PendingApproval, 0, len(out.Items))
	for _, item := range out.Items {
		pa, err := decodeApproval(item)
		if err != nil {
			s.logger.Warn("skipping undecodable approval item", "error", err)
			continue
		}
		if pa.Pending() {
			approvals = append(approvals, *pa)
		}
	}
	return approvals, nil
}

// ResolveApproval marks an approval resolved and removes its pending list
// copy. Resolving an already-resolved approval is a no-op.
func (s *Store) ResolveApproval(ctx context.Context, approvalID string, decision types.ApprovalDecision, actor string) error {
	pa, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if !pa.Pending() {
		return nil
	}

	now := s.now()
	pa.Decision = decision
	pa.Actor = actor
	pa.ResolvedAt = &now
	if err := s.PutApproval(ctx, *pa); err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: gsiPendingPK},
			"SK": &ddbtypes.AttributeValueMemberS{Value: pendingListSK(pa.RequestedAt, approvalID)},
		},
	})
	if err != nil {
		s.logger.Warn("pending approval list copy delete failed", "approvalId", approvalID, "error", err)
	}
	return nil
}

func decodeApproval(item map[string]ddbtypes.AttributeValue) (*types.PendingApproval, error) {
	var rec approvalRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling approval item: %w", err)
	}
	var pa types.PendingApproval
	if err := json.Unmarshal([]byte(rec.Data), &pa); err != nil {
		return nil, fmt.Errorf("unmarshaling approval data: %w", err)
	}
	return &pa, nil
}
