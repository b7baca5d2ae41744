// Package dynamodb implements the Store interface using AWS DynamoDB.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/conveyor/internal/store"
)

// Compile-time interface satisfaction check.
var _ store.Store = (*Store)(nil)

const defaultRetentionTTL = 30 * 24 * time.Hour

// Config holds DynamoDB connection and table settings.
type Config struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
}

// DDBAPI is the subset of the DynamoDB client used by Store.
type DDBAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store implements the Store interface backed by a single DynamoDB table.
type Store struct {
	client       DDBAPI
	tableName    string
	logger       *slog.Logger
	retentionTTL time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets a custom DynamoDB client (useful for testing).
func WithClient(c DDBAPI) Option {
	return func(s *Store) { s.client = c }
}

// WithClock sets a custom time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a DynamoDB-backed store.
func New(cfg *Config, opts ...Option) (*Store, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamodb table name required")
	}

	s := &Store{
		tableName:    cfg.TableName,
		logger:       slog.Default(),
		retentionTTL: defaultRetentionTTL,
		now:          time.Now,
	}
	if cfg.RetentionTTL != "" {
		if d, err := time.ParseDuration(cfg.RetentionTTL); err == nil && d > 0 {
			s.retentionTTL = d
		}
	}
	for _, o := range opts {
		o(s)
	}

	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		var clientOpts []func(*dynamodb.Options)
		if cfg.Endpoint != "" {
			clientOpts = append(clientOpts, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			})
		}
		s.client = dynamodb.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// Ping checks connectivity by describing the table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &s.tableName,
	})
	if err != nil {
		return fmt.Errorf("describing table %q: %w", s.tableName, err)
	}
	return nil
}

func (s *Store) ttlEpoch() int64 {
	return s.now().Add(s.retentionTTL).Unix()
}

func isConditionalCheckFailed(err error) bool {
	var ccf *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
