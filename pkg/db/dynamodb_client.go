package db

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/yuxki/revdump/pkg/dump"
)

const (
	// BatchWriteMaxItems is the DynamoDB limit of write requests in one
	// BatchWriteItem call.
	BatchWriteMaxItems = 25
	// MetadataKey is the partition key of the metadata item.
	MetadataKey = "#metadata"
)

// BatchWriteItemAPI is the part of *dynamodb.Client used by the exporter.
type BatchWriteItemAPI interface {
	BatchWriteItem(
		ctx context.Context,
		params *dynamodb.BatchWriteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.BatchWriteItemOutput, error)
}

// RevokedCertItem is the item written for each revoked identifier. The table's
// partition key is "uvci".
type RevokedCertItem struct {
	UVCI         string `dynamodbav:"uvci"`
	Position     int    `dynamodbav:"position"`
	LastDownload int64  `dynamodbav:"last_download"`
}

// MetadataItem is the item holding the download metadata, stored under
// MetadataKey.
type MetadataItem struct {
	UVCI          string `dynamodbav:"uvci"`
	ValidDuration int64  `dynamodbav:"valid_duration"`
	LastDownload  int64  `dynamodbav:"last_download"`
	NextSince     string `dynamodbav:"next_since"`
	Entries       int    `dynamodbav:"entries"`
}

// The DynamoDBExporter is an implementation of the Exporter interface. It
// puts one item per revoked identifier and one metadata item into the table.
// Identifiers repeated in the list are written once, at the position of their
// first occurrence.
type DynamoDBExporter struct {
	client    BatchWriteItemAPI
	tableName string
	timeout   int
	retryWait time.Duration
	logger    *zerolog.Logger
}

// DynamoDBExporterOption is an implementation of the functional options
// pattern.
type DynamoDBExporterOption = func(*DynamoDBExporter)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) DynamoDBExporterOption {
	return func(d *DynamoDBExporter) {
		d.logger = logger
	}
}

// WithUnprocessedWait sets the pause before unprocessed items are resent.
func WithUnprocessedWait(wait time.Duration) DynamoDBExporterOption {
	return func(d *DynamoDBExporter) {
		d.retryWait = wait
	}
}

// NewDynamoDBExporter creates and returns new DynamoDBExporter instance.
// timeout is the number of seconds the whole export may take.
func NewDynamoDBExporter(
	client BatchWriteItemAPI,
	tableName string,
	timeout int,
	options ...DynamoDBExporterOption,
) DynamoDBExporter {
	nop := zerolog.Nop()
	d := DynamoDBExporter{
		client:    client,
		tableName: tableName,
		timeout:   timeout,
		retryWait: 100 * time.Millisecond,
		logger:    &nop,
	}

	for _, opt := range options {
		opt(&d)
	}

	return d
}

func putRequest(in interface{}) (types.WriteRequest, error) {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return types.WriteRequest{}, err
	}
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}, nil
}

// WriteRequests builds the put requests for rec, the metadata item last.
func WriteRequests(rec dump.Record, meta dump.Metadata) ([]types.WriteRequest, error) {
	reqs := make([]types.WriteRequest, 0, len(rec.RevokedCerts)+1)
	seen := make(map[string]struct{}, len(rec.RevokedCerts))

	for i, uvci := range rec.RevokedCerts {
		if _, ok := seen[uvci]; ok {
			continue
		}
		seen[uvci] = struct{}{}

		req, err := putRequest(RevokedCertItem{
			UVCI:         uvci,
			Position:     i,
			LastDownload: meta.LastDownload,
		})
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	req, err := putRequest(MetadataItem{
		UVCI:          MetadataKey,
		ValidDuration: meta.ValidDuration,
		LastDownload:  meta.LastDownload,
		NextSince:     meta.NextSince,
		Entries:       len(rec.RevokedCerts),
	})
	if err != nil {
		return nil, err
	}
	return append(reqs, req), nil
}

func (d DynamoDBExporter) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	for attempt := 1; ; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{d.tableName: reqs},
		})
		if err != nil {
			return err
		}

		unprocessed := out.UnprocessedItems[d.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		d.logger.Debug().
			Int("unprocessed", len(unprocessed)).
			Int("attempt", attempt).
			Msg("Resending unprocessed items.")
		reqs = unprocessed

		select {
		case <-time.After(d.retryWait * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Export writes rec and meta to the table with BatchWriteItem in chunks of
// BatchWriteMaxItems. Unprocessed items are resent until the table accepts
// them or the timeout expires.
func (d DynamoDBExporter) Export(ctx context.Context, rec dump.Record, meta dump.Metadata) error {
	reqs, err := WriteRequests(rec, meta)
	if err != nil {
		return fmt.Errorf("could not marshal items: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*time.Duration(d.timeout))
	defer cancel()

	for start := 0; start < len(reqs); start += BatchWriteMaxItems {
		end := start + BatchWriteMaxItems
		if end > len(reqs) {
			end = len(reqs)
		}
		if err := d.writeBatch(ctx, reqs[start:end]); err != nil {
			return fmt.Errorf("could not export to DynamoDB table %s: %w", d.tableName, err)
		}
	}

	d.logger.Debug().
		Str("table", d.tableName).
		Int("items", len(reqs)).
		Msg("Revocation list exported.")

	return nil
}
