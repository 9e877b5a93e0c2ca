// Package store wraps the DynamoDB calls the sync engine makes against a
// destination table.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/eunmann/mobility-sync/pkg/retry"
)

// MaxBatchItems is the BatchWriteItem request limit.
const MaxBatchItems = 25

// API is the subset of the DynamoDB client used here.
type API interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Item is a DynamoDB item in wire form.
type Item = map[string]types.AttributeValue

// Table is one destination table.
type Table struct {
	api   API
	name  string
	retry retry.Config

	// PageSize sets Limit on scan pages. Zero lets the service page by size.
	PageSize int32
}

// NewTable returns a client for table name.
func NewTable(api API, name string, cfg retry.Config) *Table {
	return &Table{api: api, name: name, retry: cfg}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Scan walks every page of the table, decoding items into plain maps.
// When fields is non-empty only those attributes are read. fn is called
// once per page; returning an error stops the scan.
func (t *Table) Scan(ctx context.Context, fields []string, fn func(items []map[string]any) error) error {
	in := &dynamodb.ScanInput{TableName: aws.String(t.name)}
	if len(fields) > 0 {
		expr, names := projection(fields)
		in.ProjectionExpression = aws.String(expr)
		in.ExpressionAttributeNames = names
	}

	p := dynamodb.NewScanPaginator(t.api, in, func(o *dynamodb.ScanPaginatorOptions) {
		o.Limit = t.PageSize
	})
	for page := 1; p.HasMorePages(); page++ {
		out, err := retry.DoVal(ctx, t.retry, "dynamodb.Scan", func(ctx context.Context) (*dynamodb.ScanOutput, error) {
			return p.NextPage(ctx)
		})
		if err != nil {
			return fmt.Errorf("scan %s page %d: %w", t.name, page, err)
		}

		items := make([]map[string]any, 0, len(out.Items))
		for _, raw := range out.Items {
			item, err := FromItem(raw)
			if err != nil {
				return fmt.Errorf("decode %s item: %w", t.name, err)
			}
			items = append(items, item)
		}
		if err := fn(items); err != nil {
			return err
		}
	}
	return nil
}

func projection(fields []string) (string, map[string]string) {
	names := make(map[string]string, len(fields))
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		ph := "#p" + strconv.Itoa(i)
		names[ph] = f
		placeholders[i] = ph
	}
	return strings.Join(placeholders, ", "), names
}

// BatchWrite issues one BatchWriteItem call of put requests and returns the
// items the service left unprocessed. It does not retry; callers own the
// retry policy for unprocessed items.
func (t *Table) BatchWrite(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > MaxBatchItems {
		return nil, fmt.Errorf("batch write %s: %d items exceeds limit of %d", t.name, len(items), MaxBatchItems)
	}

	reqs := make([]types.WriteRequest, len(items))
	for i, item := range items {
		reqs[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	}
	out, err := t.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{t.name: reqs},
	})
	if err != nil {
		return nil, fmt.Errorf("batch write %s: %w", t.name, err)
	}

	var unprocessed []Item
	for _, req := range out.UnprocessedItems[t.name] {
		if req.PutRequest != nil {
			unprocessed = append(unprocessed, req.PutRequest.Item)
		}
	}
	return unprocessed, nil
}

// PutItem writes a single item, retrying transient failures.
func (t *Table) PutItem(ctx context.Context, item Item) error {
	return retry.Do(ctx, t.retry, "dynamodb.PutItem", func(ctx context.Context) error {
		_, err := t.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(t.name),
			Item:      item,
		})
		if err != nil {
			return fmt.Errorf("put item %s: %w", t.name, err)
		}
		return nil
	})
}
