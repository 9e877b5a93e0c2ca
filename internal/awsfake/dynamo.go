package awsfake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Dynamo is an in-memory DynamoDB covering Scan, BatchWriteItem and PutItem.
// Tables without a hash key append every put, which mirrors a table whose
// key is unique per write.
type Dynamo struct {
	// PageSize caps items per Scan page.
	PageSize int

	// Unprocessed, when set, picks the requests of a BatchWriteItem call to
	// bounce back as unprocessed. call counts from 1.
	Unprocessed func(call int, table string, reqs []types.WriteRequest) []types.WriteRequest

	// BatchErr, when set, fails a BatchWriteItem call before anything is written.
	BatchErr func(call int) error

	mu         sync.Mutex
	tables     map[string][]Item
	hashKeys   map[string]string
	scanCalls  map[string]int
	batchCalls int
	scanFails  int
	scanErr    error
}

// NewDynamo returns an empty store paging 100 items per scan.
func NewDynamo() *Dynamo {
	return &Dynamo{
		PageSize:  100,
		tables:    make(map[string][]Item),
		hashKeys:  make(map[string]string),
		scanCalls: make(map[string]int),
	}
}

// SetHashKey makes puts to table replace items sharing attr.
func (f *Dynamo) SetHashKey(table, attr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashKeys[table] = attr
}

// Seed stores plain Go maps as items.
func (f *Dynamo) Seed(table string, items ...map[string]any) {
	for _, it := range items {
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			panic(fmt.Sprintf("awsfake: marshal seed item: %v", err))
		}
		f.mu.Lock()
		f.put(table, av)
		f.mu.Unlock()
	}
}

// FailScan makes the next n Scan calls return err.
func (f *Dynamo) FailScan(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanFails = n
	f.scanErr = err
}

// Items returns the table decoded into Go maps.
func (f *Dynamo) Items(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.tables[table]))
	for _, it := range f.tables[table] {
		var m map[string]any
		if err := attributevalue.UnmarshalMap(it, &m); err != nil {
			panic(fmt.Sprintf("awsfake: unmarshal item: %v", err))
		}
		out = append(out, m)
	}
	return out
}

// RawItems returns the stored attribute values for table.
func (f *Dynamo) RawItems(table string) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.tables[table]...)
}

// ScanCalls returns the number of Scan calls against table.
func (f *Dynamo) ScanCalls(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanCalls[table]
}

// BatchCalls returns the number of BatchWriteItem calls.
func (f *Dynamo) BatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls
}

func (f *Dynamo) put(table string, item Item) {
	if attr, ok := f.hashKeys[table]; ok {
		want := fmt.Sprint(item[attr])
		for i, existing := range f.tables[table] {
			if fmt.Sprint(existing[attr]) == want {
				f.tables[table][i] = item
				return
			}
		}
	}
	f.tables[table] = append(f.tables[table], item)
}

const offsetAttr = "__offset"

// Scan pages through the table in insertion order, applying the projection.
func (f *Dynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := aws.ToString(in.TableName)
	f.scanCalls[table]++
	if f.scanFails > 0 {
		f.scanFails--
		return nil, f.scanErr
	}

	start := 0
	if in.ExclusiveStartKey != nil {
		n, ok := in.ExclusiveStartKey[offsetAttr].(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("unexpected ExclusiveStartKey %v", in.ExclusiveStartKey)
		}
		start, _ = strconv.Atoi(n.Value)
	}
	size := f.PageSize
	if in.Limit != nil && int(*in.Limit) < size {
		size = int(*in.Limit)
	}
	items := f.tables[table]
	end := min(start+size, len(items))
	if start > end {
		start = end
	}

	fields := projection(in)
	out := &dynamodb.ScanOutput{}
	for _, it := range items[start:end] {
		out.Items = append(out.Items, project(it, fields))
	}
	out.Count = int32(len(out.Items))
	if end < len(items) {
		out.LastEvaluatedKey = Item{offsetAttr: &types.AttributeValueMemberN{Value: strconv.Itoa(end)}}
	}
	return out, nil
}

func projection(in *dynamodb.ScanInput) []string {
	expr := aws.ToString(in.ProjectionExpression)
	if expr == "" {
		return nil
	}
	var fields []string
	for _, part := range strings.Split(expr, ",") {
		name := strings.TrimSpace(part)
		if alias, ok := in.ExpressionAttributeNames[name]; ok {
			name = alias
		}
		fields = append(fields, name)
	}
	return fields
}

func project(it Item, fields []string) Item {
	if fields == nil {
		return it
	}
	out := Item{}
	for _, f := range fields {
		if v, ok := it[f]; ok {
			out[f] = v
		}
	}
	return out
}

// BatchWriteItem applies put requests, honoring the 25-request limit.
func (f *Dynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls++
	call := f.batchCalls
	if f.BatchErr != nil {
		if err := f.BatchErr(call); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, reqs := range in.RequestItems {
		total += len(reqs)
	}
	if total == 0 || total > 25 {
		return nil, fmt.Errorf("ValidationException: batch of %d requests", total)
	}

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		var bounced []types.WriteRequest
		if f.Unprocessed != nil {
			bounced = f.Unprocessed(call, table, reqs)
		}
		skip := make(map[*types.PutRequest]bool, len(bounced))
		for _, b := range bounced {
			skip[b.PutRequest] = true
		}
		for _, r := range reqs {
			if r.PutRequest == nil || skip[r.PutRequest] {
				continue
			}
			f.put(table, r.PutRequest.Item)
		}
		if len(bounced) > 0 {
			out.UnprocessedItems[table] = bounced
		}
	}
	return out, nil
}

// PutItem stores a single item.
func (f *Dynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(aws.ToString(in.TableName), in.Item)
	return &dynamodb.PutItemOutput{}, nil
}
