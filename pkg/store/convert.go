package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/eunmann/mobility-sync/pkg/record"
)

// ErrNonFinite is returned for NaN or infinite numbers, which N cannot hold.
var ErrNonFinite = errors.New("non-finite number")

// ToItem converts a record to wire form. This is the only place in-memory
// floats become DynamoDB numbers: each float is rendered as the shortest
// decimal that round-trips, so 12.3 is stored as "12.3".
func ToItem(r record.Record) (Item, error) {
	item := make(Item, len(r))
	for k, v := range r {
		av, err := toAttr(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func toAttr(v any) (types.AttributeValue, error) {
	switch t := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: t}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: t}, nil
	case float64:
		return number(t)
	case float32:
		return number(float64(t))
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(t)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(t, 10)}, nil
	case json.Number:
		return &types.AttributeValueMemberN{Value: t.String()}, nil
	case []any:
		list := make([]types.AttributeValue, len(t))
		for i, e := range t {
			av, err := toAttr(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = av
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case map[string]any:
		m, err := ToItem(t)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case record.Record:
		m, err := ToItem(t)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func number(f float64) (types.AttributeValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNonFinite
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}, nil
}

// FromItem decodes a wire item. Numbers come back as float64.
func FromItem(item Item) (map[string]any, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ItemSize approximates the stored size of an item in bytes: attribute
// names plus values, with numbers costing one byte per two digits.
func ItemSize(item Item) int {
	size := 0
	for k, v := range item {
		size += len(k) + attrSize(v)
	}
	return size
}

func attrSize(av types.AttributeValue) int {
	switch t := av.(type) {
	case *types.AttributeValueMemberS:
		return len(t.Value)
	case *types.AttributeValueMemberN:
		return (len(t.Value)+1)/2 + 1
	case *types.AttributeValueMemberBOOL, *types.AttributeValueMemberNULL:
		return 1
	case *types.AttributeValueMemberB:
		return len(t.Value)
	case *types.AttributeValueMemberL:
		n := 3
		for _, e := range t.Value {
			n += 1 + attrSize(e)
		}
		return n
	case *types.AttributeValueMemberM:
		return 3 + ItemSize(t.Value)
	default:
		return 0
	}
}

// WriteUnits returns the write request units one put of item consumes:
// one per started kilobyte.
func WriteUnits(item Item) int {
	return max(1, (ItemSize(item)+1023)/1024)
}
