// Package awsfake provides in-memory S3 and DynamoDB API doubles for tests.
package awsfake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 is a single-bucket object store implementing the ListObjectsV2,
// GetObject and PutObject calls used by the archive package.
type S3 struct {
	// PageSize caps the entries returned per ListObjectsV2 page.
	PageSize int

	mu        sync.Mutex
	objects   map[string][]byte
	listCalls map[string]int
	getCalls  map[string]int
	getFails  map[string]int
	getErrs   map[string]error
	listFails int
	listErr   error
}

// NewS3 returns an empty store paging 1000 entries at a time.
func NewS3() *S3 {
	return &S3{
		PageSize:  1000,
		objects:   make(map[string][]byte),
		listCalls: make(map[string]int),
		getCalls:  make(map[string]int),
		getFails:  make(map[string]int),
		getErrs:   make(map[string]error),
	}
}

// Put stores raw bytes under key.
func (f *S3) Put(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
}

// PutJSON stores v marshaled as JSON under key.
func (f *S3) PutJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("awsfake: marshal %s: %v", key, err))
	}
	f.Put(key, data)
}

// Object returns the stored bytes for key.
func (f *S3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

// FailGet makes the next n GetObject calls for key return err.
func (f *S3) FailGet(key string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFails[key] = n
	f.getErrs[key] = err
}

// FailList makes the next n ListObjectsV2 calls return err.
func (f *S3) FailList(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFails = n
	f.listErr = err
}

// ListCalls returns how many ListObjectsV2 calls used exactly prefix.
func (f *S3) ListCalls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[prefix]
}

// GetCalls returns how many GetObject calls targeted key.
func (f *S3) GetCalls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[key]
}

// GetCallsUnder sums GetObject calls for keys starting with prefix.
func (f *S3) GetCallsUnder(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, c := range f.getCalls {
		if strings.HasPrefix(k, prefix) {
			n += c
		}
	}
	return n
}

type listEntry struct {
	key      string
	isPrefix bool
}

// ListObjectsV2 pages over keys and common prefixes in lexical order. The
// continuation token is the offset of the next entry.
func (f *S3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	f.listCalls[prefix]++
	if f.listFails > 0 {
		f.listFails--
		return nil, f.listErr
	}

	delim := aws.ToString(in.Delimiter)
	seen := make(map[string]bool)
	var entries []listEntry
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, listEntry{key: cp, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, listEntry{key: k})
	}

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid continuation token %q", tok)
		}
		start = n
	}
	size := f.PageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < size {
		size = int(*in.MaxKeys)
	}
	end := min(start+size, len(entries))
	if start > end {
		start = end
	}

	out := &s3.ListObjectsV2Output{
		Prefix:      in.Prefix,
		Delimiter:   in.Delimiter,
		IsTruncated: aws.Bool(end < len(entries)),
		KeyCount:    aws.Int32(int32(end - start)),
	}
	for _, e := range entries[start:end] {
		if e.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.key)})
		} else {
			out.Contents = append(out.Contents, types.Object{
				Key:  aws.String(e.key),
				Size: aws.Int64(int64(len(f.objects[e.key]))),
			})
		}
	}
	if end < len(entries) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// GetObject returns the stored body or a NoSuchKey error.
func (f *S3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	f.getCalls[key]++
	if f.getFails[key] > 0 {
		f.getFails[key]--
		return nil, f.getErrs[key]
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key: " + key)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

// PutObject stores the request body.
func (f *S3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.Put(aws.ToString(in.Key), body)
	return &s3.PutObjectOutput{}, nil
}
