// Package archive reads dated JSON snapshots from the raw S3 archive.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/record"
	"github.com/eunmann/mobility-sync/pkg/retry"
)

// API is the subset of the S3 client the archive uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Location addresses one archived object.
type Location struct {
	Bucket    string
	Key       string
	Partition string
	Size      int64
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// Batch is the decoded content of one object.
type Batch struct {
	Location     Location
	Records      []record.Record
	DecodeErrors []*record.DecodeError
}

// ReadError reports an object that could not be fetched or decoded.
type ReadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Reader lists and reads one bucket.
type Reader struct {
	api    API
	bucket string
	retry  retry.Config

	// PageSize sets MaxKeys on list calls. Zero uses the service default.
	PageSize int32
}

// NewReader creates a Reader for bucket.
func NewReader(api API, bucket string, cfg retry.Config) *Reader {
	return &Reader{api: api, bucket: bucket, retry: cfg}
}

// Bucket returns the archive bucket name.
func (r *Reader) Bucket() string {
	return r.bucket
}

// ListPartitions returns the date folders under prefix in ascending order.
// Folders whose name is not a date are ignored.
func (r *Reader) ListPartitions(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(prefix, "/") + "/"
	seen := make(map[string]struct{})

	err := r.paginate(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(r.bucket),
		Prefix:    aws.String(root),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output) {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), root), "/")
			if dataset.IsDate(name) {
				seen[name] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list partitions under s3://%s/%s: %w", r.bucket, root, err)
	}

	partitions := make([]string, 0, len(seen))
	for p := range seen {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)
	return partitions, nil
}

// ListObjects returns the JSON objects of one partition sorted by key.
func (r *Reader) ListObjects(ctx context.Context, prefix, partition string) ([]Location, error) {
	root := strings.TrimSuffix(prefix, "/") + "/" + partition + "/"
	var locs []Location

	err := r.paginate(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(root),
	}, func(page *s3.ListObjectsV2Output) {
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			locs = append(locs, Location{
				Bucket:    r.bucket,
				Key:       key,
				Partition: partition,
				Size:      aws.ToInt64(obj.Size),
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list objects under s3://%s/%s: %w", r.bucket, root, err)
	}

	sort.Slice(locs, func(i, j int) bool { return locs[i].Key < locs[j].Key })
	return locs, nil
}

func (r *Reader) paginate(ctx context.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output)) error {
	p := s3.NewListObjectsV2Paginator(r.api, in, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.Limit = r.PageSize
		o.StopOnDuplicateToken = true
	})
	for p.HasMorePages() {
		page, err := retry.DoVal(ctx, r.retry, "s3.ListObjectsV2", func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			return p.NextPage(ctx)
		})
		if err != nil {
			return err
		}
		fn(page)
	}
	return nil
}

// ReadObjects fetches and decodes each location lazily. A failed object
// yields a *ReadError and iteration moves on to the next location; the
// sequence stops early only when the consumer breaks or ctx is done.
func (r *Reader) ReadObjects(ctx context.Context, locs []Location) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for _, loc := range locs {
			if err := ctx.Err(); err != nil {
				yield(Batch{Location: loc}, err)
				return
			}
			batch, err := r.readObject(ctx, loc)
			if err != nil {
				log := logctx.FromContext(ctx)
				log.Warn().
					Err(err).
					Str("key", loc.Key).
					Msg("skipping unreadable object")
			}
			if !yield(batch, err) {
				return
			}
		}
	}
}

func (r *Reader) readObject(ctx context.Context, loc Location) (Batch, error) {
	batch := Batch{Location: loc}

	data, err := retry.DoVal(ctx, r.retry, "s3.GetObject", func(ctx context.Context) ([]byte, error) {
		resp, err := r.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Key),
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return batch, &ReadError{Bucket: loc.Bucket, Key: loc.Key, Err: err}
	}

	records, bad, err := record.DecodeBatch(bytes.NewReader(data))
	if err != nil {
		return batch, &ReadError{Bucket: loc.Bucket, Key: loc.Key, Err: err}
	}
	batch.Records = records
	batch.DecodeErrors = bad
	return batch, nil
}

// Put uploads body under key in the archive bucket.
func (r *Reader) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return errors.New("put object: empty key")
	}
	return retry.Do(ctx, r.retry, "s3.PutObject", func(ctx context.Context) error {
		_, err := r.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("put s3://%s/%s: %w", r.bucket, key, err)
		}
		return nil
	})
}
