package archive

import (
	"errors"
	"fmt"
	"strings"
)

// ParseBucket accepts a plain bucket name or an S3 bucket ARN
// (arn:aws:s3:::bucket) and returns the bucket name.
func ParseBucket(bucketOrARN string) (string, error) {
	if bucketOrARN == "" {
		return "", errors.New("empty bucket identifier")
	}
	if strings.Contains(bucketOrARN, "://") {
		return "", fmt.Errorf("invalid bucket %q: looks like a URI", bucketOrARN)
	}
	if !strings.HasPrefix(bucketOrARN, "arn:") {
		return bucketOrARN, nil
	}

	parts := strings.Split(bucketOrARN, ":")
	if len(parts) < 6 {
		return "", fmt.Errorf("invalid ARN %q: expected 6 colon-separated parts", bucketOrARN)
	}
	if parts[2] != "s3" {
		return "", fmt.Errorf("invalid S3 ARN %q: service is %q", bucketOrARN, parts[2])
	}
	name, _, _ := strings.Cut(strings.Join(parts[5:], ":"), "/")
	if name == "" {
		return "", fmt.Errorf("invalid S3 ARN %q: missing bucket name", bucketOrARN)
	}
	return name, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}
	return bucket, key, nil
}
