package archive

import "testing"

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "s3://lyon-s3-raw-dev/analytics/2024-05-01/hourly.parquet", wantBucket: "lyon-s3-raw-dev", wantKey: "analytics/2024-05-01/hourly.parquet"},
		{uri: "s3://bucket-only/", wantBucket: "bucket-only"},
		{uri: "s3://bucket", wantBucket: "bucket"},
		{uri: "https://bucket/key", wantErr: true},
		{uri: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestParseBucket(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "lyon-s3-raw-dev", want: "lyon-s3-raw-dev"},
		{in: "arn:aws:s3:::lyon-s3-raw-dev", want: "lyon-s3-raw-dev"},
		{in: "arn:aws:s3:::lyon-s3-raw-dev/prefix", want: "lyon-s3-raw-dev"},
		{in: "arn:aws:sqs:::queue", wantErr: true},
		{in: "arn:aws:s3", wantErr: true},
		{in: "s3://bucket", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBucket(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBucket(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseBucket(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
