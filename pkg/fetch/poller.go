package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/record"
)

// ErrEmpty is returned when a capture yields no records.
var ErrEmpty = errors.New("capture returned no records")

// Uploader stores an object in the archive bucket.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Poller captures one source into the archive.
type Poller struct {
	client *Client
	up     Uploader
	src    Source

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewPoller returns a poller for src.
func NewPoller(client *Client, up Uploader, src Source) *Poller {
	return &Poller{client: client, up: up, src: src, Now: time.Now}
}

// Capture fetches the source once and archives the records. It returns the
// archive key and the number of records written.
func (p *Poller) Capture(ctx context.Context) (string, int, error) {
	start := time.Now()
	now := p.Now().UTC()

	body, err := p.client.Get(ctx, p.src.URL)
	if err != nil {
		return "", 0, fmt.Errorf("fetch %s: %w", p.src.Dataset.Name, err)
	}
	records, err := p.src.Extract(body, now)
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, ErrEmpty
	}

	payload, err := encode(records)
	if err != nil {
		return "", 0, err
	}
	key := p.src.Key(now)
	if err := p.up.Put(ctx, key, payload, "application/json"); err != nil {
		return "", 0, err
	}

	logging.NewCompletionEvent(logctx.FromContext(ctx), "capture_completed", "fetch", time.Since(start)).
		Str("dataset", p.src.Dataset.Name).
		Str("key", key).
		Count("records", int64(len(records))).
		Log("Capture archived")
	return key, len(records), nil
}

// Run captures immediately and then every Interval until ctx is done. A
// failed capture is logged and the loop continues. With a zero Interval Run
// captures once and returns its error.
func (p *Poller) Run(ctx context.Context) error {
	log := logctx.FromContext(ctx)
	if p.src.Interval <= 0 {
		_, _, err := p.Capture(ctx)
		return err
	}

	t := time.NewTicker(p.src.Interval)
	defer t.Stop()
	for {
		if _, _, err := p.Capture(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("dataset", p.src.Dataset.Name).Msg("Capture failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func encode(records []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}
	return buf.Bytes(), nil
}
