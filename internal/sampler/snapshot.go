package sampler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SnapshotSource fetches a JPEG from an HTTP camera endpoint per frame.
// Face detection is left to the classifier, so every frame counts as a face.
type SnapshotSource struct {
	url    string
	client *http.Client
}

func NewSnapshotSource(url string) *SnapshotSource {
	return &SnapshotSource{url: url, client: &http.Client{Timeout: 2 * time.Second}}
}

func (s *SnapshotSource) Next(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot returned %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("empty snapshot")
	}
	return Frame{JPEG: b, HasFace: true, CapturedAt: time.Now()}, nil
}

func (s *SnapshotSource) Close() error { return nil }
