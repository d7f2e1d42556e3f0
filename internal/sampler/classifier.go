package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loykin/emoconnect/internal/emotion"
)

// HTTPClassifier posts the JPEG crop to a model server that answers
// {"emotion": "...", "confidence": 0.93}.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClassifier{url: url, client: &http.Client{Timeout: timeout}}
}

type classifyResponse struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, jpeg []byte) (emotion.Label, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jpeg))
	if err != nil {
		return 0, 0, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("classify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, 0, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, 0, fmt.Errorf("decode classify response: %w", err)
	}
	label, err := emotion.ParseLabel(out.Emotion)
	if err != nil {
		return 0, 0, err
	}
	return label, out.Confidence, nil
}
