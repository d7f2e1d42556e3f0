package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loykin/emoconnect/internal/emotion"
)

// WindowSource supplies the current sample window.
type WindowSource interface {
	Window(ctx context.Context) ([]emotion.Sample, error)
}

// HTTPWindowSource reads GET {base}/emotion from the sampler.
type HTTPWindowSource struct {
	url    string
	client *http.Client
}

func NewHTTPWindowSource(baseURL string) *HTTPWindowSource {
	return &HTTPWindowSource{url: strings.TrimRight(baseURL, "/") + "/emotion", client: &http.Client{}}
}

func (s *HTTPWindowSource) Window(ctx context.Context) ([]emotion.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read window: status %d", resp.StatusCode)
	}
	var body struct {
		Data []emotion.Sample `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode window: %w", err)
	}
	return body.Data, nil
}
