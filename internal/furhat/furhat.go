// Package furhat is a client for the Furhat Remote API.
package furhat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultURL = "http://127.0.0.1:54321"

const (
	sayTimeout    = 60 * time.Second
	listenTimeout = 30 * time.Second
	callTimeout   = 5 * time.Second
)

// Status is the body the robot answers with.
type Status struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Client struct {
	base     string
	language string
	http     *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		base:     strings.TrimRight(baseURL, "/"),
		language: "en-US",
		http:     &http.Client{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Say speaks text and returns once the robot has finished.
func (c *Client) Say(ctx context.Context, text string) error {
	_, err := c.call(ctx, http.MethodPost, "/furhat/say", url.Values{"text": {text}, "blocking": {"true"}}, sayTimeout)
	return err
}

// Listen returns what the user said, "" when nothing was heard.
func (c *Client) Listen(ctx context.Context) (string, error) {
	st, err := c.call(ctx, http.MethodGet, "/furhat/listen", url.Values{"language": {c.language}}, listenTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(st.Message), nil
}

func (c *Client) Gesture(ctx context.Context, name string) error {
	_, err := c.call(ctx, http.MethodPost, "/furhat/gesture", url.Values{"name": {name}, "blocking": {"false"}}, callTimeout)
	return err
}

func (c *Client) SetFace(ctx context.Context, character, mask string) error {
	_, err := c.call(ctx, http.MethodPost, "/furhat/face", url.Values{"character": {character}, "mask": {mask}}, callTimeout)
	return err
}

func (c *Client) SetVoice(ctx context.Context, name string) error {
	_, err := c.call(ctx, http.MethodPost, "/furhat/voice", url.Values{"name": {name}}, callTimeout)
	return err
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("furhat %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Status{}, fmt.Errorf("furhat %s: read body: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		return Status{}, fmt.Errorf("furhat %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var st Status
	if len(body) > 0 {
		if err := json.Unmarshal(body, &st); err != nil {
			return Status{}, fmt.Errorf("furhat %s: decode: %w", path, err)
		}
	}
	c.logger.Debug("furhat call", "path", path, "success", st.Success)
	return st, nil
}
