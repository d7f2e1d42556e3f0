package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitReadyImmediateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{})
	start := time.Now()
	if !p.AwaitReady(context.Background(), srv.URL, 5*time.Second) {
		t.Fatal("expected ready")
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("success should return immediately, took %v", d)
	}
}

func TestAwaitReadyRetriesUntilHealthy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"window_size":0,"data":[]}`))
	}))
	defer srv.Close()

	p := New(Config{Interval: 20 * time.Millisecond})
	if !p.AwaitReady(context.Background(), srv.URL, 2*time.Second) {
		t.Fatal("expected ready after retries")
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return "http://" + addr + "/emotion"
}

func TestAwaitReadyUnreachableHonoursShortTimeout(t *testing.T) {
	p := New(Config{})
	start := time.Now()
	if p.AwaitReady(context.Background(), closedAddr(t), 100*time.Millisecond) {
		t.Fatal("closed port cannot be ready")
	}
	if d := time.Since(start); d > 300*time.Millisecond {
		t.Fatalf("short probe took too long: %v", d)
	}
}

func TestAwaitReadySlowEndpointBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(Config{RequestTimeout: 5 * time.Second})
	start := time.Now()
	if p.AwaitReady(context.Background(), srv.URL, 100*time.Millisecond) {
		t.Fatal("hanging endpoint cannot be ready")
	}
	if d := time.Since(start); d > 300*time.Millisecond {
		t.Fatalf("request timeout must be capped by the overall budget, took %v", d)
	}
}

func TestAwaitReadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	p := New(Config{Interval: 10 * time.Millisecond})
	start := time.Now()
	if p.AwaitReady(ctx, closedAddr(t), 10*time.Second) {
		t.Fatal("unexpected ready")
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("cancel not honoured promptly: %v", d)
	}
}

func TestAwaitReadyInvalidEndpoint(t *testing.T) {
	if New(Config{}).AwaitReady(context.Background(), "://bad", 50*time.Millisecond) {
		t.Fatal("invalid URL cannot be ready")
	}
}

type countingTransport struct {
	calls atomic.Int32
	base  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.base.RoundTrip(r)
}

func TestAwaitReadyUsesProvidedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := &countingTransport{base: http.DefaultTransport}
	p := New(Config{}, WithHTTPClient(&http.Client{Transport: tr}), WithHTTPClient(nil), WithLogger(nil))
	if !p.AwaitReady(context.Background(), srv.URL, time.Second) {
		t.Fatal("expected ready")
	}
	if got := tr.calls.Load(); got != 1 {
		t.Fatalf("expected the custom transport to carry 1 request, got %d", got)
	}
}
