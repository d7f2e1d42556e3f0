package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/emoconnect/internal/manager"
	"github.com/loykin/emoconnect/internal/orchestrator"
	"github.com/loykin/emoconnect/internal/process"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeController) note(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeController) StartAll(context.Context) orchestrator.StartResult {
	f.note("start")
	return orchestrator.StartResult{
		Producer:      orchestrator.ServiceResult{OK: true, Message: "Started emotion", PID: 11},
		ProducerReady: false,
		Consumer:      orchestrator.ServiceResult{OK: false, Message: "producer did not become ready; consumer not started"},
	}
}

func (f *fakeController) StopAll() orchestrator.StopResult {
	f.note("stop")
	return orchestrator.StopResult{
		Consumer: orchestrator.ServiceResult{OK: true, Message: "bot not running"},
		Producer: orchestrator.ServiceResult{OK: true, Message: "Stopped emotion"},
	}
}

func (f *fakeController) Status(context.Context) orchestrator.StatusResult {
	f.note("status")
	pid := 11
	return orchestrator.StatusResult{ProducerRunning: true, ProducerPID: &pid}
}

type fakeInventory []manager.Status

func (f fakeInventory) StatusAll() []manager.Status { return f }

type fakeUsage map[string]process.Usage

func (f fakeUsage) Usage(name string) (process.Usage, bool) {
	u, ok := f[name]
	return u, ok
}

func setupRouter(t *testing.T, base string, opts ...Option) (http.Handler, *fakeController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := &fakeController{}
	return NewRouter(ctl, base, opts...).Handler(), ctl
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStartReturnsPairResult(t *testing.T) {
	h, ctl := setupRouter(t, "")
	rec := doReq(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even when the consumer did not start, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["producer_ready"] != false {
		t.Fatalf("producer_ready = %v", body["producer_ready"])
	}
	consumer := body["consumer"].(map[string]any)
	if consumer["ok"] != false || !strings.Contains(consumer["message"].(string), "did not become ready") {
		t.Fatalf("consumer = %v", consumer)
	}
	if _, ok := consumer["pid"]; ok {
		t.Fatal("pid must be omitted when nothing started")
	}
	if len(ctl.calls) != 1 || ctl.calls[0] != "start" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestStopAndStatus(t *testing.T) {
	h, ctl := setupRouter(t, "/api/")

	rec := doReq(t, h, http.MethodPost, "/api/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"Stopped emotion"`) {
		t.Fatalf("stop body: %s", rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status expected 200, got %d", rec.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["producer_pid"] != float64(11) || st["consumer_pid"] != nil {
		t.Fatalf("pids: %v", st)
	}
	if len(ctl.calls) != 2 {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestWrongMethodIsNotRouted(t *testing.T) {
	h, ctl := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/start")
	if rec.Code == http.StatusOK {
		t.Fatal("GET /start must not start anything")
	}
	if len(ctl.calls) != 0 {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestIndexUsesBasePath(t *testing.T) {
	h, _ := setupRouter(t, "/panel")
	rec := doReq(t, h, http.MethodGet, "/panel/")
	if rec.Code != http.StatusOK {
		t.Fatalf("index expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type: %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "EmoConnect") || !strings.Contains(body, "const base = ") || !strings.Contains(body, "panel") {
		t.Fatalf("unexpected page: %s", body)
	}
}

func TestServicesWithUsage(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	inv := fakeInventory{
		{Name: "emotion", State: "running", Running: true, PID: 11, StartedAt: started},
		{Name: "bot", State: "stopped", LastExit: "exit status 1"},
	}
	gin.SetMode(gin.TestMode)
	r := NewRouter(&fakeController{}, "", WithInventory(inv), WithUsage(fakeUsage{"emotion": {RSSBytes: 2048, NumThreads: 3}}))
	r.now = func() time.Time { return started.Add(90 * time.Second) }
	h := r.Handler()

	rec := doReq(t, h, http.MethodGet, "/services")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rows []ServiceInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Uptime != "1m30s" || rows[0].UptimeSeconds != 90 {
		t.Fatalf("uptime = %q %v", rows[0].Uptime, rows[0].UptimeSeconds)
	}
	if rows[0].Usage == nil || rows[0].Usage.RSSBytes != 2048 {
		t.Fatalf("usage = %+v", rows[0].Usage)
	}
	if rows[1].Usage != nil || rows[1].Uptime != "" || rows[1].LastExit != "exit status 1" {
		t.Fatalf("stopped row = %+v", rows[1])
	}

	rec = doReq(t, h, http.MethodGet, "/services?name=bot")
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil || len(rows) != 1 || rows[0].Name != "bot" {
		t.Fatalf("filtered rows = %+v, %v", rows, err)
	}

	rec = doReq(t, h, http.MethodGet, "/services?name=nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown name expected 404, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/services?name=../x")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsafe name expected 400, got %d", rec.Code)
	}
}

func TestServicesFallsBackToOSUsage(t *testing.T) {
	inv := fakeInventory{{Name: "self", State: "running", Running: true, PID: os.Getpid(), StartedAt: time.Now()}}
	h, _ := setupRouter(t, "", WithInventory(inv))

	rec := doReq(t, h, http.MethodGet, "/services")
	var rows []ServiceInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Usage == nil || rows[0].Usage.RSSBytes == 0 {
		t.Fatalf("expected OS usage for own pid, got %+v", rows)
	}
}

func TestServicesWithoutInventory(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/services")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewServerServesStatus(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", "/x", &fakeController{})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/x/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
}

func TestNewServerReportsBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = busy.Close() }()

	srv, err := NewServer(busy.Addr().String(), "", &fakeController{})
	if err == nil {
		_ = srv.Close()
		t.Fatal("expected bind error for an address in use")
	}
}
