package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/emoconnect/internal/manager"
	"github.com/loykin/emoconnect/internal/orchestrator"
	"github.com/loykin/emoconnect/internal/process"
)

//go:embed web/index.html
var webFS embed.FS

var page = template.Must(template.ParseFS(webFS, "web/index.html"))

// Controller is the pair-level API behind the buttons.
type Controller interface {
	StartAll(ctx context.Context) orchestrator.StartResult
	StopAll() orchestrator.StopResult
	Status(ctx context.Context) orchestrator.StatusResult
}

// Inventory lists every supervised service.
type Inventory interface {
	StatusAll() []manager.Status
}

// UsageReader returns the last sampled resource usage for a service.
type UsageReader interface {
	Usage(name string) (process.Usage, bool)
}

// Router provides embeddable HTTP handlers for the control surface.
// Endpoints:
//
//	GET  {basePath}/          control panel
//	POST {basePath}/start     start producer, await readiness, start consumer
//	POST {basePath}/stop      stop consumer, then producer
//	GET  {basePath}/status    pair status
//	GET  {basePath}/services  per-service details, optional ?name=
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	inv      Inventory
	usage    UsageReader
	basePath string
	now      func() time.Time
}

type Option func(*Router)

func WithInventory(inv Inventory) Option { return func(r *Router) { r.inv = inv } }

// WithUsage makes /services read usage from u instead of querying the OS per request.
func WithUsage(u UsageReader) Option { return func(r *Router) { r.usage = u } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/start, /abc/stop, /abc/status.
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/", r.handleIndex)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/services", r.handleServices)
	return g
}

// NewServer binds addr and serves this router on it in the background.
// Bind failures are returned; Start blocks for up to the startup timeout, so
// WriteTimeout is generous. Addr is set to the bound address.
func NewServer(addr, basePath string, ctl Controller, opts ...Option) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	r := NewRouter(ctl, basePath, opts...)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Error("control server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	_ = page.Execute(c.Writer, struct{ Base string }{Base: r.basePath})
}

func (r *Router) handleStart(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.StartAll(c.Request.Context()))
}

func (r *Router) handleStop(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.StopAll())
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status(c.Request.Context()))
}

// ServiceInfo is one row of /services.
type ServiceInfo struct {
	manager.Status
	Uptime        string         `json:"uptime,omitempty"`
	UptimeSeconds float64        `json:"uptime_seconds,omitempty"`
	Usage         *process.Usage `json:"usage,omitempty"`
}

func (r *Router) handleServices(c *gin.Context) {
	if r.inv == nil {
		writeJSON(c, http.StatusOK, []ServiceInfo{})
		return
	}
	name := c.Query("name")
	if name != "" && !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}

	out := make([]ServiceInfo, 0, 2)
	for _, st := range r.inv.StatusAll() {
		if name != "" && st.Name != name {
			continue
		}
		out = append(out, r.describe(st))
	}
	if name != "" && len(out) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) describe(st manager.Status) ServiceInfo {
	info := ServiceInfo{Status: st}
	if !st.Running {
		return info
	}
	if !st.StartedAt.IsZero() {
		up := r.now().Sub(st.StartedAt).Truncate(time.Second)
		info.Uptime = up.String()
		info.UptimeSeconds = up.Seconds()
	}
	if r.usage != nil {
		if u, ok := r.usage.Usage(st.Name); ok {
			info.Usage = &u
			return info
		}
	}
	if u, err := process.UsageOf(st.PID); err == nil {
		info.Usage = &u
	}
	return info
}
