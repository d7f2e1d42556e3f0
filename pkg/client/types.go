package client

import "time"

// ServiceResult is the outcome of starting or stopping one service.
type ServiceResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	PID     int    `json:"pid,omitempty"`
}

type StartResult struct {
	Producer      ServiceResult `json:"producer"`
	ProducerReady bool          `json:"producer_ready"`
	Consumer      ServiceResult `json:"consumer"`
}

type StopResult struct {
	Consumer ServiceResult `json:"consumer"`
	Producer ServiceResult `json:"producer"`
}

// StatusResult mirrors GET /status. PIDs are nil when the service is not running.
type StatusResult struct {
	ProducerRunning   bool `json:"producer_running"`
	ConsumerRunning   bool `json:"consumer_running"`
	ProducerPID       *int `json:"producer_pid"`
	ConsumerPID       *int `json:"consumer_pid"`
	ProducerReachable bool `json:"producer_reachable"`
}

// Usage is a resource reading for a running service.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

// ServiceInfo is one row of GET /services.
type ServiceInfo struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Running       bool      `json:"running"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	LastExit      string    `json:"last_exit,omitempty"`
	Uptime        string    `json:"uptime,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds,omitempty"`
	Usage         *Usage    `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
