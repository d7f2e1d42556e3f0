package process

import (
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource reading for a running child.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

// UsageOf reads resource usage for pid from the OS.
func UsageOf(pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, fmt.Errorf("usage: invalid pid %d", pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("usage: pid %d: %w", pid, err)
	}
	var u Usage
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
