package system

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo is the host section of the status report.
type HostInfo struct {
	Hostname    string `json:"hostname"`
	Uptime      uint64 `json:"uptime"`
	Kernel      string `json:"kernel,omitempty"`
	Arch        string `json:"arch"`
	MemoryTotal uint64 `json:"memoryTotal,omitempty"`
	MemoryFree  uint64 `json:"memoryFree,omitempty"`
}

// ReadHostInfo collects what it can; missing facts are left zero.
func ReadHostInfo() HostInfo {
	info := HostInfo{Arch: runtime.GOARCH}
	if hn, err := os.Hostname(); err == nil {
		info.Hostname = hn
	}
	if hi, err := host.Info(); err == nil {
		info.Uptime = hi.Uptime
		info.Kernel = hi.KernelVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryFree = vm.Available
	}
	return info
}
