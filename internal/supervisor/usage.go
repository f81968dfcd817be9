package supervisor

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Usage sums CPU percent and resident memory across the live chain's
// processes. Both are zero when no chain is running or sampling fails;
// this feeds the health surface and is best effort by design.
func (s *Supervisor) Usage() (cpuPercent float64, rssBytes uint64) {
	for _, pid := range s.PIDs() {
		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			cpuPercent += cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			rssBytes += mem.RSS
		}
	}
	return cpuPercent, rssBytes
}
