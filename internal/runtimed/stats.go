package runtimed

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tymbalhq/tymbal/internal/connmgr"
)

// hostStats samples the machine's health for checkins. Sampling failures
// yield an empty snapshot rather than blocking the checkin.
func hostStats() *connmgr.HostStats {
	stats := &connmgr.HostStats{}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		stats.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemPercent = vm.UsedPercent
	}
	return stats
}
