package dispatch

import (
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// memoryPressureThreshold is the used-memory fraction above which the worker
// logs a warning before taking new jobs. Model runtimes fail in confusing
// ways when the host is already saturated.
const memoryPressureThreshold = 0.90

func checkMemoryPressure(logger *zap.SugaredLogger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debugw("Failed to read memory stats", "error", err)
		return
	}
	if vm.UsedPercent >= memoryPressureThreshold*100 {
		logger.Warnw("High memory pressure",
			"used_percent", vm.UsedPercent,
			"available_mb", vm.Available/1024/1024)
	}
}
