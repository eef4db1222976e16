package service

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

// resolveBufferLimit returns the per-source buffer bound in bytes. A
// configured value of 0 means half of the currently available memory,
// split between the sources.
func resolveBufferLimit(configured int64, withAudio bool, available func() (uint64, error)) (limit int64, auto bool) {
	if configured > 0 {
		return configured, false
	}
	avail, err := available()
	if err != nil || avail == 0 {
		slog.Warn("Could not read available memory, buffers are unbounded", "error", err)
		return 0, true
	}
	limit = int64(avail / 2)
	if withAudio {
		limit /= 2
	}
	return limit, true
}

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
