// Package system hosts host-level health jobs.
package system

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// memoryAlertPercent is the host memory usage above which the operator
// channel gets pinged.
const memoryAlertPercent = 90.0

// RAMCheckJob watches the process RSS and host memory pressure.
type RAMCheckJob struct {
	notifier *notification.Service
	logger   logger.Interface

	alerted bool
}

func NewRAMCheckJob(notifier *notification.Service, log logger.Interface) *RAMCheckJob {
	return &RAMCheckJob{notifier: notifier, logger: log}
}

func (j *RAMCheckJob) Execute(ctx context.Context) (int, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("open own process: %w", err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read process memory: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read host memory: %w", err)
	}

	rssMB := float64(info.RSS) / (1 << 20)
	j.logger.Debugw("memory check",
		"rss_mb", fmt.Sprintf("%.1f", rssMB),
		"host_used_percent", fmt.Sprintf("%.1f", vm.UsedPercent),
	)

	if vm.UsedPercent >= memoryAlertPercent {
		if !j.alerted {
			j.alerted = true
			j.notifier.SystemLog(fmt.Sprintf(
				"High memory pressure: host at %.1f%%, process RSS %.1f MB",
				vm.UsedPercent, rssMB))
		}
	} else {
		j.alerted = false
	}
	return 0, nil
}
