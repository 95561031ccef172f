package monitor

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemSampler reads process RSS and system memory usage from the OS.
type SystemSampler struct {
	proc *process.Process
}

// NewSystemSampler binds a sampler to the current process.
func NewSystemSampler() (*SystemSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("monitor: open process: %w", err)
	}
	return &SystemSampler{proc: p}, nil
}

func (s *SystemSampler) ProcessMemory(ctx context.Context) (uint64, error) {
	mi, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}

func (s *SystemSampler) SystemUsage(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

var _ MemorySampler = (*SystemSampler)(nil)
