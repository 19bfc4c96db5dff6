// Package hardware probes the host for CPU, memory, and GPU capacity so the
// server can log what it has to work with at startup.
package hardware

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jingkaihe/myllm/pkg/logger"
)

// probeTimeout bounds the nvidia-smi subprocess.
const probeTimeout = 5 * time.Second

// GPU describes one detected GPU.
type GPU struct {
	Name          string `json:"name"`
	MemoryTotalMB int    `json:"memory_total_mb"`
	MemoryFreeMB  int    `json:"memory_free_mb"`
}

// Info is a snapshot of host capacity.
type Info struct {
	CPUCores    int    `json:"cpu_cores"`
	MemoryTotal uint64 `json:"memory_total"`
	MemoryFree  uint64 `json:"memory_free"`
	GPUs        []GPU  `json:"gpus,omitempty"`
}

// HasGPU reports whether any GPU was detected.
func (i Info) HasGPU() bool { return len(i.GPUs) > 0 }

func (i Info) String() string {
	gpu := "none"
	if len(i.GPUs) > 0 {
		names := make([]string, len(i.GPUs))
		for n, g := range i.GPUs {
			names[n] = g.Name
		}
		gpu = strings.Join(names, ", ")
	}
	return fmt.Sprintf("%d cores, %d MiB RAM free, GPU: %s",
		i.CPUCores, i.MemoryFree/(1<<20), gpu)
}

// Probe inspects the host. Best effort: probes that fail leave their fields
// zeroed rather than failing the call.
func Probe(ctx context.Context) Info {
	var info Info

	if cores, err := cpu.Counts(true); err == nil {
		info.CPUCores = cores
	} else {
		logger.G(ctx).WithError(err).Debug("failed to count CPUs")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryFree = vm.Available
	} else {
		logger.G(ctx).WithError(err).Debug("failed to probe memory")
	}

	info.GPUs = probeGPUs(ctx)
	return info
}

// probeGPUs shells out to nvidia-smi. Machines without it report no GPUs.
func probeGPUs(ctx context.Context) []GPU {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,memory.free",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		logger.G(ctx).WithError(err).Debug("nvidia-smi not available")
		return nil
	}

	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		total, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
		free, _ := strconv.Atoi(strings.TrimSpace(fields[2]))
		gpus = append(gpus, GPU{
			Name:          strings.TrimSpace(fields[0]),
			MemoryTotalMB: total,
			MemoryFreeMB:  free,
		})
	}
	return gpus
}
