// Package hardware reports CPU capabilities and provides the best-effort
// thread pinning shim used by the mining threads.
package hardware

import (
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

// Capabilities describes the mining-relevant CPU features of this host.
type Capabilities struct {
	// AES reports AES-NI support, which selects the hardware hash paths.
	AES bool

	// Threads is the number of logical CPUs.
	Threads int

	// PhysicalCores is the physical core count, 0 when detection failed.
	PhysicalCores int

	// ModelName is the CPU brand string, empty when detection failed.
	ModelName string
}

// Detect probes the host CPU once. It never fails; fields that cannot be
// detected are left at their zero value.
func Detect() Capabilities {
	caps := Capabilities{
		AES:       cpuid.CPU.Supports(cpuid.AESNI),
		Threads:   runtime.NumCPU(),
		ModelName: cpuid.CPU.BrandName,
	}

	if cores, err := cpu.Counts(false); err == nil {
		caps.PhysicalCores = cores
	}
	if caps.ModelName == "" {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			caps.ModelName = infos[0].ModelName
		}
	}

	return caps
}

// LogSummary writes the startup hardware summary.
func LogSummary(logger *zap.Logger, caps Capabilities) {
	logger.Info("CPU detected",
		zap.String("model", caps.ModelName),
		zap.Int("logical_cpus", caps.Threads),
		zap.Int("physical_cores", caps.PhysicalCores),
		zap.Bool("hardware_aes", caps.AES),
	)
	logger.Info("System memory",
		zap.String("total", humanize.IBytes(memory.TotalMemory())),
	)
}
