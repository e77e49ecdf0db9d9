package sandbox

import (
	"sync"

	"github.com/docker/docker/api/types/container"
)

// Environment is the private state of one in-flight execution: its
// workspace directory, its entry file and its container. It is never
// shared between requests.
type Environment struct {
	ID             string
	Directory      string
	EntryFile      string
	Language       Language
	MemoryLimit    int64
	NetworkEnabled bool

	mu          sync.Mutex
	containerID string
	released    bool
	usage       ResourceUsage
	first       cpuSample
	last        cpuSample
}

// ResourceUsage summarizes the stats sampled while the unit was running.
type ResourceUsage struct {
	Samples      int
	MemoryPeak   int64
	CPUPercent   float64
	IOOperations int64
	PidsPeak     int64
}

type cpuSample struct {
	total  uint64
	system uint64
	online uint32
}

// ContainerID returns the unit's ID, or "" before it is created.
func (e *Environment) ContainerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.containerID
}

// attach records the created unit. It reports false when the environment
// was already released, in which case the caller owns the unit.
func (e *Environment) attach(containerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return false
	}
	e.containerID = containerID
	return true
}

// release marks the environment released and returns its unit. Only the
// first call reports true.
func (e *Environment) release() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return "", false
	}
	e.released = true
	return e.containerID, true
}

// Usage returns a copy of the sampled resource usage.
func (e *Environment) Usage() ResourceUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

// recordStats folds one stats snapshot into the usage summary. Memory is
// clamped to the unit's limit; CPU is averaged between first and last sample.
func (e *Environment) recordStats(stats container.StatsResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mem := stats.MemoryStats.MaxUsage
	if stats.MemoryStats.Usage > mem {
		mem = stats.MemoryStats.Usage
	}
	if peak := clampMemory(int64(mem), e.MemoryLimit); peak > e.usage.MemoryPeak {
		e.usage.MemoryPeak = peak
	}

	if pids := int64(stats.PidsStats.Current); pids > e.usage.PidsPeak {
		e.usage.PidsPeak = pids
	}

	if ops := blkioOperations(stats.BlkioStats.IoServicedRecursive); ops > e.usage.IOOperations {
		e.usage.IOOperations = ops
	}

	sample := cpuSample{
		total:  stats.CPUStats.CPUUsage.TotalUsage,
		system: stats.CPUStats.SystemUsage,
		online: stats.CPUStats.OnlineCPUs,
	}
	if sample.online == 0 {
		sample.online = uint32(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if e.usage.Samples == 0 {
		e.first = sample
	}
	e.last = sample
	e.usage.Samples++
	e.usage.CPUPercent = cpuPercent(e.first, e.last)
}

func cpuPercent(first, last cpuSample) float64 {
	if last.total <= first.total || last.system <= first.system {
		return 0
	}
	online := last.online
	if online == 0 {
		online = 1
	}
	cpuDelta := float64(last.total - first.total)
	systemDelta := float64(last.system - first.system)
	return cpuDelta / systemDelta * float64(online) * 100
}

// blkioOperations sums the "Total" entries (cgroup v1) or, when absent,
// the read and write entries (cgroup v2).
func blkioOperations(entries []container.BlkioStatEntry) int64 {
	var total, rw uint64
	hasTotal := false
	for _, entry := range entries {
		switch entry.Op {
		case "Total", "total":
			total += entry.Value
			hasTotal = true
		case "Read", "read", "Write", "write":
			rw += entry.Value
		}
	}
	if hasTotal {
		return int64(total)
	}
	return int64(rw)
}

func clampMemory(value, limit int64) int64 {
	if value < 0 {
		return 0
	}
	if limit > 0 && value > limit {
		return limit
	}
	return value
}
