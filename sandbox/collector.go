package sandbox

import (
	"context"
	"fmt"
)

// MetricsCollector produces the performance record of a finished execution.
// Implementations must return a fully populated value; zero is valid.
type MetricsCollector interface {
	CollectMetrics(ctx context.Context, env *Environment) PerformanceMetrics
}

// SecurityCollector produces the security record of a finished execution.
// Implementations must return a fully populated value; empty lists are valid.
type SecurityCollector interface {
	GenerateReport(ctx context.Context, env *Environment) SecurityReport
}

// NewPerformanceMetrics returns an all-zero record.
func NewPerformanceMetrics() PerformanceMetrics {
	return PerformanceMetrics{ExecutionProfile: []ExecutionProfile{}}
}

// NewSecurityReport returns an empty low-risk record.
func NewSecurityReport() SecurityReport {
	return SecurityReport{
		FileSystemAccess:     []string{},
		NetworkAccess:        []string{},
		ProcessSpawned:       []string{},
		SuspiciousOperations: []string{},
		RiskLevel:            RiskLow,
	}
}

// NopMetricsCollector reports zeros.
type NopMetricsCollector struct{}

func (NopMetricsCollector) CollectMetrics(context.Context, *Environment) PerformanceMetrics {
	return NewPerformanceMetrics()
}

// NopSecurityCollector reports nothing observed.
type NopSecurityCollector struct{}

func (NopSecurityCollector) GenerateReport(context.Context, *Environment) SecurityReport {
	return NewSecurityReport()
}

// StatsMetricsCollector derives metrics from the container stats sampled
// during the run.
type StatsMetricsCollector struct{}

func (StatsMetricsCollector) CollectMetrics(_ context.Context, env *Environment) PerformanceMetrics {
	usage := env.Usage()
	metrics := NewPerformanceMetrics()
	metrics.CPUUsage = usage.CPUPercent
	metrics.MemoryPeak = usage.MemoryPeak
	metrics.IOOperations = usage.IOOperations
	return metrics
}

// PolicySecurityCollector reports what the isolation policy and the sampled
// stats reveal: network reachability, resource ceilings that were hit.
type PolicySecurityCollector struct {
	PidsLimit int64
}

func (c PolicySecurityCollector) GenerateReport(_ context.Context, env *Environment) SecurityReport {
	report := NewSecurityReport()
	usage := env.Usage()

	if env.NetworkEnabled {
		report.NetworkAccess = append(report.NetworkAccess, "bridge")
		report.RiskLevel = RiskMedium
	}
	if c.PidsLimit > 0 && usage.PidsPeak >= c.PidsLimit {
		report.SuspiciousOperations = append(report.SuspiciousOperations,
			fmt.Sprintf("process limit reached (%d processes)", usage.PidsPeak))
		report.RiskLevel = RiskHigh
	}
	if env.MemoryLimit > 0 && usage.MemoryPeak >= env.MemoryLimit {
		report.SuspiciousOperations = append(report.SuspiciousOperations,
			fmt.Sprintf("memory limit reached (%d bytes)", usage.MemoryPeak))
		if report.RiskLevel == RiskLow {
			report.RiskLevel = RiskMedium
		}
	}
	return report
}

// normalize fills any nil collection so callers never branch on presence.
func (m *PerformanceMetrics) normalize() {
	if m.ExecutionProfile == nil {
		m.ExecutionProfile = []ExecutionProfile{}
	}
}

func (r *SecurityReport) normalize() {
	if r.FileSystemAccess == nil {
		r.FileSystemAccess = []string{}
	}
	if r.NetworkAccess == nil {
		r.NetworkAccess = []string{}
	}
	if r.ProcessSpawned == nil {
		r.ProcessSpawned = []string{}
	}
	if r.SuspiciousOperations == nil {
		r.SuspiciousOperations = []string{}
	}
	if r.RiskLevel == "" {
		r.RiskLevel = RiskLow
	}
}
