package sandbox

import "time"

// Language identifies a supported runtime.
type Language string

// Supported languages
const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
	LanguageRust       Language = "rust"
)

// Execution defaults
const (
	DefaultTimeoutMs   = 30000
	DefaultMemoryLimit = 128 * 1024 * 1024

	ExitCodeFailure = 1
	ExitCodeTimeout = 124
)

// RiskLevel is the coarse classification attached to a SecurityReport.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ProjectContext is supplied by the project-scaffolding collaborator and is
// consumed read-only.
type ProjectContext struct {
	ProjectID            string            `json:"projectId,omitempty"`
	WorkingDirectory     string            `json:"workingDirectory,omitempty"`
	InstalledPackages    []string          `json:"installedPackages,omitempty"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`
}

// ExecutionRequest represents the parameters for code execution.
// Timeout is in milliseconds; MemoryLimit uses the k/m/g suffix form.
type ExecutionRequest struct {
	ID             string          `json:"id,omitempty"`
	Language       Language        `json:"language"`
	Code           string          `json:"code"`
	Tests          []string        `json:"tests,omitempty"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	Timeout        int             `json:"timeout,omitempty"`
	MemoryLimit    string          `json:"memoryLimit,omitempty"`
	ProjectContext *ProjectContext `json:"projectContext,omitempty"`
}

// ExecutionResult represents the result of code execution.
type ExecutionResult struct {
	ID                 string              `json:"id"`
	Success            bool                `json:"success"`
	Output             string              `json:"output"`
	Errors             []string            `json:"errors"`
	ExitCode           int                 `json:"exitCode"`
	ExecutionTime      int64               `json:"executionTime"`
	MemoryUsage        int64               `json:"memoryUsage"`
	TestResults        []TestResult        `json:"testResults,omitempty"`
	PerformanceMetrics *PerformanceMetrics `json:"performanceMetrics,omitempty"`
	SecurityReport     *SecurityReport     `json:"securityReport,omitempty"`
}

// TestResult is the outcome of one test fragment.
type TestResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration"`
}

// PerformanceMetrics is always fully populated; unmeasured values are zero.
type PerformanceMetrics struct {
	CPUUsage         float64            `json:"cpuUsage"`
	MemoryPeak       int64              `json:"memoryPeak"`
	IOOperations     int64              `json:"ioOperations"`
	NetworkCalls     int64              `json:"networkCalls"`
	ExecutionProfile []ExecutionProfile `json:"executionProfile"`
}

// ExecutionProfile is a per-function profile entry.
type ExecutionProfile struct {
	Function    string  `json:"function"`
	Calls       int64   `json:"calls"`
	TotalTime   float64 `json:"totalTime"`
	AverageTime float64 `json:"averageTime"`
}

// SecurityReport is always fully populated; empty lists are valid values.
type SecurityReport struct {
	FileSystemAccess     []string  `json:"fileSystemAccess"`
	NetworkAccess        []string  `json:"networkAccess"`
	ProcessSpawned       []string  `json:"processSpawned"`
	SuspiciousOperations []string  `json:"suspiciousOperations"`
	RiskLevel            RiskLevel `json:"riskLevel"`
}

// timeout returns the effective timeout of the request.
func (r ExecutionRequest) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(r.Timeout) * time.Millisecond
}
