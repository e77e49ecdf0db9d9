package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// assembleResult builds the result of a run that reached the container.
// ExecutionTime is filled in by the caller, which owns the start time.
func assembleResult(id string, outcome *RunOutcome, env *Environment, timeout time.Duration) ExecutionResult {
	errs := []string{}
	if stderr := strings.TrimSpace(outcome.Stderr); stderr != "" {
		errs = append(errs, stderr)
	}
	if outcome.TimedOut {
		errs = append(errs, fmt.Sprintf("Execution timed out after %dms", timeout.Milliseconds()))
	} else if outcome.Err != nil {
		errs = append(errs, outcome.Err.Error())
	}

	exitCode := outcome.ExitCode
	if !outcome.TimedOut && outcome.Err != nil && exitCode == 0 {
		exitCode = ExitCodeFailure
	}

	return ExecutionResult{
		ID:          id,
		Success:     exitCode == 0,
		Output:      strings.TrimSpace(outcome.Stdout),
		Errors:      errs,
		ExitCode:    exitCode,
		MemoryUsage: env.Usage().MemoryPeak,
	}
}

// failureResult reports an execution that could not be run.
func failureResult(id string, err error, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		ID:            id,
		Success:       false,
		Output:        "",
		Errors:        []string{err.Error()},
		ExitCode:      ExitCodeFailure,
		ExecutionTime: elapsed.Milliseconds(),
		MemoryUsage:   0,
	}
}
