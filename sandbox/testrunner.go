package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runTests executes every fragment as its own child execution: a fresh
// workspace holding the submitted source with the fragment appended, its
// own unit and its own timeout. Results keep the order of req.Tests.
func (e *Engine) runTests(ctx context.Context, req ExecutionRequest) []TestResult {
	results := make([]TestResult, len(req.Tests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.TestParallelism)
	for i, fragment := range req.Tests {
		g.Go(func() error {
			results[i] = e.runTest(gctx, req, i, fragment)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) runTest(ctx context.Context, req ExecutionRequest, index int, fragment string) TestResult {
	name := fmt.Sprintf("test_%d", index+1)
	start := time.Now()

	child := req
	child.ID = fmt.Sprintf("%s-%s", req.ID, name)
	child.Code = req.Code + "\n" + fragment + "\n"
	child.Tests = nil

	res, err := e.execute(ctx, child, false)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		e.logger.Warn("test fragment could not run", zap.String("execution_id", req.ID), zap.String("test", name), zap.Error(err))
		return TestResult{Name: name, Passed: false, Error: err.Error(), Duration: duration}
	}

	return TestResult{
		Name:     name,
		Passed:   res.Success,
		Output:   res.Output,
		Error:    strings.Join(res.Errors, "\n"),
		Duration: duration,
	}
}
