package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// fileWork is one test file waiting for a worker. index is its position in discovery order.
type fileWork struct {
	index int
	file  types.TestFile
}

// fileWorkResult pairs a result with the position of its file.
type fileWorkResult struct {
	index  int
	result *types.TestResult
}

// executeParallel dispatches files in order to a bounded pool of workers and
// returns the results indexed like files, whatever order they complete in.
func (e *Engine) executeParallel(ctx context.Context, files []types.TestFile, rtp []string) []*types.TestResult {
	start := time.Now()
	results := make([]*types.TestResult, len(files))
	if len(files) == 0 {
		e.log.Debug("No test files to execute")
		return results
	}

	workers := min(e.cfg.Concurrency, len(files))
	e.log.Info("Starting parallel test execution", "totalTests", len(files), "concurrency", workers)

	e.cfg.Observer.RunStarted(len(files))
	defer e.cfg.Observer.RunFinished()

	bufferSize := min(workers*2, 100)
	workChan := make(chan fileWork, bufferSize)
	resultChan := make(chan fileWorkResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go e.worker(ctx, i, &wg, rtp, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for i, file := range files {
			select {
			case workChan <- fileWork{index: i, file: file}:
			case <-ctx.Done():
				e.log.Debug("Context cancelled while sending work items")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		results[r.index] = r.result
	}

	// Files never dispatched because the run was cancelled still get a result.
	for i, r := range results {
		if r == nil {
			results[i] = &types.TestResult{
				File:     files[i],
				Status:   types.TestStatusFailed,
				Error:    fmt.Errorf("not run: %w", context.Cause(ctx)),
				ExitCode: -1,
			}
		}
	}

	e.log.Info("Parallel test execution completed", "duration", time.Since(start), "totalTests", len(files))
	return results
}

// worker processes files until the work channel is drained or the run is cancelled.
func (e *Engine) worker(ctx context.Context, id int, wg *sync.WaitGroup, rtp []string, workChan <-chan fileWork, resultChan chan<- fileWorkResult) {
	defer wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	e.log.Debug("Worker starting", "workerID", workerID)
	defer e.log.Debug("Worker exiting", "workerID", workerID)

	for {
		select {
		case work, ok := <-workChan:
			if !ok {
				return
			}

			e.cfg.Observer.TestStarted(work.file)
			result := e.RunFile(ctx, work.file, rtp)
			e.cfg.Observer.TestFinished(result)

			// resultChan is drained until every worker exits, so this never blocks forever.
			resultChan <- fileWorkResult{index: work.index, result: result}
			e.log.Debug("Worker completed test", "workerID", workerID, "file", work.file.Path, "status", result.Status)

		case <-ctx.Done():
			e.log.Debug("Worker received context cancellation", "workerID", workerID)
			return
		}
	}
}
