// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/contentflow/internal/log"
)

// RunParallel launches every task concurrently and waits for all of them
// to settle. If any task failed it returns the failure of the first failed
// task in list order and merges nothing into st. Otherwise every output is
// merged, in list order, after the whole group has settled.
func (e *Engine) RunParallel(ctx context.Context, keys []string, st *PipelineState) (*GroupResult, error) {
	start := time.Now()
	results := make([]*TaskResult, len(keys))
	errs := make([]error, len(keys))

	gctx, cancel := ctx, context.CancelFunc(func() {})
	if e.opts.CancelOnFailure {
		gctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Tasks never return an error to the group: every task must settle
	// before a failure is reported.
	var g errgroup.Group
	if e.opts.MaxParallelism > 0 {
		g.SetLimit(e.opts.MaxParallelism)
	}
	for i, key := range keys {
		g.Go(func() error {
			res, err := e.ExecuteTask(gctx, key, st)
			results[i], errs[i] = res, err
			if err != nil && e.opts.CancelOnFailure {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := firstFailure(errs); err != nil {
		return nil, err
	}

	out := &GroupResult{Results: results}
	writers := make(map[int]string)
	for _, res := range results {
		if err := e.merge(st, res, writers); err != nil {
			return nil, err
		}
		out.TotalCost += res.Cost
	}
	out.DurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// firstFailure returns the first error in list order. Cancellations caused
// by a sibling's failure are only reported when nothing else failed.
func firstFailure(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if pe, ok := AsPipelineError(err); ok && pe.Kind == KindCancelled {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}

// RunSequential runs tasks one at a time in list order, merging each
// output into st before the next task starts. It stops at the first
// failure; outputs merged before the failure stay in st.
func (e *Engine) RunSequential(ctx context.Context, keys []string, st *PipelineState) (*GroupResult, error) {
	start := time.Now()
	out := &GroupResult{Results: make([]*TaskResult, 0, len(keys))}
	writers := make(map[int]string)
	for _, key := range keys {
		res, err := e.ExecuteTask(ctx, key, st)
		if err != nil {
			return nil, err
		}
		if err := e.merge(st, res, writers); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, res)
		out.TotalCost += res.Cost
	}
	out.DurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// RunGrouped runs groups in order, each through the parallel or
// sequential executor per its Parallel flag.
func (e *Engine) RunGrouped(ctx context.Context, groups []ExecutionGroup, st *PipelineState) (*GroupResult, error) {
	start := time.Now()
	out := &GroupResult{}
	for _, g := range groups {
		var (
			gr  *GroupResult
			err error
		)
		if g.Parallel {
			gr, err = e.RunParallel(ctx, g.Tasks, st)
		} else {
			gr, err = e.RunSequential(ctx, g.Tasks, st)
		}
		if err != nil {
			return nil, err
		}
		out.add(gr)
	}
	out.DurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// merge folds a task's output into its stage. writers tracks which task
// last wrote each stage within the current group.
func (e *Engine) merge(st *PipelineState, res *TaskResult, writers map[int]string) error {
	if res.Skipped {
		return nil
	}
	if prev, ok := writers[res.Stage]; ok && prev != res.TaskKey {
		log.Warn("stage %d written by %s is overwritten by %s", res.Stage, prev, res.TaskKey)
	}
	writers[res.Stage] = res.TaskKey
	if err := st.Merge(res.Stage, res.Output); err != nil {
		return &PipelineError{
			Kind:    KindExecution,
			Stage:   res.Stage,
			Name:    res.TaskKey,
			Message: fmt.Sprintf("merge output of task %s", res.TaskKey),
			RunID:   st.RunID,
			Cause:   err,
		}
	}
	return nil
}
