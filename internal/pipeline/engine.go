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
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultTaskTimeout bounds a single runner call.
const DefaultTaskTimeout = 5 * time.Minute

// Options configures an Engine.
type Options struct {
	// TaskTimeout is raced against every runner call. On expiry the task
	// fails with ErrTimeout; the runner call itself is left running and its
	// result discarded unless CancelOnFailure is set.
	TaskTimeout time.Duration
	// MaxParallelism bounds concurrently running tasks of a parallel group.
	// Zero or negative means unbounded.
	MaxParallelism int
	// CancelOnFailure cancels the contexts of sibling runner calls as soon
	// as one task of a parallel group fails, and cancels a timed-out
	// runner's context. Off by default: siblings run to completion and
	// only their results are ignored.
	CancelOnFailure bool
	Observer        Observer
}

// Option configures an Engine.
type Option func(*Options)

// WithTaskTimeout sets the per-task timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Options) { o.TaskTimeout = d }
}

// WithMaxParallelism bounds parallel groups.
func WithMaxParallelism(n int) Option {
	return func(o *Options) { o.MaxParallelism = n }
}

// WithCancelOnFailure enables cooperative cancellation of sibling tasks.
func WithCancelOnFailure(enabled bool) Option {
	return func(o *Options) { o.CancelOnFailure = enabled }
}

// WithObserver installs a progress observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// Engine executes tasks and phases of a Registry through a TaskRunner.
// An Engine holds no per-run state and may serve many runs, but a single
// PipelineState must only be driven by one phase at a time.
type Engine struct {
	registry *Registry
	runner   TaskRunner
	opts     Options
}

// NewEngine returns an engine over reg using runner.
func NewEngine(reg *Registry, runner TaskRunner, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	if runner == nil {
		return nil, errors.New("nil task runner")
	}
	o := Options{TaskTimeout: DefaultTaskTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = DefaultTaskTimeout
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return &Engine{registry: reg, runner: runner, opts: o}, nil
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// ExecuteTask runs one task: it evaluates the task's when condition,
// validates its inputs, calls the runner under the task timeout and
// returns the result. It never merges into st; group executors do.
func (e *Engine) ExecuteTask(ctx context.Context, key string, st *PipelineState) (*TaskResult, error) {
	def, ok := e.registry.tasks[key]
	if !ok {
		err := configError(key, ErrUnknownTask, "unknown task %q", key)
		err.RunID = st.RunID
		return nil, err
	}

	run, err := shouldRun(def, st)
	if err != nil {
		pe := configError(key, ErrInvalidCondition, "task %q: %v", key, err)
		pe.Stage, pe.RunID = def.Stage, st.RunID
		return nil, pe
	}
	if !run {
		return &TaskResult{TaskKey: key, Stage: def.Stage, Variant: def.Variant, Success: true, Skipped: true}, nil
	}

	if v := Validate(def, st); !v.Valid {
		return nil, &PipelineError{
			Kind:    KindValidation,
			Stage:   def.Stage,
			Name:    key,
			Message: fmt.Sprintf("task %s is missing required inputs: %s", key, strings.Join(v.Missing, ", ")),
			RunID:   st.RunID,
		}
	}

	e.opts.Observer.OnTaskStart(key, copyTask(def))
	start := time.Now()
	out, err := e.invoke(ctx, def, st)
	if err != nil {
		return nil, err
	}
	res := &TaskResult{
		TaskKey:     key,
		Stage:       def.Stage,
		Variant:     def.Variant,
		Success:     true,
		Output:      out,
		DurationMs:  time.Since(start).Milliseconds(),
		Cost:        out.Cost,
		InputUnits:  out.InputUnits,
		OutputUnits: out.OutputUnits,
	}
	e.opts.Observer.OnTaskComplete(key, res)
	return res, nil
}

type runOutcome struct {
	out *RunnerOutput
	err error
}

// invoke races the runner against the task timer and ctx.
func (e *Engine) invoke(ctx context.Context, def *TaskDefinition, st *PipelineState) (*RunnerOutput, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.opts.CancelOnFailure {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := &RunRequest{TaskKey: def.Key, Stage: def.Stage, Variant: def.Variant, State: st.Clone()}
	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: errors.Errorf("runner panic: %v", r)}
			}
		}()
		out, err := e.runner.Run(runCtx, req)
		done <- runOutcome{out: out, err: err}
	}()

	timer := time.NewTimer(e.opts.TaskTimeout)
	defer timer.Stop()

	taskErr := func(kind ErrorKind, msg string, cause error) *PipelineError {
		return &PipelineError{Kind: kind, Stage: def.Stage, Name: def.Key, Message: msg, RunID: st.RunID, Cause: cause}
	}

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return nil, taskErr(KindCancelled, fmt.Sprintf("task %s cancelled", def.Key), o.err)
			}
			return nil, taskErr(KindExecution, fmt.Sprintf("task %s failed", def.Key), o.err)
		}
		if o.out == nil {
			o.out = &RunnerOutput{}
		}
		return o.out, nil
	case <-timer.C:
		return nil, taskErr(KindTimeout, fmt.Sprintf("task %s timed out after %s", def.Key, e.opts.TaskTimeout), ErrTimeout)
	case <-ctx.Done():
		return nil, taskErr(KindCancelled, fmt.Sprintf("task %s cancelled", def.Key), ctx.Err())
	}
}
