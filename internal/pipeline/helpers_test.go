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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunner counts calls per task and dispatches to per-task handlers.
// Tasks without a handler echo their key.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]RunnerFunc
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), handlers: make(map[string]RunnerFunc)}
}

func (f *fakeRunner) on(key string, fn RunnerFunc) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = fn
	return f
}

func (f *fakeRunner) Run(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
	f.mu.Lock()
	f.calls[req.TaskKey]++
	fn := f.handlers[req.TaskKey]
	f.mu.Unlock()
	if fn == nil {
		return &RunnerOutput{Text: req.TaskKey + " output", Payload: map[string]any{"task": req.TaskKey}}, nil
	}
	return fn(ctx, req)
}

func (f *fakeRunner) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func costing(text string, cost float64) RunnerFunc {
	return func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
		return &RunnerOutput{Text: text, Cost: cost, InputUnits: 10, OutputUnits: 20}, nil
	}
}

func failing(err error) RunnerFunc {
	return func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
		return nil, err
	}
}

// blocking waits for release or ctx, whichever comes first.
func blocking(release <-chan struct{}) RunnerFunc {
	return func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
		select {
		case <-release:
			return &RunnerOutput{Text: "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func delayed(d time.Duration, fn RunnerFunc) RunnerFunc {
	return func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
		time.Sleep(d)
		return fn(ctx, req)
	}
}

func task(key string, stage int, reads ...int) TaskDefinition {
	t := TaskDefinition{Key: key, Stage: stage}
	for _, s := range reads {
		t.RequiredInputs = append(t.RequiredInputs, InputRequirement{Stage: s, Fields: []string{OutputTextField}})
	}
	return t
}

func mustRegistry(t *testing.T, tasks []TaskDefinition, phases []PhaseDefinition) *Registry {
	t.Helper()
	reg, err := NewRegistry(tasks, phases)
	require.NoError(t, err)
	return reg
}

func mustEngine(t *testing.T, reg *Registry, runner TaskRunner, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(reg, runner, opts...)
	require.NoError(t, err)
	return e
}

func releaseOnCleanup(t *testing.T) chan struct{} {
	ch := make(chan struct{})
	t.Cleanup(func() { close(ch) })
	return ch
}
