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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallel_SumsCostAndMergesAll(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("X", 1), task("Y", 2)}, nil)
	runner := newFakeRunner().
		on("X", costing("x", 0.01)).
		on("Y", costing("y", 0.02))
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("run-a", nil)

	gr, err := e.RunParallel(context.Background(), []string{"X", "Y"}, st)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, gr.TotalCost, 1e-9)
	require.Len(t, gr.Results, 2)
	assert.Equal(t, "X", gr.Results[0].TaskKey)
	assert.Equal(t, "Y", gr.Results[1].TaskKey)
	assert.Equal(t, "x", st.Stage(1).Text())
	assert.Equal(t, "y", st.Stage(2).Text())
}

func TestRunParallel_MergesOnlyAfterGroupSettles(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("fast", 1), task("slow", 2)}, nil)
	var sawFast atomic.Bool
	runner := newFakeRunner().
		on("slow", delayed(30*time.Millisecond, func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
			sawFast.Store(req.State.Stage(1) != nil)
			return &RunnerOutput{Text: "slow"}, nil
		}))
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("r", nil)

	_, err := e.RunParallel(context.Background(), []string{"fast", "slow"}, st)
	require.NoError(t, err)
	assert.False(t, sawFast.Load())
	assert.NotNil(t, st.Stage(1))
	assert.NotNil(t, st.Stage(2))
}

func TestRunParallel_FirstDeclaredFailureWins(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("a", 1), task("b", 2), task("c", 3), task("d", 4)}, nil)
	runner := newFakeRunner().
		on("b", delayed(40*time.Millisecond, failing(errors.New("b failed")))).
		on("d", failing(errors.New("d failed")))
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("r", nil)

	gr, err := e.RunParallel(context.Background(), []string{"a", "b", "c", "d"}, st)
	require.Error(t, err)
	assert.Nil(t, gr)
	pe, ok := AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, "b", pe.Name)
	assert.Contains(t, err.Error(), "b failed")
	assert.Empty(t, st.PreviousStages)
	for _, key := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, runner.count(key), key)
	}
}

func TestRunParallel_TimeoutDiscardsSiblings(t *testing.T) {
	release := releaseOnCleanup(t)
	reg := mustRegistry(t, []TaskDefinition{
		task("t1", 1), task("t2", 2), task("t3", 3), task("t4", 4), task("t5", 5),
	}, nil)
	runner := newFakeRunner().on("t3", blocking(release))
	e := mustEngine(t, reg, runner, WithTaskTimeout(50*time.Millisecond))
	st := NewPipelineState("run-d", nil)

	_, err := e.RunParallel(context.Background(), []string{"t1", "t2", "t3", "t4", "t5"}, st)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	pe, ok := AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, "t3", pe.Name)
	assert.Equal(t, 3, pe.Stage)
	assert.Empty(t, st.PreviousStages)
}

func TestRunParallel_CancelOnFailure(t *testing.T) {
	release := releaseOnCleanup(t)
	reg := mustRegistry(t, []TaskDefinition{task("sibling", 1), task("broken", 2)}, nil)
	var cancelled atomic.Bool
	runner := newFakeRunner().
		on("sibling", func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
			out, err := blocking(release)(ctx, req)
			if errors.Is(err, context.Canceled) {
				cancelled.Store(true)
			}
			return out, err
		}).
		on("broken", delayed(10*time.Millisecond, failing(errors.New("broken"))))
	e := mustEngine(t, reg, runner, WithCancelOnFailure(true))

	start := time.Now()
	_, err := e.RunParallel(context.Background(), []string{"sibling", "broken"}, NewPipelineState("r", nil))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	// the cancelled sibling comes first in list order but the real failure is reported
	pe, ok := AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, "broken", pe.Name)
	assert.Equal(t, KindExecution, pe.Kind)
	assert.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
}

func TestRunParallel_MaxParallelism(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f"}
	var defs []TaskDefinition
	for i, k := range keys {
		defs = append(defs, task(k, i+1))
	}
	reg := mustRegistry(t, defs, nil)

	var running, peak atomic.Int32
	runner := newFakeRunner()
	for _, k := range keys {
		runner.on(k, func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return &RunnerOutput{Text: req.TaskKey}, nil
		})
	}
	e := mustEngine(t, reg, runner, WithMaxParallelism(2))

	_, err := e.RunParallel(context.Background(), keys, NewPipelineState("r", nil))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunSequential_SeesOnlyEarlierMerges(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("one", 1), task("two", 2, 1), task("three", 3, 2)}, nil)

	var mu sync.Mutex
	seen := make(map[string][]int)
	record := func(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
		mu.Lock()
		seen[req.TaskKey] = req.State.Stages()
		mu.Unlock()
		return &RunnerOutput{Text: req.TaskKey}, nil
	}
	runner := newFakeRunner().on("one", record).on("two", record).on("three", record)
	e := mustEngine(t, reg, runner)

	gr, err := e.RunSequential(context.Background(), []string{"one", "two", "three"}, NewPipelineState("r", nil))
	require.NoError(t, err)
	require.Len(t, gr.Results, 3)
	assert.Equal(t, []int{}, seen["one"])
	assert.Equal(t, []int{1}, seen["two"])
	assert.Equal(t, []int{1, 2}, seen["three"])
}

func TestRunSequential_StopsAtFirstFailure(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("one", 1), task("two", 2), task("three", 3)}, nil)
	runner := newFakeRunner().on("two", failing(errors.New("nope")))
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("r", nil)

	_, err := e.RunSequential(context.Background(), []string{"one", "two", "three"}, st)
	require.Error(t, err)
	assert.Equal(t, 0, runner.count("three"))
	assert.Equal(t, []int{1}, st.Stages(), "merges before the failure stay")
}

func TestRunGrouped_LaterGroupsSeeEarlierOutput(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("O", 3), task("P", 4, 3), task("Q", 5, 3)}, nil)
	runner := newFakeRunner().
		on("O", costing("script", 0.1)).
		on("P", costing("titles", 0.2)).
		on("Q", costing("hooks", 0.3))
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("r", nil)

	gr, err := e.RunGrouped(context.Background(), []ExecutionGroup{
		{Tasks: []string{"O"}},
		{Tasks: []string{"P", "Q"}, Parallel: true},
	}, st)
	require.NoError(t, err)
	assert.Len(t, gr.Results, 3)
	assert.InDelta(t, 0.6, gr.TotalCost, 1e-9)
	assert.Equal(t, []int{3, 4, 5}, st.Stages())
}

func TestRunGrouped_StopsOnFailedGroup(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("a", 1), task("b", 2), task("c", 3)}, nil)
	runner := newFakeRunner().on("b", failing(errors.New("b down")))
	e := mustEngine(t, reg, runner)

	_, err := e.RunGrouped(context.Background(), []ExecutionGroup{
		{Tasks: []string{"a", "b"}, Parallel: true},
		{Tasks: []string{"c"}},
	}, NewPipelineState("r", nil))
	require.Error(t, err)
	assert.Equal(t, 0, runner.count("c"))
}

func TestRunParallel_SkippedVariantsDoNotMerge(t *testing.T) {
	yt := TaskDefinition{Key: "desc_youtube", Stage: 6, Variant: "youtube", When: `platform == "youtube"`}
	tt := TaskDefinition{Key: "desc_tiktok", Stage: 6, Variant: "tiktok", When: `platform == "tiktok"`}
	reg := mustRegistry(t, []TaskDefinition{yt, tt}, nil)
	runner := newFakeRunner()
	e := mustEngine(t, reg, runner)
	st := NewPipelineState("r", map[string]any{"platform": "tiktok"})

	gr, err := e.RunParallel(context.Background(), []string{"desc_youtube", "desc_tiktok"}, st)
	require.NoError(t, err)
	assert.True(t, gr.Results[0].Skipped)
	assert.Equal(t, "desc_tiktok output", st.Stage(6).Text())
	assert.Equal(t, 0, runner.count("desc_youtube"))
}
