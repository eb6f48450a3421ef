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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventObserver_PublishesCallPoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 16)
	reg := mustRegistry(t,
		[]TaskDefinition{task("research", 1)},
		[]PhaseDefinition{{ID: "ideation", Tasks: []string{"research"}}},
	)
	e := mustEngine(t, reg, newFakeRunner(), WithObserver(MultiObserver{LogObserver{}, NewEventObserver(ctx, events)}))

	_, err := e.RunPhase(ctx, "ideation", NewPipelineState("r", nil))
	require.NoError(t, err)
	close(events)

	var types []EventType
	for ev := range events {
		assert.False(t, ev.Time.IsZero())
		types = append(types, ev.Type)
		switch ev.Type {
		case EventTaskComplete:
			require.NotNil(t, ev.TaskResult)
			assert.Equal(t, "research", ev.Key)
		case EventPhaseComplete:
			require.NotNil(t, ev.PhaseResult)
			assert.True(t, ev.PhaseResult.Success)
		}
	}
	assert.Equal(t, []EventType{EventPhaseStart, EventTaskStart, EventTaskComplete, EventPhaseComplete}, types)
}

func TestEventObserver_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	obs := NewEventObserver(ctx, make(chan Event))
	cancel()
	// unbuffered with no reader: must not block
	obs.OnTaskStart("t", &TaskDefinition{Key: "t"})
}

func TestPipelineError_Format(t *testing.T) {
	err := &PipelineError{
		Kind:    KindTimeout,
		Stage:   3,
		Name:    "script",
		Phase:   "drafting",
		Message: "task script timed out after 5m0s",
		RunID:   "run-1",
		Cause:   ErrTimeout,
	}
	assert.Equal(t,
		`timeout error in phase "drafting" at task "script" (stage 3) [run run-1]: task script timed out after 5m0s: task execution timeout`,
		err.Error())
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrExecution))

	phaseOnly := &PipelineError{Kind: KindExecution, Stage: -1, Name: "p", Phase: "p", Message: "phase p failed"}
	assert.Equal(t, `execution error in phase "p": phase p failed`, phaseOnly.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("io")))
	assert.True(t, IsRetryable(errors.Wrap(&PipelineError{Kind: KindTimeout}, "wrapped")))
	assert.False(t, IsRetryable(&PipelineError{Kind: KindConfig}))
	assert.False(t, IsRetryable(&PipelineError{Kind: KindValidation}))
	assert.Equal(t, "cancelled", KindCancelled.String())
}
