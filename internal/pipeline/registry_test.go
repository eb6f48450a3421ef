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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name   string
		tasks  []TaskDefinition
		phases []PhaseDefinition
		want   error
	}{
		{
			name:  "empty task key",
			tasks: []TaskDefinition{{Stage: 1}},
			want:  ErrEmptyKey,
		},
		{
			name:  "duplicate task",
			tasks: []TaskDefinition{task("a", 1), task("a", 2)},
			want:  ErrDuplicateKey,
		},
		{
			name:  "unknown dependency",
			tasks: []TaskDefinition{{Key: "a", Stage: 1, DependsOn: []string{"ghost"}}},
			want:  ErrUnknownTask,
		},
		{
			name:  "unparsable condition",
			tasks: []TaskDefinition{{Key: "a", Stage: 1, When: `(platform == "youtube"`}},
			want:  ErrInvalidCondition,
		},
		{
			name:   "phase references unknown task",
			tasks:  []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{ID: "p", Tasks: []string{"a", "ghost"}}},
			want:   ErrUnknownTask,
		},
		{
			name:   "invalid mode",
			tasks:  []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{ID: "p", Tasks: []string{"a"}, Mode: "random"}},
			want:   ErrInvalidMode,
		},
		{
			name:   "grouped without groups",
			tasks:  []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{ID: "p", Tasks: []string{"a"}, Mode: ModeGrouped}},
			want:   ErrGroupMismatch,
		},
		{
			name:  "groups do not cover tasks",
			tasks: []TaskDefinition{task("a", 1), task("b", 2)},
			phases: []PhaseDefinition{{
				ID:     "p",
				Tasks:  []string{"a", "b"},
				Groups: []ExecutionGroup{{Tasks: []string{"a"}}},
			}},
			want: ErrGroupMismatch,
		},
		{
			name:  "task in two groups",
			tasks: []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{
				ID:     "p",
				Groups: []ExecutionGroup{{Tasks: []string{"a"}}, {Tasks: []string{"a"}}},
			}},
			want: ErrGroupMismatch,
		},
		{
			name:   "duplicate phase",
			tasks:  []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{ID: "p", Tasks: []string{"a"}}, {ID: "p"}},
			want:   ErrDuplicateKey,
		},
		{
			name:   "unknown required phase",
			tasks:  []TaskDefinition{task("a", 1)},
			phases: []PhaseDefinition{{ID: "p", Tasks: []string{"a"}, RequiredPhases: []string{"ghost"}}},
			want:   ErrUnknownPhase,
		},
		{
			name:  "required phase cycle",
			tasks: []TaskDefinition{task("a", 1), task("b", 2)},
			phases: []PhaseDefinition{
				{ID: "p1", Tasks: []string{"a"}, RequiredPhases: []string{"p2"}},
				{ID: "p2", Tasks: []string{"b"}, RequiredPhases: []string{"p1"}},
			},
			want: ErrPhaseCycle,
		},
		{
			name:  "unguarded overlap read downstream",
			tasks: []TaskDefinition{task("w1", 6), task("w2", 6), task("reader", 8, 6)},
			phases: []PhaseDefinition{
				{ID: "p", Tasks: []string{"w1", "w2"}, Mode: ModeParallel},
				{ID: "q", Tasks: []string{"reader"}},
			},
			want: ErrStageOverlap,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.tasks, tt.phases)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, errors.Is(err, ErrConfig), "want config kind, got %v", err)
			assert.True(t, errors.Is(err, tt.want), "want %v, got %v", tt.want, err)
		})
	}
}

func TestNewRegistry_StageOverlapAllowed(t *testing.T) {
	t.Run("guarded variants", func(t *testing.T) {
		yt := TaskDefinition{Key: "yt", Stage: 6, When: `platform == "youtube"`}
		tt := TaskDefinition{Key: "tt", Stage: 6, When: `platform == "tiktok"`}
		_, err := NewRegistry(
			[]TaskDefinition{yt, tt, task("reader", 8, 6)},
			[]PhaseDefinition{{ID: "p", Tasks: []string{"yt", "tt"}, Mode: ModeParallel}},
		)
		assert.NoError(t, err)
	})
	t.Run("nobody reads the stage", func(t *testing.T) {
		_, err := NewRegistry(
			[]TaskDefinition{task("w1", 6), task("w2", 6)},
			[]PhaseDefinition{{ID: "p", Tasks: []string{"w1", "w2"}, Mode: ModeParallel}},
		)
		assert.NoError(t, err)
	})
	t.Run("sequential writers", func(t *testing.T) {
		_, err := NewRegistry(
			[]TaskDefinition{task("w1", 6), task("w2", 6), task("reader", 8, 6)},
			[]PhaseDefinition{{ID: "p", Tasks: []string{"w1", "w2", "reader"}}},
		)
		assert.NoError(t, err)
	})
}

func TestNewRegistry_Normalises(t *testing.T) {
	reg := mustRegistry(t,
		[]TaskDefinition{task("a", 1), task("b", 2), task("c", 3)},
		[]PhaseDefinition{
			{ID: "seq", Tasks: []string{"a"}},
			{ID: "grp", Groups: []ExecutionGroup{{Tasks: []string{"b"}}, {Tasks: []string{"c"}, Parallel: true}}, RequiredPhases: []string{"seq"}},
		},
	)
	seq, ok := reg.Phase("seq")
	require.True(t, ok)
	assert.Equal(t, ModeSequential, seq.Mode)

	grp, ok := reg.Phase("grp")
	require.True(t, ok)
	assert.Equal(t, ModeGrouped, grp.Mode)
	assert.Equal(t, []string{"b", "c"}, grp.Tasks)

	assert.Equal(t, []string{"seq", "grp"}, reg.PhaseOrder())
	assert.Equal(t, []string{"a", "b", "c"}, reg.TaskKeys())
}

func TestRegistry_IsImmutable(t *testing.T) {
	tasks := []TaskDefinition{{Key: "a", Stage: 1, DependsOn: []string{}}}
	phases := []PhaseDefinition{{ID: "p", Tasks: []string{"a"}}}
	reg := mustRegistry(t, tasks, phases)

	tasks[0].Stage = 99
	phases[0].Tasks[0] = "mutated"

	def, _ := reg.Task("a")
	assert.Equal(t, 1, def.Stage)
	def.Stage = 42
	again, _ := reg.Task("a")
	assert.Equal(t, 1, again.Stage)

	p, _ := reg.Phase("p")
	assert.Equal(t, []string{"a"}, p.Tasks)
	p.Tasks[0] = "x"
	p2, _ := reg.Phase("p")
	assert.Equal(t, []string{"a"}, p2.Tasks)
}

func TestRegistry_Plan(t *testing.T) {
	reg := mustRegistry(t,
		[]TaskDefinition{task("a", 1), task("b", 2), task("c", 3)},
		[]PhaseDefinition{
			{ID: "par", Tasks: []string{"a", "b"}, Mode: ModeParallel},
			{ID: "seq", Tasks: []string{"c"}},
			{ID: "grp", Groups: []ExecutionGroup{{Tasks: []string{"a"}}, {Tasks: []string{"b", "c"}, Parallel: true}}},
		},
	)

	plan, err := reg.Plan("par")
	require.NoError(t, err)
	assert.Equal(t, []ExecutionGroup{{Tasks: []string{"a", "b"}, Parallel: true}}, plan)

	plan, err = reg.Plan("seq")
	require.NoError(t, err)
	assert.Equal(t, []ExecutionGroup{{Tasks: []string{"c"}}}, plan)

	plan, err = reg.Plan("grp")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.True(t, plan[1].Parallel)

	_, err = reg.Plan("ghost")
	assert.True(t, errors.Is(err, ErrUnknownPhase))
}

func TestRegistry_ValidateTask(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{task("b", 2, 1)}, nil)
	st := NewPipelineState("r", nil)

	v, err := reg.ValidateTask("b", st)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"Stage 1 output"}, v.Missing)

	_, err = reg.ValidateTask("ghost", st)
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestRegistry_ValidateTask_RequirementsDefaultToRequired(t *testing.T) {
	reg := mustRegistry(t, []TaskDefinition{
		{Key: "review", Stage: 8, RequiredInputs: []InputRequirement{
			{Stage: 6, Fields: []string{OutputTextField}},
			{Stage: 7, Optional: true},
		}},
	}, nil)

	v, err := reg.ValidateTask("review", NewPipelineState("r", nil))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"Stage 6 output"}, v.Missing)
}
