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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineState_AssignsRunID(t *testing.T) {
	st := NewPipelineState("", nil)
	assert.Len(t, st.RunID, 36)
	assert.NotNil(t, st.PreviousStages)
	assert.Equal(t, "given", NewPipelineState("given", nil).RunID)
}

func TestMerge_UnionWithNewValuesWinning(t *testing.T) {
	st := NewPipelineState("r", nil)
	require.NoError(t, st.Merge(1, &RunnerOutput{
		Text:    "first",
		Payload: map[string]any{"a": 1, "keep": "x", "meta": map[string]any{"lang": "en", "tone": "dry"}},
	}))
	require.NoError(t, st.Merge(1, &RunnerOutput{
		Text:    "second",
		Payload: map[string]any{"a": 2, "b": true, "meta": map[string]any{"tone": "warm"}},
	}))

	out := st.Stage(1)
	assert.Equal(t, "second", out.Text())
	assert.Equal(t, 2, out["a"])
	assert.Equal(t, true, out["b"])
	assert.Equal(t, "x", out["keep"])
	assert.Equal(t, map[string]any{"lang": "en", "tone": "warm"}, out["meta"])
}

func TestMerge_CopiesPayload(t *testing.T) {
	st := NewPipelineState("r", nil)
	payload := map[string]any{"list": []any{"a"}, "meta": map[string]any{"k": "v"}}
	require.NoError(t, st.Merge(2, &RunnerOutput{Payload: payload}))

	payload["meta"].(map[string]any)["k"] = "changed"
	payload["list"].([]any)[0] = "changed"
	assert.Equal(t, "v", st.Stage(2)["meta"].(map[string]any)["k"])
	assert.Equal(t, "a", st.Stage(2)["list"].([]any)[0])
}

type scene struct {
	Title string
	Beats []string
}

func TestMerge_CopiesTypedPayloads(t *testing.T) {
	st := NewPipelineState("r", nil)
	items := []map[string]any{{"title": "a"}}
	labels := map[string]string{"lang": "en"}
	counts := []int{1, 2}
	sc := &scene{Title: "open", Beats: []string{"hook"}}
	require.NoError(t, st.Merge(2, &RunnerOutput{Payload: map[string]any{
		"items": items, "labels": labels, "counts": counts, "scene": sc,
	}}))

	items[0]["title"] = "changed"
	labels["lang"] = "fr"
	counts[0] = 9
	sc.Title = "changed"
	sc.Beats[0] = "changed"

	out := st.Stage(2)
	assert.Equal(t, "a", out["items"].([]map[string]any)[0]["title"])
	assert.Equal(t, "en", out["labels"].(map[string]string)["lang"])
	assert.Equal(t, []int{1, 2}, out["counts"])
	assert.Equal(t, &scene{Title: "open", Beats: []string{"hook"}}, out["scene"])
}

func TestMerge_PayloadOutputTextSurvivesEmptyText(t *testing.T) {
	st := NewPipelineState("r", nil)
	require.NoError(t, st.Merge(4, &RunnerOutput{Payload: map[string]any{OutputTextField: "from payload"}}))
	assert.Equal(t, "from payload", st.Stage(4).Text())

	require.NoError(t, st.Merge(4, &RunnerOutput{Text: "from text", Payload: map[string]any{OutputTextField: "from payload"}}))
	assert.Equal(t, "from text", st.Stage(4).Text())

	require.NoError(t, st.Merge(5, &RunnerOutput{}))
	assert.True(t, st.Stage(5).Has(OutputTextField))
	assert.Equal(t, "", st.Stage(5).Text())
}

func TestMerge_NilOutputCreatesStage(t *testing.T) {
	st := &PipelineState{}
	require.NoError(t, st.Merge(3, nil))
	assert.NotNil(t, st.Stage(3))
	assert.False(t, st.Stage(3).Has(OutputTextField))
}

func TestClone_IsDeep(t *testing.T) {
	st := NewPipelineState("r", map[string]any{"platform": "youtube"})
	require.NoError(t, st.Merge(1, &RunnerOutput{Text: "t", Payload: map[string]any{"n": map[string]any{"x": 1}}}))

	c := st.Clone()
	c.PreviousStages[1]["n"].(map[string]any)["x"] = 2
	c.Params["platform"] = "tiktok"
	c.PreviousStages[9] = StageOutput{}

	assert.Equal(t, 1, st.Stage(1)["n"].(map[string]any)["x"])
	assert.Equal(t, "youtube", st.Params["platform"])
	assert.Nil(t, st.Stage(9))
}

func TestStageOutput_Has(t *testing.T) {
	s := StageOutput{"a": "x", "nil": nil}
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("nil"))
	assert.False(t, s.Has("missing"))
	assert.False(t, StageOutput(nil).Has("a"))
	assert.Equal(t, "", StageOutput(nil).Text())
}

func TestValidate_ListsEveryMissingInput(t *testing.T) {
	def := &TaskDefinition{
		Key:   "thumbnail",
		Stage: 7,
		RequiredInputs: []InputRequirement{
			{Stage: 3, Fields: []string{OutputTextField, "scenes"}},
			{Stage: 4},
			{Stage: 5, Fields: []string{OutputTextField}, Optional: true},
		},
	}
	st := NewPipelineState("r", nil)
	require.NoError(t, st.Merge(3, &RunnerOutput{Text: "script"}))

	v := Validate(def, st)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"Stage 3.scenes", "Stage 4 output"}, v.Missing)
	assert.Equal(t, "Stage 3.scenes, Stage 4 output", v.String())

	require.NoError(t, st.Merge(3, &RunnerOutput{Text: "script", Payload: map[string]any{"scenes": []any{"intro"}}}))
	require.NoError(t, st.Merge(4, &RunnerOutput{Text: "titles"}))
	v = Validate(def, st)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Missing)
	assert.Equal(t, "valid", v.String())
}

func TestValidate_NoRequirements(t *testing.T) {
	v := Validate(&TaskDefinition{Key: "research", Stage: 1}, NewPipelineState("r", nil))
	assert.True(t, v.Valid)
}
