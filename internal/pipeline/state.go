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
	"encoding/json"
	"sort"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/mitchellh/copystructure"
)

// OutputTextField is the reserved field under which a stage's raw text is stored.
const OutputTextField = "outputText"

// StageOutput is the merged output of one stage: an opaque field bag plus
// the raw text under OutputTextField.
type StageOutput map[string]any

// Text returns the stage's raw text, or "" if none was written.
func (s StageOutput) Text() string {
	if s == nil {
		return ""
	}
	t, _ := s[OutputTextField].(string)
	return t
}

// Has reports whether field is present and non-nil.
func (s StageOutput) Has(field string) bool {
	if s == nil {
		return false
	}
	v, ok := s[field]
	return ok && v != nil
}

// PipelineState is the mutable context of one pipeline run. It is owned by
// the caller; the engine mutates PreviousStages in place as tasks complete.
// A PipelineState must not be shared by two concurrently running phases.
type PipelineState struct {
	RunID string `json:"run_id"`
	// Params are run-level inputs, e.g. the target platform. They drive
	// task `when` conditions and are visible to prompt templates.
	Params         map[string]any      `json:"params,omitempty"`
	PreviousStages map[int]StageOutput `json:"previous_stages"`
}

// NewPipelineState returns an empty state. A random run id is assigned
// when runID is empty.
func NewPipelineState(runID string, params map[string]any) *PipelineState {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &PipelineState{
		RunID:          runID,
		Params:         params,
		PreviousStages: make(map[int]StageOutput),
	}
}

// Stage returns the merged output for stage, or nil.
func (s *PipelineState) Stage(stage int) StageOutput {
	if s == nil || s.PreviousStages == nil {
		return nil
	}
	return s.PreviousStages[stage]
}

// Stages returns the populated stage numbers in ascending order.
func (s *PipelineState) Stages() []int {
	out := make([]int, 0, len(s.PreviousStages))
	for n := range s.PreviousStages {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Clone returns a deep copy of state. Runners receive a clone so that a
// call orphaned by a timeout never observes later merges.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	out := &PipelineState{
		RunID:          s.RunID,
		PreviousStages: cloneStages(s.PreviousStages),
	}
	if s.Params != nil {
		out.Params = cloneMap(s.Params)
	}
	return out
}

// Merge folds out into the given stage: the union of existing and new
// fields, new values winning. Nested field bags are merged recursively.
// out.Text is stored under OutputTextField unless it is empty and the
// payload already carries that field.
func (s *PipelineState) Merge(stage int, out *RunnerOutput) error {
	if s.PreviousStages == nil {
		s.PreviousStages = make(map[int]StageOutput)
	}
	dst := s.PreviousStages[stage]
	if dst == nil {
		dst = make(StageOutput)
	}
	if out != nil {
		for k, v := range out.Payload {
			src, srcIsMap := v.(map[string]any)
			cur, curIsMap := dst[k].(map[string]any)
			if srcIsMap && curIsMap {
				merged := cloneMap(cur)
				if err := mergo.Merge(&merged, cloneMap(src), mergo.WithOverride); err != nil {
					return err
				}
				dst[k] = merged
				continue
			}
			dst[k] = cloneValue(v)
		}
		if _, ok := out.Payload[OutputTextField]; !ok || out.Text != "" {
			dst[OutputTextField] = out.Text
		}
	}
	s.PreviousStages[stage] = dst
	return nil
}

func cloneStages(in map[int]StageOutput) map[int]StageOutput {
	out := make(map[int]StageOutput, len(in))
	for n, st := range in {
		out[n] = StageOutput(cloneMap(st))
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies v. JSON-shaped values are copied directly; any
// other composite goes through copystructure.
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number, time.Time:
		return v
	case map[string]any:
		return cloneMap(t)
	case StageOutput:
		return StageOutput(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		c, err := copystructure.Copy(v)
		if err != nil {
			return v
		}
		return c
	}
}
