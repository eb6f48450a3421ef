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
)

// RunRequest is what the engine hands to a TaskRunner.
type RunRequest struct {
	TaskKey string
	Stage   int
	Variant string
	// State is a private deep copy of the run state taken when the task
	// started; the runner may read it freely.
	State *PipelineState
}

// RunnerOutput is a runner's structured result.
type RunnerOutput struct {
	Payload     map[string]any `json:"payload,omitempty"`
	Text        string         `json:"text"`
	Cost        float64        `json:"cost"`
	InputUnits  int            `json:"input_units"`
	OutputUnits int            `json:"output_units"`
}

// TaskRunner performs the actual work of a stage, e.g. a call to a
// generative model. The engine never looks inside a runner.
type TaskRunner interface {
	Run(ctx context.Context, req *RunRequest) (*RunnerOutput, error)
}

// RunnerFunc adapts a function to TaskRunner.
type RunnerFunc func(ctx context.Context, req *RunRequest) (*RunnerOutput, error)

// Run implements TaskRunner.
func (f RunnerFunc) Run(ctx context.Context, req *RunRequest) (*RunnerOutput, error) {
	return f(ctx, req)
}
