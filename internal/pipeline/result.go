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

// TaskResult is produced once per task execution and never modified.
type TaskResult struct {
	TaskKey     string        `json:"task_key"`
	Stage       int           `json:"stage"`
	Variant     string        `json:"variant,omitempty"`
	Success     bool          `json:"success"`
	Skipped     bool          `json:"skipped,omitempty"`
	Output      *RunnerOutput `json:"output,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	Cost        float64       `json:"cost"`
	InputUnits  int           `json:"input_units"`
	OutputUnits int           `json:"output_units"`
}

// GroupResult aggregates the tasks of one group executor call.
type GroupResult struct {
	Results    []*TaskResult `json:"results"`
	TotalCost  float64       `json:"total_cost"`
	DurationMs int64         `json:"duration_ms"`
}

func (g *GroupResult) add(other *GroupResult) {
	g.Results = append(g.Results, other.Results...)
	g.TotalCost += other.TotalCost
}

// PhaseState is the lifecycle of one phase execution.
type PhaseState int

const (
	PhasePending PhaseState = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (s PhaseState) String() string {
	switch s {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes s by name.
func (s PhaseState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether s is a final state.
func (s PhaseState) Terminal() bool { return s == PhaseSucceeded || s == PhaseFailed }

// PhaseResult aggregates the task results of one phase.
type PhaseResult struct {
	PhaseID     string        `json:"phase_id"`
	State       PhaseState    `json:"state"`
	Success     bool          `json:"success"`
	TaskResults []*TaskResult `json:"task_results"`
	TotalCost   float64       `json:"total_cost"`
	DurationMs  int64         `json:"duration_ms"`
}
