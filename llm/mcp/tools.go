/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mcp

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/config"
	"github.com/cloudwego/contentflow/internal/pipeline"
)

const (
	ToolListTasks         = "list_tasks"
	ToolListPhases        = "list_phases"
	ToolPlanPhase         = "plan_phase"
	ToolValidateTask      = "validate_task"
	ToolInspectCheckpoint = "inspect_checkpoint"

	PromptStagePrompt = "stage_prompt"
)

const (
	DescListTasks         = "List every task definition of the pipeline in declaration order: stage, variant, dependencies, required inputs and run condition."
	DescListPhases        = "List the pipeline phases in run order with their execution mode, tasks and required phases."
	DescPlanPhase         = "Show the ordered execution groups of a phase. Tasks of a parallel group run concurrently; groups run one after another."
	DescValidateTask      = "Check whether a task's required inputs are satisfied by the given stage outputs. Returns every missing stage or field."
	DescInspectCheckpoint = "Load the latest checkpoint of a run (or a checkpoint file) and report which stages it holds. Fails if the checkpoint hash does not verify. Without run_id and path, lists the runs that have checkpoints."
)

var (
	SchemaListTasks         = config.GetJSONSchema(ListTasksReq{})
	SchemaListPhases        = config.GetJSONSchema(ListPhasesReq{})
	SchemaPlanPhase         = config.GetJSONSchema(PlanPhaseReq{})
	SchemaValidateTask      = config.GetJSONSchema(ValidateTaskReq{})
	SchemaInspectCheckpoint = config.GetJSONSchema(InspectCheckpointReq{})
)

type ListTasksReq struct{}

type ListTasksResp struct {
	Tasks []*pipeline.TaskDefinition `json:"tasks" jsonschema:"description=task definitions in declaration order"`
}

func (s *Server) ListTasks(ctx context.Context, req ListTasksReq) (*ListTasksResp, error) {
	reg := s.Registry()
	resp := &ListTasksResp{}
	for _, key := range reg.TaskKeys() {
		t, _ := reg.Task(key)
		resp.Tasks = append(resp.Tasks, t)
	}
	return resp, nil
}

type ListPhasesReq struct{}

type ListPhasesResp struct {
	Phases []*pipeline.PhaseDefinition `json:"phases" jsonschema:"description=phases in run order"`
}

func (s *Server) ListPhases(ctx context.Context, req ListPhasesReq) (*ListPhasesResp, error) {
	reg := s.Registry()
	resp := &ListPhasesResp{}
	for _, id := range reg.PhaseOrder() {
		p, _ := reg.Phase(id)
		resp.Phases = append(resp.Phases, p)
	}
	return resp, nil
}

type PlanPhaseReq struct {
	PhaseID string `json:"phase_id" jsonschema:"description=the id of the phase"`
}

type PlanPhaseResp struct {
	PhaseID string                    `json:"phase_id"`
	Mode    pipeline.ExecutionMode    `json:"mode"`
	Groups  []pipeline.ExecutionGroup `json:"groups"`
}

func (s *Server) PlanPhase(ctx context.Context, req PlanPhaseReq) (*PlanPhaseResp, error) {
	reg := s.Registry()
	groups, err := reg.Plan(req.PhaseID)
	if err != nil {
		return nil, err
	}
	p, _ := reg.Phase(req.PhaseID)
	return &PlanPhaseResp{PhaseID: p.ID, Mode: p.Mode, Groups: groups}, nil
}

type ValidateTaskReq struct {
	TaskKey        string                       `json:"task_key" jsonschema:"description=the key of the task"`
	PreviousStages map[int]pipeline.StageOutput `json:"previous_stages,omitempty" jsonschema:"description=stage outputs keyed by stage number"`
}

type ValidateTaskResp struct {
	TaskKey string `json:"task_key"`
	pipeline.ValidationResult
}

func (s *Server) ValidateTask(ctx context.Context, req ValidateTaskReq) (*ValidateTaskResp, error) {
	st := pipeline.NewPipelineState("validate", nil)
	for n, out := range req.PreviousStages {
		st.PreviousStages[n] = out
	}
	res, err := s.Registry().ValidateTask(req.TaskKey, st)
	if err != nil {
		return nil, err
	}
	return &ValidateTaskResp{TaskKey: req.TaskKey, ValidationResult: res}, nil
}

type InspectCheckpointReq struct {
	RunID string `json:"run_id,omitempty" jsonschema:"description=the run id; the latest checkpoint of the run is loaded"`
	Path  string `json:"path,omitempty" jsonschema:"description=path of a checkpoint file; used instead of run_id"`
}

type InspectCheckpointResp struct {
	RunID     string    `json:"run_id"`
	PhaseID   string    `json:"phase_id"`
	Timestamp time.Time `json:"timestamp"`
	Stages    []int     `json:"stages"`
	Hash      string    `json:"hash"`
	// Phases lists every checkpointed phase of the run in save order.
	Phases []string `json:"phases,omitempty"`
	// Runs is set instead of the fields above when no run was named.
	Runs []string `json:"runs,omitempty"`
}

// InspectCheckpoint loads a checkpoint. Loading verifies the hash, so a
// tampered file is reported as an error.
func (s *Server) InspectCheckpoint(ctx context.Context, req InspectCheckpointReq) (*InspectCheckpointResp, error) {
	var all []*pipeline.Checkpoint
	switch {
	case req.Path != "":
		cp, err := pipeline.LoadCheckpoint(req.Path)
		if err != nil {
			return nil, err
		}
		all = []*pipeline.Checkpoint{cp}
	case req.RunID != "":
		if s.store == nil {
			return nil, errors.New("no checkpoint store configured")
		}
		var err error
		if all, err = s.store.List(req.RunID); err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, errors.Wrapf(pipeline.ErrNoCheckpoint, "run %s", req.RunID)
		}
	case s.store != nil:
		runs, err := s.store.Runs()
		if err != nil {
			return nil, err
		}
		return &InspectCheckpointResp{Runs: runs}, nil
	default:
		return nil, errors.New("run_id or path is required without a checkpoint store")
	}

	cp := all[len(all)-1]
	st := &pipeline.PipelineState{PreviousStages: cp.PreviousStages}
	resp := &InspectCheckpointResp{
		RunID:     cp.RunID,
		PhaseID:   cp.PhaseID,
		Timestamp: cp.Timestamp,
		Stages:    st.Stages(),
		Hash:      cp.Hash,
	}
	if req.RunID != "" && req.Path == "" {
		for _, c := range all {
			resp.Phases = append(resp.Phases, c.PhaseID)
		}
	}
	return resp, nil
}
