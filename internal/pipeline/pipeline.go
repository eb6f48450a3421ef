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
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/log"
)

// PhaseRecord is an immutable log entry for one phase attempt.
type PhaseRecord struct {
	PhaseID  string     `json:"phase_id"`
	Attempt  int        `json:"attempt"`
	State    PhaseState `json:"state"`
	Decision string     `json:"decision,omitempty"`
	Error    string     `json:"error,omitempty"`
	Time     time.Time  `json:"time"`
}

// RunResult summarises a pipeline run.
type RunResult struct {
	RunID          string         `json:"run_id"`
	Phases         []*PhaseResult `json:"phases"`
	TotalCost      float64        `json:"total_cost"`
	DurationMs     int64          `json:"duration_ms"`
	History        []PhaseRecord  `json:"history"`
	LastCheckpoint *Checkpoint    `json:"-"`
}

// Pipeline drives phases in order with phase-level retry: it snapshots the
// state before each phase, restores it when the phase fails and lets the
// Agent decide whether to run the phase again. After each successful phase
// a checkpoint is saved to Store.
type Pipeline struct {
	Engine *Engine
	// Phases is the run order; the registry's declaration order when empty.
	Phases []string
	Agent  Agent
	// Store is optional.
	Store CheckpointStore
}

// Run executes all phases from the start.
func (p *Pipeline) Run(ctx context.Context, st *PipelineState) (*RunResult, error) {
	return p.run(ctx, st, nil)
}

// Resume restores cp into st and runs the phases after cp.PhaseID.
func (p *Pipeline) Resume(ctx context.Context, st *PipelineState, cp *Checkpoint) (*RunResult, error) {
	if cp == nil {
		return nil, errors.New("resume: nil checkpoint")
	}
	order := p.order()
	idx := -1
	for i, id := range order {
		if id == cp.PhaseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, configError(cp.PhaseID, ErrUnknownPhase, "checkpoint phase %q is not in the run order", cp.PhaseID)
	}
	Restore(st, cp)
	if cp.RunID != "" {
		st.RunID = cp.RunID
	}
	log.Info("resuming run %s after phase %s", st.RunID, cp.PhaseID)
	return p.run(ctx, st, order[:idx+1])
}

func (p *Pipeline) order() []string {
	if len(p.Phases) > 0 {
		return p.Phases
	}
	return p.Engine.Registry().PhaseOrder()
}

func (p *Pipeline) run(ctx context.Context, st *PipelineState, done []string) (*RunResult, error) {
	if p.Engine == nil {
		return nil, errors.New("pipeline: nil engine")
	}
	if p.Agent == nil {
		p.Agent = &DefaultAgent{MaxRetry: 1}
	}
	start := time.Now()
	out := &RunResult{RunID: st.RunID}
	completed := make(map[string]bool, len(done))
	for _, id := range done {
		completed[id] = true
	}

	for _, id := range p.order() {
		if completed[id] {
			continue
		}
		if err := p.checkRequired(id, completed, st); err != nil {
			out.DurationMs = time.Since(start).Milliseconds()
			return out, err
		}
		res, err := p.runPhase(ctx, id, st, out)
		if res != nil {
			out.Phases = append(out.Phases, res)
			out.TotalCost += res.TotalCost
		}
		if err != nil {
			out.DurationMs = time.Since(start).Milliseconds()
			return out, err
		}
		completed[id] = true

		cp := Snapshot(st, id)
		out.LastCheckpoint = cp
		if p.Store != nil {
			if err := p.Store.Save(cp); err != nil {
				out.DurationMs = time.Since(start).Milliseconds()
				return out, errors.Wrapf(err, "save checkpoint after phase %s", id)
			}
		}
	}
	out.DurationMs = time.Since(start).Milliseconds()
	return out, nil
}

func (p *Pipeline) checkRequired(id string, completed map[string]bool, st *PipelineState) error {
	def, ok := p.Engine.Registry().Phase(id)
	if !ok {
		err := configError(id, ErrUnknownPhase, "unknown phase %q", id)
		err.Phase, err.RunID = id, st.RunID
		return err
	}
	for _, req := range def.RequiredPhases {
		if !completed[req] {
			err := configError(id, ErrPhaseNotCompleted, "phase %q requires phase %q", id, req)
			err.Phase, err.RunID = id, st.RunID
			return err
		}
	}
	return nil
}

// runPhase runs one phase until it succeeds or the Agent gives up.
func (p *Pipeline) runPhase(ctx context.Context, id string, st *PipelineState, out *RunResult) (*PhaseResult, error) {
	before := Snapshot(st, id)
	attempt := 0
	for {
		attempt++
		res, err := p.Engine.RunPhase(ctx, id, st)
		if err == nil {
			out.History = append(out.History, PhaseRecord{
				PhaseID: id,
				Attempt: attempt,
				State:   PhaseSucceeded,
				Time:    time.Now(),
			})
			return res, nil
		}

		decision := DecisionRollback
		if ctx.Err() == nil {
			decision = p.Agent.OnPhaseFailure(ctx, id, err, attempt)
		}
		out.History = append(out.History, PhaseRecord{
			PhaseID:  id,
			Attempt:  attempt,
			State:    PhaseFailed,
			Decision: string(decision),
			Error:    err.Error(),
			Time:     time.Now(),
		})

		switch decision {
		case DecisionRetry:
			log.Warn("phase %s attempt %d failed, retrying: %v", id, attempt, err)
			Restore(st, before)
			continue
		case DecisionRollback:
			log.Error("phase %s failed after %d attempt(s), rolled back: %v", id, attempt, err)
			Restore(st, before)
			return res, err
		default:
			log.Error("phase %s aborted after %d attempt(s): %v", id, attempt, err)
			return res, err
		}
	}
}
