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
	"fmt"
	"time"

	"github.com/cloudwego/contentflow/internal/log"
)

// strategy is the closed set of phase execution modes. Each mode maps to
// exactly one implementation, chosen once per phase by strategyFor.
type strategy interface {
	mode() ExecutionMode
	execute(ctx context.Context, e *Engine, def *PhaseDefinition, st *PipelineState) (*GroupResult, error)
}

type parallelStrategy struct{}

func (parallelStrategy) mode() ExecutionMode { return ModeParallel }

func (parallelStrategy) execute(ctx context.Context, e *Engine, def *PhaseDefinition, st *PipelineState) (*GroupResult, error) {
	return e.RunParallel(ctx, def.Tasks, st)
}

type sequentialStrategy struct{}

func (sequentialStrategy) mode() ExecutionMode { return ModeSequential }

func (sequentialStrategy) execute(ctx context.Context, e *Engine, def *PhaseDefinition, st *PipelineState) (*GroupResult, error) {
	return e.RunSequential(ctx, def.Tasks, st)
}

type groupedStrategy struct{}

func (groupedStrategy) mode() ExecutionMode { return ModeGrouped }

func (groupedStrategy) execute(ctx context.Context, e *Engine, def *PhaseDefinition, st *PipelineState) (*GroupResult, error) {
	return e.RunGrouped(ctx, def.Groups, st)
}

func strategyFor(def *PhaseDefinition) (strategy, error) {
	switch def.Mode {
	case ModeGrouped:
		return groupedStrategy{}, nil
	case ModeParallel:
		return parallelStrategy{}, nil
	case ModeSequential:
		return sequentialStrategy{}, nil
	default:
		return nil, configError(def.ID, ErrInvalidMode, "phase %q: mode %q", def.ID, def.Mode)
	}
}

// RunPhase executes one phase against st. The phase succeeds only if every
// task succeeds; there is no internal retry. On failure the returned
// PhaseResult is in PhaseFailed state and the error is a *PipelineError.
//
// A failed sequential or grouped phase may leave partial merges in st;
// callers that need atomicity snapshot before calling and restore on error.
func (e *Engine) RunPhase(ctx context.Context, phaseID string, st *PipelineState) (*PhaseResult, error) {
	def, ok := e.registry.phases[phaseID]
	if !ok {
		err := configError(phaseID, ErrUnknownPhase, "unknown phase %q", phaseID)
		err.Phase, err.RunID = phaseID, st.RunID
		return nil, err
	}
	strat, err := strategyFor(def)
	if err != nil {
		return nil, scopeToPhase(err, phaseID, st.RunID)
	}

	res := &PhaseResult{PhaseID: phaseID, State: PhasePending}
	log.Debug("phase %s: %d tasks as %s", phaseID, len(def.Tasks), strat.mode())
	e.opts.Observer.OnPhaseStart(phaseID, copyPhase(def))
	res.State = PhaseRunning

	start := time.Now()
	gr, err := strat.execute(ctx, e, def, st)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.State = PhaseFailed
		return res, scopeToPhase(err, phaseID, st.RunID)
	}

	res.State = PhaseSucceeded
	res.Success = true
	res.TaskResults = gr.Results
	res.TotalCost = gr.TotalCost
	e.opts.Observer.OnPhaseComplete(phaseID, copyPhase(def), res)
	return res, nil
}

// scopeToPhase stamps the phase on typed errors and wraps anything else
// into a phase-scoped PipelineError.
func scopeToPhase(err error, phaseID, runID string) error {
	if pe, ok := AsPipelineError(err); ok {
		if pe.Phase == "" {
			pe.Phase = phaseID
		}
		if pe.RunID == "" {
			pe.RunID = runID
		}
		return pe
	}
	return &PipelineError{
		Kind:    KindExecution,
		Stage:   -1,
		Name:    phaseID,
		Phase:   phaseID,
		Message: fmt.Sprintf("phase %s failed", phaseID),
		RunID:   runID,
		Cause:   err,
	}
}
