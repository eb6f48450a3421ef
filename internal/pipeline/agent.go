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

// Agent decides what to do after a phase failed: retry it, roll the state
// back and stop, or stop leaving the partial state in place.
// The Agent only schedules; it never edits state.
type Agent interface {
	OnPhaseFailure(ctx context.Context, phaseID string, err error, attempt int) AgentDecision
}

// AgentDecision is the action to take after a phase failure.
type AgentDecision string

const (
	// DecisionRetry restores the pre-phase checkpoint and runs the phase again.
	DecisionRetry AgentDecision = "retry"
	// DecisionRollback restores the pre-phase checkpoint and stops the run.
	DecisionRollback AgentDecision = "rollback"
	// DecisionAbort stops the run without restoring, keeping partial merges
	// for inspection.
	DecisionAbort AgentDecision = "abort"
)

// DefaultAgent retries retryable failures up to MaxRetry times and rolls
// back otherwise. MaxRetry is the number of retries after the first
// attempt.
type DefaultAgent struct {
	MaxRetry int
}

// OnPhaseFailure implements Agent.
func (a *DefaultAgent) OnPhaseFailure(ctx context.Context, phaseID string, err error, attempt int) AgentDecision {
	if !IsRetryable(err) {
		return DecisionRollback
	}
	if attempt > a.MaxRetry {
		return DecisionRollback
	}
	return DecisionRetry
}
