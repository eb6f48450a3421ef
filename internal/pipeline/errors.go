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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind sentinels. A *PipelineError matches the sentinel of its kind through
// errors.Is, so callers never need to type-assert to branch on failure class.
var (
	ErrConfig     = errors.New("pipeline configuration error")
	ErrValidation = errors.New("missing required inputs")
	ErrExecution  = errors.New("task execution failed")
	ErrTimeout    = errors.New("task execution timeout")
	ErrCancelled  = errors.New("task cancelled")
)

// Registry construction errors.
var (
	ErrEmptyKey          = errors.New("key is required")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrUnknownTask       = errors.New("unknown task")
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrPhaseCycle        = errors.New("cycle detected in required phases")
	ErrInvalidMode       = errors.New("invalid execution mode")
	ErrGroupMismatch     = errors.New("execution groups do not match phase tasks")
	ErrInvalidCondition  = errors.New("invalid when condition")
	ErrStageOverlap      = errors.New("tasks sharing a stage would overwrite each other")
	ErrPhaseNotCompleted = errors.New("required phase has not completed")
)

// ErrorKind classifies a PipelineError.
type ErrorKind int

const (
	KindConfig ErrorKind = iota
	KindValidation
	KindExecution
	KindTimeout
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindValidation:
		return "validation"
	case KindExecution:
		return "execution"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindValidation:
		return ErrValidation
	case KindExecution:
		return ErrExecution
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// PipelineError is the only error type surfaced out of the engine.
// Stage is -1 when the failure is not tied to a single task.
type PipelineError struct {
	Kind    ErrorKind
	Stage   int
	Name    string // task key, or phase id for phase-scoped errors
	Phase   string
	Message string
	RunID   string
	Cause   error
}

func (e *PipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Phase != "" {
		fmt.Fprintf(&sb, " in phase %q", e.Phase)
	}
	if e.Name != "" && e.Name != e.Phase {
		fmt.Fprintf(&sb, " at task %q", e.Name)
	}
	if e.Stage >= 0 {
		fmt.Fprintf(&sb, " (stage %d)", e.Stage)
	}
	if e.RunID != "" {
		fmt.Fprintf(&sb, " [run %s]", e.RunID)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's kind.
func (e *PipelineError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Retryable reports whether re-running the phase may succeed. Config and
// validation failures are defects in configuration or upstream data and
// will fail identically on retry.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case KindExecution, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}

func configError(name string, cause error, format string, args ...any) *PipelineError {
	return &PipelineError{
		Kind:    KindConfig,
		Stage:   -1,
		Name:    name,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// AsPipelineError unwraps err to a *PipelineError if it carries one.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable pipeline failure.
// Errors that do not come from the engine are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsPipelineError(err); ok {
		return pe.Retryable()
	}
	return true
}
