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
	"github.com/Knetic/govaluate"
)

// InputRequirement declares which fields of a prior stage must be present
// before a task may run. Fields may be empty, in which case only the
// stage's presence is checked. A requirement is enforced unless it is
// marked Optional.
type InputRequirement struct {
	Stage    int      `json:"stage"`
	Fields   []string `json:"fields,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// TaskDefinition describes one unit of pipeline work.
type TaskDefinition struct {
	Key   string `json:"key"`
	Stage int    `json:"stage"`
	// Variant distinguishes sibling tasks that share a Stage, e.g. a platform name.
	Variant string `json:"variant,omitempty"`
	// DependsOn lists tasks whose output this task logically needs. It is
	// checked for existence at registry build time and never walked at run time.
	DependsOn      []string           `json:"depends_on,omitempty"`
	RequiredInputs []InputRequirement `json:"required_inputs,omitempty"`
	// When is an optional boolean expression over run params. A task whose
	// condition evaluates to false is skipped.
	When string `json:"when,omitempty"`

	when *govaluate.EvaluableExpression
}

// ExecutionMode is the concurrency mode of a phase.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
	ModeGrouped    ExecutionMode = "grouped"
)

// ExecutionGroup is one step of a grouped phase.
type ExecutionGroup struct {
	Tasks    []string `json:"tasks"`
	Parallel bool     `json:"parallel"`
}

// PhaseDefinition is an ordered group of tasks executed atomically.
type PhaseDefinition struct {
	ID             string           `json:"id"`
	Tasks          []string         `json:"tasks"`
	Mode           ExecutionMode    `json:"mode"`
	Groups         []ExecutionGroup `json:"groups,omitempty"`
	RequiredPhases []string         `json:"required_phases,omitempty"`
}

// Registry is the read-only table of task and phase definitions. It is
// built once by NewRegistry and never mutated afterwards, so it is safe
// for concurrent use.
type Registry struct {
	tasks      map[string]*TaskDefinition
	taskOrder  []string
	phases     map[string]*PhaseDefinition
	phaseOrder []string
}

// NewRegistry validates tasks and phases and returns an immutable registry.
// Phase order is the order of the phases slice. Definitions are copied;
// later changes to the arguments have no effect.
//
// Phases declaring Groups are normalised to ModeGrouped; an empty Mode
// otherwise defaults to ModeSequential.
func NewRegistry(tasks []TaskDefinition, phases []PhaseDefinition) (*Registry, error) {
	r := &Registry{
		tasks:  make(map[string]*TaskDefinition, len(tasks)),
		phases: make(map[string]*PhaseDefinition, len(phases)),
	}

	for i := range tasks {
		t := copyTask(&tasks[i])
		if t.Key == "" {
			return nil, configError("", ErrEmptyKey, "task[%d]: key is required", i)
		}
		if _, dup := r.tasks[t.Key]; dup {
			return nil, configError(t.Key, ErrDuplicateKey, "task %q declared twice", t.Key)
		}
		if t.When != "" {
			expr, err := govaluate.NewEvaluableExpression(t.When)
			if err != nil {
				return nil, configError(t.Key, ErrInvalidCondition, "task %q: cannot parse when %q: %v", t.Key, t.When, err)
			}
			t.when = expr
		}
		r.tasks[t.Key] = t
		r.taskOrder = append(r.taskOrder, t.Key)
	}
	for _, t := range r.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := r.tasks[dep]; !ok {
				return nil, configError(t.Key, ErrUnknownTask, "task %q depends on unknown task %q", t.Key, dep)
			}
		}
	}

	for i := range phases {
		p := copyPhase(&phases[i])
		if p.ID == "" {
			return nil, configError("", ErrEmptyKey, "phase[%d]: id is required", i)
		}
		if _, dup := r.phases[p.ID]; dup {
			return nil, configError(p.ID, ErrDuplicateKey, "phase %q declared twice", p.ID)
		}
		if err := r.normalizePhase(p); err != nil {
			return nil, err
		}
		r.phases[p.ID] = p
		r.phaseOrder = append(r.phaseOrder, p.ID)
	}
	for _, p := range r.phases {
		for _, req := range p.RequiredPhases {
			if _, ok := r.phases[req]; !ok {
				return nil, configError(p.ID, ErrUnknownPhase, "phase %q requires unknown phase %q", p.ID, req)
			}
		}
	}
	if err := r.detectPhaseCycle(); err != nil {
		return nil, err
	}
	if err := r.checkStageOverlap(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) normalizePhase(p *PhaseDefinition) error {
	if len(p.Groups) > 0 {
		p.Mode = ModeGrouped
	} else if p.Mode == "" {
		p.Mode = ModeSequential
	}
	switch p.Mode {
	case ModeParallel, ModeSequential:
	case ModeGrouped:
		if len(p.Groups) == 0 {
			return configError(p.ID, ErrGroupMismatch, "phase %q is grouped but declares no groups", p.ID)
		}
	default:
		return configError(p.ID, ErrInvalidMode, "phase %q: mode %q", p.ID, p.Mode)
	}

	seen := make(map[string]bool, len(p.Tasks))
	for _, key := range p.Tasks {
		if _, ok := r.tasks[key]; !ok {
			return configError(p.ID, ErrUnknownTask, "phase %q references unknown task %q", p.ID, key)
		}
		if seen[key] {
			return configError(p.ID, ErrDuplicateKey, "phase %q lists task %q twice", p.ID, key)
		}
		seen[key] = true
	}

	if p.Mode != ModeGrouped {
		return nil
	}
	// Groups must partition the task list exactly. A grouped phase with an
	// empty task list takes its tasks from the groups.
	inGroups := make(map[string]bool)
	var flat []string
	for gi, g := range p.Groups {
		if len(g.Tasks) == 0 {
			return configError(p.ID, ErrGroupMismatch, "phase %q: group %d is empty", p.ID, gi)
		}
		for _, key := range g.Tasks {
			if _, ok := r.tasks[key]; !ok {
				return configError(p.ID, ErrUnknownTask, "phase %q group %d references unknown task %q", p.ID, gi, key)
			}
			if inGroups[key] {
				return configError(p.ID, ErrGroupMismatch, "phase %q: task %q appears in more than one group", p.ID, key)
			}
			inGroups[key] = true
			flat = append(flat, key)
		}
	}
	if len(p.Tasks) == 0 {
		p.Tasks = flat
		return nil
	}
	if len(inGroups) != len(seen) {
		return configError(p.ID, ErrGroupMismatch, "phase %q: groups cover %d tasks, phase lists %d", p.ID, len(inGroups), len(seen))
	}
	for key := range seen {
		if !inGroups[key] {
			return configError(p.ID, ErrGroupMismatch, "phase %q: task %q is not in any group", p.ID, key)
		}
	}
	return nil
}

// detectPhaseCycle uses DFS with color marking over RequiredPhases.
func (r *Registry) detectPhaseCycle() error {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(r.phases))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, req := range r.phases[id].RequiredPhases {
			switch colors[req] {
			case gray:
				return true
			case white:
				if visit(req) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}
	for _, id := range r.phaseOrder {
		if colors[id] == white && visit(id) {
			return configError(id, ErrPhaseCycle, "starting from phase %q", id)
		}
	}
	return nil
}

// checkStageOverlap rejects parallel groups in which two tasks write the
// same stage while some task reads that stage, unless every writer is
// guarded by a when condition (declared mutually exclusive variants).
func (r *Registry) checkStageOverlap() error {
	readers := make(map[int]string)
	for _, key := range r.taskOrder {
		for _, in := range r.tasks[key].RequiredInputs {
			if _, ok := readers[in.Stage]; !ok {
				readers[in.Stage] = key
			}
		}
	}
	for _, id := range r.phaseOrder {
		for _, g := range r.parallelGroups(r.phases[id]) {
			writers := make(map[int][]*TaskDefinition)
			for _, key := range g {
				t := r.tasks[key]
				writers[t.Stage] = append(writers[t.Stage], t)
			}
			for stage, ws := range writers {
				if len(ws) < 2 {
					continue
				}
				reader, read := readers[stage]
				if !read {
					continue
				}
				exclusive := true
				for _, w := range ws {
					if w.when == nil {
						exclusive = false
						break
					}
				}
				if !exclusive {
					return configError(id, ErrStageOverlap,
						"phase %q: tasks %q and %q both write stage %d, which task %q reads",
						id, ws[0].Key, ws[1].Key, stage, reader)
				}
			}
		}
	}
	return nil
}

func (r *Registry) parallelGroups(p *PhaseDefinition) [][]string {
	switch p.Mode {
	case ModeParallel:
		return [][]string{p.Tasks}
	case ModeGrouped:
		var out [][]string
		for _, g := range p.Groups {
			if g.Parallel {
				out = append(out, g.Tasks)
			}
		}
		return out
	default:
		return nil
	}
}

// Task returns the definition for key.
func (r *Registry) Task(key string) (*TaskDefinition, bool) {
	t, ok := r.tasks[key]
	if !ok {
		return nil, false
	}
	return copyTask(t), true
}

// Phase returns the definition for id.
func (r *Registry) Phase(id string) (*PhaseDefinition, bool) {
	p, ok := r.phases[id]
	if !ok {
		return nil, false
	}
	return copyPhase(p), true
}

// TaskKeys returns task keys in declaration order.
func (r *Registry) TaskKeys() []string { return append([]string(nil), r.taskOrder...) }

// PhaseOrder returns phase ids in declaration order.
func (r *Registry) PhaseOrder() []string { return append([]string(nil), r.phaseOrder...) }

// ValidateTask runs the dependency validator for key against st.
func (r *Registry) ValidateTask(key string, st *PipelineState) (ValidationResult, error) {
	t, ok := r.tasks[key]
	if !ok {
		return ValidationResult{}, configError(key, ErrUnknownTask, "unknown task %q", key)
	}
	return Validate(t, st), nil
}

// Plan returns the ordered execution groups of a phase: one parallel group
// for a parallel phase, one sequential group for a sequential phase, the
// declared groups for a grouped phase.
func (r *Registry) Plan(phaseID string) ([]ExecutionGroup, error) {
	p, ok := r.phases[phaseID]
	if !ok {
		return nil, configError(phaseID, ErrUnknownPhase, "unknown phase %q", phaseID)
	}
	switch p.Mode {
	case ModeParallel:
		return []ExecutionGroup{{Tasks: append([]string(nil), p.Tasks...), Parallel: true}}, nil
	case ModeSequential:
		return []ExecutionGroup{{Tasks: append([]string(nil), p.Tasks...)}}, nil
	default:
		return copyPhase(p).Groups, nil
	}
}

func copyTask(t *TaskDefinition) *TaskDefinition {
	out := *t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	out.RequiredInputs = make([]InputRequirement, len(t.RequiredInputs))
	for i, in := range t.RequiredInputs {
		in.Fields = append([]string(nil), in.Fields...)
		out.RequiredInputs[i] = in
	}
	return &out
}

func copyPhase(p *PhaseDefinition) *PhaseDefinition {
	out := *p
	out.Tasks = append([]string(nil), p.Tasks...)
	out.RequiredPhases = append([]string(nil), p.RequiredPhases...)
	out.Groups = make([]ExecutionGroup, len(p.Groups))
	for i, g := range p.Groups {
		out.Groups[i] = ExecutionGroup{Tasks: append([]string(nil), g.Tasks...), Parallel: g.Parallel}
	}
	return &out
}
