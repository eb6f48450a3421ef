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

// ValidationResult lists every unmet input of a task.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
}

func (v ValidationResult) String() string {
	if v.Valid {
		return "valid"
	}
	return strings.Join(v.Missing, ", ")
}

// Validate checks that every required input of def is present in st.
// It reports all missing stages and fields, not just the first, and has
// no side effects.
func Validate(def *TaskDefinition, st *PipelineState) ValidationResult {
	var missing []string
	for _, in := range def.RequiredInputs {
		if in.Optional {
			continue
		}
		stage, ok := st.PreviousStages[in.Stage]
		if !ok {
			missing = append(missing, fmt.Sprintf("Stage %d output", in.Stage))
			continue
		}
		for _, f := range in.Fields {
			if !stage.Has(f) {
				missing = append(missing, fmt.Sprintf("Stage %d.%s", in.Stage, f))
			}
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// shouldRun evaluates the task's when condition against run params.
// Tasks without a condition always run.
func shouldRun(def *TaskDefinition, st *PipelineState) (bool, error) {
	if def.when == nil {
		return true, nil
	}
	params := make(map[string]interface{}, len(st.Params))
	for _, v := range def.when.Vars() {
		params[v] = nil
	}
	for k, v := range st.Params {
		params[k] = v
	}
	res, err := def.when.Evaluate(params)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate when %q", def.When)
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, errors.Errorf("when %q evaluated to %T, want bool", def.When, res)
	}
	return ok, nil
}
