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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Checkpoint is an immutable deep copy of a run's stages taken at a phase
// boundary. It is only ever consumed by Restore.
type Checkpoint struct {
	RunID          string              `json:"run_id"`
	PhaseID        string              `json:"phase_id"`
	Timestamp      time.Time           `json:"timestamp"`
	PreviousStages map[int]StageOutput `json:"previous_stages"`
	// Hash is the hex sha256 of the stages' canonical JSON.
	Hash string `json:"hash"`
}

// Snapshot captures st after (or before) phaseID.
func Snapshot(st *PipelineState, phaseID string) *Checkpoint {
	stages := cloneStages(st.PreviousStages)
	return &Checkpoint{
		RunID:          st.RunID,
		PhaseID:        phaseID,
		Timestamp:      time.Now(),
		PreviousStages: stages,
		Hash:           hashStages(stages),
	}
}

// Restore replaces st.PreviousStages with a deep copy of the checkpoint,
// discarding every mutation made since it was taken.
func Restore(st *PipelineState, cp *Checkpoint) {
	st.PreviousStages = cloneStages(cp.PreviousStages)
}

// Validate checks the fields a persisted checkpoint must carry.
func (c *Checkpoint) Validate() error {
	var missing []string
	if strings.TrimSpace(c.RunID) == "" {
		missing = append(missing, "run_id")
	}
	if strings.TrimSpace(c.PhaseID) == "" {
		missing = append(missing, "phase_id")
	}
	if c.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return errors.Errorf("checkpoint: missing %s", strings.Join(missing, ", "))
	}
	if c.Hash != "" && c.Hash != hashStages(c.PreviousStages) {
		return errors.Errorf("checkpoint %s/%s: hash mismatch", c.RunID, c.PhaseID)
	}
	return nil
}

// hashStages hashes the stages as they read back from disk, so a
// checkpoint hashes the same before and after it is persisted.
func hashStages(stages map[int]StageOutput) string {
	raw, err := json.Marshal(stages)
	if err != nil {
		return ""
	}
	canonical, err := decodeStages(raw)
	if err != nil {
		return ""
	}
	if raw, err = json.Marshal(canonical); err != nil {
		return ""
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

func decodeStages(data []byte) (map[int]StageOutput, error) {
	var stages map[int]StageOutput
	if err := decodeJSON(data, &stages); err != nil {
		return nil, err
	}
	normalizeStages(stages)
	return stages, nil
}

// decodeCheckpoint decodes a persisted checkpoint. Numbers keep their
// exact value: integers come back as int64, everything else as float64.
func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := decodeJSON(data, &cp); err != nil {
		return nil, err
	}
	normalizeStages(cp.PreviousStages)
	return &cp, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func normalizeStages(stages map[int]StageOutput) {
	for n, st := range stages {
		for k, v := range st {
			st[k] = normalizeNumber(v)
		}
		stages[n] = st
	}
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumber(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumber(e)
		}
		return t
	default:
		return v
	}
}
