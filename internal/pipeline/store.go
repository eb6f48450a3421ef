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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoCheckpoint is returned when a run has no stored checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// CheckpointStore persists checkpoints for crash recovery.
type CheckpointStore interface {
	Save(cp *Checkpoint) error
	// Latest returns the most recently saved checkpoint of a run.
	Latest(runID string) (*Checkpoint, error)
	// List returns a run's checkpoints in save order.
	List(runID string) ([]*Checkpoint, error)
	// Runs returns the ids of runs with stored checkpoints, sorted.
	Runs() ([]string, error)
}

// FileStore keeps checkpoints as JSON files:
//
//	<dir>/<run-id>/<seq>-<phase-id>.json
//
// Writes go to a temp file that is synced and renamed into place.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) runDir(runID string) string { return filepath.Join(s.dir, runID) }

// Save implements CheckpointStore.
func (s *FileStore) Save(cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(cp.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create checkpoint dir")
	}
	names, err := s.files(cp.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	name := fmt.Sprintf("%04d-%s.json", len(names)+1, cp.PhaseID)
	return writeFileAtomic(filepath.Join(dir, name), data)
}

// Latest implements CheckpointStore.
func (s *FileStore) Latest(runID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.files(runID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoint, "run %s", runID)
	}
	return s.load(runID, names[len(names)-1])
}

// List implements CheckpointStore.
func (s *FileStore) List(runID string) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.files(runID)
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(names))
	for _, n := range names {
		cp, err := s.load(runID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Runs implements CheckpointStore.
func (s *FileStore) Runs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// files lists checkpoint file names of a run; zero-padded sequence
// prefixes make lexical order the save order.
func (s *FileStore) files(runID string) ([]string, error) {
	entries, err := os.ReadDir(s.runDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list checkpoints")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) load(runID, name string) (*Checkpoint, error) {
	return LoadCheckpoint(filepath.Join(s.runDir(runID), name))
}

// LoadCheckpoint reads and validates one checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	cp, err := decodeCheckpoint(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	if err := cp.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cp, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename checkpoint")
}

// MemoryStore keeps checkpoints in memory.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string][]*Checkpoint
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]*Checkpoint)}
}

// Save implements CheckpointStore.
func (m *MemoryStore) Save(cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	c.PreviousStages = cloneStages(cp.PreviousStages)
	m.runs[cp.RunID] = append(m.runs[cp.RunID], &c)
	return nil
}

// Latest implements CheckpointStore.
func (m *MemoryStore) Latest(runID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.runs[runID]
	if len(cps) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoint, "run %s", runID)
	}
	return cps[len(cps)-1], nil
}

// List implements CheckpointStore.
func (m *MemoryStore) List(runID string) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Checkpoint(nil), m.runs[runID]...), nil
}

// Runs implements CheckpointStore.
func (m *MemoryStore) Runs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
