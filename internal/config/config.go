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

// Package config loads pipeline definitions and run settings from YAML.
package config

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/contentflow/internal/pipeline"
	"github.com/cloudwego/contentflow/llm"
	"github.com/cloudwego/contentflow/llm/prompt"
)

//go:embed default.yaml
var defaultYAML []byte

type Config struct {
	Run     RunConfig               `json:"run" yaml:"run"`
	Model   llm.ModelConfig         `json:"model" yaml:"model"`
	System  string                  `json:"system,omitempty" yaml:"system" jsonschema:"description=system prompt replacing the bundled one"`
	Prompts map[string]PromptConfig `json:"prompts,omitempty" yaml:"prompts" jsonschema:"description=prompt overrides keyed by task key or stage[:variant]"`
	Tasks   []TaskConfig            `json:"tasks" yaml:"tasks"`
	Phases  []PhaseConfig           `json:"phases" yaml:"phases"`

	// dir resolves relative prompt paths
	dir string
}

type RunConfig struct {
	TaskTimeout     time.Duration `json:"task_timeout,omitempty" yaml:"task_timeout" jsonschema:"type=string,description=per-task deadline e.g. 5m"`
	MaxParallelism  int           `json:"max_parallelism,omitempty" yaml:"max_parallelism" jsonschema:"description=bound on concurrent tasks in a parallel group; 0 means unbounded"`
	CancelOnFailure bool          `json:"cancel_on_failure,omitempty" yaml:"cancel_on_failure"`
	MaxRetry        int           `json:"max_retry,omitempty" yaml:"max_retry" jsonschema:"description=phase retries before rollback"`
	CheckpointDir   string        `json:"checkpoint_dir,omitempty" yaml:"checkpoint_dir"`
}

// PromptConfig is an inline template (Text) or a template file (Path).
type PromptConfig struct {
	Type prompt.PromptType `json:"type,omitempty" yaml:"type" jsonschema:"enum=text,enum=go-template"`
	Path string            `json:"path,omitempty" yaml:"path"`
	Text string            `json:"text,omitempty" yaml:"text"`
}

type TaskConfig struct {
	Key       string        `json:"key" yaml:"key" jsonschema:"required"`
	Stage     int           `json:"stage" yaml:"stage" jsonschema:"required,minimum=0"`
	Variant   string        `json:"variant,omitempty" yaml:"variant"`
	DependsOn []string      `json:"depends_on,omitempty" yaml:"depends_on"`
	Requires  []InputConfig `json:"requires,omitempty" yaml:"requires"`
	When      string        `json:"when,omitempty" yaml:"when" jsonschema:"description=boolean expression over run params"`
}

type InputConfig struct {
	Stage  int      `json:"stage" yaml:"stage" jsonschema:"required"`
	Fields []string `json:"fields,omitempty" yaml:"fields"`
	// Required defaults to true.
	Required *bool `json:"required,omitempty" yaml:"required"`
}

type PhaseConfig struct {
	ID             string        `json:"id" yaml:"id" jsonschema:"required"`
	Mode           string        `json:"mode,omitempty" yaml:"mode" jsonschema:"enum=parallel,enum=sequential,enum=grouped"`
	Tasks          []string      `json:"tasks,omitempty" yaml:"tasks"`
	Groups         []GroupConfig `json:"groups,omitempty" yaml:"groups"`
	RequiredPhases []string      `json:"required_phases,omitempty" yaml:"required_phases"`
}

type GroupConfig struct {
	Tasks    []string `json:"tasks" yaml:"tasks"`
	Parallel bool     `json:"parallel,omitempty" yaml:"parallel"`
}

// Default returns the bundled content pipeline.
func Default() *Config {
	c, err := Parse(defaultYAML)
	if err != nil {
		// default.yaml is covered by tests
		panic(err)
	}
	return c
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Parse decodes YAML and validates the task and phase tables. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if c.Run.TaskTimeout < 0 || c.Run.MaxParallelism < 0 || c.Run.MaxRetry < 0 {
		return nil, errors.New("run: task_timeout, max_parallelism and max_retry must not be negative")
	}
	if _, err := c.Registry(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Registry builds the immutable task and phase registry.
func (c *Config) Registry() (*pipeline.Registry, error) {
	tasks := make([]pipeline.TaskDefinition, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		def := pipeline.TaskDefinition{
			Key:       t.Key,
			Stage:     t.Stage,
			Variant:   t.Variant,
			DependsOn: t.DependsOn,
			When:      t.When,
		}
		for _, in := range t.Requires {
			def.RequiredInputs = append(def.RequiredInputs, pipeline.InputRequirement{
				Stage:    in.Stage,
				Fields:   in.Fields,
				Optional: in.Required != nil && !*in.Required,
			})
		}
		tasks = append(tasks, def)
	}
	phases := make([]pipeline.PhaseDefinition, 0, len(c.Phases))
	for _, p := range c.Phases {
		def := pipeline.PhaseDefinition{
			ID:             p.ID,
			Tasks:          p.Tasks,
			Mode:           pipeline.ExecutionMode(p.Mode),
			RequiredPhases: p.RequiredPhases,
		}
		for _, g := range p.Groups {
			def.Groups = append(def.Groups, pipeline.ExecutionGroup{Tasks: g.Tasks, Parallel: g.Parallel})
		}
		phases = append(phases, def)
	}
	return pipeline.NewRegistry(tasks, phases)
}

// EngineOptions maps the run section onto engine options.
func (c *Config) EngineOptions() []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithMaxParallelism(c.Run.MaxParallelism),
		pipeline.WithCancelOnFailure(c.Run.CancelOnFailure),
	}
	if c.Run.TaskTimeout > 0 {
		opts = append(opts, pipeline.WithTaskTimeout(c.Run.TaskTimeout))
	}
	return opts
}

func (c *Config) Agent() pipeline.Agent {
	return &pipeline.DefaultAgent{MaxRetry: c.Run.MaxRetry}
}

// Store opens the checkpoint store, or returns nil when checkpoint_dir is unset.
func (c *Config) Store() (pipeline.CheckpointStore, error) {
	if c.Run.CheckpointDir == "" {
		return nil, nil
	}
	s, err := pipeline.NewFileStore(c.resolve(c.Run.CheckpointDir))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Templates compiles the prompt overrides.
// SystemPrompt returns the configured system prompt, or nil for the bundled one.
func (c *Config) SystemPrompt() prompt.Prompt {
	if strings.TrimSpace(c.System) == "" {
		return nil
	}
	return prompt.NewTextPrompt(c.System)
}

func (c *Config) Templates() (map[string]*prompt.Template, error) {
	out := make(map[string]*prompt.Template, len(c.Prompts))
	for key, p := range c.Prompts {
		var (
			t   *prompt.Template
			err error
		)
		switch {
		case p.Text != "" && p.Type == prompt.PromptTypePlainText:
			t = prompt.Plain(key, p.Text)
		case p.Text != "":
			t, err = prompt.Parse(key, p.Text)
		case p.Path != "":
			t, err = prompt.NewFilePrompt(key, &prompt.FilePrompt{Type: p.Type, Path: c.resolve(p.Path)})
		default:
			err = errors.Errorf("prompt %s: text or path is required", key)
		}
		if err != nil {
			return nil, err
		}
		out[key] = t
	}
	return out, nil
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
