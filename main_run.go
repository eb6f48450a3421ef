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

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/contentflow/internal/config"
	"github.com/cloudwego/contentflow/internal/log"
	"github.com/cloudwego/contentflow/internal/pipeline"
	"github.com/cloudwego/contentflow/llm"
)

// runOutput is what run and resume print.
type runOutput struct {
	Result *pipeline.RunResult          `json:"result"`
	Params map[string]any               `json:"params,omitempty"`
	Stages map[int]pipeline.StageOutput `json:"stages"`
	Error  string                       `json:"error,omitempty"`
}

func runPipeline(ctx context.Context, opts *cliOptions, resume bool) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	runner, err := newRunner(ctx, cfg, opts.dryRun)
	if err != nil {
		return err
	}
	engine, err := pipeline.NewEngine(reg, runner,
		append(cfg.EngineOptions(), pipeline.WithObserver(pipeline.LogObserver{}))...)
	if err != nil {
		return err
	}
	store, err := cfg.Store()
	if err != nil {
		return err
	}
	phases, err := phaseOrder(reg, opts.phases)
	if err != nil {
		return err
	}
	p := &pipeline.Pipeline{
		Engine: engine,
		Phases: phases,
		Agent:  cfg.Agent(),
		Store:  store,
	}

	st := pipeline.NewPipelineState(opts.runID, params)
	var (
		res *pipeline.RunResult
		cp  *pipeline.Checkpoint
	)
	if resume {
		if cp, err = loadResumePoint(store, opts); err != nil {
			return err
		}
		res, err = p.Resume(ctx, st, cp)
	} else {
		log.Info("starting run %s", st.RunID)
		res, err = p.Run(ctx, st)
	}

	out := runOutput{Result: res, Params: st.Params, Stages: st.PreviousStages}
	if err != nil {
		out.Error = err.Error()
	}
	if werr := writeOutput(opts.output, out); werr != nil {
		log.Error("write result: %v", werr)
	}
	if err != nil {
		return err
	}
	log.Info("run %s finished in %dms, cost $%.4f", res.RunID, res.DurationMs, res.TotalCost)
	return nil
}

func loadResumePoint(store pipeline.CheckpointStore, opts *cliOptions) (*pipeline.Checkpoint, error) {
	if opts.checkpoint != "" {
		return pipeline.LoadCheckpoint(opts.checkpoint)
	}
	if opts.runID == "" {
		return nil, errors.New("resume needs -run-id or -checkpoint")
	}
	if store == nil {
		return nil, errors.New("resume by run id needs run.checkpoint_dir in the config")
	}
	return store.Latest(opts.runID)
}

func newRunner(ctx context.Context, cfg *config.Config, dryRun bool) (pipeline.TaskRunner, error) {
	if dryRun {
		return echoRunner(), nil
	}
	cm, err := llm.NewChatModel(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}
	prompts, err := cfg.Templates()
	if err != nil {
		return nil, err
	}
	r, err := llm.NewStageRunner(llm.StageRunnerOptions{
		Model:   cm,
		Config:  cfg.Model,
		System:  cfg.SystemPrompt(),
		Prompts: prompts,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// echoRunner answers every task with its own key, under a field of the
// same name, so that field requirements named after producing tasks hold.
func echoRunner() pipeline.TaskRunner {
	return pipeline.RunnerFunc(func(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunnerOutput, error) {
		text := fmt.Sprintf("dry run: %s (stage %d)", req.TaskKey, req.Stage)
		return &pipeline.RunnerOutput{
			Text:    text,
			Payload: map[string]any{req.TaskKey: []any{text}},
		}, nil
	})
}

// parseParams turns key=value pairs into run params. Values are decoded as
// YAML scalars, so numbers and booleans keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, errors.Errorf("invalid param %q, want key=value", kv)
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		switch val.(type) {
		case int, float64, bool, string:
		default:
			val = v
		}
		params[k] = val
	}
	return params, nil
}
