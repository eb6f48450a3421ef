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

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/log"
	"github.com/cloudwego/contentflow/internal/pipeline"
	"github.com/cloudwego/contentflow/internal/utils"
	"github.com/cloudwego/contentflow/llm/prompt"
)

type StageRunnerOptions struct {
	Model  ChatModel
	Config ModelConfig
	// Prompts overrides bundled templates. Keys are tried in order:
	// task key, "<stage>:<variant>", "<stage>".
	Prompts map[string]*prompt.Template
	// System replaces the bundled system prompt when set.
	System prompt.Prompt
	// Backoff returns the wait before retry attempt n (n >= 1).
	Backoff func(n int) time.Duration
}

// StageRunner renders a stage prompt from the run state, calls the chat
// model and turns the reply into a RunnerOutput.
type StageRunner struct {
	model   ChatModel
	cfg     ModelConfig
	prompts map[string]*prompt.Template
	system  string
	backoff func(int) time.Duration
}

var _ pipeline.TaskRunner = (*StageRunner)(nil)

func NewStageRunner(opts StageRunnerOptions) (*StageRunner, error) {
	if opts.Model == nil {
		return nil, errors.New("stage runner: nil chat model")
	}
	r := &StageRunner{
		model:   opts.Model,
		cfg:     opts.Config.withDefaults(),
		prompts: opts.Prompts,
		system:  prompt.SystemPrompt,
		backoff: opts.Backoff,
	}
	if opts.System != nil && opts.System.String() != "" {
		r.system = opts.System.String()
	}
	if r.backoff == nil {
		r.backoff = exponentialBackoff
	}
	return r, nil
}

// exponentialBackoff waits 1s, 2s, 4s... capped at 10s.
func exponentialBackoff(n int) time.Duration {
	d := time.Duration(1<<uint(n-1)) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func (r *StageRunner) template(req *pipeline.RunRequest) (*prompt.Template, error) {
	keys := []string{req.TaskKey}
	if req.Variant != "" {
		keys = append(keys, strconv.Itoa(req.Stage)+":"+req.Variant)
	}
	keys = append(keys, strconv.Itoa(req.Stage))
	for _, k := range keys {
		if t, ok := r.prompts[k]; ok && t != nil {
			return t, nil
		}
	}
	if t, ok := prompt.Builtin(req.TaskKey); ok {
		return t, nil
	}
	return nil, errors.Errorf("no prompt for task %q (stage %d)", req.TaskKey, req.Stage)
}

func promptData(req *pipeline.RunRequest) prompt.Data {
	d := prompt.Data{
		Task:    req.TaskKey,
		Stage:   req.Stage,
		Variant: req.Variant,
		Stages:  map[int]map[string]any{},
	}
	if req.State != nil {
		d.Params = req.State.Params
		for n, out := range req.State.PreviousStages {
			d.Stages[n] = out
		}
	}
	return d
}

// Run implements pipeline.TaskRunner.
func (r *StageRunner) Run(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunnerOutput, error) {
	tpl, err := r.template(req)
	if err != nil {
		return nil, err
	}
	user, err := tpl.Render(promptData(req))
	if err != nil {
		return nil, err
	}
	log.Debug("[User] %s", user)
	msgs := []*schema.Message{
		schema.SystemMessage(r.system),
		schema.UserMessage(user),
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      req.TaskKey,
		Type:      string(r.cfg.APIType),
		Component: components.ComponentOfChatModel,
	}, CallbackHandler{})

	msg, err := r.generate(ctx, msgs)
	if err != nil {
		return nil, utils.WrapError(err, "stage %d (%s)", req.Stage, req.TaskKey)
	}

	in, out := usageOf(msg)
	res := &pipeline.RunnerOutput{
		Text:        strings.TrimSpace(msg.Content),
		InputUnits:  in,
		OutputUnits: out,
		Cost:        r.cfg.Pricing.Cost(in, out),
	}
	if obj, ok := utils.ExtractJSONObject(msg.Content); ok {
		var payload map[string]any
		if err := json.Unmarshal([]byte(obj), &payload); err == nil {
			res.Payload = payload
		} else {
			log.Warn("stage %d (%s): reply JSON ignored: %v", req.Stage, req.TaskKey, err)
		}
	}
	return res, nil
}

func (r *StageRunner) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			log.Info("Retrying LLM call (attempt %d/%d)...", attempt+1, r.cfg.Retries+1)
			wait := time.NewTimer(r.backoff(attempt))
			select {
			case <-ctx.Done():
				wait.Stop()
				return nil, ctx.Err()
			case <-wait.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		msg, err := r.model.Generate(attemptCtx, msgs)
		cancel()
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isTransient(err) {
			log.Error("Non-retryable error occurred: %v", err)
			return nil, err
		}
		log.Info("Retryable error occurred (attempt %d/%d): %v", attempt+1, r.cfg.Retries+1, err)
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", r.cfg.Retries+1, lastErr)
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"deadline exceeded",
	"read tcp",
	"write tcp",
	"EOF",
	"temporary failure",
	"429",
	"rate limit",
}

func isTransient(err error) bool {
	s := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
