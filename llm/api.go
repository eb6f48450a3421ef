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
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
)

type ModelConfig struct {
	Name    string    `json:"name" yaml:"name"` // alias of the config, not endpoint!
	APIType ModelType `json:"type" yaml:"type"`
	BaseURL string    `json:"base_url,omitempty" yaml:"base_url"`
	APIKey  string    `json:"api_key,omitempty" yaml:"api_key"`
	// APIKeyEnv names an environment variable read when APIKey is empty.
	APIKeyEnv   string   `json:"api_key_env,omitempty" yaml:"api_key_env"`
	ModelName   string   `json:"model_name" yaml:"model_name"` // the endpoint of the model, like `claude-sonnet-4-20250514`
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
	// Timeout bounds one HTTP round trip, default: 600s
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout" jsonschema:"type=string"`
	Retries int           `json:"retries,omitempty" yaml:"retries"` // Number of retries on transient failure, default: 3
	Pricing Pricing       `json:"pricing" yaml:"pricing"`
}

// ResolveAPIKey returns APIKey, falling back to the APIKeyEnv variable.
func (m ModelConfig) ResolveAPIKey() string {
	if m.APIKey != "" || m.APIKeyEnv == "" {
		return m.APIKey
	}
	return os.Getenv(m.APIKeyEnv)
}

type ModelType string

func NewModelType(t string) ModelType {
	switch strings.ToLower(t) {
	case "ollama":
		return ModelTypeOllama
	case "ark", "doubao":
		return ModelTypeARK
	case "openai", "gpt":
		return ModelTypeOpenAI
	case "claude", "anthropic":
		return ModelTypeClaude
	case "dashscope", "qwen", "tongyi":
		return ModelTypeDashScope
	case "deepseek":
		return ModelTypeDeepSeek
	}
	return ModelTypeUnknown
}

const (
	ModelTypeUnknown   ModelType = ""
	ModelTypeOllama    ModelType = "ollama"
	ModelTypeARK       ModelType = "ark"
	ModelTypeOpenAI    ModelType = "openai"
	ModelTypeClaude    ModelType = "claude"
	ModelTypeDashScope ModelType = "dashscope" // Qwen on Aliyun DashScope
	ModelTypeDeepSeek  ModelType = "deepseek"
)

// ChatModel is the interface for making LLM backend.
type ChatModel interface {
	model.BaseChatModel
}
