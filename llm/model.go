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
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/pkg/errors"
)

const (
	defaultMaxTokens = 16 * 1024
	defaultTimeout   = 600 * time.Second
	defaultRetries   = 3
)

// withDefaults fills zero fields of m.
func (m ModelConfig) withDefaults() ModelConfig {
	if m.MaxTokens == 0 {
		m.MaxTokens = defaultMaxTokens
	}
	if m.Timeout == 0 {
		m.Timeout = defaultTimeout
	}
	if m.Retries == 0 {
		m.Retries = defaultRetries
	}
	return m
}

// NewChatModel builds the provider client named by m.APIType.
func NewChatModel(ctx context.Context, m ModelConfig) (ChatModel, error) {
	m = m.withDefaults()
	apiKey := m.ResolveAPIKey()
	var (
		cm  ChatModel
		err error
	)
	switch m.APIType {
	case ModelTypeARK:
		cm, err = ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     m.BaseURL,
			APIKey:      apiKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
		})
	case ModelTypeOpenAI:
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     m.BaseURL,
			APIKey:      apiKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeDashScope:
		// DashScope (Qwen) uses OpenAI-compatible API
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		}
		cm, err = qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeDeepSeek:
		// DeepSeek uses OpenAI-compatible API
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		cm, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeOllama:
		cm, err = ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: m.BaseURL,
			Model:   m.ModelName,
		})
	case ModelTypeClaude:
		var baseURL *string
		if m.BaseURL != "" {
			baseURL = &m.BaseURL
		}
		cm, err = claude.NewChatModel(ctx, &claude.Config{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		})
	default:
		return nil, errors.Errorf("unsupported model type %q", m.APIType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "new %s chat model", m.APIType)
	}
	return cm, nil
}
