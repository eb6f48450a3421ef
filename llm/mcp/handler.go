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

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/utils"
	"github.com/cloudwego/contentflow/llm/prompt"
)

type Tool = server.ServerTool

// NewTool adapts a typed handler into an MCP tool. Handler errors are
// reported as tool results with IsError set, not as protocol errors.
func NewTool[R any, T any](name string, desc string, schema json.RawMessage, handler func(ctx context.Context, req R) (*T, error)) Tool {
	return Tool{
		Tool: mcp.NewToolWithRawSchema(name, desc, schema),
		Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var req R
			if err := request.BindArguments(&req); err != nil {
				return nil, err
			}
			var final string
			var isError bool
			if resp, err := handler(ctx, req); err != nil {
				isError = true
				final = err.Error()
			} else if js, err := utils.MarshalJSONBytes(resp); err != nil {
				isError = true
				final = err.Error()
			} else {
				final = string(js)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(final),
				},
				IsError: isError,
			}, nil
		},
	}
}

var stagePrompt = mcp.NewPrompt(PromptStagePrompt,
	mcp.WithPromptDescription("The bundled prompt template of a pipeline task"),
	mcp.WithArgument("task_key", mcp.RequiredArgument(), mcp.ArgumentDescription("task key, e.g. script")),
)

func handleStagePrompt(
	ctx context.Context,
	request mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	key := request.Params.Arguments["task_key"]
	tpl, ok := prompt.Builtin(key)
	if !ok {
		return nil, errors.Errorf("no bundled prompt for task %q", key)
	}
	return &mcp.GetPromptResult{
		Description: "Prompt template for task " + key,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleAssistant,
				Content: mcp.TextContent{
					Type: "text",
					Text: prompt.SystemPrompt,
				},
			},
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: tpl.Source(),
				},
			},
		},
	}, nil
}
