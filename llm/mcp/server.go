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
	"io"
	stdlog "log"
	"os"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cloudwego/contentflow/internal/config"
	"github.com/cloudwego/contentflow/internal/log"
	"github.com/cloudwego/contentflow/internal/pipeline"
)

type ServerOptions struct {
	ServerName    string
	ServerVersion string
	Registry      *pipeline.Registry
	// Store backs inspect_checkpoint by run id; optional.
	Store pipeline.CheckpointStore
	// ConfigPath, when set, is watched and the registry hot-reloaded.
	ConfigPath string
}

// Server exposes read-only pipeline introspection over MCP.
type Server struct {
	Server *server.MCPServer

	registry   atomic.Pointer[pipeline.Registry]
	store      pipeline.CheckpointStore
	configPath string
}

func NewServer(opts ServerOptions) *Server {
	s := &Server{
		Server: server.NewMCPServer(
			opts.ServerName,
			opts.ServerVersion,
			server.WithToolCapabilities(true),
			server.WithPromptCapabilities(true),
			server.WithRecovery(),
		),
		store:      opts.Store,
		configPath: opts.ConfigPath,
	}
	s.registry.Store(opts.Registry)

	s.Server.AddTools(
		NewTool(ToolListTasks, DescListTasks, SchemaListTasks, s.ListTasks),
		NewTool(ToolListPhases, DescListPhases, SchemaListPhases, s.ListPhases),
		NewTool(ToolPlanPhase, DescPlanPhase, SchemaPlanPhase, s.PlanPhase),
		NewTool(ToolValidateTask, DescValidateTask, SchemaValidateTask, s.ValidateTask),
		NewTool(ToolInspectCheckpoint, DescInspectCheckpoint, SchemaInspectCheckpoint, s.InspectCheckpoint),
	)
	s.Server.AddPrompt(stagePrompt, handleStagePrompt)
	return s
}

// Registry returns the registry currently served.
func (s *Server) Registry() *pipeline.Registry {
	return s.registry.Load()
}

// SetRegistry swaps the served registry. In-flight calls keep the one they
// loaded.
func (s *Server) SetRegistry(reg *pipeline.Registry) {
	if reg != nil {
		s.registry.Store(reg)
	}
}

// ServeStdio serves MCP over r and w until ctx is done or r is closed.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	if s.configPath != "" {
		go func() {
			err := config.Watch(ctx, s.configPath, func(_ *config.Config, reg *pipeline.Registry) {
				s.SetRegistry(reg)
			}, nil)
			if err != nil {
				log.Error("watch %s: %v", s.configPath, err)
			}
		}()
	}
	stdio := server.NewStdioServer(s.Server)
	stdio.SetErrorLogger(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	return stdio.Listen(ctx, r, w)
}
