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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/cloudwego/contentflow/internal/config"
	"github.com/cloudwego/contentflow/internal/log"
	"github.com/cloudwego/contentflow/internal/pipeline"
	"github.com/cloudwego/contentflow/internal/utils"
	"github.com/cloudwego/contentflow/llm/mcp"
	"github.com/cloudwego/contentflow/version"
)

const Usage = `contentflow <Action> [Flags]
Action:
   run          run every phase of the pipeline for the given params
   resume       continue a run after its latest checkpoint (-run-id) or a checkpoint file (-checkpoint)
   validate     load the pipeline config and check its task and phase tables
   plan         print the execution groups of every phase
   schema       print the JSON schema of the pipeline config
   mcp          run as a MCP server exposing the pipeline definitions and checkpoints
   version      print the version of contentflow
Without -c the bundled content pipeline is used.
`

type cliOptions struct {
	configPath string
	output     string
	runID      string
	checkpoint string
	params     StringArray
	phases     StringArray
	dryRun     bool
}

func main() {
	flags := flag.NewFlagSet("contentflow", flag.ExitOnError)

	flagHelp := flags.Bool("h", false, "Show help message.")
	flagVerbose := flags.Bool("verbose", false, "Verbose mode.")

	var opts cliOptions
	flags.StringVar(&opts.configPath, "c", "", "pipeline config path (YAML).")
	flags.StringVar(&opts.output, "o", "", "Output path.")
	flags.StringVar(&opts.runID, "run-id", "", "run id; generated when empty (run) or required (resume without -checkpoint)")
	flags.StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint file to resume from")
	flags.Var(&opts.params, "param", "run param as key=value, support multiple values")
	flags.Var(&opts.phases, "phase", "run only the given phases in the given order, support multiple values")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "run without calling the model; every task echoes its key")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])
	flags.Parse(os.Args[2:])
	if *flagHelp {
		flags.Usage()
		os.Exit(0)
	}
	if *flagVerbose {
		log.SetLogLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch action {
	case "version":
		fmt.Fprintf(os.Stdout, "%s\n", version.Version)

	case "schema":
		err = writeOutput(opts.output, config.Schema())

	case "validate":
		var cfg *config.Config
		if cfg, err = loadConfig(opts.configPath); err == nil {
			fmt.Fprintf(os.Stdout, "ok: %d tasks, %d phases\n", len(cfg.Tasks), len(cfg.Phases))
		}

	case "plan":
		err = printPlan(opts.configPath)

	case "run":
		err = runPipeline(ctx, &opts, false)

	case "resume":
		err = runPipeline(ctx, &opts, true)

	case "mcp":
		err = serveMCP(ctx, &opts)

	default:
		flags.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error("%s failed: %v\n", action, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printPlan(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	for i, id := range reg.PhaseOrder() {
		p, _ := reg.Phase(id)
		groups, err := reg.Plan(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d. %s (%s)", i+1, id, p.Mode)
		if len(p.RequiredPhases) > 0 {
			fmt.Fprintf(os.Stdout, " requires %s", strings.Join(p.RequiredPhases, ", "))
		}
		fmt.Fprintln(os.Stdout)
		for j, g := range groups {
			mode := "sequential"
			if g.Parallel {
				mode = "parallel"
			}
			fmt.Fprintf(os.Stdout, "   %d.%d %s: %s\n", i+1, j+1, mode, strings.Join(g.Tasks, ", "))
		}
	}
	return nil
}

func serveMCP(ctx context.Context, opts *cliOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	store, err := cfg.Store()
	if err != nil {
		return err
	}
	svr := mcp.NewServer(mcp.ServerOptions{
		ServerName:    "contentflow",
		ServerVersion: version.Version,
		Registry:      reg,
		Store:         store,
		ConfigPath:    opts.configPath,
	})
	return svr.ServeStdio(ctx, os.Stdin, os.Stdout)
}

func writeOutput(path string, v any) error {
	bs, err := utils.MarshalJSONIndent(v)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := fmt.Fprintf(os.Stdout, "%s\n", bs)
		return err
	}
	return utils.WrapError(os.WriteFile(path, append(bs, '\n'), 0644), "write %s", path)
}

type StringArray []string

func (s *StringArray) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *StringArray) String() string {
	return strings.Join(*s, ",")
}

// phaseOrder returns the requested phases, or nil for the registry order.
func phaseOrder(reg *pipeline.Registry, requested []string) ([]string, error) {
	for _, id := range requested {
		if _, ok := reg.Phase(id); !ok {
			return nil, fmt.Errorf("unknown phase %q", id)
		}
	}
	return requested, nil
}
