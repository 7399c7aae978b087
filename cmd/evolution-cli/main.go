// evolution-cli runs the patient evolution pipeline synchronously and writes
// the resulting document to stdout or a file. Intended for local development
// and offline regeneration; the HTTP service covers everything else.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinsight-ai/platform/pkg/agent"
	"github.com/clinsight-ai/platform/pkg/common/config"
	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/evolution"
)

type cliConfig struct {
	Identifier string
	Output     string
	DataRoot   string
	AgentsDir  string
	PythonBin  string
	Pretty     bool
}

func parseFlags(fs *flag.FlagSet, args []string, defaults *config.Config) (cliConfig, error) {
	var cfg cliConfig
	fs.StringVar(&cfg.Identifier, "identifier", "", "Patient identifier: UUID, MRN, or full name (required)")
	fs.StringVar(&cfg.Output, "output", "", "Write the evolution document to this file instead of stdout")
	fs.StringVar(&cfg.DataRoot, "data-root", defaults.DataRoot, "Directory holding the patient source data")
	fs.StringVar(&cfg.AgentsDir, "agents-dir", defaults.AgentsDir, "Directory holding the extraction agent scripts")
	fs.StringVar(&cfg.PythonBin, "python", defaults.PythonBin, "Python interpreter used to run agent scripts")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the JSON output")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if cfg.Identifier == "" {
		fmt.Fprintln(fs.Output(), "error: -identifier is required")
		fs.Usage()
		return cliConfig{}, fmt.Errorf("-identifier is required")
	}
	return cfg, nil
}

func main() {
	logger.Init()
	defaults := config.Load()

	// ContinueOnError keeps exit codes in our hands: 0 on success or -help,
	// 1 on any failure.
	fs := flag.NewFlagSet("evolution-cli", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfg, err := parseFlags(fs, os.Args[1:], defaults)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := agent.NewRunner(agent.NewProcessExecutor(), defaults.AgentMaxOutput)
	orch := evolution.NewOrchestrator(agent.DefaultAgents(runner), defaults.AgentTimeout)

	output, err := orch.Run(ctx, agent.RunContext{
		Identifier: cfg.Identifier,
		DataRoot:   cfg.DataRoot,
		AgentsDir:  cfg.AgentsDir,
		PythonBin:  cfg.PythonBin,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "evolution run failed:", err.Error())
		os.Exit(1)
	}

	var data []byte
	if cfg.Pretty {
		data, err = json.MarshalIndent(output, "", "  ")
	} else {
		data, err = json.Marshal(output)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}

	if cfg.Output != "" {
		if err := os.WriteFile(cfg.Output, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err.Error())
			os.Exit(1)
		}
		return
	}
	fmt.Println(string(data))
}
