// Command fleet-agent is the ATLAS fleet agent: it samples the twelve
// monitors, assembles reports, and posts them to a fleet-server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atlasfleet/atlas/internal/agentconfig"
	"github.com/atlasfleet/atlas/internal/agentsupervisor"
	"github.com/atlasfleet/atlas/internal/fleetlog"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	noDaemon   bool
)

func main() {
	root := &cobra.Command{
		Use:           "fleet-agent",
		Short:         "ATLAS fleet agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&configPath, "config", "/etc/fleet-agent/config.yaml", "path to the agent config file")
	root.Flags().BoolVar(&noDaemon, "no-daemon", false, "run once and exit instead of looping forever")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fleet-agent:", err)
		// Config errors and supervisor construction failures are
		// indistinguishable from here — both are config-class (exit 1),
		// spec §6 "Agent" exit codes.
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := agentconfig.Load(configPath)
	if err != nil {
		return err
	}

	log := fleetlog.New(fleetlog.Config{Level: cfg.LogLevel, File: cfg.LogFile})

	sup, err := agentsupervisor.New(cfg, configPath, log)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var runErr error
	if noDaemon {
		runErr = sup.RunOnce(ctx)
	} else {
		runErr = sup.Run(ctx)
	}
	if runErr != nil {
		// Both paths only fail after config has loaded. RunOnce fails when
		// the data directory cannot be created, system metrics cannot be
		// sampled, or its single report is not accepted; Run fails only when
		// the data directory cannot be created, since the reporter retries
		// without limit. Either way: exit code 2, "fatal loop error."
		fmt.Fprintln(os.Stderr, "fleet-agent: fatal loop error:", runErr)
		os.Exit(2)
	}
	return nil
}
